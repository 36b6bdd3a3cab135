package logger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// TestFromContext_FallsBackToGlobal verifies the global logger is used for bare contexts.
func TestFromContext_FallsBackToGlobal(t *testing.T) {
	t.Parallel()

	require.Same(t, Logger(), FromContext(context.Background()))
}

// TestWithKV_AddsFields ensures context-scoped loggers carry names and fields.
func TestWithKV_AddsFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	ctx := ToContext(context.Background(), zap.New(core).Sugar())

	ctx = WithName(ctx, "controller")
	ctx = WithKV(ctx, "line", "door")
	ctx = WithFields(ctx, "edge", "rising", "accepted", true)

	InfoKV(ctx, "Edge", "extra", 1)

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "controller", entries[0].LoggerName)

	fields := entries[0].ContextMap()
	require.Equal(t, "door", fields["line"])
	require.Equal(t, "rising", fields["edge"])
	require.Equal(t, true, fields["accepted"])
	require.EqualValues(t, 1, fields["extra"])
}

// TestNewWithFile_WritesFile checks that the file sink creates the log file.
func TestNewWithFile_WritesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "app.log")
	l := NewWithFile(zap.InfoLevel, FileSink{Path: path, MaxSizeMB: 1})

	l.Info("hello")
	_ = l.Sync()

	require.FileExists(t, path)
}
