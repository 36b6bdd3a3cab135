package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/door-alarm/internal/config"
	"github.com/oshokin/door-alarm/internal/logger"
	"github.com/oshokin/door-alarm/internal/service/device"
	"github.com/oshokin/door-alarm/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// stateFile overrides the durable state location.
	stateFile string
	// logLevel overrides the configured log level.
	logLevel string
	// simulate runs without GPIO hardware.
	simulate bool

	// rootCmd runs the door alarm device.
	rootCmd = &cobra.Command{
		Use:   "door-alarm",
		Short: "Run the door alarm on a GPIO board.",
		Long: `Watches the door sensor and the control buttons, drives the LEDs, the buzzer
and the siren, and keeps the alarm state in a JSON file across restarts.

When MQTT is enabled the state is published retained on <site>/<type>/<name>/state,
door openings are announced on door-open and the alarm accepts remote commands.
Settings are read from ` + config.DefaultConfigFilename + ` unless --config is given;
APP_* environment variables and an optional .env file override them.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			logger.InfoKV(ctx, "Starting door alarm", version.KV()...)

			options := &device.Options{
				ConfigPath: configPath,
				StateFile:  stateFile,
				LogLevel:   logLevel,
				Simulate:   simulate,
			}

			return device.Run(ctx, options)
		},
	}
)

// Execute runs the door-alarm CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.ErrorKV(context.Background(), "Door alarm failed", "error", err)
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "path to configuration file (default "+config.DefaultConfigFilename+")")
	flags.StringVarP(&stateFile, "state-file", "s", "", "path to persist alarm state (overrides settings)")
	flags.StringVarP(&logLevel, "log-level", "l", "", "log level: debug, info, warn, error (overrides settings)")
	flags.BoolVar(&simulate, "simulate", false, "use in-memory GPIO lines instead of hardware")
}
