package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/door-alarm/internal/config"
	domain "github.com/oshokin/door-alarm/internal/domain/alarm"
)

// Repository defines persistence operations for the durable alarm state.
type Repository interface {
	Load(ctx context.Context) (*domain.Durable, error)
	Save(ctx context.Context, state *domain.Durable) error
}

// FileRepository persists the durable alarm state to a JSON file on disk.
// JSON is produced and consumed through a protobuf Struct with protojson.
type FileRepository struct {
	// path is the filesystem location of the JSON state file.
	path string
	// mu protects concurrent access to the state file.
	mu sync.Mutex
}

var (
	// ErrNotFound is returned when the state file does not exist yet.
	ErrNotFound = errors.New("state not found")
	// ErrCorrupt is returned when the state file cannot be decoded.
	ErrCorrupt = errors.New("state file is corrupt")
)

// Keys of the persisted document.
const (
	keyNotificationTrigger = string(domain.FieldNotificationTrigger)
	keySirenTrigger        = string(domain.FieldSirenTrigger)
)

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the durable state from disk. Missing keys fall back to OFF.
func (r *FileRepository) Load(_ context.Context) (*domain.Durable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read state file: %w", err)
	}

	var document structpb.Struct
	if err = protojson.Unmarshal(contents, &document); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	notificationTrigger, err := switchValue(&document, keyNotificationTrigger)
	if err != nil {
		return nil, err
	}

	sirenTrigger, err := switchValue(&document, keySirenTrigger)
	if err != nil {
		return nil, err
	}

	return &domain.Durable{
		NotificationTrigger: notificationTrigger,
		SirenTrigger:        sirenTrigger,
	}, nil
}

// Save writes the durable state to disk atomically.
func (r *FileRepository) Save(_ context.Context, state *domain.Durable) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	document, err := structpb.NewStruct(map[string]any{
		keyNotificationTrigger: string(state.NotificationTrigger),
		keySirenTrigger:        string(state.SirenTrigger),
	})
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	marshalOptions := protojson.MarshalOptions{
		Multiline: true,
		Indent:    "    ",
	}

	data, err := marshalOptions.Marshal(document)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp := r.path + ".tmp"

	if err = os.WriteFile(tmp, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	if err = os.Rename(tmp, r.path); err != nil {
		_ = os.Remove(tmp)

		return fmt.Errorf("replace state file: %w", err)
	}

	return nil
}

// switchValue extracts an ON/OFF value; a missing key means OFF.
func switchValue(document *structpb.Struct, key string) (domain.Switch, error) {
	value, ok := document.GetFields()[key]
	if !ok {
		return domain.Off, nil
	}

	sv, ok := value.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", fmt.Errorf("%w: %s is not a string", ErrCorrupt, key)
	}

	result := domain.Switch(sv.StringValue)
	if !result.Valid() {
		return "", fmt.Errorf("%w: %s has unknown value %q", ErrCorrupt, key, sv.StringValue)
	}

	return result, nil
}
