package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting of the door alarm device.
type Config struct {
	// StateFile is the path to the JSON file storing the durable alarm state.
	StateFile string `yaml:"state_file"`
	// SirenTriggerOnDelay is the grace period before a button press arms the siren.
	SirenTriggerOnDelay time.Duration `yaml:"siren_trigger_on_delay"`
	// SirenOnDelay is the grace period between the door opening and the siren sounding.
	SirenOnDelay time.Duration `yaml:"siren_on_delay"`
	// ReconcileInterval is how often the door sensor is re-read.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	// MetricsAddress is the listen address for Prometheus metrics, empty to disable.
	MetricsAddress string `yaml:"metrics_addr"`
	// HealthAddress is the listen address for the gRPC health service, empty to disable.
	HealthAddress string `yaml:"health_addr"`
	// Log configures logging.
	Log LogConfig `yaml:"log"`
	// GPIO configures the hardware lines.
	GPIO GPIOConfig `yaml:"gpio"`
	// MQTT configures the remote channel.
	MQTT MQTTConfig `yaml:"mqtt"`
}

// LogConfig controls log output.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// File is an optional rotating log file.
	File string `yaml:"file"`
	// MaxSizeMB is the rotation threshold of the log file.
	MaxSizeMB int `yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files kept.
	MaxBackups int `yaml:"max_backups"`
}

// GPIOConfig describes the chip and the line offsets.
type GPIOConfig struct {
	// Chip is the GPIO character device name.
	Chip string `yaml:"chip"`
	// Simulate replaces hardware lines with in-memory ones.
	Simulate bool `yaml:"simulate"`
	// Debounce is the throttle window of every input line.
	Debounce time.Duration `yaml:"debounce"`
	// Inputs holds the input line offsets.
	Inputs InputPins `yaml:"inputs"`
	// Outputs holds the output line offsets.
	Outputs OutputPins `yaml:"outputs"`
}

// InputPins are the offsets of the monitored lines.
type InputPins struct {
	DoorSensor                   int `yaml:"door_sensor"`
	NotificationTriggerOffButton int `yaml:"notification_trigger_off_button"`
	NotificationTriggerOnButton  int `yaml:"notification_trigger_on_button"`
	SirenTriggerOffButton        int `yaml:"siren_trigger_off_button"`
	SirenTriggerOnButton         int `yaml:"siren_trigger_on_button"`
	SirenButton                  int `yaml:"siren_button"`
}

// OutputPins are the offsets of the driven lines.
type OutputPins struct {
	NotificationTriggerOffLED int `yaml:"notification_trigger_off_led"`
	NotificationTriggerOnLED  int `yaml:"notification_trigger_on_led"`
	SirenTriggerOffLED        int `yaml:"siren_trigger_off_led"`
	SirenTriggerOnLED         int `yaml:"siren_trigger_on_led"`
	SirenLED                  int `yaml:"siren_led"`
	Buzzer                    int `yaml:"buzzer"`
	Siren                     int `yaml:"siren"`
}

// MQTTConfig describes the broker connection and the topic prefix.
type MQTTConfig struct {
	// Enabled turns the remote channel on.
	Enabled bool `yaml:"enabled"`
	// Protocol is one of mqtt, mqtts, tcp, ssl, ws, wss.
	Protocol string `yaml:"protocol"`
	// Host is the broker host name.
	Host string `yaml:"host"`
	// Port is the broker port.
	Port int `yaml:"port"`
	// Username authenticates the client.
	Username string `yaml:"username"`
	// Password authenticates the client.
	Password string `yaml:"password"`
	// PasswordEncoding is base64 (default) or plain.
	PasswordEncoding string `yaml:"password_encoding"`
	// CAFile, CertFile and KeyFile configure TLS for secure protocols.
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	// ClientID identifies the session; a random one is used when empty.
	ClientID string `yaml:"client_id"`
	// Site, DeviceType and DeviceName build the topic prefix.
	Site       string `yaml:"site"`
	DeviceType string `yaml:"device_type"`
	DeviceName string `yaml:"device_name"`
	// Timeout bounds connect, publish and subscribe acknowledgments.
	Timeout time.Duration `yaml:"timeout"`
}

const (
	// DefaultConfigFilename is the default filename for device settings.
	DefaultConfigFilename = "door-alarm-settings.yaml"

	// DefaultStateFilename is the default filename for the durable alarm state.
	DefaultStateFilename = "state.json"

	// DefaultEnvFilename is the optional file with APP_* variables.
	DefaultEnvFilename = ".env"

	// DefaultSirenTriggerOnDelay is the default siren arming grace period.
	DefaultSirenTriggerOnDelay = 30 * time.Second

	// DefaultSirenOnDelay is the default siren activation grace period.
	DefaultSirenOnDelay = 30 * time.Second

	// DefaultReconcileInterval is the default door sensor re-read interval.
	DefaultReconcileInterval = 15 * time.Second

	// DefaultDebounce is the default input throttle window.
	DefaultDebounce = 100 * time.Millisecond

	// DefaultLogMaxSizeMB is the default rotation threshold of the log file.
	DefaultLogMaxSizeMB = 1

	// DefaultMQTTTimeout is the default MQTT acknowledgment timeout.
	DefaultMQTTTimeout = 5 * time.Second

	// DefaultFilePermissions is the default file permission for written files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errDuplicatePin is returned when two lines share an offset.
	errDuplicatePin = errors.New("duplicate line offset")
	// errNegativePin is returned for negative offsets.
	errNegativePin = errors.New("line offset must not be negative")
	// errMQTTHostRequired is returned when MQTT is enabled without a host.
	errMQTTHostRequired = errors.New("mqtt host must be provided")
	// errMQTTTopicRequired is returned when MQTT is enabled without a full topic prefix.
	errMQTTTopicRequired = errors.New("mqtt site, device type and device name must be provided")
	// errUnknownProtocol is returned for unsupported MQTT protocols.
	errUnknownProtocol = errors.New("unknown mqtt protocol")
	// errUnknownPasswordEncoding is returned for unsupported password encodings.
	errUnknownPasswordEncoding = errors.New("unknown mqtt password encoding")
	// errTLSFilesRequired is returned when a secure protocol lacks certificate files.
	errTLSFilesRequired = errors.New("mqtt ca, cert and key files must be provided for secure protocols")
)

// Default returns settings with every default filled in.
func Default() *Config {
	cfg := &Config{
		GPIO: GPIOConfig{
			Inputs: InputPins{
				DoorSensor:                   4,
				NotificationTriggerOffButton: 17,
				NotificationTriggerOnButton:  27,
				SirenTriggerOffButton:        22,
				SirenTriggerOnButton:         5,
				SirenButton:                  6,
			},
			Outputs: OutputPins{
				NotificationTriggerOffLED: 13,
				NotificationTriggerOnLED:  19,
				SirenTriggerOffLED:        26,
				SirenTriggerOnLED:         16,
				SirenLED:                  20,
				Buzzer:                    21,
				Siren:                     12,
			},
		},
	}

	applyDefaults(cfg)

	return cfg
}

// Load reads configuration from the provided path, applies environment
// overrides and validates the result. A missing file at the default path is
// not an error: defaults and environment are used instead.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}

	cfg := Default()

	contents, err := os.ReadFile(filepath.Clean(path))

	switch {
	case err == nil:
		if err = yaml.Unmarshal(contents, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// Defaults plus environment.
	default:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	env, err := ReadEnvironment(DefaultEnvFilename)
	if err != nil {
		return nil, err
	}

	if err = ApplyEnvironment(cfg, env); err != nil {
		return nil, err
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions, the file may hold broker credentials.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills defaults and checks the provided settings.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	applyDefaults(cfg)

	if err := validatePins(&cfg.GPIO); err != nil {
		return err
	}

	if !cfg.MQTT.Enabled {
		return nil
	}

	return validateMQTT(&cfg.MQTT)
}

func applyDefaults(cfg *Config) {
	if cfg.StateFile == "" {
		cfg.StateFile = DefaultStateFilename
	}

	if cfg.SirenTriggerOnDelay <= 0 {
		cfg.SirenTriggerOnDelay = DefaultSirenTriggerOnDelay
	}

	if cfg.SirenOnDelay <= 0 {
		cfg.SirenOnDelay = DefaultSirenOnDelay
	}

	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = DefaultReconcileInterval
	}

	if cfg.GPIO.Debounce <= 0 {
		cfg.GPIO.Debounce = DefaultDebounce
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = DefaultLogMaxSizeMB
	}

	if cfg.MQTT.Protocol == "" {
		cfg.MQTT.Protocol = "mqtt"
	}

	if cfg.MQTT.Port == 0 {
		cfg.MQTT.Port = defaultPort(cfg.MQTT.Protocol)
	}

	if cfg.MQTT.PasswordEncoding == "" {
		cfg.MQTT.PasswordEncoding = PasswordBase64
	}

	if cfg.MQTT.Timeout <= 0 {
		cfg.MQTT.Timeout = DefaultMQTTTimeout
	}
}

func validatePins(gpio *GPIOConfig) error {
	in, out := gpio.Inputs, gpio.Outputs

	pins := map[string]int{
		"door_sensor":                     in.DoorSensor,
		"notification_trigger_off_button": in.NotificationTriggerOffButton,
		"notification_trigger_on_button":  in.NotificationTriggerOnButton,
		"siren_trigger_off_button":        in.SirenTriggerOffButton,
		"siren_trigger_on_button":         in.SirenTriggerOnButton,
		"siren_button":                    in.SirenButton,
		"notification_trigger_off_led":    out.NotificationTriggerOffLED,
		"notification_trigger_on_led":     out.NotificationTriggerOnLED,
		"siren_trigger_off_led":           out.SirenTriggerOffLED,
		"siren_trigger_on_led":            out.SirenTriggerOnLED,
		"siren_led":                       out.SirenLED,
		"buzzer":                          out.Buzzer,
		"siren":                           out.Siren,
	}

	owners := make(map[int]string, len(pins))

	for name, pin := range pins {
		if pin < 0 {
			return fmt.Errorf("%s: %w", name, errNegativePin)
		}

		if other, ok := owners[pin]; ok {
			return fmt.Errorf("%s and %s use %d: %w", other, name, pin, errDuplicatePin)
		}

		owners[pin] = name
	}

	return nil
}

func validateMQTT(m *MQTTConfig) error {
	if m.Host == "" {
		return errMQTTHostRequired
	}

	if m.Site == "" || m.DeviceType == "" || m.DeviceName == "" {
		return errMQTTTopicRequired
	}

	if _, err := m.Scheme(); err != nil {
		return err
	}

	if _, err := m.DecodedPassword(); err != nil {
		return err
	}

	if m.Secure() && (m.CAFile == "" || m.CertFile == "" || m.KeyFile == "") {
		return errTLSFilesRequired
	}

	return nil
}
