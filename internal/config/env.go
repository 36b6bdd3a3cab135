package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ReadEnvironment merges variables from the optional env file with the process
// environment. Process variables win.
func ReadEnvironment(envFile string) (map[string]string, error) {
	env := make(map[string]string)

	if envFile != "" {
		fromFile, err := godotenv.Read(envFile)

		switch {
		case err == nil:
			env = fromFile
		case errors.Is(err, os.ErrNotExist):
			// Optional.
		default:
			return nil, fmt.Errorf("read %s: %w", envFile, err)
		}
	}

	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(key, envPrefix) {
			env[key] = value
		}
	}

	return env, nil
}

// envPrefix marks variables this package cares about.
const envPrefix = "APP_"

// ApplyEnvironment overrides settings with APP_* variables.
// Delays are given in whole seconds, as the device firmware always did.
//
//nolint:funlen // A flat list of bindings reads better than a table of closures.
func ApplyEnvironment(cfg *Config, env map[string]string) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	b := binder{env: env}

	b.str("APP_STATE_FILE", &cfg.StateFile)
	b.seconds("APP_SIREN_TRIGGER_ON_DELAY", &cfg.SirenTriggerOnDelay)
	b.seconds("APP_SIREN_ON_DELAY", &cfg.SirenOnDelay)
	b.seconds("APP_RECONCILE_INTERVAL", &cfg.ReconcileInterval)
	b.str("APP_METRICS_ADDR", &cfg.MetricsAddress)
	b.str("APP_HEALTH_ADDR", &cfg.HealthAddress)

	b.str("APP_LOG_LEVEL", &cfg.Log.Level)
	b.str("APP_LOG_FILE", &cfg.Log.File)

	b.str("APP_GPIO_CHIP", &cfg.GPIO.Chip)
	b.boolean("APP_GPIO_SIMULATE", &cfg.GPIO.Simulate)

	in := &cfg.GPIO.Inputs
	b.integer("APP_DOOR_SENSOR_PIN", &in.DoorSensor)
	b.integer("APP_NOTIFICATION_TRIGGER_OFF_BTN_PIN", &in.NotificationTriggerOffButton)
	b.integer("APP_NOTIFICATION_TRIGGER_ON_BTN_PIN", &in.NotificationTriggerOnButton)
	b.integer("APP_SIREN_TRIGGER_OFF_BTN_PIN", &in.SirenTriggerOffButton)
	b.integer("APP_SIREN_TRIGGER_ON_BTN_PIN", &in.SirenTriggerOnButton)
	b.integer("APP_SIREN_BTN_PIN", &in.SirenButton)

	out := &cfg.GPIO.Outputs
	b.integer("APP_NOTIFICATION_TRIGGER_OFF_LED_PIN", &out.NotificationTriggerOffLED)
	b.integer("APP_NOTIFICATION_TRIGGER_ON_LED_PIN", &out.NotificationTriggerOnLED)
	b.integer("APP_SIREN_TRIGGER_OFF_LED_PIN", &out.SirenTriggerOffLED)
	b.integer("APP_SIREN_TRIGGER_ON_LED_PIN", &out.SirenTriggerOnLED)
	b.integer("APP_SIREN_LED_PIN", &out.SirenLED)
	b.integer("APP_BUZZER_PIN", &out.Buzzer)
	b.integer("APP_SIREN_PIN", &out.Siren)

	m := &cfg.MQTT
	b.boolean("APP_MQTT_ENABLED", &m.Enabled)
	b.str("APP_MQTT_PROTOCOL", &m.Protocol)
	b.str("APP_MQTT_HOST", &m.Host)
	b.integer("APP_MQTT_PORT", &m.Port)
	b.str("APP_MQTT_USERNAME", &m.Username)
	b.str("APP_MQTT_PASSWORD", &m.Password)
	b.str("APP_MQTT_PASSWORD_ENCODING", &m.PasswordEncoding)
	b.str("APP_MQTT_CA_FILENAME", &m.CAFile)
	b.str("APP_MQTT_CERT_FILENAME", &m.CertFile)
	b.str("APP_MQTT_KEY_FILENAME", &m.KeyFile)
	b.str("APP_MQTT_CLIENT_ID", &m.ClientID)
	b.str("APP_MQTT_TOPIC_SITE", &m.Site)
	b.str("APP_MQTT_TOPIC_DEVICE_TYPE", &m.DeviceType)
	b.str("APP_MQTT_TOPIC_DEVICE_NAME", &m.DeviceName)

	return errors.Join(b.errs...)
}

// binder copies present variables into settings and collects parse errors.
type binder struct {
	// env is the variable source.
	env map[string]string
	// errs collects every parse failure.
	errs []error
}

func (b *binder) lookup(key string) (string, bool) {
	value, ok := b.env[key]
	if !ok {
		return "", false
	}

	value = strings.TrimSpace(value)

	return value, value != ""
}

func (b *binder) str(key string, dst *string) {
	if value, ok := b.lookup(key); ok {
		*dst = value
	}
}

func (b *binder) integer(key string, dst *int) {
	value, ok := b.lookup(key)
	if !ok {
		return
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("parse %s: %w", key, err))
		return
	}

	*dst = parsed
}

func (b *binder) boolean(key string, dst *bool) {
	value, ok := b.lookup(key)
	if !ok {
		return
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("parse %s: %w", key, err))
		return
	}

	*dst = parsed
}

func (b *binder) seconds(key string, dst *time.Duration) {
	value, ok := b.lookup(key)
	if !ok {
		return
	}

	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("parse %s: %w", key, err))
		return
	}

	*dst = time.Duration(parsed * float64(time.Second))
}
