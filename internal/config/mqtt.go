package config

import (
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Password encodings.
const (
	PasswordPlain  = "plain"
	PasswordBase64 = "base64"
)

// schemes maps configured protocols to broker URL schemes.
//
//nolint:gochecknoglobals // Read-only lookup table.
var schemes = map[string]string{
	"mqtt":  "tcp",
	"tcp":   "tcp",
	"mqtts": "ssl",
	"ssl":   "ssl",
	"tls":   "ssl",
	"ws":    "ws",
	"wss":   "wss",
}

// Scheme returns the broker URL scheme for the configured protocol.
func (m *MQTTConfig) Scheme() (string, error) {
	scheme, ok := schemes[strings.ToLower(m.Protocol)]
	if !ok {
		return "", fmt.Errorf("%q: %w", m.Protocol, errUnknownProtocol)
	}

	return scheme, nil
}

// Secure reports whether the protocol requires TLS.
func (m *MQTTConfig) Secure() bool {
	scheme, err := m.Scheme()

	return err == nil && (scheme == "ssl" || scheme == "wss")
}

// Broker returns the broker URL, e.g. tcp://broker.local:1883.
func (m *MQTTConfig) Broker() (string, error) {
	scheme, err := m.Scheme()
	if err != nil {
		return "", err
	}

	return scheme + "://" + net.JoinHostPort(m.Host, strconv.Itoa(m.Port)), nil
}

// DecodedPassword returns the password according to PasswordEncoding.
func (m *MQTTConfig) DecodedPassword() (string, error) {
	switch strings.ToLower(m.PasswordEncoding) {
	case PasswordPlain:
		return m.Password, nil
	case "", PasswordBase64:
		decoded, err := base64.StdEncoding.DecodeString(m.Password)
		if err != nil {
			return "", fmt.Errorf("decode mqtt password: %w", err)
		}

		return string(decoded), nil
	default:
		return "", fmt.Errorf("%q: %w", m.PasswordEncoding, errUnknownPasswordEncoding)
	}
}

// TopicPrefix returns the device-scoped topic prefix with a trailing slash.
func (m *MQTTConfig) TopicPrefix() string {
	return m.Site + "/" + m.DeviceType + "/" + m.DeviceName + "/"
}

func defaultPort(protocol string) int {
	switch strings.ToLower(protocol) {
	case "mqtts", "ssl", "tls":
		return 8883
	case "ws":
		return 80
	case "wss":
		return 443
	default:
		return 1883
	}
}
