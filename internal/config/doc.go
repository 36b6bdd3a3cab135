// Package config defines the device settings and provides helpers to load,
// validate and save them in YAML format.
//
// Settings are read from a YAML file and then overridden by APP_* environment
// variables, which may also come from a .env file next to the binary.
package config
