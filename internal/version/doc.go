// Package version exposes build metadata of the door-alarm binary.
//
// Version, Commit and BuildTime are injected with -ldflags at build time.
// Full renders them for the version subcommand and KV for the startup log.
package version
