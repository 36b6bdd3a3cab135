// Package device assembles and runs the door alarm: GPIO lines, debounced
// inputs, pulse schedulers, the state controller, the remote bridge, the door
// reconciler and the observability servers.
package device
