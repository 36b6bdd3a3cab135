// Package pulse renders logical output intents onto a single output line.
//
// A Scheduler accepts steady-on, steady-off and blink patterns. Every call
// supersedes the previous intent of the line: pending timers are cancelled
// before the new intent is installed, and callbacks from superseded timers are
// discarded by generation. The package knows nothing about alarm semantics.
package pulse
