// Package input turns raw edge notifications of one input line into
// debounced rising and falling events.
//
// Each direction is throttled independently on the leading edge: the first
// edge is delivered immediately and every further edge in the same direction
// is dropped until the throttle window has passed.
package input
