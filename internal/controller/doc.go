// Package controller holds the canonical alarm state and is the only place
// where it changes.
//
// The Controller is an actor: button presses, sensor edges, remote commands,
// fired grace-period timers and the periodic door reconciliation are all
// submitted as requests to one queue consumed by Run. Every applied
// transition persists the durable fields, broadcasts the full snapshot and
// re-renders every output from the new state, in that order.
package controller
