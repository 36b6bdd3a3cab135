// Package alarm contains core domain types for the door alarm.
//
// It defines State (the single source of truth held by the controller),
// Update (a partial mutation merged into State), Durable (the subset that
// survives restarts) and Snapshot (State stamped with a broadcast time).
package alarm
