// Package state implements persistence for the durable part of the alarm state.
//
// The FileRepository stores and loads the notification and siren triggers as
// JSON on disk. Volatile fields are never written.
package state
