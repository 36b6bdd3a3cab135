// Package health exposes the standard gRPC health service of the device.
//
// The overall service ("") and each component report SERVING or NOT_SERVING
// independently, so health checks can tell a disconnected broker apart from a
// stopped controller.
package health
