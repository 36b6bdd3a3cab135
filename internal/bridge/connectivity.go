package bridge

// Connectivity is the state of the remote connection.
type Connectivity int

// Connection states.
const (
	// Unknown is the state before the first connection attempt completes.
	Unknown Connectivity = iota
	// Unconnected means the first attempt failed.
	Unconnected
	// Connected means the first successful connection is up.
	Connected
	// Disconnected means an established connection was lost.
	Disconnected
	// Reconnected means the connection came back after a loss.
	Reconnected
)

// String returns the state name.
func (c Connectivity) String() string {
	switch c {
	case Unknown:
		return "unknown"
	case Unconnected:
		return "unconnected"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Reconnected:
		return "reconnected"
	default:
		return "invalid"
	}
}

// Up reports whether the connection is established.
func (c Connectivity) Up() bool {
	return c == Connected || c == Reconnected
}

// next returns the state after a connect (up) or close event.
func (c Connectivity) next(up bool) Connectivity {
	switch {
	case up && (c == Unknown || c == Unconnected):
		return Connected
	case up && c == Disconnected:
		return Reconnected
	case !up && c == Unknown:
		return Unconnected
	case !up && c.Up():
		return Disconnected
	default:
		return c
	}
}
