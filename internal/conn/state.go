package conn

import (
	"fmt"
	"slices"
)

// State is the connection lifecycle state. There is exactly one State per
// process because there is exactly one physical connection; the Manager is
// its sole writer.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
)

// validTransitions defines allowed state transitions. Disconnected is never
// terminal: Connect may always be retried from it.
var validTransitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Connected, Disconnected},
	Connected:    {Reconnecting, Disconnected},
	Reconnecting: {Connected, Disconnected},
}

func checkTransition(from, to State) error {
	if !slices.Contains(validTransitions[from], to) {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// StateChange is the payload of conn.state_changed events.
type StateChange struct {
	From State
	To   State
}
