package chat

import (
	"fmt"
	"slices"
)

// sessionState is the per-conversation lifecycle state.
type sessionState string

const (
	stateIdle         sessionState = "IDLE"
	stateInitializing sessionState = "INITIALIZING"
	stateReady        sessionState = "READY"
	stateClosing      sessionState = "CLOSING"
)

var validTransitions = map[sessionState][]sessionState{
	stateIdle:         {stateInitializing},
	stateInitializing: {stateReady, stateClosing, stateIdle},
	stateReady:        {stateClosing},
	stateClosing:      {stateIdle},
}

func checkTransition(from, to sessionState) error {
	if !slices.Contains(validTransitions[from], to) {
		return fmt.Errorf("invalid session transition from %s to %s", from, to)
	}
	return nil
}
