// SPDX-License-Identifier: MIT
package session

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a Manager.
//
//	Idle -> Initializing -> Streaming -> FallbackActive -> Stopped -> Idle
//	                    \-> FallbackActive
//
// FallbackActive is never left for Streaming without a fresh Initialize.
type State int

const (
	Idle State = iota
	Initializing
	Streaming
	FallbackActive
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case Streaming:
		return "streaming"
	case FallbackActive:
		return "fallback_active"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText names the state in JSON telemetry.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Active reports whether colors are accepted in this state.
func (s State) Active() bool {
	return s == Streaming || s == FallbackActive
}

// Event is one observed state transition. Cause is set when an error drove it.
type Event struct {
	From  State
	To    State
	Cause error
	At    time.Time
}

func (e Event) String() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s -> %s (%v)", e.From, e.To, e.Cause)
	}
	return fmt.Sprintf("%s -> %s", e.From, e.To)
}
