// SPDX-License-Identifier: MIT
package dispatch

import (
	"context"
	"time"

	"beatlight/internal/bridge"
	"beatlight/internal/color"
)

// Lane is one outbound path to the bridge. Each lane has its own queue and
// drain goroutine, so at most one send is in flight per path.
type Lane int

const (
	LaneEntertainment Lane = iota // streaming session
	LaneRegular                   // per-light request path
	numLanes
)

func (l Lane) String() string {
	switch l {
	case LaneEntertainment:
		return "entertainment"
	case LaneRegular:
		return "regular"
	default:
		return "unknown"
	}
}

// MarshalText names the lane in JSON telemetry.
func (l Lane) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Lanes lists every lane in order.
func Lanes() []Lane {
	return []Lane{LaneEntertainment, LaneRegular}
}

// Kind separates ordinary color updates from animation steps, which are spaced
// further apart.
type Kind int

const (
	KindColor Kind = iota
	KindAnimationStep
)

// Command is one queued color change.
type Command struct {
	Seq        uint64 // Assigned by Enqueue.
	Lane       Lane
	Kind       Kind
	Color      color.RGB
	Transition time.Duration
	Force      bool // Beat-driven; never coalesced away.
	Enqueued   time.Time
}

// SendFunc delivers one command on a lane.
type SendFunc func(ctx context.Context, cmd Command) error

// Result reports the outcome of one delivery.
type Result struct {
	Command  Command
	Err      error
	Kind     bridge.Kind
	Duration time.Duration
}
