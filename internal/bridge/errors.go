// SPDX-License-Identifier: MIT
package bridge

import (
	"errors"
)

// Error taxonomy. Callers wrap these with %w and classify with errors.Is.
var (
	// ErrConfigInvalid means the bridge address or application key is missing or
	// malformed. It is the only error surfaced to callers of session setup.
	ErrConfigInvalid = errors.New("bridge configuration invalid")

	// ErrTransportSetupFailed means the streaming session could not be opened.
	// The session recovers by switching to the request path.
	ErrTransportSetupFailed = errors.New("streaming transport setup failed")

	// ErrTransportSendFailed is a transient failure delivering one command.
	ErrTransportSendFailed = errors.New("transport send failed")

	// ErrRateLimited means the bridge asked us to slow down, or repeated
	// failures suggest it is overloaded.
	ErrRateLimited = errors.New("bridge rate limited")

	// ErrQueueOverflow means a command queue crossed its hard ceiling and was
	// cleared. It is reported through telemetry only.
	ErrQueueOverflow = errors.New("command queue overflow")
)

// Kind is the class of an error, used for logging and metric labels.
type Kind int

const (
	KindNone Kind = iota
	KindConfigInvalid
	KindTransportSetup
	KindTransportSend
	KindRateLimited
	KindQueueOverflow
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindConfigInvalid:
		return "config_invalid"
	case KindTransportSetup:
		return "transport_setup"
	case KindTransportSend:
		return "transport_send"
	case KindRateLimited:
		return "rate_limited"
	case KindQueueOverflow:
		return "queue_overflow"
	default:
		return "unknown"
	}
}

// Classify maps err onto the taxonomy. Rate limiting wins over a send failure
// when both are wrapped.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrConfigInvalid):
		return KindConfigInvalid
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrTransportSetupFailed):
		return KindTransportSetup
	case errors.Is(err, ErrTransportSendFailed):
		return KindTransportSend
	case errors.Is(err, ErrQueueOverflow):
		return KindQueueOverflow
	default:
		return KindUnknown
	}
}
