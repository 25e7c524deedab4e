// SPDX-License-Identifier: MIT
package bridge

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"beatlight/internal/color"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"config", fmt.Errorf("initialize: %w", ErrConfigInvalid), KindConfigInvalid},
		{"setup", fmt.Errorf("handshake: %w", ErrTransportSetupFailed), KindTransportSetup},
		{"send", fmt.Errorf("write: %w", ErrTransportSendFailed), KindTransportSend},
		{"rate limited wins", fmt.Errorf("%w: %w", ErrTransportSendFailed, ErrRateLimited), KindRateLimited},
		{"overflow", ErrQueueOverflow, KindQueueOverflow},
		{"other", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
	if KindRateLimited.String() != "rate_limited" {
		t.Errorf("String() = %q", KindRateLimited.String())
	}
}

func TestStateFor(t *testing.T) {
	s := StateFor(color.RGB{R: 1}, 300*time.Millisecond)
	if !s.On || s.Brightness != 100 || s.Transition != 300*time.Millisecond {
		t.Errorf("state = %+v", s)
	}
	if s.XY[0] <= 0.6 || s.XY[1] >= 0.35 {
		t.Errorf("xy = %v", s.XY)
	}

	off := StateFor(color.Black, 0)
	if off.On || off.Brightness != 0 || off.XY != [2]float64{0.33, 0.33} {
		t.Errorf("black state = %+v", off)
	}
}
