// SPDX-License-Identifier: MIT
package config

import (
	"encoding/hex"
	"strings"
	"time"
)

// Core configuration constants that define the boundaries and defaults for the
// streaming engine.
const (
	// Bridge / streaming path
	DefaultStreamingPort          = 2100             // Entertainment DTLS port on the bridge
	DefaultUpdateRate             = 50               // Frames per second on the streaming path
	DefaultConnectTimeout         = 10 * time.Second // Hard bound on session start
	DefaultConnectAttempts        = 3                // Session creation attempts before fallback
	DefaultMaxConsecutiveFailures = 3                // Send failures before Streaming -> FallbackActive
	DefaultChannelCount           = 1                // Channels used when the group reports none
	DefaultKeepAlive              = 10 * time.Second // Idle keep-alive frame interval

	// Dispatcher
	DefaultMinInterval       = 50 * time.Millisecond  // Between ordinary commands on one lane
	DefaultAnimationInterval = 200 * time.Millisecond // Between animation steps on one lane
	DefaultErrorCooldown     = time.Second            // Extra delay after a failed send
	DefaultSoftCeiling       = 10                     // Manual clear offered above this depth
	DefaultHardCeiling       = 100                    // Automatic emergency clear above this depth
	DefaultRateLimitAfter    = 3                      // Consecutive failures treated as rate limiting
	DefaultSendTimeout       = 2 * time.Second        // Bound on one transport send

	// Analysis
	DefaultMode            = "spectrum"
	DefaultSensitivity     = 5.0
	MinSensitivity         = 1.0
	MaxSensitivity         = 10.0
	DefaultHistorySize     = 20
	DefaultMinBeatInterval = 300 * time.Millisecond
	DefaultFFTSize         = 2048
	DefaultFFTWindow       = "Hann"
	DefaultSmoothing       = 0.8
	DefaultTickRate        = 60

	// Audio
	MinDeviceID            = -1 // -1 represents the system default device
	DefaultSampleRate      = 44100
	DefaultFramesPerBuffer = 1024
	DefaultInputChannels   = 1
	DefaultGateThreshold   = 0.001
	MinSampleRate          = 8000
	MaxSampleRate          = 192000

	// secretLength is the decoded length of a well-formed shared secret (64 hex chars).
	secretLength = 32
)

// Credentials are the bridge-issued secrets for this application.
type Credentials struct {
	ApplicationKey string `yaml:"application_key"` // Also the PSK identity on the streaming path.
	SharedSecret   string `yaml:"shared_secret"`   // Hex client key; empty disables streaming.
}

// Bridge identifies a bridge and the entertainment group to drive. It is used as
// an immutable value: changes are made by building a new Bridge and swapping it in.
type Bridge struct {
	Address         string      `yaml:"address"`
	Credentials     Credentials `yaml:"credentials"`
	SelectedGroupID string      `yaml:"selected_group_id"`
}

// Valid reports whether the bridge can be addressed at all: address and
// application key must both be present.
func (b Bridge) Valid() bool {
	return strings.TrimSpace(b.Address) != "" && strings.TrimSpace(b.Credentials.ApplicationKey) != ""
}

// StreamingKey returns the decoded shared secret when it is well-formed.
func (b Bridge) StreamingKey() ([]byte, bool) {
	secret := NormalizeSecret(b.Credentials.SharedSecret)
	if len(secret) != secretLength*2 {
		return nil, false
	}
	key, err := hex.DecodeString(secret)
	if err != nil {
		return nil, false
	}
	return key, true
}

// WithGroup returns a copy of b bound to another entertainment group.
func (b Bridge) WithGroup(groupID string) Bridge {
	b.SelectedGroupID = groupID
	return b
}

// NormalizeSecret strips every non-hex character from a shared secret. Bridges
// hand out the key in several cosmetic formats (dashes, spaces, quotes).
func NormalizeSecret(secret string) string {
	var sb strings.Builder
	sb.Grow(len(secret))
	for _, r := range secret {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
