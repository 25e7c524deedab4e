// SPDX-License-Identifier: MIT

// Package protocol encodes entertainment frames, the binary packets carried by
// the streaming path.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"beatlight/internal/color"
	"beatlight/internal/log"
)

/*
Entertainment Frame (BigEndian)

+------------------------------------------------------------------------------+
| Field             | Data Type      | Size (Bytes) | Description              |
|-------------------|----------------|--------------|--------------------------|
| Protocol Name     | ASCII          | 9            | "HueStream"              |
| Version           | uint8, uint8   | 2            | major 2, minor 0         |
| Sequence Number   | uint8          | 1            | wraps mod 256            |
| Reserved          | -              | 2            | zero                     |
| Color Space       | uint8          | 1            | 0 = RGB                  |
| Reserved          | -              | 1            | zero                     |
| Group ID          | ASCII          | 36           | space padded / truncated |
| Channels          | 7 bytes each   | N * 7        | N <= 20                  |
+------------------------------------------------------------------------------+

Channel block:

|<- 1 Byte ->|<-- 2 Bytes -->|<-- 2 Bytes -->|<-- 2 Bytes -->|
+------------+---------------+---------------+---------------+
| Channel ID |   Red uint16  |  Green uint16 |  Blue uint16  |
+------------+---------------+---------------+---------------+
*/
const (
	ProtocolName  = "HueStream"
	VersionMajor  = 2
	VersionMinor  = 0
	ColorSpaceRGB = 0

	HeaderSize  = 16
	GroupIDSize = 36
	ChannelSize = 7
	MaxChannels = 20

	// MaxFrameSize is the size of a frame carrying MaxChannels channels.
	MaxFrameSize = HeaderSize + GroupIDSize + MaxChannels*ChannelSize
)

var (
	ErrShortFrame  = errors.New("frame too short")
	ErrBadProtocol = errors.New("not an entertainment frame")
)

// Channel is one light channel and the color it should show.
type Channel struct {
	ID    uint8
	Color color.RGB
}

// Header is the decoded fixed part of a frame.
type Header struct {
	Protocol   string
	Major      uint8
	Minor      uint8
	Sequence   uint8
	ColorSpace uint8
	GroupID    string
}

// WireChannel is a channel block as it appears on the wire.
type WireChannel struct {
	ID      uint8
	R, G, B uint16
}

// Color converts the wire components back to [0,1].
func (w WireChannel) Color() color.RGB {
	return color.RGB{
		R: float64(w.R) / math.MaxUint16,
		G: float64(w.G) / math.MaxUint16,
		B: float64(w.B) / math.MaxUint16,
	}
}

var truncations atomic.Uint64

// Encode builds a new frame. Channels beyond MaxChannels are dropped with a
// warning.
func Encode(seq uint8, groupID string, channels []Channel) []byte {
	n := min(len(channels), MaxChannels)
	return AppendFrame(make([]byte, 0, HeaderSize+GroupIDSize+n*ChannelSize), seq, groupID, channels)
}

// AppendFrame appends a frame to dst and returns the extended slice. Transports
// reuse one buffer per session through it.
func AppendFrame(dst []byte, seq uint8, groupID string, channels []Channel) []byte {
	if len(channels) > MaxChannels {
		if n := truncations.Add(1); n == 1 || n%500 == 0 {
			log.Warnf("Protocol: %d channels exceed the frame limit, sending the first %d (%d frames truncated)",
				len(channels), MaxChannels, n)
		}
		channels = channels[:MaxChannels]
	}

	dst = append(dst, ProtocolName...)
	dst = append(dst, VersionMajor, VersionMinor, seq, 0, 0, ColorSpaceRGB, 0)

	if len(groupID) > GroupIDSize {
		groupID = groupID[:GroupIDSize]
	}
	dst = append(dst, groupID...)
	for range GroupIDSize - len(groupID) {
		dst = append(dst, ' ')
	}

	for _, ch := range channels {
		c := ch.Color.Clamp()
		dst = append(dst, ch.ID)
		dst = binary.BigEndian.AppendUint16(dst, Component(c.R))
		dst = binary.BigEndian.AppendUint16(dst, Component(c.G))
		dst = binary.BigEndian.AppendUint16(dst, Component(c.B))
	}
	return dst
}

// Component converts a [0,1] value to its 16-bit wire form, clamping first.
func Component(v float64) uint16 {
	switch {
	case math.IsNaN(v), v <= 0:
		return 0
	case v >= 1:
		return math.MaxUint16
	}
	return uint16(math.Round(v * math.MaxUint16))
}

// ParseHeader decodes the fixed header and group id.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize+GroupIDSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(b))
	}
	if string(b[:len(ProtocolName)]) != ProtocolName {
		return Header{}, ErrBadProtocol
	}
	return Header{
		Protocol:   ProtocolName,
		Major:      b[9],
		Minor:      b[10],
		Sequence:   b[11],
		ColorSpace: b[14],
		GroupID:    strings.TrimRight(string(b[HeaderSize:HeaderSize+GroupIDSize]), " "),
	}, nil
}

// ParseChannels decodes the channel blocks that follow the header.
func ParseChannels(b []byte) ([]WireChannel, error) {
	if _, err := ParseHeader(b); err != nil {
		return nil, err
	}
	body := b[HeaderSize+GroupIDSize:]
	if len(body)%ChannelSize != 0 {
		return nil, fmt.Errorf("%w: trailing %d bytes", ErrShortFrame, len(body)%ChannelSize)
	}
	out := make([]WireChannel, 0, len(body)/ChannelSize)
	for off := 0; off < len(body); off += ChannelSize {
		out = append(out, WireChannel{
			ID: body[off],
			R:  binary.BigEndian.Uint16(body[off+1:]),
			G:  binary.BigEndian.Uint16(body[off+3:]),
			B:  binary.BigEndian.Uint16(body[off+5:]),
		})
	}
	return out, nil
}

// Uniform returns one channel per id, all showing c.
func Uniform(ids []uint8, c color.RGB) []Channel {
	out := make([]Channel, len(ids))
	for i, id := range ids {
		out[i] = Channel{ID: id, Color: c}
	}
	return out
}
