// SPDX-License-Identifier: MIT

// Package color holds the RGB value type sent to the lights and the mapping
// from audio features to colors.
package color

import (
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// RGB is a color with components nominally in [0,1].
type RGB struct {
	R, G, B float64
}

var (
	Black = RGB{}
	White = RGB{1, 1, 1}
)

// Clamp limits every component to [0,1]. NaN becomes 0.
func (c RGB) Clamp() RGB {
	return RGB{clamp01(c.R), clamp01(c.G), clamp01(c.B)}
}

// Equal reports whether two colors are identical after clamping.
func (c RGB) Equal(o RGB) bool {
	return c.Clamp() == o.Clamp()
}

// Scale multiplies every component by f without clamping.
func (c RGB) Scale(f float64) RGB {
	return RGB{c.R * f, c.G * f, c.B * f}
}

// Max returns the largest component.
func (c RGB) Max() float64 {
	return math.Max(c.R, math.Max(c.G, c.B))
}

// Brightness is the 0-100 brightness used by the request path.
func (c RGB) Brightness() int {
	return int(math.Round(c.Clamp().Max() * 100))
}

// XY converts to CIE 1931 chromaticity using the wide-gamut matrix the bridge
// expects. Black has no chromaticity and maps to the white point (0.33, 0.33).
func (c RGB) XY() (x, y float64) {
	r, g, b := colorful.Color{R: clamp01(c.R), G: clamp01(c.G), B: clamp01(c.B)}.LinearRgb()

	X := r*0.649926 + g*0.103455 + b*0.197109
	Y := r*0.234327 + g*0.743075 + b*0.022598
	Z := g*0.053077 + b*1.035763

	sum := X + Y + Z
	if sum == 0 {
		return 0.33, 0.33
	}
	return X / sum, Y / sum
}

// FromHSV builds a color from hue in degrees and saturation/value in [0,1].
func FromHSV(hue, sat, val float64) RGB {
	hue = math.Mod(hue, 360)
	if hue < 0 {
		hue += 360
	}
	c := colorful.Hsv(hue, clamp01(sat), clamp01(val))
	return RGB{c.R, c.G, c.B}.Clamp()
}

// Hue returns the color's hue in degrees.
func (c RGB) Hue() float64 {
	h, _, _ := colorful.Color{R: c.R, G: c.G, B: c.B}.Hsv()
	return h
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
