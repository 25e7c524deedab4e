// SPDX-License-Identifier: MIT
package color

import (
	"math"
	"testing"
)

func TestRGB_Clamp(t *testing.T) {
	got := RGB{-0.5, 0.5, 1.5}.Clamp()
	if got != (RGB{0, 0.5, 1}) {
		t.Errorf("Clamp = %+v", got)
	}
	if got := (RGB{math.NaN(), 0, 0}).Clamp(); got != Black {
		t.Errorf("NaN clamp = %+v", got)
	}
}

func TestRGB_Equal(t *testing.T) {
	if !(RGB{1.2, 0, 0}).Equal(RGB{1, 0, 0}) {
		t.Error("colors equal after clamping should compare equal")
	}
	if (RGB{0.5, 0.5, 0.5}).Equal(RGB{0.5, 0.5, 0.51}) {
		t.Error("different colors compared equal")
	}
}

func TestRGB_Brightness(t *testing.T) {
	tests := []struct {
		in   RGB
		want int
	}{
		{Black, 0},
		{RGB{0.5, 0.2, 0.1}, 50},
		{RGB{0.004, 0, 0}, 0},
		{RGB{0.005, 0, 0}, 1},
		{RGB{2, 0, 0}, 100},
	}
	for _, tt := range tests {
		if got := tt.in.Brightness(); got != tt.want {
			t.Errorf("%+v.Brightness() = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRGB_XY(t *testing.T) {
	tests := []struct {
		name   string
		in     RGB
		wantX  float64
		wantY  float64
		within float64
	}{
		{"red primary", RGB{1, 0, 0}, 0.735, 0.265, 0.001},
		{"green primary", RGB{0, 1, 0}, 0.115, 0.826, 0.001},
		{"blue primary", RGB{0, 0, 1}, 0.157, 0.018, 0.001},
		{"white", White, 0.3127, 0.3290, 0.001},
		{"black", Black, 0.33, 0.33, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, y := tt.in.XY()
			if math.Abs(x-tt.wantX) > tt.within || math.Abs(y-tt.wantY) > tt.within {
				t.Errorf("XY() = (%.4f, %.4f), want (%.3f, %.3f)", x, y, tt.wantX, tt.wantY)
			}
		})
	}

	// Red lands near the red corner of the visible gamut.
	if x, y := (RGB{1, 0, 0}).XY(); x <= 0.6 || y >= 0.35 {
		t.Errorf("red XY = (%.3f, %.3f), want x > 0.6 and y < 0.35", x, y)
	}
}

func TestFromHSV(t *testing.T) {
	tests := []struct {
		h, s, v float64
		want    RGB
	}{
		{0, 1, 1, RGB{1, 0, 0}},
		{120, 1, 1, RGB{0, 1, 0}},
		{240, 1, 1, RGB{0, 0, 1}},
		{360, 1, 1, RGB{1, 0, 0}},
		{-120, 1, 1, RGB{0, 0, 1}},
		{0, 0, 0.5, RGB{0.5, 0.5, 0.5}},
	}
	for _, tt := range tests {
		got := FromHSV(tt.h, tt.s, tt.v)
		if math.Abs(got.R-tt.want.R) > 1e-9 || math.Abs(got.G-tt.want.G) > 1e-9 || math.Abs(got.B-tt.want.B) > 1e-9 {
			t.Errorf("FromHSV(%v,%v,%v) = %+v, want %+v", tt.h, tt.s, tt.v, got, tt.want)
		}
	}
}
