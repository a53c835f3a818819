// Package colorutil provides shared color utilities for the editor.
package colorutil

import (
	"image/color"
)

// Common overlay colors used throughout the application.
var (
	White   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Cyan    = color.RGBA{R: 0, G: 255, B: 255, A: 255}
	Magenta = color.RGBA{R: 255, G: 0, B: 255, A: 255}
	Green   = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	Red     = color.RGBA{R: 255, G: 0, B: 0, A: 255}
)

// Marker fill colors by prompt label value.
var markerColors = map[int]color.RGBA{
	0: Red,     // negative
	1: Green,   // positive
	2: Cyan,    // box top-left
	3: Magenta, // box bottom-right
}

// MarkerColor returns the fill color for a prompt marker with the given label.
func MarkerColor(label int) color.RGBA {
	if c, ok := markerColors[label]; ok {
		return c
	}
	return White
}
