package testutil

import (
	"image"
	"image/color"
	"testing"

	"diffit/internal/imaging"
)

var (
	White = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	Black = color.NRGBA{A: 255}
	Red   = color.NRGBA{R: 255, A: 255}
)

// SolidImage returns a width x height image filled with c.
func SolidImage(width, height int, c color.NRGBA) *imaging.Image {
	m := imaging.New(width, height)
	m.Fill(image.Rect(0, 0, width, height), c)
	return m
}

// WithBlock returns a copy of m with the rectangle r painted in c.
func WithBlock(m *imaging.Image, r image.Rectangle, c color.NRGBA) *imaging.Image {
	out := m.Clone()
	out.Fill(r, c)
	return out
}

// PNG encodes m, failing the test on error.
func PNG(t testing.TB, m *imaging.Image) []byte {
	t.Helper()
	data, err := imaging.Encode(m)
	if err != nil {
		t.Fatalf("encoding test image: %v", err)
	}
	return data
}

// SolidPNG is shorthand for PNG(t, SolidImage(width, height, c)).
func SolidPNG(t testing.TB, width, height int, c color.NRGBA) []byte {
	t.Helper()
	return PNG(t, SolidImage(width, height, c))
}
