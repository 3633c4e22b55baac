// Package imaging decodes screenshots into flat RGBA pixel buffers and encodes
// pixel buffers back to PNG.
package imaging

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// Image is a tightly packed, non-premultiplied RGBA pixel buffer. The pixel at
// (x, y) occupies Pix[(y*Width+x)*4 : (y*Width+x)*4+4].
type Image struct {
	Width  int
	Height int
	Pix    []uint8
}

// New allocates a fully transparent image of the given size.
func New(width, height int) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]uint8, width*height*4),
	}
}

// FromImage copies any image.Image into a pixel buffer.
func FromImage(src image.Image) *Image {
	b := src.Bounds()
	if n, ok := src.(*image.NRGBA); ok && b.Min == (image.Point{}) && n.Stride == b.Dx()*4 {
		pix := make([]uint8, len(n.Pix[:b.Dx()*b.Dy()*4]))
		copy(pix, n.Pix)
		return &Image{Width: b.Dx(), Height: b.Dy(), Pix: pix}
	}

	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return &Image{Width: b.Dx(), Height: b.Dy(), Pix: dst.Pix}
}

// NRGBA returns a standard library view of the buffer. The view shares Pix.
func (m *Image) NRGBA() *image.NRGBA {
	return &image.NRGBA{
		Pix:    m.Pix,
		Stride: m.Width * 4,
		Rect:   image.Rect(0, 0, m.Width, m.Height),
	}
}

// Offset returns the index of the first channel of pixel (x, y) in Pix.
func (m *Image) Offset(x, y int) int {
	return (y*m.Width + x) * 4
}

// At returns the color of pixel (x, y).
func (m *Image) At(x, y int) color.NRGBA {
	i := m.Offset(x, y)
	return color.NRGBA{R: m.Pix[i], G: m.Pix[i+1], B: m.Pix[i+2], A: m.Pix[i+3]}
}

// Set writes the color of pixel (x, y).
func (m *Image) Set(x, y int, c color.NRGBA) {
	i := m.Offset(x, y)
	m.Pix[i], m.Pix[i+1], m.Pix[i+2], m.Pix[i+3] = c.R, c.G, c.B, c.A
}

// Fill paints the rectangle r (clipped to the image) with c.
func (m *Image) Fill(r image.Rectangle, c color.NRGBA) {
	r = r.Intersect(image.Rect(0, 0, m.Width, m.Height))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			m.Set(x, y, c)
		}
	}
}

// SameSize reports whether m and other have identical dimensions.
func (m *Image) SameSize(other *Image) bool {
	return m.Width == other.Width && m.Height == other.Height
}

// Clone returns a deep copy of m.
func (m *Image) Clone() *Image {
	pix := make([]uint8, len(m.Pix))
	copy(pix, m.Pix)
	return &Image{Width: m.Width, Height: m.Height, Pix: pix}
}

// Thumbnail scales m down so that it is at most maxWidth pixels wide,
// preserving the aspect ratio. Images that already fit are returned as is.
func Thumbnail(m *Image, maxWidth int) *Image {
	if maxWidth <= 0 || m.Width <= maxWidth {
		return m
	}
	height := m.Height * maxWidth / m.Width
	if height < 1 {
		height = 1
	}

	dst := image.NewNRGBA(image.Rect(0, 0, maxWidth, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), m.NRGBA(), image.Rect(0, 0, m.Width, m.Height), draw.Src, nil)
	return &Image{Width: maxWidth, Height: height, Pix: dst.Pix}
}
