// Package pixeldiff compares two screenshots pixel by pixel and renders a
// diff mask.
//
// Colors are compared in YIQ space after blending over white, with the
// perceptual weights used by pixelmatch. All per-pixel arithmetic is done in
// int64 fixed point so a comparison always yields the same mask and score.
//
// Unless disabled, differing pixels on anti-aliased edges are reported
// separately. An edge pixel counts as anti-aliased when it sits on a
// brightness gradient next to a flat region in both images, so a shifted
// gradient is tolerated while a moved or thickened hard line is not.
package pixeldiff

import (
	"errors"
	"image/color"
	"math"

	"diffit/internal/imaging"
)

// DefaultThreshold is the per-pixel sensitivity used when none is configured.
const DefaultThreshold = 0.1

// percentScale fixes Percentage to four decimal places.
const percentScale = 10_000

// maxYIQDelta is the largest possible YIQ distance (black against white).
const maxYIQDelta = 35215

// fixedScale converts a real YIQ delta to the fixed point units of yiqDelta:
// 1000^2 from the channel coefficients times 10000 from the weights.
const fixedScale = 1e10

// ErrDimensionMismatch is returned when the images do not have the same size.
// No pixels are compared in that case.
var ErrDimensionMismatch = errors.New("image dimensions differ")

var (
	// DiffColor marks a pixel that differs between the images.
	DiffColor = color.NRGBA{R: 255, G: 0, B: 0, A: 200}
	// AAColor marks a differing pixel on an anti-aliased edge.
	AAColor = color.NRGBA{R: 255, G: 255, B: 0, A: 255}
)

// Options tunes a comparison.
type Options struct {
	// Threshold is the per-pixel sensitivity in [0, 1]. Smaller is stricter.
	Threshold float64
	// IncludeAA disables the anti-aliasing pass so jitter counts as a change.
	IncludeAA bool
}

// DefaultOptions returns the options used by the pipeline when none are set.
func DefaultOptions() Options {
	return Options{Threshold: DefaultThreshold}
}

// Result is the outcome of a comparison of two equally sized images.
type Result struct {
	Mask        *imaging.Image
	DiffPixels  int64
	AAPixels    int64
	TotalPixels int64
	// Percentage is 100*DiffPixels/TotalPixels rounded half up to four
	// decimal places. It is never rounded down to zero when DiffPixels > 0.
	Percentage float64
}

// Equal reports whether no pixel was classified as different.
func (r *Result) Equal() bool {
	return r.DiffPixels == 0
}

// Compare classifies every pixel of cmp against base and renders the mask.
func Compare(base, cmp *imaging.Image, opts Options) (*Result, error) {
	if !base.SameSize(cmp) {
		return nil, ErrDimensionMismatch
	}

	limit := deltaLimit(opts.Threshold)
	w, h := base.Width, base.Height
	mask := imaging.New(w, h)
	res := &Result{Mask: mask, TotalPixels: int64(w) * int64(h)}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := base.Offset(x, y)
			bp := base.Pix[i : i+4 : i+4]
			cp := cmp.Pix[i : i+4 : i+4]

			if samePixel(bp, cp) || yiqDelta(bp, cp) <= limit {
				setFaint(mask.Pix[i:i+4:i+4], bp)
				continue
			}

			if !opts.IncludeAA && (antialiased(base, cmp, x, y) || antialiased(cmp, base, x, y)) {
				res.AAPixels++
				setColor(mask.Pix[i:i+4:i+4], AAColor)
				continue
			}

			res.DiffPixels++
			setColor(mask.Pix[i:i+4:i+4], DiffColor)
		}
	}

	res.Percentage = percentage(res.DiffPixels, res.TotalPixels)
	return res, nil
}

// MarkedPixels counts the pixels of a mask painted with DiffColor.
func MarkedPixels(mask *imaging.Image) int64 {
	var n int64
	for i := 0; i+3 < len(mask.Pix); i += 4 {
		if mask.Pix[i] == DiffColor.R && mask.Pix[i+1] == DiffColor.G &&
			mask.Pix[i+2] == DiffColor.B && mask.Pix[i+3] == DiffColor.A {
			n++
		}
	}
	return n
}

// deltaLimit converts a threshold into the largest yiqDelta still treated as
// the same color.
func deltaLimit(threshold float64) int64 {
	if threshold < 0 {
		threshold = 0
	}
	if threshold > 1 {
		threshold = 1
	}
	return int64(math.Round(maxYIQDelta * threshold * threshold * fixedScale))
}

// antialiased reports whether the pixel at (x, y) of img lies on an
// anti-aliased edge: its neighbours include both a darker and a brighter
// pixel, at most two of them share its brightness, and the darkest or the
// brightest neighbour sits inside a flat region in both images.
func antialiased(img, other *imaging.Image, x, y int) bool {
	x0, y0 := max(x-1, 0), max(y-1, 0)
	x1, y1 := min(x+1, img.Width-1), min(y+1, img.Height-1)

	zeroes := 0
	if x == x0 || x == x1 || y == y0 || y == y1 {
		zeroes = 1
	}

	i := img.Offset(x, y)
	center := brightness(img.Pix[i : i+4 : i+4])
	var darkest, brightest int64
	var minX, minY, maxX, maxY int

	for nx := x0; nx <= x1; nx++ {
		for ny := y0; ny <= y1; ny++ {
			if nx == x && ny == y {
				continue
			}
			j := img.Offset(nx, ny)
			delta := center - brightness(img.Pix[j:j+4:j+4])
			switch {
			case delta == 0:
				zeroes++
				if zeroes > 2 {
					return false
				}
			case delta < darkest:
				darkest, minX, minY = delta, nx, ny
			case delta > brightest:
				brightest, maxX, maxY = delta, nx, ny
			}
		}
	}

	if darkest == 0 || brightest == 0 {
		return false
	}
	return (flat(img, minX, minY) && flat(other, minX, minY)) ||
		(flat(img, maxX, maxY) && flat(other, maxX, maxY))
}

// flat reports whether at least three neighbours of (x, y) are identical to
// it, counting the image border as one.
func flat(img *imaging.Image, x, y int) bool {
	x0, y0 := max(x-1, 0), max(y-1, 0)
	x1, y1 := min(x+1, img.Width-1), min(y+1, img.Height-1)

	zeroes := 0
	if x == x0 || x == x1 || y == y0 || y == y1 {
		zeroes = 1
	}

	i := img.Offset(x, y)
	px := img.Pix[i : i+4 : i+4]
	for nx := x0; nx <= x1; nx++ {
		for ny := y0; ny <= y1; ny++ {
			if nx == x && ny == y {
				continue
			}
			j := img.Offset(nx, ny)
			if samePixel(px, img.Pix[j:j+4:j+4]) {
				zeroes++
				if zeroes > 2 {
					return true
				}
			}
		}
	}
	return false
}

// brightness is the fixed point YIQ luma of a pixel blended over white.
func brightness(p []uint8) int64 {
	return yiqY(blend(p))
}

func samePixel(a, b []uint8) bool {
	return a[0] == b[0] && a[1] == b[1] && a[2] == b[2] && a[3] == b[3]
}

// yiqDelta is the weighted squared YIQ distance between two pixels, scaled by
// fixedScale.
func yiqDelta(a, b []uint8) int64 {
	r1, g1, b1 := blend(a)
	r2, g2, b2 := blend(b)

	dy := yiqY(r1, g1, b1) - yiqY(r2, g2, b2)
	di := yiqI(r1, g1, b1) - yiqI(r2, g2, b2)
	dq := yiqQ(r1, g1, b1) - yiqQ(r2, g2, b2)

	return 5053*dy*dy + 2990*di*di + 1957*dq*dq
}

// blend composites a non-premultiplied pixel over white.
func blend(p []uint8) (r, g, b int64) {
	a := int64(p[3])
	if a == 255 {
		return int64(p[0]), int64(p[1]), int64(p[2])
	}
	over := func(c uint8) int64 {
		return (int64(c)*a + 255*(255-a) + 127) / 255
	}
	return over(p[0]), over(p[1]), over(p[2])
}

func yiqY(r, g, b int64) int64 { return 299*r + 587*g + 114*b }
func yiqI(r, g, b int64) int64 { return 596*r - 274*g - 322*b }
func yiqQ(r, g, b int64) int64 { return 211*r - 523*g + 312*b }

// setFaint renders an unchanged pixel as a pale gray of its luminance.
func setFaint(dst, src []uint8) {
	r, g, b := blend(src)
	luma := yiqY(r, g, b) / 1000
	v := uint8((luma + 9*255) / 10)
	dst[0], dst[1], dst[2], dst[3] = v, v, v, 255
}

func setColor(dst []uint8, c color.NRGBA) {
	dst[0], dst[1], dst[2], dst[3] = c.R, c.G, c.B, c.A
}

func percentage(diff, total int64) float64 {
	if diff == 0 || total == 0 {
		return 0
	}
	units := (diff*100*percentScale + total/2) / total
	if units == 0 {
		units = 1
	}
	return float64(units) / percentScale
}
