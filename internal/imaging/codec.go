package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"

	// Registered decoders. PNG is the primary format; the rest are accepted
	// so capture clients are not forced to re-encode.
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// MaxPixels bounds the size of an image accepted by Decode.
const MaxPixels = 100_000_000

// ErrDecode is matched by every error returned from Decode.
var ErrDecode = errors.New("image decode failed")

// DecodeError describes malformed or unsupported image input.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Format != "" {
		return fmt.Sprintf("decoding %s image: %v", e.Format, e.Err)
	}
	return fmt.Sprintf("decoding image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDecode) true for every DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Decode parses an encoded image into a pixel buffer.
func Decode(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Err: errors.New("empty input")}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &DecodeError{Format: format, Err: fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)}
	}
	if cfg.Width*cfg.Height > MaxPixels {
		return nil, &DecodeError{Format: format, Err: fmt.Errorf("image too large: %dx%d", cfg.Width, cfg.Height)}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Format: format, Err: err}
	}
	return FromImage(img), nil
}

// Encode serialises m as PNG.
func Encode(m *Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, m.NRGBA()); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}
