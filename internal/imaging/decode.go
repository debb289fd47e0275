// Package imaging decodes uploaded images and renders resized variants.
//
// Decoding is whole-buffer: the source stream is read to completion before
// any interpretation. Rendering is a pure function of a DecodedImage and a
// variant.Spec, so several variants of the same source may be rendered
// concurrently.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/rs/zerolog/log"
)

// Default limits applied when the caller passes zero.
const (
	DefaultMaxSourceBytes  = 32 << 20
	DefaultMaxSourcePixels = 50_000_000
)

var (
	// ErrDecode marks source bytes that cannot be turned into pixels.
	ErrDecode = errors.New("decode failed")

	// ErrSourceTooLarge is returned by Buffer when the stream exceeds its limit.
	ErrSourceTooLarge = fmt.Errorf("%w: source exceeds size limit", ErrDecode)
)

// DecodedImage is an in-memory pixel buffer plus what we learned about the
// source while decoding it. It must not be mutated after Decode returns.
type DecodedImage struct {
	Image       image.Image
	Width       int
	Height      int
	Format      string // as reported by the image package: "jpeg", "png", "gif"
	SourceBytes int
	Metadata    *Metadata
}

// Buffer reads r to EOF, concatenating chunks in arrival order.
// It fails with ErrSourceTooLarge once more than limit bytes arrive.
func Buffer(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxSourceBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrSourceTooLarge, limit)
	}
	return data, nil
}

// Decode turns a fully buffered source into a DecodedImage.
// The header is inspected first so oversized images are rejected before
// their pixel buffer is allocated.
func Decode(data []byte, maxPixels int) (*DecodedImage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty source", ErrDecode)
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxSourcePixels
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: zero-area image %dx%d", ErrDecode, cfg.Width, cfg.Height)
	}
	if cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixel limit", ErrDecode, cfg.Width, cfg.Height, maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, format, err)
	}
	bounds := img.Bounds()

	decoded := &DecodedImage{
		Image:       img,
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		Format:      format,
		SourceBytes: len(data),
		Metadata:    ReadMetadata(data),
	}

	log.Debug().
		Str("format", format).
		Int("width", decoded.Width).
		Int("height", decoded.Height).
		Int("source_bytes", decoded.SourceBytes).
		Msg("Image decoded")

	return decoded, nil
}
