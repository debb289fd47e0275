package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/fpang/nextlevel-variants/internal/variant"
)

// JPEGQuality is the encoder quality for JPEG variants.
const JPEGQuality = 80

// Encode serialises img in format.
func Encode(img image.Image, format variant.Format) ([]byte, error) {
	var buf bytes.Buffer
	var err error

	switch format {
	case variant.FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality})
	case variant.FormatPNG:
		err = png.Encode(&buf, img)
	case variant.FormatGIF:
		err = gif.Encode(&buf, img, nil)
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("encode %s: empty output", format)
	}
	return buf.Bytes(), nil
}
