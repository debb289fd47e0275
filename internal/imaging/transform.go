package imaging

import (
	"errors"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/fpang/nextlevel-variants/internal/variant"
)

// ErrTransform marks a variant that could not be rendered from the source.
var ErrTransform = errors.New("transform failed")

// Output bounds checked before the destination buffer is allocated. A narrow
// source upscaled to a fixed width grows its height by the same factor.
const (
	MaxOutputSide   = 65535 // JPEG dimension limit
	MaxOutputPixels = DefaultMaxSourcePixels
)

// Rendered is one encoded variant ready to be written.
type Rendered struct {
	Data   []byte
	Width  int
	Height int
	Format variant.Format
}

// Transform renders spec from src. It reads src without modifying it and
// holds no state, so it is safe to call concurrently for the same source.
func Transform(src *DecodedImage, spec variant.Spec) (out *Rendered, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: %s: resample panic: %v", ErrTransform, spec.Name, r)
		}
	}()

	if src == nil || src.Image == nil {
		return nil, fmt.Errorf("%w: %s: no source image", ErrTransform, spec.Name)
	}
	bounds := src.Image.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, fmt.Errorf("%w: %s: zero-area source %dx%d", ErrTransform, spec.Name, bounds.Dx(), bounds.Dy())
	}
	if spec.Width <= 0 || spec.Height < 0 {
		return nil, fmt.Errorf("%w: %s: invalid target %dx%d", ErrTransform, spec.Name, spec.Width, spec.Height)
	}

	width, height := spec.Width, spec.Height
	if spec.PreservesAspect() {
		height = ScaledHeight(bounds.Dx(), bounds.Dy(), spec.Width)
	}
	if err := checkOutputSize(width, height); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransform, spec.Name, err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	if spec.PreservesAspect() {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src.Image, bounds, draw.Src, nil)
	} else {
		crop := CoverCrop(bounds, spec.Width, spec.Height)
		draw.CatmullRom.Scale(dst, dst.Bounds(), src.Image, crop, draw.Src, nil)
	}

	data, err := Encode(dst, spec.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransform, spec.Name, err)
	}

	return &Rendered{
		Data:   data,
		Width:  dst.Bounds().Dx(),
		Height: dst.Bounds().Dy(),
		Format: spec.Format,
	}, nil
}

func checkOutputSize(width, height int) error {
	if width > MaxOutputSide || height > MaxOutputSide {
		return fmt.Errorf("output %dx%d exceeds max side %d", width, height, MaxOutputSide)
	}
	if int64(width)*int64(height) > MaxOutputPixels {
		return fmt.Errorf("output %dx%d exceeds %d pixels", width, height, MaxOutputPixels)
	}
	return nil
}

// ScaledHeight returns the height that keeps width:height when the width
// becomes targetWidth, rounded half away from zero and never below 1.
func ScaledHeight(width, height, targetWidth int) int {
	h := int(math.Round(float64(height) * float64(targetWidth) / float64(width)))
	if h < 1 {
		return 1
	}
	return h
}

// CoverCrop returns the centred region of bounds with the target's aspect
// ratio. Scaling that region to the target fills it exactly, discarding the
// overflow on the longer axis.
func CoverCrop(bounds image.Rectangle, targetWidth, targetHeight int) image.Rectangle {
	w, h := bounds.Dx(), bounds.Dy()
	cropW, cropH := w, h

	// Compare w/h against tw/th without division.
	if w*targetHeight > h*targetWidth {
		cropW = int(math.Round(float64(h) * float64(targetWidth) / float64(targetHeight)))
	} else {
		cropH = int(math.Round(float64(w) * float64(targetHeight) / float64(targetWidth)))
	}
	cropW = max(1, min(cropW, w))
	cropH = max(1, min(cropH, h))

	x0 := bounds.Min.X + (w-cropW)/2
	y0 := bounds.Min.Y + (h-cropH)/2
	return image.Rect(x0, y0, x0+cropW, y0+cropH)
}
