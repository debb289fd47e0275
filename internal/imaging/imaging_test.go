package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/fpang/nextlevel-variants/internal/variant"
)

// gradient builds a w x h image with enough detail that encoders do real work.
func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, gradient(w, h)); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func decodeFixture(t *testing.T, w, h int) *DecodedImage {
	t.Helper()
	img, err := Decode(encodePNG(t, w, h), 0)
	if err != nil {
		t.Fatalf("Decode fixture: %v", err)
	}
	return img
}

func TestBuffer_ConcatenatesChunksInOrder(t *testing.T) {
	src := strings.Repeat("0123456789", 50)
	got, err := Buffer(iotest.OneByteReader(strings.NewReader(src)), 1<<10)
	if err != nil {
		t.Fatalf("Buffer: %v", err)
	}
	if string(got) != src {
		t.Errorf("Buffer returned %d bytes, content mismatch", len(got))
	}
}

func TestBuffer_Limit(t *testing.T) {
	_, err := Buffer(strings.NewReader(strings.Repeat("x", 101)), 100)
	if !errors.Is(err, ErrSourceTooLarge) {
		t.Fatalf("expected ErrSourceTooLarge, got %v", err)
	}
	if !errors.Is(err, ErrDecode) {
		t.Error("ErrSourceTooLarge should be a decode error")
	}

	got, err := Buffer(strings.NewReader(strings.Repeat("x", 100)), 100)
	if err != nil || len(got) != 100 {
		t.Errorf("Buffer at exact limit = %d bytes, %v", len(got), err)
	}
}

func TestBuffer_ReadError(t *testing.T) {
	_, err := Buffer(iotest.ErrReader(errors.New("connection reset")), 100)
	if err == nil || errors.Is(err, ErrDecode) {
		t.Errorf("expected plain read error, got %v", err)
	}
}

func TestDecode(t *testing.T) {
	img := decodeFixture(t, 64, 32)
	if img.Width != 64 || img.Height != 32 {
		t.Errorf("dimensions = %dx%d, want 64x32", img.Width, img.Height)
	}
	if img.Format != "png" {
		t.Errorf("Format = %q, want png", img.Format)
	}
	if img.Metadata != nil {
		t.Errorf("PNG without EXIF should have nil metadata, got %+v", img.Metadata)
	}
}

func TestDecode_Failures(t *testing.T) {
	valid := encodePNG(t, 20, 20)

	tests := []struct {
		name      string
		data      []byte
		maxPixels int
	}{
		{"empty", nil, 0},
		{"not an image", []byte("%PDF-1.7 definitely not pixels"), 0},
		{"truncated png", valid[:len(valid)/2], 0},
		{"too many pixels", valid, 399},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data, tt.maxPixels)
			if !errors.Is(err, ErrDecode) {
				t.Errorf("Decode error = %v, want ErrDecode", err)
			}
		})
	}
}

func TestTransform_Geometry(t *testing.T) {
	tests := []struct {
		name         string
		srcW, srcH   int
		spec         variant.Spec
		wantW, wantH int
	}{
		{"standard landscape", 1600, 900, variant.Spec{Name: "standard", Width: 800, Format: variant.FormatJPEG}, 800, 450},
		{"thumbnail landscape", 1600, 900, variant.Spec{Name: "thumbnail", Width: 400, Format: variant.FormatPNG}, 400, 225},
		{"standard upscales small source", 100, 50, variant.Spec{Name: "standard", Width: 800, Format: variant.FormatPNG}, 800, 400},
		{"thumbnail rounds height", 300, 200, variant.Spec{Name: "thumbnail", Width: 400, Format: variant.FormatGIF}, 400, 267},
		{"profile from landscape", 1600, 900, variant.Spec{Name: "profile", Width: 200, Height: 200, Format: variant.FormatJPEG}, 200, 200},
		{"profile from portrait", 300, 1000, variant.Spec{Name: "profile", Width: 200, Height: 200, Format: variant.FormatPNG}, 200, 200},
		{"profile from tiny source", 10, 7, variant.Spec{Name: "profile", Width: 200, Height: 200, Format: variant.FormatGIF}, 200, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := decodeFixture(t, tt.srcW, tt.srcH)
			out, err := Transform(src, tt.spec)
			if err != nil {
				t.Fatalf("Transform: %v", err)
			}
			if out.Width != tt.wantW || out.Height != tt.wantH {
				t.Errorf("rendered %dx%d, want %dx%d", out.Width, out.Height, tt.wantW, tt.wantH)
			}

			// Re-decoding the output reproduces the target geometry.
			cfg, format, err := image.DecodeConfig(bytes.NewReader(out.Data))
			if err != nil {
				t.Fatalf("re-decode output: %v", err)
			}
			if cfg.Width != tt.wantW || cfg.Height != tt.wantH {
				t.Errorf("re-decoded %dx%d, want %dx%d", cfg.Width, cfg.Height, tt.wantW, tt.wantH)
			}
			if format != string(tt.spec.Format) {
				t.Errorf("output format = %q, want %q", format, tt.spec.Format)
			}
		})
	}
}

func TestTransform_Errors(t *testing.T) {
	src := decodeFixture(t, 10, 10)
	empty := &DecodedImage{Image: image.NewRGBA(image.Rect(0, 0, 0, 0))}

	tests := []struct {
		name string
		src  *DecodedImage
		spec variant.Spec
	}{
		{"nil source", nil, variant.Spec{Name: "standard", Width: 800, Format: variant.FormatPNG}},
		{"zero-area source", empty, variant.Spec{Name: "standard", Width: 800, Format: variant.FormatPNG}},
		{"zero width", src, variant.Spec{Name: "broken", Width: 0, Format: variant.FormatPNG}},
		{"negative height", src, variant.Spec{Name: "broken", Width: 10, Height: -1, Format: variant.FormatPNG}},
		{"unknown format", src, variant.Spec{Name: "odd", Width: 10, Format: "bmp"}},
		{"target side over limit", src, variant.Spec{Name: "huge", Width: MaxOutputSide + 1, Format: variant.FormatPNG}},
		{"target pixels over limit", src, variant.Spec{Name: "huge", Width: 60000, Height: 60000, Format: variant.FormatPNG}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Transform(tt.src, tt.spec)
			if !errors.Is(err, ErrTransform) {
				t.Errorf("Transform error = %v, want ErrTransform", err)
			}
			if out != nil {
				t.Error("expected nil output on failure")
			}
		})
	}
}

func TestTransform_NarrowSourceUpscale(t *testing.T) {
	// 1x400 scaled to width 800 would be 800x320000.
	src := decodeFixture(t, 1, 400)

	tests := []struct {
		name    string
		spec    variant.Spec
		wantErr bool
	}{
		{"standard", variant.Spec{Name: "standard", Width: 800, Format: variant.FormatPNG}, true},
		{"thumbnail", variant.Spec{Name: "thumbnail", Width: 400, Format: variant.FormatPNG}, true},
		{"profile", variant.Spec{Name: "profile", Width: 200, Height: 200, Format: variant.FormatPNG}, false},
		{"fits", variant.Spec{Name: "small", Width: 100, Format: variant.FormatPNG}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Transform(src, tt.spec)
			if tt.wantErr {
				if !errors.Is(err, ErrTransform) {
					t.Fatalf("Transform error = %v, want ErrTransform", err)
				}
				if out != nil {
					t.Error("expected nil output on failure")
				}
				return
			}
			if err != nil {
				t.Fatalf("Transform: %v", err)
			}
			if out.Width > MaxOutputSide || out.Height > MaxOutputSide {
				t.Errorf("output %dx%d exceeds max side", out.Width, out.Height)
			}
		})
	}
}

func TestTransform_ConcurrentSameSource(t *testing.T) {
	src := decodeFixture(t, 640, 480)
	specs := variant.NewPolicy(variant.DefaultSizes).Classify("profile.png")

	var wg sync.WaitGroup
	errs := make([]error, len(specs)*4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = Transform(src, specs[i%len(specs)])
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("transform %d: %v", i, err)
		}
	}
}

func TestScaledHeight(t *testing.T) {
	tests := []struct {
		w, h, target, want int
	}{
		{1600, 900, 800, 450},
		{1000, 333, 800, 266},
		{300, 200, 400, 267},
		{4000, 1, 400, 1},
		{100, 100, 800, 800},
	}
	for _, tt := range tests {
		if got := ScaledHeight(tt.w, tt.h, tt.target); got != tt.want {
			t.Errorf("ScaledHeight(%d, %d, %d) = %d, want %d", tt.w, tt.h, tt.target, got, tt.want)
		}
	}
}

func TestCoverCrop(t *testing.T) {
	tests := []struct {
		name   string
		bounds image.Rectangle
		tw, th int
		want   image.Rectangle
	}{
		{"landscape", image.Rect(0, 0, 400, 200), 200, 200, image.Rect(100, 0, 300, 200)},
		{"portrait", image.Rect(0, 0, 200, 400), 200, 200, image.Rect(0, 100, 200, 300)},
		{"square", image.Rect(0, 0, 300, 300), 200, 200, image.Rect(0, 0, 300, 300)},
		{"offset origin", image.Rect(10, 10, 410, 210), 200, 200, image.Rect(110, 10, 310, 210)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CoverCrop(tt.bounds, tt.tw, tt.th); got != tt.want {
				t.Errorf("CoverCrop = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecode_AllSupportedFormats(t *testing.T) {
	src := gradient(40, 30)
	encoders := map[string]func(*bytes.Buffer) error{
		"jpeg": func(b *bytes.Buffer) error { return jpeg.Encode(b, src, nil) },
		"png":  func(b *bytes.Buffer) error { return png.Encode(b, src) },
		"gif":  func(b *bytes.Buffer) error { return gif.Encode(b, src, nil) },
	}
	for name, enc := range encoders {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := enc(&buf); err != nil {
				t.Fatalf("encode: %v", err)
			}
			img, err := Decode(buf.Bytes(), 0)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if img.Format != name || img.Width != 40 || img.Height != 30 {
				t.Errorf("got %s %dx%d", img.Format, img.Width, img.Height)
			}
		})
	}
}
