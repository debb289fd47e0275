package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"testing"
)

type putCall struct {
	bucket      string
	key         string
	contentType string
	body        []byte
}

// memStorage is an in-memory Storage keyed by bucket/key.
type memStorage struct {
	mu       sync.Mutex
	objects  map[string][]byte
	puts     []putCall
	fetches  int
	fetchErr error
	putErrs  map[string]error
}

func newMemStorage() *memStorage {
	return &memStorage{
		objects: make(map[string][]byte),
		putErrs: make(map[string]error),
	}
}

func (m *memStorage) add(bucket, key string, data []byte) {
	m.objects[bucket+"/"+key] = data
}

func (m *memStorage) Fetch(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStorage) Put(_ context.Context, bucket, key, contentType string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.putErrs[key]; err != nil {
		return err
	}
	m.puts = append(m.puts, putCall{bucket: bucket, key: key, contentType: contentType, body: body})
	m.objects[bucket+"/"+key] = body
	return nil
}

func (m *memStorage) putFor(key string) (putCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.puts {
		if p.key == key {
			return p, true
		}
	}
	return putCall{}, false
}

func pngFixture(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}
