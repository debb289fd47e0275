package s3util

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	gobreaker "github.com/sony/gobreaker/v2"
)

type fakeS3 struct {
	getInput *s3.GetObjectInput
	putInput *s3.PutObjectInput
	putBody  []byte
	body     string
	getErr   error
	putErr   error
	puts     int
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.getInput = in
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts++
	f.putInput = in
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.putBody, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestStore_Fetch(t *testing.T) {
	api := &fakeS3{body: "pixels"}
	rc, err := NewStore(api).Fetch(context.Background(), "uploads", "a.png")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "pixels" {
		t.Errorf("body = %q", data)
	}
	if aws.ToString(api.getInput.Bucket) != "uploads" || aws.ToString(api.getInput.Key) != "a.png" {
		t.Errorf("GetObject input = %+v", api.getInput)
	}
}

func TestStore_FetchError(t *testing.T) {
	api := &fakeS3{getErr: errors.New("NoSuchKey")}
	_, err := NewStore(api).Fetch(context.Background(), "uploads", "missing.png")
	if err == nil || !strings.Contains(err.Error(), "s3://uploads/missing.png") {
		t.Errorf("err = %v", err)
	}
}

func TestStore_FetchNotFound(t *testing.T) {
	notFound := &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusNotFound}},
		Err:      errors.New("NotFound"),
	}
	throttled := &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusServiceUnavailable}},
		Err:      errors.New("SlowDown"),
	}

	tests := []struct {
		name    string
		err     error
		missing bool
	}{
		{"no such key", &s3types.NoSuchKey{}, true},
		{"wrapped no such key", fmt.Errorf("operation error S3: GetObject: %w", &s3types.NoSuchKey{}), true},
		{"http 404", notFound, true},
		{"http 503", throttled, false},
		{"plain", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStore(&fakeS3{getErr: tt.err}).Fetch(context.Background(), "uploads", "gone.png")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, fs.ErrNotExist); got != tt.missing {
				t.Errorf("errors.Is(err, fs.ErrNotExist) = %v, want %v (err = %v)", got, tt.missing, err)
			}
		})
	}
}

func TestStore_Put(t *testing.T) {
	api := &fakeS3{}
	err := NewStore(api).Put(context.Background(), "processed", "standard-a.png", "image/png", []byte("encoded"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	in := api.putInput
	if aws.ToString(in.Bucket) != "processed" || aws.ToString(in.Key) != "standard-a.png" {
		t.Errorf("bucket/key = %s/%s", aws.ToString(in.Bucket), aws.ToString(in.Key))
	}
	if aws.ToString(in.ContentType) != "image/png" {
		t.Errorf("ContentType = %s", aws.ToString(in.ContentType))
	}
	if aws.ToInt64(in.ContentLength) != 7 || string(api.putBody) != "encoded" {
		t.Errorf("ContentLength = %d body = %q", aws.ToInt64(in.ContentLength), api.putBody)
	}
	if aws.ToString(in.Tagging) != "Project=nextlevel" {
		t.Errorf("Tagging = %s", aws.ToString(in.Tagging))
	}
}

func TestBreakerStore_OpensAfterConsecutiveFailures(t *testing.T) {
	api := &fakeS3{putErr: errors.New("InternalError")}
	b := NewBreakerStore(NewStore(api), BreakerConfig{FailureThreshold: 3, OpenTimeout: 0})

	for i := 0; i < 3; i++ {
		err := b.Put(context.Background(), "processed", "k", "image/png", []byte("x"))
		if err == nil || errors.Is(err, gobreaker.ErrOpenState) {
			t.Fatalf("attempt %d: err = %v, want the S3 error", i, err)
		}
	}
	if b.State() != gobreaker.StateOpen.String() {
		t.Fatalf("State() = %s, want open", b.State())
	}

	err := b.Put(context.Background(), "processed", "k", "image/png", []byte("x"))
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("err = %v, want ErrOpenState", err)
	}
	if api.puts != 3 {
		t.Errorf("PutObject called %d times, open breaker must not call through", api.puts)
	}
}

func TestBreakerStore_FetchPassesThrough(t *testing.T) {
	api := &fakeS3{body: "ok"}
	b := NewBreakerStore(NewStore(api), DefaultBreakerConfig)
	rc, err := b.Fetch(context.Background(), "uploads", "a.png")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	rc.Close()
}
