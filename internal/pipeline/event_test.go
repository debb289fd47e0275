package pipeline

import (
	"errors"
	"fmt"
	"testing"
)

const notificationJSON = `{
  "Records": [{
    "eventVersion": "2.1",
    "eventSource": "aws:s3",
    "awsRegion": "us-east-1",
    "eventName": "ObjectCreated:Put",
    "s3": {
      "s3SchemaVersion": "1.0",
      "bucket": {"name": "nextlevel-uploads", "arn": "arn:aws:s3:::nextlevel-uploads"},
      "object": {"key": "uploads/profile-42+%281%29.png", "size": 1024}
    }
  }]
}`

func TestParseNotification(t *testing.T) {
	evt, err := ParseNotification([]byte(notificationJSON))
	if err != nil {
		t.Fatalf("ParseNotification: %v", err)
	}
	if evt.SourceBucket != "nextlevel-uploads" {
		t.Errorf("SourceBucket = %q", evt.SourceBucket)
	}
	if evt.Key != "uploads/profile-42 (1).png" {
		t.Errorf("Key = %q, want decoded key", evt.Key)
	}
	if evt.RecordCount != 1 {
		t.Errorf("RecordCount = %d", evt.RecordCount)
	}
}

func TestParseNotification_TestEvent(t *testing.T) {
	body := `{"Service":"Amazon S3","Event":"s3:TestEvent","Time":"2026-10-19T10:00:00.000Z","Bucket":"nextlevel-uploads","RequestId":"X","HostId":"Y"}`
	_, err := ParseNotification([]byte(body))
	if !errors.Is(err, ErrTestEvent) {
		t.Errorf("err = %v, want ErrTestEvent", err)
	}
}

func TestParseNotification_Malformed(t *testing.T) {
	tests := map[string]string{
		"not json":       `{"Records": [`,
		"no records":     `{"Records": []}`,
		"empty document": `{}`,
		"missing bucket": `{"Records":[{"s3":{"bucket":{"name":""},"object":{"key":"a.png"}}}]}`,
		"missing key":    `{"Records":[{"s3":{"bucket":{"name":"b"},"object":{"key":""}}}]}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseNotification([]byte(body))
			if KindOf(err) != KindMalformedEvent || !errors.Is(err, ErrMalformedEvent) {
				t.Errorf("err = %v, want malformed event", err)
			}
		})
	}
}

func TestDecodeKey(t *testing.T) {
	tests := []struct {
		raw, want string
	}{
		{"uploads/profile-42.png", "uploads/profile-42.png"},
		{"my+cover+art.jpg", "my cover art.jpg"},
		{"caf%C3%A9.png", "café.png"},
		{"a%2Bb.gif", "a+b.gif"},
	}
	for _, tt := range tests {
		got, err := DecodeKey(tt.raw)
		if err != nil || got != tt.want {
			t.Errorf("DecodeKey(%q) = %q, %v, want %q", tt.raw, got, err, tt.want)
		}
	}
	if _, err := DecodeKey("bad%zzescape"); err == nil {
		t.Error("expected error for invalid escape")
	}
}

func TestErrorKinds(t *testing.T) {
	wrapped := fmt.Errorf("consumer: %w", &Error{Kind: KindFetch, Err: ErrFetch})
	if KindOf(wrapped) != KindFetch || !IsRetryable(wrapped) {
		t.Errorf("KindOf(wrapped) = %q", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != KindNone {
		t.Error("plain errors have no kind")
	}

	fatal := map[ErrorKind]bool{
		KindMalformedEvent: true,
		KindFetch:          true,
		KindSourceMissing:  true,
		KindDecode:         true,
		KindTransform:      false,
		KindWrite:          false,
	}
	for kind, want := range fatal {
		if kind.IsFatal() != want {
			t.Errorf("%s.IsFatal() = %v, want %v", kind, kind.IsFatal(), want)
		}
	}
}
