package pipeline

import (
	"fmt"
	"net/url"

	"github.com/aws/aws-lambda-go/events"
	"github.com/goccy/go-json"
)

// UploadEvent names the object one invocation processes.
type UploadEvent struct {
	SourceBucket string
	Key          string

	// RecordCount is how many records the notification carried. Only the
	// first is processed.
	RecordCount int
}

// FromS3Event extracts the first record of an S3 notification.
// Keys arrive URL-encoded with '+' for space and are decoded here.
func FromS3Event(evt events.S3Event) (UploadEvent, error) {
	if len(evt.Records) == 0 {
		return UploadEvent{}, &Error{Kind: KindMalformedEvent, Err: fmt.Errorf("%w: no records", ErrMalformedEvent)}
	}
	entity := evt.Records[0].S3

	key, err := DecodeKey(entity.Object.Key)
	if err != nil {
		return UploadEvent{}, &Error{Kind: KindMalformedEvent, Err: fmt.Errorf("%w: key %q: %v", ErrMalformedEvent, entity.Object.Key, err)}
	}

	upload := UploadEvent{
		SourceBucket: entity.Bucket.Name,
		Key:          key,
		RecordCount:  len(evt.Records),
	}
	if err := upload.Validate(); err != nil {
		return UploadEvent{}, err
	}
	return upload, nil
}

// Validate checks that both the bucket and the key are present.
func (u UploadEvent) Validate() error {
	if u.SourceBucket == "" || u.Key == "" {
		return &Error{
			Kind: KindMalformedEvent,
			Err:  fmt.Errorf("%w: bucket=%q key=%q", ErrMalformedEvent, u.SourceBucket, u.Key),
		}
	}
	return nil
}

// DecodeKey reverses S3's form encoding of object keys.
func DecodeKey(raw string) (string, error) {
	return url.QueryUnescape(raw)
}

// testEvent is the body S3 posts to a queue when a notification is created.
type testEvent struct {
	Service string `json:"Service"`
	Event   string `json:"Event"`
}

// ParseNotification decodes a raw S3 notification document, as delivered in
// an SQS message body. It returns ErrTestEvent for s3:TestEvent messages.
func ParseNotification(body []byte) (UploadEvent, error) {
	var probe testEvent
	if err := json.Unmarshal(body, &probe); err == nil && probe.Event == "s3:TestEvent" {
		return UploadEvent{}, ErrTestEvent
	}

	var evt events.S3Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return UploadEvent{}, &Error{Kind: KindMalformedEvent, Err: fmt.Errorf("%w: %v", ErrMalformedEvent, err)}
	}
	return FromS3Event(evt)
}
