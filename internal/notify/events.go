// Package notify publishes a VariantsProcessed event to EventBridge after
// each invocation that produced at least one variant, so downstream services
// (profile caches, CDN invalidation) learn that new keys exist.
package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/fpang/nextlevel-variants/internal/pipeline"
)

const (
	Source     = "nextlevel-variants"
	DetailType = "VariantsProcessed"
)

// API is the subset of *eventbridge.Client the publisher uses.
type API interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// VariantsProcessed is the event detail.
type VariantsProcessed struct {
	InvocationID      string           `json:"invocationId"`
	SourceBucket      string           `json:"sourceBucket"`
	Key               string           `json:"key"`
	DestinationBucket string           `json:"destinationBucket"`
	Variants          []ProducedObject `json:"variants"`
	FailedVariants    []string         `json:"failedVariants,omitempty"`
}

// ProducedObject is one variant that was written.
type ProducedObject struct {
	Variant     string `json:"variant"`
	Key         string `json:"key"`
	ContentType string `json:"contentType"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// Publisher emits VariantsProcessed events.
type Publisher struct {
	client      API
	busName     string
	destination string
}

// NewPublisher creates a Publisher. An empty busName targets the account's
// default bus.
func NewPublisher(client API, busName, destinationBucket string) *Publisher {
	return &Publisher{client: client, busName: busName, destination: destinationBucket}
}

// Detail builds the event for an outcome. ok is false when nothing was
// written (skips, fatal failures, or every variant failed).
func (p *Publisher) Detail(out *pipeline.Outcome) (detail VariantsProcessed, ok bool) {
	if out.Fatal || out.Skipped || out.Succeeded() == 0 {
		return VariantsProcessed{}, false
	}
	detail = VariantsProcessed{
		InvocationID:      out.InvocationID,
		SourceBucket:      out.SourceBucket,
		Key:               out.Key,
		DestinationBucket: p.destination,
	}
	for _, v := range out.Variants {
		if !v.Success {
			detail.FailedVariants = append(detail.FailedVariants, v.Variant)
			continue
		}
		detail.Variants = append(detail.Variants, ProducedObject{
			Variant:     v.Variant,
			Key:         v.OutputKey,
			ContentType: v.ContentType,
			Width:       v.Width,
			Height:      v.Height,
		})
	}
	return detail, true
}

// Record implements pipeline.Recorder.
func (p *Publisher) Record(ctx context.Context, out *pipeline.Outcome) error {
	detail, ok := p.Detail(out)
	if !ok {
		return nil
	}
	return p.Publish(ctx, detail)
}

// Publish sends one event.
func (p *Publisher) Publish(ctx context.Context, event VariantsProcessed) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal VariantsProcessed: %w", err)
	}

	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(Source),
		DetailType: aws.String(DetailType),
		Detail:     aws.String(string(body)),
		Resources:  []string{"arn:aws:s3:::" + event.SourceBucket + "/" + event.Key},
	}
	if p.busName != "" {
		entry.EventBusName = aws.String(p.busName)
	}

	result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		log.Error().Err(err).Str("key", event.Key).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, e := range result.Entries {
			if e.ErrorCode != nil || e.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(e.ErrorCode)).
					Str("errorMessage", aws.ToString(e.ErrorMessage)).
					Str("key", event.Key).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
			}
		}
		return fmt.Errorf("PutEvents: %d entries failed", result.FailedEntryCount)
	}

	log.Debug().Str("key", event.Key).Int("variants", len(event.Variants)).Msg("VariantsProcessed emitted to EventBridge")
	return nil
}
