// Package consumer drives the dispatcher from an SQS queue carrying S3 event
// notifications.
//
// Each message is acknowledged (deleted) only once its invocation reaches a
// terminal state that should not be repeated: completed, skipped, or a test
// event. Retryable fatal failures (the source could not be fetched) are made
// visible again for redelivery. Permanent fatal failures (malformed event,
// undecodable source) are forwarded to the dead-letter queue when one is
// configured, otherwise left for the queue's redrive policy.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/nextlevel-variants/internal/pipeline"
)

// API is the subset of *sqs.Client the consumer uses.
type API interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Handler runs invocations. *pipeline.Dispatcher satisfies it.
type Handler interface {
	Handle(ctx context.Context, evt pipeline.UploadEvent) *pipeline.Outcome
	Reject(ctx context.Context, err error) *pipeline.Outcome
}

// Disposition is what happened to a message after processing.
type Disposition string

const (
	Ack        Disposition = "ack"
	Retry      Disposition = "retry"
	DeadLetter Disposition = "dead-letter"
	Abandon    Disposition = "abandon"
)

// Options configures a Consumer.
type Options struct {
	QueueURL           string
	DeadLetterQueueURL string
	// Concurrency bounds in-flight messages.
	Concurrency int
	// WaitTime is the ReceiveMessage long-poll duration (max 20s).
	WaitTime time.Duration
	// RetryDelay is the visibility timeout applied to retryable failures.
	// Zero makes the message visible immediately.
	RetryDelay time.Duration
}

// maxBatch is the SQS ReceiveMessage limit.
const maxBatch = 10

// receiveBackoff is the pause after a failed ReceiveMessage call.
var receiveBackoff = time.Second

// Consumer polls a queue and hands each notification to a Handler.
type Consumer struct {
	client  API
	handler Handler
	opts    Options
}

// New creates a Consumer.
func New(client API, handler Handler, opts Options) *Consumer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.WaitTime < 0 || opts.WaitTime > 20*time.Second {
		opts.WaitTime = 20 * time.Second
	}
	return &Consumer{client: client, handler: handler, opts: opts}
}

// Run polls until ctx is cancelled, then waits for in-flight messages.
// Messages already received finish processing after cancellation so their
// acknowledgement is not lost.
func (c *Consumer) Run(ctx context.Context) error {
	if c.opts.QueueURL == "" {
		return errors.New("consumer: queue URL is required")
	}
	log.Info().
		Str("queue", c.opts.QueueURL).
		Int("concurrency", c.opts.Concurrency).
		Msg("Consumer started")

	var g errgroup.Group
	g.SetLimit(c.opts.Concurrency)
	work := context.WithoutCancel(ctx)

	for ctx.Err() == nil {
		msgs, err := c.receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Error().Err(err).Msg("ReceiveMessage failed")
			select {
			case <-ctx.Done():
			case <-time.After(receiveBackoff):
			}
			continue
		}
		for _, msg := range msgs {
			g.Go(func() error {
				c.Process(work, msg)
				return nil
			})
		}
	}

	_ = g.Wait()
	log.Info().Msg("Consumer stopped")
	return nil
}

func (c *Consumer) receive(ctx context.Context) ([]sqstypes.Message, error) {
	batch := min(c.opts.Concurrency, maxBatch)
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(c.opts.QueueURL),
		MaxNumberOfMessages:         int32(batch),
		WaitTimeSeconds:             int32(c.opts.WaitTime / time.Second),
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{sqstypes.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return nil, fmt.Errorf("ReceiveMessage: %w", err)
	}
	return out.Messages, nil
}

// Process handles one message and applies its disposition.
func (c *Consumer) Process(ctx context.Context, msg sqstypes.Message) Disposition {
	logger := log.With().
		Str("messageId", aws.ToString(msg.MessageId)).
		Str("receiveCount", msg.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]).
		Logger()

	var out *pipeline.Outcome
	evt, err := pipeline.ParseNotification([]byte(aws.ToString(msg.Body)))
	switch {
	case errors.Is(err, pipeline.ErrTestEvent):
		logger.Info().Msg("Acknowledging s3:TestEvent")
		c.apply(ctx, logger, msg, Ack, nil)
		return Ack
	case err != nil:
		out = c.handler.Reject(ctx, err)
	default:
		if evt.RecordCount > 1 {
			logger.Warn().
				Int("records", evt.RecordCount).
				Str("key", evt.Key).
				Msg("Notification carried multiple records, only the first is processed")
		}
		out = c.handler.Handle(ctx, evt)
	}

	d := c.decide(out)
	c.apply(ctx, logger, msg, d, out)
	return d
}

func (c *Consumer) decide(out *pipeline.Outcome) Disposition {
	switch {
	case !out.Fatal:
		return Ack
	case pipeline.IsRetryable(out.Err()):
		return Retry
	case c.opts.DeadLetterQueueURL != "":
		return DeadLetter
	default:
		return Abandon
	}
}

func (c *Consumer) apply(ctx context.Context, logger zerolog.Logger, msg sqstypes.Message, d Disposition, out *pipeline.Outcome) {
	var err error
	switch d {
	case Ack:
		err = c.delete(ctx, msg)
	case Retry:
		_, err = c.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
			QueueUrl:          aws.String(c.opts.QueueURL),
			ReceiptHandle:     msg.ReceiptHandle,
			VisibilityTimeout: int32(c.opts.RetryDelay / time.Second),
		})
		if err != nil {
			err = fmt.Errorf("ChangeMessageVisibility: %w", err)
		}
	case DeadLetter:
		err = c.deadLetter(ctx, msg, out)
	case Abandon:
		logger.Warn().Msg("Permanent failure with no dead-letter queue, leaving message for redrive")
		return
	}
	if err != nil {
		logger.Error().Err(err).Str("disposition", string(d)).Msg("Failed to settle message")
		return
	}
	logger.Debug().Str("disposition", string(d)).Msg("Message settled")
}

func (c *Consumer) delete(ctx context.Context, msg sqstypes.Message) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.opts.QueueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		return fmt.Errorf("DeleteMessage: %w", err)
	}
	return nil
}

// deadLetter copies the message to the DLQ with the failure attached, then
// deletes the original. The original stays on the queue if the copy fails.
func (c *Consumer) deadLetter(ctx context.Context, msg sqstypes.Message, out *pipeline.Outcome) error {
	attrs := map[string]sqstypes.MessageAttributeValue{
		"errorKind": {DataType: aws.String("String"), StringValue: aws.String(string(out.ErrorKind))},
		"error":     {DataType: aws.String("String"), StringValue: aws.String(out.Error)},
	}
	if out.Key != "" {
		attrs["key"] = sqstypes.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(out.Key)}
	}
	_, err := c.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(c.opts.DeadLetterQueueURL),
		MessageBody:       msg.Body,
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("SendMessage to dead-letter queue: %w", err)
	}
	return c.delete(ctx, msg)
}
