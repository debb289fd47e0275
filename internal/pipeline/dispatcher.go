// Package pipeline turns one object-storage upload event into a set of
// resized image variants.
//
// A Dispatcher walks each invocation through
//
//	RECEIVED -> CLASSIFIED -> (SKIPPED | DECODING -> TRANSFORMING -> COMPLETED) | FAILED
//
// Malformed events and unreadable sources fail the whole invocation. Every
// variant after decode is an independent unit: a transform or write failure
// is recorded on that variant and never stops its siblings, and the
// invocation still reports success.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/nextlevel-variants/internal/imaging"
	"github.com/fpang/nextlevel-variants/internal/variant"
)

// DefaultVariantConcurrency bounds parallel variant renders per invocation.
const DefaultVariantConcurrency = 3

// Storage is the object store the dispatcher reads sources from and writes
// variants to.
type Storage interface {
	// Fetch opens the object body. The caller closes it. An error matching
	// fs.ErrNotExist means the object is gone and a retry cannot help.
	Fetch(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	// Put writes body under key with the given content type.
	Put(ctx context.Context, bucket, key, contentType string, body []byte) error
}

// Recorder observes finished invocations (ledger, events, metrics).
// Recorder errors are logged and never change the outcome.
type Recorder interface {
	Record(ctx context.Context, out *Outcome) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, out *Outcome) error

func (f RecorderFunc) Record(ctx context.Context, out *Outcome) error {
	return f(ctx, out)
}

// Options configures a Dispatcher.
type Options struct {
	DestinationBucket  string
	OutputKeyPrefix    string
	ProcessedMarker    string
	Sizes              variant.Sizes
	MaxSourceBytes     int64
	MaxSourcePixels    int
	VariantConcurrency int
}

type transformFunc func(*imaging.DecodedImage, variant.Spec) (*imaging.Rendered, error)

// Dispatcher processes upload events. It holds no per-invocation state and
// is safe for concurrent use.
type Dispatcher struct {
	storage     Storage
	recorders   []Recorder
	guard       *variant.Guard
	policy      *variant.Policy
	destination string
	prefix      string
	maxBytes    int64
	maxPixels   int
	concurrency int
	transform   transformFunc
}

// New creates a Dispatcher writing variants through storage.
func New(storage Storage, opts Options, recorders ...Recorder) *Dispatcher {
	concurrency := opts.VariantConcurrency
	if concurrency <= 0 {
		concurrency = DefaultVariantConcurrency
	}
	sizes := opts.Sizes
	if sizes == (variant.Sizes{}) {
		sizes = variant.DefaultSizes
	}
	return &Dispatcher{
		storage:     storage,
		recorders:   recorders,
		guard:       variant.NewGuard(opts.ProcessedMarker),
		policy:      variant.NewPolicy(sizes),
		destination: opts.DestinationBucket,
		prefix:      opts.OutputKeyPrefix,
		maxBytes:    opts.MaxSourceBytes,
		maxPixels:   opts.MaxSourcePixels,
		concurrency: concurrency,
		transform:   imaging.Transform,
	}
}

// HandleS3Event processes the first record of an S3 notification.
func (d *Dispatcher) HandleS3Event(ctx context.Context, evt events.S3Event) *Outcome {
	upload, err := FromS3Event(evt)
	if err != nil {
		return d.Reject(ctx, err)
	}
	if upload.RecordCount > 1 {
		log.Warn().
			Int("records", upload.RecordCount).
			Str("key", upload.Key).
			Msg("Notification carried multiple records, only the first is processed")
	}
	return d.Handle(ctx, upload)
}

// Handle runs one invocation to completion and returns its outcome.
// The outcome is fatal only for malformed events and unreadable sources.
func (d *Dispatcher) Handle(ctx context.Context, evt UploadEvent) *Outcome {
	out := d.newOutcome(evt)
	logger := log.With().
		Str("invocationId", out.InvocationID).
		Str("bucket", evt.SourceBucket).
		Str("key", evt.Key).
		Logger()
	defer d.finish(ctx, logger, out)

	if err := evt.Validate(); err != nil {
		out.failFatal(err)
		return out
	}

	if d.guard.Skip(evt.Key) {
		out.skip(SkipAlreadyProcessed)
		return out
	}

	specs := d.policy.Classify(evt.Key)
	out.State = StateClassified
	if len(specs) == 0 {
		out.skip(SkipUnsupportedType)
		return out
	}
	if evt.SourceBucket == d.destination && !d.guard.Skip(variant.OutputKey(d.prefix, specs[0].Name, evt.Key)) {
		logger.Warn().
			Str("marker", d.guard.Marker()).
			Msg("Writing into the source bucket with keys the guard will not skip")
	}

	out.State = StateDecoding
	src, err := d.load(ctx, evt)
	if err != nil {
		out.failFatal(err)
		return out
	}
	out.Source = &SourceInfo{
		Format:   src.Format,
		Width:    src.Width,
		Height:   src.Height,
		Bytes:    src.SourceBytes,
		Metadata: src.Metadata.Fields(),
	}
	if src.Metadata != nil {
		logger.Debug().Object("exif", src.Metadata).Msg("Source metadata")
	}

	out.State = StateTransforming
	out.Variants = d.renderAll(ctx, logger, evt.Key, src, specs)
	out.State = StateCompleted
	return out
}

func (d *Dispatcher) newOutcome(evt UploadEvent) *Outcome {
	return &Outcome{
		InvocationID: uuid.NewString(),
		SourceBucket: evt.SourceBucket,
		Key:          evt.Key,
		State:        StateReceived,
		StartedAt:    time.Now(),
	}
}

// Reject records a fatal outcome for an event that could not be parsed.
func (d *Dispatcher) Reject(ctx context.Context, err error) *Outcome {
	out := d.newOutcome(UploadEvent{})
	logger := log.With().Str("invocationId", out.InvocationID).Logger()
	defer d.finish(ctx, logger, out)
	out.failFatal(err)
	return out
}

// load fetches the full source object and decodes it.
func (d *Dispatcher) load(ctx context.Context, evt UploadEvent) (*imaging.DecodedImage, error) {
	body, err := d.storage.Fetch(ctx, evt.SourceBucket, evt.Key)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &Error{Kind: KindSourceMissing, Err: fmt.Errorf("%w: %w", ErrSourceMissing, err)}
	}
	if err != nil {
		return nil, &Error{Kind: KindFetch, Err: fmt.Errorf("%w: %w", ErrFetch, err)}
	}
	defer body.Close()

	data, err := imaging.Buffer(body, d.maxBytes)
	if err != nil {
		if errors.Is(err, imaging.ErrDecode) {
			return nil, &Error{Kind: KindDecode, Err: err}
		}
		return nil, &Error{Kind: KindFetch, Err: fmt.Errorf("%w: %w", ErrFetch, err)}
	}

	img, err := imaging.Decode(data, d.maxPixels)
	if err != nil {
		return nil, &Error{Kind: KindDecode, Err: err}
	}
	return img, nil
}

// renderAll runs every variant to completion. Results are in specs order.
func (d *Dispatcher) renderAll(ctx context.Context, logger zerolog.Logger, key string, src *imaging.DecodedImage, specs []variant.Spec) []VariantResult {
	results := make([]VariantResult, len(specs))

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, spec := range specs {
		g.Go(func() error {
			results[i] = d.renderOne(ctx, logger, key, src, spec)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (d *Dispatcher) renderOne(ctx context.Context, logger zerolog.Logger, key string, src *imaging.DecodedImage, spec variant.Spec) VariantResult {
	res := VariantResult{
		Variant:     spec.Name,
		OutputKey:   variant.OutputKey(d.prefix, spec.Name, key),
		ContentType: spec.Format.ContentType(),
	}
	vlog := logger.With().Str("variant", spec.Name).Str("outputKey", res.OutputKey).Logger()

	rendered, err := d.transform(src, spec)
	if err != nil {
		res.fail(KindTransform, err)
		vlog.Warn().Err(err).Msg("Variant transform failed")
		return res
	}
	res.Width = rendered.Width
	res.Height = rendered.Height
	res.Bytes = len(rendered.Data)

	if err := d.storage.Put(ctx, d.destination, res.OutputKey, res.ContentType, rendered.Data); err != nil {
		res.fail(KindWrite, fmt.Errorf("%w: %w", ErrWrite, err))
		vlog.Warn().Err(err).Msg("Variant write failed")
		return res
	}

	res.Success = true
	vlog.Debug().
		Int("width", res.Width).
		Int("height", res.Height).
		Int("bytes", res.Bytes).
		Msg("Variant written")
	return res
}

// finish stamps the duration, logs the terminal state and notifies recorders.
func (d *Dispatcher) finish(ctx context.Context, logger zerolog.Logger, out *Outcome) {
	out.Duration = time.Since(out.StartedAt)

	switch {
	case out.Fatal:
		logger.Error().
			Err(out.err).
			Str("errorKind", string(out.ErrorKind)).
			Bool("retryable", IsRetryable(out.err)).
			Dur("duration", out.Duration).
			Msg("Image processing failed")
	case out.Skipped:
		logger.Info().Str("reason", out.SkipReason).Msg("Image processing skipped")
	default:
		evt := logger.Info()
		if out.Failed() > 0 {
			evt = logger.Warn()
		}
		evt.Int("variants", len(out.Variants)).
			Int("succeeded", out.Succeeded()).
			Int("failed", out.Failed()).
			Dur("duration", out.Duration).
			Msg("Image processing complete")
	}

	for _, r := range d.recorders {
		if err := r.Record(ctx, out); err != nil {
			logger.Warn().Err(err).Msg("Outcome recorder failed (non-fatal)")
		}
	}
}
