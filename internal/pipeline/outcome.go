package pipeline

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// State is the dispatcher's progress through one invocation.
type State string

const (
	StateReceived     State = "RECEIVED"
	StateClassified   State = "CLASSIFIED"
	StateSkipped      State = "SKIPPED"
	StateDecoding     State = "DECODING"
	StateTransforming State = "TRANSFORMING"
	StateCompleted    State = "COMPLETED"
	StateFailed       State = "FAILED"
)

// Skip reasons. Skips are normal terminal states, not errors.
const (
	SkipAlreadyProcessed = "already-processed"
	SkipUnsupportedType  = "unsupported-type"
)

// Response messages, kept identical to what the front-end already parses.
const (
	MessageComplete = "Image processing complete"
	MessageSkipped  = "Image processing skipped"
	MessageFailed   = "Error processing image"
)

// VariantResult records one attempted variant.
type VariantResult struct {
	Variant     string    `json:"variant"`
	OutputKey   string    `json:"outputKey"`
	ContentType string    `json:"contentType"`
	Bytes       int       `json:"bytes"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	Success     bool      `json:"success"`
	ErrorKind   ErrorKind `json:"errorKind,omitempty"`
	Error       string    `json:"error,omitempty"`
}

func (r *VariantResult) fail(kind ErrorKind, err error) {
	r.Success = false
	r.ErrorKind = kind
	r.Error = err.Error()
}

// SourceInfo describes the decoded source image.
type SourceInfo struct {
	Format   string            `json:"format"`
	Width    int               `json:"width"`
	Height   int               `json:"height"`
	Bytes    int               `json:"bytes"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Outcome is the terminal value of one invocation.
type Outcome struct {
	InvocationID string          `json:"invocationId"`
	SourceBucket string          `json:"sourceBucket"`
	Key          string          `json:"key"`
	State        State           `json:"state"`
	Variants     []VariantResult `json:"variants,omitempty"`
	Source       *SourceInfo     `json:"source,omitempty"`
	Skipped      bool            `json:"skipped"`
	SkipReason   string          `json:"skipReason,omitempty"`
	Fatal        bool            `json:"fatal"`
	ErrorKind    ErrorKind       `json:"errorKind,omitempty"`
	Error        string          `json:"error,omitempty"`
	StartedAt    time.Time       `json:"startedAt"`
	Duration     time.Duration   `json:"duration"`

	err error
}

// Err returns the fatal error, or nil when the invocation succeeded or skipped.
func (o *Outcome) Err() error {
	return o.err
}

func (o *Outcome) skip(reason string) {
	o.State = StateSkipped
	o.Skipped = true
	o.SkipReason = reason
}

func (o *Outcome) failFatal(err error) {
	o.State = StateFailed
	o.Fatal = true
	o.ErrorKind = KindOf(err)
	o.Error = err.Error()
	o.err = err
}

// Succeeded counts variants that were rendered and written.
func (o *Outcome) Succeeded() int {
	n := 0
	for _, v := range o.Variants {
		if v.Success {
			n++
		}
	}
	return n
}

// Failed counts variants that were attempted and failed.
func (o *Outcome) Failed() int {
	return len(o.Variants) - o.Succeeded()
}

// Response is the structured status returned to the invoking platform.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// Response maps the outcome to a status code and {"message": ...} body.
// Per-variant failures do not change the status: they are reported through
// Variants and logs only.
func (o *Outcome) Response() Response {
	switch {
	case o.Fatal:
		return newResponse(http.StatusInternalServerError, MessageFailed)
	case o.Skipped:
		return newResponse(http.StatusOK, MessageSkipped)
	default:
		return newResponse(http.StatusOK, MessageComplete)
	}
}

// Invocation is the handler return for a Lambda-triggered run. Only
// retryable failures return an error, so the platform's async retry
// redelivers the event; every other outcome is a response with a nil error.
func (o *Outcome) Invocation() (Response, error) {
	if IsRetryable(o.err) {
		return o.Response(), o.err
	}
	return o.Response(), nil
}

func newResponse(status int, message string) Response {
	body, _ := json.Marshal(map[string]string{"message": message})
	return Response{StatusCode: status, Body: string(body)}
}

// Result labels summarising an outcome for ledgers and metrics.
const (
	ResultComplete = "complete"
	ResultPartial  = "partial"
	ResultSkipped  = "skipped"
	ResultFailed   = "failed"
)

// Result classifies the outcome: failed, skipped, partial (some variants
// failed) or complete.
func (o *Outcome) Result() string {
	switch {
	case o.Fatal:
		return ResultFailed
	case o.Skipped:
		return ResultSkipped
	case o.Failed() > 0:
		return ResultPartial
	default:
		return ResultComplete
	}
}
