package pipeline

import (
	"errors"
	"fmt"

	"github.com/fpang/nextlevel-variants/internal/imaging"
)

// ErrorKind classifies a failure for logs, metrics and the outcome ledger.
type ErrorKind string

const (
	KindNone           ErrorKind = ""
	KindMalformedEvent ErrorKind = "malformed-event"
	KindFetch          ErrorKind = "fetch"
	KindSourceMissing  ErrorKind = "source-missing"
	KindDecode         ErrorKind = "decode"
	KindTransform      ErrorKind = "transform"
	KindWrite          ErrorKind = "write"
)

// Sentinel errors. Decode and transform failures reuse the imaging sentinels
// so callers can match either package's value.
var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrFetch          = errors.New("fetch source failed")
	ErrSourceMissing  = fmt.Errorf("%w: source object not found", ErrFetch)
	ErrDecode         = imaging.ErrDecode
	ErrTransform      = imaging.ErrTransform
	ErrWrite          = errors.New("write variant failed")

	// ErrTestEvent is returned by ParseNotification for the s3:TestEvent
	// message S3 sends when a notification target is first configured.
	ErrTestEvent = errors.New("s3 test event")
)

// Error is a classified pipeline failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a pipeline error, or KindNone.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindNone
}

// IsFatal reports whether the kind aborts the whole invocation.
func (k ErrorKind) IsFatal() bool {
	switch k {
	case KindMalformedEvent, KindFetch, KindSourceMissing, KindDecode:
		return true
	}
	return false
}

// IsRetryable reports whether redelivering the same event could succeed.
// Only transient source fetch failures qualify. Anything else, including a
// source that has been deleted, fails identically on every attempt.
func IsRetryable(err error) bool {
	return KindOf(err) == KindFetch
}
