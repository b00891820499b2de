package faults

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure. Retry eligibility and HTTP mapping
// are decided from the kind, never from the message text.
type Kind int

const (
	KindUnknown Kind = iota
	// KindInvalidMedia: unreadable file, no audio stream, or implausibly
	// small canonical output.
	KindInvalidMedia
	// KindConversionFailed: remote conversion exhausted all retries or
	// returned a terminal failure.
	KindConversionFailed
	// KindResourceExhausted: admission rejected by the resource guard.
	KindResourceExhausted
	// KindTranscriptionFailed: the speech-recognition stage failed.
	KindTranscriptionFailed
	// KindSoftTimeout: soft deadline exceeded, task aborted gracefully.
	KindSoftTimeout
	// KindTransientIO: network/connection/timeout class errors. The only
	// kind eligible for automatic task-level retry.
	KindTransientIO
)

// String returns the stable machine-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidMedia:
		return "invalid_media"
	case KindConversionFailed:
		return "conversion_failed"
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindTranscriptionFailed:
		return "transcription_failed"
	case KindSoftTimeout:
		return "soft_timeout"
	case KindTransientIO:
		return "transient_io"
	default:
		return "unknown"
	}
}

// Retryable reports whether a task that failed with this kind may be
// re-queued automatically.
func (k Kind) Retryable() bool {
	return k == KindTransientIO
}

// Error is a classified pipeline error.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error wrapping a cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// KindOf extracts the kind from an error chain. Unclassified errors
// report KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err carries a retryable kind.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}
