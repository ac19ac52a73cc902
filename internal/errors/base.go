// Package errors classifies computation failures so the worker retry policy
// is driven by error kind instead of catching everything the same way.
package errors

import (
	"errors"
)

var (
	_ error = (*kindError)(nil)
)

// Kind is the retry classification of a task failure.
type Kind uint8

const (
	// KindNone is reported for a nil error.
	KindNone Kind = iota
	// KindRetryable failures are requeued while retries remain.
	KindRetryable
	// KindFatal failures drop the task without further attempts.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindRetryable:
		return "retryable"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

func New(text string) error {
	return errors.New(text)
}

// Retryable marks err as transient.
func Retryable(err error) error {
	return withKind(err, KindRetryable)
}

// Fatal marks err as permanent for the task that produced it.
func Fatal(err error) error {
	return withKind(err, KindFatal)
}

// Retryablef and Fatalf are shorthands for marking a fresh message.
func Retryablef(text string) error { return Retryable(errors.New(text)) }
func Fatalf(text string) error     { return Fatal(errors.New(text)) }

// KindOf returns the outermost kind found in err's chain. Errors that carry
// no kind are treated as retryable.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindRetryable
}

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool {
	return KindOf(err) == KindFatal
}

func withKind(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &kindError{err: err, kind: kind}
}

type kindError struct {
	err  error
	kind Kind
}

const sep = ": "

func (err *kindError) Error() string {
	return err.kind.String() + sep + err.err.Error()
}

func (err *kindError) Unwrap() error {
	return err.err
}
