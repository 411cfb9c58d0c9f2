package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrTransient marks failures worth retrying (rate limits, timeouts,
	// upstream overload). Adapters wrap retryable errors with this kind;
	// anything else is treated as permanent.
	ErrTransient = errors.New("transient failure")

	// ErrUnsupportedFile rejects a document before or after fetch when its
	// declared or sniffed type falls outside the admission policy. Never
	// retried.
	ErrUnsupportedFile = errors.New("unsupported file type")

	// ErrMalformedEvent is a contract violation on the inbound event itself,
	// not a pipeline stage failure.
	ErrMalformedEvent = errors.New("malformed event")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// IsTransient reports whether err was classified retryable by the adapter
// that produced it.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
