package platform

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies a platform failure.
type ErrorKind int

const (
	// KindTransient covers network errors, timeouts, and rate limits.
	// Transient failures are retried with backoff and never surfaced as a
	// pipeline failure on their own.
	KindTransient ErrorKind = iota
	// KindPermanent covers authorization and not-found failures. Permanent
	// failures are surfaced immediately as a pipeline error.
	KindPermanent
)

// String returns a human-readable representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is a classified platform failure.
type Error struct {
	// Kind distinguishes transient from permanent failures.
	Kind ErrorKind
	// Op names the failed platform operation.
	Op string
	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("platform %s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a transient platform failure.
func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// Permanent wraps err as a permanent platform failure.
func Permanent(op string, err error) error {
	return &Error{Kind: KindPermanent, Op: op, Err: err}
}

// IsTransient reports whether err is a transient platform failure.
// Plain network errors and context deadline expiry count as transient
// even when a client forgot to classify them.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == KindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsPermanent reports whether err is a permanent platform failure.
func IsPermanent(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == KindPermanent
	}
	return false
}
