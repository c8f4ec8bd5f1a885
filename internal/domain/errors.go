package domain

import (
	"context"
	"net"

	"github.com/cockroachdb/errors"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrJobExists      = errors.New("job already exists")
	ErrTaskNotFound   = errors.New("task not found")
	ErrRecordNotFound = errors.New("record not found")

	// ErrStaleLease is returned when an ack carries a lease token that no
	// longer owns the task: the lease expired and was re-granted, or the
	// task already reached a final state.
	ErrStaleLease = errors.New("stale lease")

	// ErrStorage marks every backend failure surfaced by a store.
	ErrStorage = errors.New("storage error")
)

// ScheduleError rejects an invalid schedule spec at job creation.
type ScheduleError struct {
	Spec   string
	Reason string
}

func (e *ScheduleError) Error() string {
	return "invalid schedule " + quote(e.Spec) + ": " + e.Reason
}

func quote(s string) string { return "\"" + s + "\"" }

type ErrorKind string

const (
	KindTimeout    ErrorKind = "timeout"
	KindNetwork    ErrorKind = "network"
	KindParse      ErrorKind = "parse"
	KindValidation ErrorKind = "validation"
	KindInternal   ErrorKind = "internal"
)

// Transient reports whether a retry has a reasonable chance to succeed.
// The requeue pass retries both kinds; the distinction is recorded for operators.
func (k ErrorKind) Transient() bool {
	return k == KindTimeout || k == KindNetwork
}

// ExtractionError is returned by extractors.
type ExtractionError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *ExtractionError) Error() string {
	msg := string(e.Kind) + " error"
	if e.URL != "" {
		msg += " for " + e.URL
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func NewExtractionError(kind ErrorKind, url string, err error) *ExtractionError {
	return &ExtractionError{Kind: kind, URL: url, Err: err}
}

// KindOf classifies an arbitrary attempt error.
func KindOf(err error) ErrorKind {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	return KindInternal
}

// StorageError wraps a backend failure with the store operation that failed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// WrapStorage returns nil for a nil err and passes domain sentinels through unchanged.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrJobNotFound) || errors.Is(err, ErrJobExists) || errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrRecordNotFound) || errors.Is(err, ErrStaleLease) {
		return err
	}
	return &StorageError{Op: op, Err: errors.WithStack(err)}
}

// IsStorage reports whether err came from a store backend.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
