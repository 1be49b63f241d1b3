// Package apperr defines the closed set of failure kinds surfaced by the
// connectivity check and the invoice fetcher.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	// KindConfig covers missing or invalid local configuration. It is
	// detected before any network I/O.
	KindConfig Kind = "config"
	// KindConnection covers dial, TLS, login and IMAP command failures.
	KindConnection Kind = "connection"
	// KindIO covers local filesystem failures.
	KindIO Kind = "io"
	// KindUnknown is reported for errors outside the taxonomy.
	KindUnknown Kind = "unknown"
)

// Error wraps an underlying error with its kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config wraps err as a configuration failure.
func Config(op string, err error) error {
	return wrap(KindConfig, op, err)
}

// Connection wraps err as a connection or protocol failure.
func Connection(op string, err error) error {
	return wrap(KindConnection, op, err)
}

// IO wraps err as a local filesystem failure.
func IO(op string, err error) error {
	return wrap(KindIO, op, err)
}

func wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
