package store

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Kind classifies a store failure.
type Kind int

const (
	KindOther Kind = iota
	KindUnique
	KindForeignKey
	KindNotNull
	KindCheck
	KindClosed
)

func (k Kind) String() string {
	switch k {
	case KindUnique:
		return "unique_violation"
	case KindForeignKey:
		return "foreign_key_violation"
	case KindNotNull:
		return "not_null_violation"
	case KindCheck:
		return "check_violation"
	case KindClosed:
		return "closed"
	default:
		return "other"
	}
}

// ErrClosed is wrapped by every call made after Shutdown.
var ErrClosed = errors.New("store is shut down")

// ErrInvalidHandle is returned when an identity handle is not a valid address.
var ErrInvalidHandle = errors.New("invalid identity handle")

// Error is the single failure type surfaced by the store.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, or KindOther if err is not a store error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindOther
}

// IsConstraint reports whether err is a constraint violation of any kind.
func IsConstraint(err error) bool {
	switch KindOf(err) {
	case KindUnique, KindForeignKey, KindNotNull, KindCheck:
		return err != nil
	default:
		return false
	}
}

// IsClosed reports whether err came from a shut down store.
func IsClosed(err error) bool {
	return KindOf(err) == KindClosed
}

// classify wraps a driver error in *Error. Errors that are already classified
// pass through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Kind: kindFromDriver(err), Op: op, Err: err}
}

func kindFromDriver(err error) Kind {
	var lite sqlite3.Error
	if errors.As(err, &lite) {
		switch lite.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return KindUnique
		case sqlite3.ErrConstraintForeignKey:
			return KindForeignKey
		case sqlite3.ErrConstraintNotNull:
			return KindNotNull
		case sqlite3.ErrConstraintCheck:
			return KindCheck
		}
		return KindOther
	}

	var pg *pq.Error
	if errors.As(err, &pg) {
		switch pg.Code {
		case "23505":
			return KindUnique
		case "23503":
			return KindForeignKey
		case "23502":
			return KindNotNull
		case "23514":
			return KindCheck
		}
	}
	return KindOther
}
