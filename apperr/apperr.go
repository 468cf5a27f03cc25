// Package apperr defines the typed failures returned by the contract,
// offer, dispute, ledger and withdrawal services.
//
// Callers match on kind with errors.Is against the exported sentinels:
//
//	if errors.Is(err, apperr.ErrState) { ... }
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation          Kind = "validation"
	KindAuthorization       Kind = "authorization"
	KindState               Kind = "state"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindDuplicateOffer      Kind = "duplicate_offer"
	KindNotFound            Kind = "not_found"
)

// Error carries the failure kind, the operation that produced it and a
// caller-facing message.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Msg
	}
	return e.Op + ": " + e.Msg
}

// Is reports a match when target is a bare sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == ""
}

var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrAuthorization       = &Error{Kind: KindAuthorization}
	ErrState               = &Error{Kind: KindState}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrDuplicateOffer      = &Error{Kind: KindDuplicateOffer}
	ErrNotFound            = &Error{Kind: KindNotFound}
)

func newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Validation(op, format string, args ...any) error {
	return newf(KindValidation, op, format, args...)
}

func Authorization(op, format string, args ...any) error {
	return newf(KindAuthorization, op, format, args...)
}

func State(op, format string, args ...any) error {
	return newf(KindState, op, format, args...)
}

func InsufficientBalance(op, format string, args ...any) error {
	return newf(KindInsufficientBalance, op, format, args...)
}

func DuplicateOffer(op, format string, args ...any) error {
	return newf(KindDuplicateOffer, op, format, args...)
}

func NotFound(op, format string, args ...any) error {
	return newf(KindNotFound, op, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or "" for
// infrastructure failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
