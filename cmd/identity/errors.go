package identity

import (
	"errors"
	"fmt"
)

// Kinds returned by Store methods. Match them with errors.Is; handlers map
// them to status codes.
var (
	ErrInvalidInput = errors.New("identity: invalid input")
	ErrInvalidRole  = errors.New("identity: unknown role")
	ErrNotFound     = errors.New("identity: user not found")
	ErrConflict     = errors.New("identity: email already registered")
)

// Error is what every Store method fails with for a known condition. Cause
// keeps the underlying error reachable, so a rejected password still
// matches password.ErrWeakPassword and friends.
type Error struct {
	Op     string
	Kind   error
	Detail string
	Cause  error
}

func (e Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func notFound(op string) error { return Error{Op: op, Kind: ErrNotFound} }

func emailTaken(op, email string) error {
	return Error{Op: op, Kind: ErrConflict, Detail: email}
}

// IsConflict reports a CreateUser against an email that already exists.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
