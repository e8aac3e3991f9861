package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies ledger failures. Presentation layers surface the kind
// verbatim.
type ErrorKind string

// Ledger error kinds.
const (
	KindNotFound               ErrorKind = "NotFound"
	KindAlreadyExists          ErrorKind = "AlreadyExists"
	KindUnauthorized           ErrorKind = "Unauthorized"
	KindInvalidTransition      ErrorKind = "InvalidTransition"
	KindInvalidArgument        ErrorKind = "InvalidArgument"
	KindReentrantCall          ErrorKind = "ReentrantCall"
	KindAdministrationRequired ErrorKind = "AdministrationRequired"
)

// Sentinel errors for errors.Is matching against an *Error of the same kind.
var (
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrAlreadyExists          = &Error{Kind: KindAlreadyExists}
	ErrUnauthorized           = &Error{Kind: KindUnauthorized}
	ErrInvalidTransition      = &Error{Kind: KindInvalidTransition}
	ErrInvalidArgument        = &Error{Kind: KindInvalidArgument}
	ErrReentrantCall          = &Error{Kind: KindReentrantCall}
	ErrAdministrationRequired = &Error{Kind: KindAdministrationRequired}
)

// Error is the typed failure returned by every ledger precondition check.
type Error struct {
	Kind    ErrorKind
	Entity  EntityType
	ID      string
	Message string
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.ID != "":
		return fmt.Sprintf("%s: %s %s: %s", e.Kind, e.Entity, e.ID, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.ID != "":
		return fmt.Sprintf("%s: %s %s", e.Kind, e.Entity, e.ID)
	default:
		return string(e.Kind)
	}
}

// Is reports whether target is an *Error of the same kind. An
// AdministrationRequired error also matches ErrUnauthorized.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == KindUnauthorized && e.Kind == KindAdministrationRequired {
		return true
	}
	return t.Kind == e.Kind
}

// KindOf extracts the error kind from err, or "" when err carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// NotFound builds a KindNotFound error for the entity.
func NotFound(entity EntityType, id string) error {
	return &Error{Kind: KindNotFound, Entity: entity, ID: id, Message: "not found"}
}

// AlreadyExists builds a KindAlreadyExists error for the entity.
func AlreadyExists(entity EntityType, id string) error {
	return &Error{Kind: KindAlreadyExists, Entity: entity, ID: id, Message: "already exists"}
}

// Unauthorized builds a KindUnauthorized error.
func Unauthorized(format string, args ...any) error {
	return &Error{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

// AdministrationRequired builds a KindAdministrationRequired error for op.
func AdministrationRequired(op string, caller Identity) error {
	return &Error{Kind: KindAdministrationRequired, Entity: EntityRole, ID: string(caller), Message: op + " requires the administrator"}
}

// InvalidArgument builds a KindInvalidArgument error.
func InvalidArgument(format string, args ...any) error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransition builds a KindInvalidTransition error for a batch.
func InvalidTransition(batchID string, from, to BatchStatus) error {
	return &Error{
		Kind:    KindInvalidTransition,
		Entity:  EntityBatch,
		ID:      batchID,
		Message: fmt.Sprintf("cannot move from %s to %s", from, to),
	}
}
