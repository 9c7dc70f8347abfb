package xerrors

import (
	"errors"
	"fmt"
)

// Common reusable application errors
var (
	ErrNotFound          = errors.New("resource not found")
	ErrUnauthorized      = errors.New("unauthorized access")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConflict          = errors.New("conflict: resource already exists")
	ErrInternal          = errors.New("internal server error")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInvoiceFulfilled  = errors.New("invoice already fulfilled")
	ErrAlreadyPending    = errors.New("a transaction is already pending")
)

// Kind classifies failures that cross the gateway boundary.
type Kind string

const (
	KindProviderUnavailable Kind = "provider_unavailable"
	KindRemoteRejected      Kind = "remote_rejected"
	KindUnmappedStatus      Kind = "unmapped_status"
	KindAlreadyPending      Kind = "already_pending"
	KindValidationFailed    Kind = "validation_failed"
)

// Error is a classified error. Code carries the provider status code for
// RemoteRejected and UnmappedStatus.
type Error struct {
	Kind    Kind
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	switch e.Kind {
	case KindRemoteRejected, KindUnmappedStatus:
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrAlreadyPending) match the AlreadyPending kind.
func (e *Error) Is(target error) bool {
	return e.Kind == KindAlreadyPending && target == ErrAlreadyPending
}

func ProviderUnavailable(message string, err error) error {
	return &Error{Kind: KindProviderUnavailable, Message: message, Err: err}
}

func RemoteRejected(code int, message string) error {
	return &Error{Kind: KindRemoteRejected, Code: code, Message: message}
}

func UnmappedStatus(code int) error {
	return &Error{Kind: KindUnmappedStatus, Code: code, Message: "unknown remote status"}
}

func AlreadyPending(subscriptionID string) error {
	return &Error{Kind: KindAlreadyPending, Message: "subscription " + subscriptionID + " has a pending transaction"}
}

func ValidationFailed(message string) error {
	return &Error{Kind: KindValidationFailed, Message: message}
}

// KindOf returns the Kind of the first classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
