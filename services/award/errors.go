package award

import (
	"errors"
	"fmt"

	"encoin-rewards/pkg/errutil"
)

// Kind is the closed set of failures AwardEvent and Spend report.
type Kind string

const (
	KindValidation          Kind = "VALIDATION_ERROR"
	KindUnknownAction       Kind = "UNKNOWN_ACTION"
	KindMaxCountExceeded    Kind = "MAXCOUNT_EXCEEDED"
	KindInsufficientBalance Kind = "INSUFFICIENT_BALANCE"
	KindInternal            Kind = "INTERNAL_ERROR"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Status() errutil.CoreStatus {
	switch e.Kind {
	case KindValidation:
		return errutil.StatusValidationFailed
	case KindUnknownAction:
		return errutil.StatusNotFound
	case KindMaxCountExceeded:
		return errutil.StatusConflict
	case KindInsufficientBalance:
		return errutil.StatusUnprocessableEntity
	default:
		return errutil.StatusInternal
	}
}

func (e *Error) ErrorCode() string {
	return string(e.Kind)
}

// ErrorMessage is the client-facing text. Internal causes are not exposed.
func (e *Error) ErrorMessage() string {
	if e.Kind == KindInternal {
		return "internal error"
	}
	return e.Message
}

// KindOf classifies err. Errors outside the taxonomy count as internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// internal wraps err as INTERNAL_ERROR unless it already carries a kind.
func internal(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Message: "unexpected failure", Err: err}
}
