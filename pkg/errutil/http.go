package errutil

import (
	"context"
	"errors"
)

// Coder is implemented by domain errors that know their transport status.
type Coder interface {
	error
	Status() CoreStatus
}

// Described lets a domain error override the code and message rendered to
// clients.
type Described interface {
	ErrorCode() string
	ErrorMessage() string
}

// ToHTTP resolves err into an HTTP status code and a JSON body.
func ToHTTP(err error) (int, interface{}) {
	if err == nil {
		return 200, nil
	}

	var base BaseError
	if errors.As(err, &base) {
		return base.Code.HTTPStatus(), base.JSON()
	}

	var coder Coder
	if errors.As(err, &coder) {
		status := coder.Status()
		code, msg := string(status), coder.Error()
		var described Described
		if errors.As(err, &described) {
			code, msg = described.ErrorCode(), described.ErrorMessage()
		}
		return status.HTTPStatus(), map[string]interface{}{
			"error": map[string]interface{}{
				"code":    code,
				"message": msg,
			},
		}
	}

	switch {
	case errors.Is(err, context.Canceled):
		base = BaseError{Code: StatusClientClosedRequest, Message: "request canceled"}
	case errors.Is(err, context.DeadlineExceeded):
		base = BaseError{Code: StatusTimeout, Message: "request timed out"}
	default:
		base = BaseError{Code: StatusInternal, Message: "internal error"}
	}
	return base.Code.HTTPStatus(), base.JSON()
}
