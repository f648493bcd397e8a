package errutil

import (
	"fmt"
)

type BaseError struct {
	Code    CoreStatus `json:"code"`
	Message string     `json:"message"`
	Err     error      `json:"-"`
}

func (e BaseError) Status() CoreStatus {
	return e.Code
}

// JSON is the response envelope. The wrapped cause is only exposed for
// statuses below 500.
func (e BaseError) JSON() interface{} {
	msg := e.Message
	if e.Code.HTTPStatus() < 500 {
		msg = e.messageWithErr()
	}
	return map[string]interface{}{
		"error": map[string]interface{}{
			"code":    e.Code,
			"message": msg,
		},
	}
}

func (e BaseError) Unwrap() error {
	return e.Err
}

func (e BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s", e.Code, e.messageWithErr())
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e BaseError) messageWithErr() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// New builds a BaseError. err, when set, is kept as the unwrapped cause.
func New(code CoreStatus, message string, err error) error {
	return BaseError{Code: code, Message: message, Err: err}
}

func NotFound(msg string, err error) error {
	return New(StatusNotFound, msg, err)
}
