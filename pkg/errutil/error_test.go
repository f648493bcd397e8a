package errutil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

type domainErr struct{}

func (domainErr) Error() string        { return "[NOPE] nope: detail" }
func (domainErr) Status() CoreStatus   { return StatusConflict }
func (domainErr) ErrorCode() string    { return "NOPE" }
func (domainErr) ErrorMessage() string { return "nope" }

func TestBaseErrorWrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := New(StatusInternal, "failed to write", cause)

	require.ErrorIs(t, err, cause)
	require.Equal(t, "[INTERNAL] failed to write: boom", err.Error())

	var base BaseError
	require.True(t, errors.As(err, &base))
	require.Equal(t, StatusInternal, base.Status())
}

func TestJSONHidesCauseOnServerErrors(t *testing.T) {
	body := New(StatusInternal, "failed", errors.New("secret dsn")).(BaseError).JSON()
	inner := body.(map[string]interface{})["error"].(map[string]interface{})
	require.Equal(t, "failed", inner["message"])

	body = New(StatusBadRequest, "invalid body", errors.New("missing uid")).(BaseError).JSON()
	inner = body.(map[string]interface{})["error"].(map[string]interface{})
	require.Equal(t, "invalid body: missing uid", inner["message"])
}

func TestToHTTP(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   interface{}
	}{
		{"base", NotFound("missing", nil), http.StatusNotFound, StatusNotFound},
		{"wrapped base", fmt.Errorf("ctx: %w", New(StatusUnprocessableEntity, "no", nil)), http.StatusUnprocessableEntity, StatusUnprocessableEntity},
		{"domain", fmt.Errorf("wrap: %w", domainErr{}), http.StatusConflict, "NOPE"},
		{"canceled", context.Canceled, 499, StatusClientClosedRequest},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, StatusTimeout},
		{"plain", errors.New("x"), http.StatusInternalServerError, StatusInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ToHTTP(tt.err)
			require.Equal(t, tt.status, status)
			inner := body.(map[string]interface{})["error"].(map[string]interface{})
			require.Equal(t, tt.code, inner["code"])
		})
	}
}
