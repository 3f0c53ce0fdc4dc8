package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonny/sentinel/internal/domain/model"
)

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	// Reason is the machine-readable conflict reason, set for 409s.
	Reason string `json:"reason,omitempty"`
	Field  string `json:"field,omitempty"`
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Detail)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func New(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

func WithDetail(code int, message, detail string) *Error {
	return &Error{Code: code, Message: message, Detail: detail}
}

func NotFound(resource string) *Error {
	return New(http.StatusNotFound, fmt.Sprintf("%s not found", resource))
}

func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, message)
}

func Internal(message string) *Error {
	return New(http.StatusInternalServerError, message)
}

func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, message)
}

func Conflict(reason, message string) *Error {
	return &Error{Code: http.StatusConflict, Message: message, Reason: reason}
}

// FromDomain maps a domain error onto an HTTP error. Persistence and unknown
// errors become a generic 500 so store details are not leaked to clients.
func FromDomain(err error) *Error {
	var (
		ve  *model.ValidationError
		nf  *model.NotFoundError
		ce  *model.ConflictError
		ext *model.ExternalServiceError
		ae  *Error
	)
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.As(err, &ve):
		e := BadRequest(ve.Message)
		e.Field = ve.Field
		return e
	case errors.As(err, &nf):
		return NotFound(nf.Resource)
	case errors.As(err, &ce):
		return Conflict(string(ce.Reason), ce.Message)
	case errors.As(err, &ext):
		code := http.StatusBadGateway
		if ext.Timeout {
			code = http.StatusGatewayTimeout
		}
		return WithDetail(code, ext.Service+" unavailable", ext.Error())
	case errors.Is(err, model.ErrPersistence):
		return Internal("storage failure")
	}
	return Internal("internal error")
}
