// Package httperror carries HTTP status codes alongside wrapped causes, in a
// shape chi/render can write out directly.
package httperror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

type HTTPError struct {
	cause   error
	Code    int    `json:"code"`
	Message string `json:"error"`
}

func (e *HTTPError) Error() string {
	return e.cause.Error()
}

func (e *HTTPError) Unwrap() error {
	return e.cause
}

func (e *HTTPError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.Code)
	return nil
}

func New(code int, message string, cause error) *HTTPError {
	return &HTTPError{
		cause:   cause,
		Code:    code,
		Message: message,
	}
}

func InternalServerError(message string, err error) *HTTPError {
	return New(http.StatusInternalServerError, "internal server error", fmt.Errorf("%s: %w", message, err))
}

func NotFound(message string) *HTTPError {
	return New(http.StatusNotFound, message, errors.New(message))
}

func BadRequest(message string) *HTTPError {
	return New(http.StatusBadRequest, message, errors.New(message))
}

func BadRequestWithError(message string, err error) *HTTPError {
	return New(http.StatusBadRequest, message, fmt.Errorf("%s: %w", message, err))
}
