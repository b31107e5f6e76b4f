package web

import (
	"errors"
	"fmt"

	"github.com/valyala/fasthttp"
)

// HTTPError is a handler error with the status and code the client sees
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

// NewHTTPError creates an HTTPError
func NewHTTPError(status int, code, message string) *HTTPError {
	return &HTTPError{Status: status, Code: code, Message: message}
}

// Wrap attaches the underlying cause, which is logged but never rendered
func (e *HTTPError) Wrap(err error) *HTTPError {
	e.Err = err
	return e
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %s: %v", e.Status, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// ErrorBody is the JSON shape of every error response
type ErrorBody struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// StatusFor returns the status a handler error is rendered with
func StatusFor(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	return fasthttp.StatusInternalServerError
}
