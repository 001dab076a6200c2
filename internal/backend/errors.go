package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error is a non-2xx response from the backend. Detail holds the server's
// "detail" field verbatim, or the raw body when the response carried none.
type Error struct {
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	return fmt.Sprintf("toolbox: backend %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Detail)
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsUnprocessable returns true if the error is a 422, which the backend uses
// for request validation failures.
func IsUnprocessable(err error) bool {
	return hasStatus(err, http.StatusUnprocessableEntity)
}

// IsServerError returns true for any 5xx.
func IsServerError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode >= 500
	}
	return false
}

func hasStatus(err error, code int) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == code
	}
	return false
}

// Message returns the text to show a user for err: the backend's detail when
// there is one, otherwise the error text itself.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Detail != "" {
		return e.Detail
	}
	return err.Error()
}

type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && len(eb.Detail) > 0 && string(eb.Detail) != "null" {
		var s string
		if json.Unmarshal(eb.Detail, &s) == nil {
			apiErr.Detail = s
		} else {
			// Validation errors carry a structured detail; keep it as JSON.
			apiErr.Detail = string(eb.Detail)
		}
		return apiErr
	}

	apiErr.Detail = strings.TrimSpace(string(body))
	if apiErr.Detail == "" {
		apiErr.Detail = http.StatusText(statusCode)
	}
	return apiErr
}
