package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ErrTransport marks failures where no HTTP response was obtained
// (DNS, connection refused, timeout, ...)
var ErrTransport = errors.New("transport failure")

// APIError is returned for every non-2xx response
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte

	// FieldErrors holds {"field": ["message", ...]} style validation errors
	// exactly as the backend reported them. Nil if the body had another shape.
	FieldErrors map[string][]string

	// Detail is the "detail" or "error" message of the body if present
	Detail string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.StatusCode)
	if e.Detail != "" {
		return msg + ": " + e.Detail
	}
	if len(e.FieldErrors) > 0 {
		fields := make([]string, 0, len(e.FieldErrors))
		for f := range e.FieldErrors {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			parts = append(parts, f+": "+strings.Join(e.FieldErrors[f], " "))
		}
		return msg + ": " + strings.Join(parts, "; ")
	}
	return msg
}

func newAPIError(method, url string, status int, body []byte) *APIError {
	e := &APIError{Method: method, URL: url, StatusCode: status, Body: body}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return e
	}
	for _, key := range []string{"detail", "error"} {
		if v, ok := raw[key]; ok {
			var s string
			if json.Unmarshal(v, &s) == nil {
				e.Detail = s
				delete(raw, key)
			}
		}
	}
	for field, v := range raw {
		var msgs []string
		if err := json.Unmarshal(v, &msgs); err == nil {
			if e.FieldErrors == nil {
				e.FieldErrors = map[string][]string{}
			}
			e.FieldErrors[field] = msgs
			continue
		}
		var msg string
		if err := json.Unmarshal(v, &msg); err == nil {
			if e.FieldErrors == nil {
				e.FieldErrors = map[string][]string{}
			}
			e.FieldErrors[field] = []string{msg}
		}
	}
	return e
}

// StatusCode returns the HTTP status of an *APIError in err's chain, or 0
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsUnauthorized reports a 401 response
func IsUnauthorized(err error) bool { return StatusCode(err) == http.StatusUnauthorized }

// IsForbidden reports a 403 response (after the CSRF retry, if any)
func IsForbidden(err error) bool { return StatusCode(err) == http.StatusForbidden }

// IsNotFound reports a 404 response
func IsNotFound(err error) bool { return StatusCode(err) == http.StatusNotFound }

// IsValidation reports a 4xx response carrying field-level errors
func IsValidation(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && len(apiErr.FieldErrors) > 0
}
