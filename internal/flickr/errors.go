package flickr

import (
	"fmt"

	"github.com/tphakala/pinalbum/internal/errors"
)

// NetworkError is a transport-level failure: no response, a truncated
// response, or a non-2xx status without a usable API status body.
type NetworkError struct {
	Transient  bool
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *NetworkError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("flickr: %s network error (HTTP %d): %v", kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("flickr: %s network error: %v", kind, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ErrorCategory implements errors.CategorizedError.
func (e *NetworkError) ErrorCategory() errors.ErrorCategory { return errors.CategoryNetwork }

// APIStatusError is returned when the API answered with stat != "ok".
type APIStatusError struct {
	Code    int
	Message string
}

func (e *APIStatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("flickr: api status error (code %d)", e.Code)
	}
	return fmt.Sprintf("flickr: api status error (code %d): %s", e.Code, e.Message)
}

// ErrorCategory implements errors.CategorizedError.
func (e *APIStatusError) ErrorCategory() errors.ErrorCategory { return errors.CategoryHTTP }

// MalformedResponseError names the first response field that was missing or
// had the wrong type. Field is "body" when the response was not JSON at all.
type MalformedResponseError struct {
	Field string
	Err   error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("flickr: malformed response at %q: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("flickr: malformed response at %q", e.Field)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// ErrorCategory implements errors.CategorizedError.
func (e *MalformedResponseError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryFileParsing
}

// outcome is the metrics label for err.
func outcome(err error) string {
	var (
		netErr       *NetworkError
		statusErr    *APIStatusError
		malformedErr *MalformedResponseError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &netErr):
		return "network"
	case errors.As(err, &statusErr):
		return "api_status"
	case errors.As(err, &malformedErr):
		return "malformed_response"
	default:
		return "error"
	}
}
