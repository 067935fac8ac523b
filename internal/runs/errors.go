package runs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound is returned when the backend has no run with the requested id.
	ErrNotFound = errors.New("resource not found")
	// ErrServer signals a 5xx from the backend.
	ErrServer = errors.New("server error, please try again later")
	// ErrNoRun is returned when an operation needs a run id but none is in scope.
	ErrNoRun = errors.New("no run in scope")
)

// APIError carries a non-2xx backend response.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("backend returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Unwrap maps the status code onto the sentinel errors so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case e.StatusCode >= http.StatusInternalServerError:
		return ErrServer
	default:
		return nil
	}
}

// IsHard reports whether err should end tracking of a run rather than be
// retried on the next poll. Only definitive client errors qualify.
func IsHard(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}
