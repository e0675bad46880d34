package httpclient

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when a request exceeds its timeout.
	ErrTimeout = errors.New("request timed out")
	// ErrRetryExhausted is returned when every attempt failed to connect.
	ErrRetryExhausted = errors.New("retries exhausted")
)

// maxErrorBody bounds the body excerpt kept in StatusError.
const maxErrorBody = 200

// StatusError is returned for a non-2xx final response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

func newStatusError(method, url string, code int, body []byte) *StatusError {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	return &StatusError{Method: method, URL: url, StatusCode: code, Body: string(body)}
}
