package delivery

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPError is returned by senders when the upstream platform answered with a
// non-success status.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d: %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// HTTPStatus reports the upstream status code.
func (e *HTTPError) HTTPStatus() int { return e.Status }

// statusCarrier is implemented by any error that knows its HTTP status.
type statusCarrier interface {
	HTTPStatus() int
}

// StatusCode extracts the upstream HTTP status from err, if any.
func StatusCode(err error) (int, bool) {
	var sc statusCarrier
	if errors.As(err, &sc) {
		if s := sc.HTTPStatus(); s > 0 {
			return s, true
		}
	}
	return 0, false
}

// Retryable reports whether a failed attempt should be retried: errors without
// a status (network failures, timeouts) and 5xx responses are retried, 4xx are not.
func Retryable(err error) bool {
	status, ok := StatusCode(err)
	if !ok {
		return true
	}
	return status >= 500
}

// UpstreamSendError is the terminal error of a failed outbound delivery.
type UpstreamSendError struct {
	Channel   string
	Recipient string
	Attempts  int
	Err       error
}

func (e *UpstreamSendError) Error() string {
	return fmt.Sprintf("send to %s recipient %s failed after %d attempt(s): %v",
		e.Channel, e.Recipient, e.Attempts, e.Err)
}

func (e *UpstreamSendError) Unwrap() error { return e.Err }

// Status returns the last upstream HTTP status, or 0 when none was received.
func (e *UpstreamSendError) Status() int {
	s, _ := StatusCode(e.Err)
	return s
}
