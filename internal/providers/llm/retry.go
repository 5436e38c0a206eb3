package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// statusError is an HTTP failure from a provider endpoint.
type statusError struct {
	Provider string
	Code     int
	Body     any
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s status %d: %v", e.Provider, e.Code, e.Body)
}

// retry runs fn up to attempts times, sleeping with exponential backoff
// between retryable failures.
func retry(ctx context.Context, attempts int, fn func() error, retryable func(error) bool) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if i == attempts-1 || !retryable(err) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(i)):
		}
	}
	return lastErr
}

func retryableHTTP(err error) bool {
	if isTimeout(err) {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		return retryableStatus(se.Code)
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	var te timeout
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return false
}

func backoff(i int) time.Duration {
	return time.Duration(500*(1<<i)) * time.Millisecond
}
