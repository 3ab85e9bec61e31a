package ratelimit

import "fmt"

// NetworkError is returned once every attempt for a request has failed.
type NetworkError struct {
	Endpoint string
	Cause    error
	Attempts int
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("request %s failed after %d attempt(s): %v", e.Endpoint, e.Attempts, e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// StatusError is the cause recorded for a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream status %d", e.Code)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Body)
}
