package solarcloud

import (
	"errors"
	"fmt"
)

var (
	// ErrBatchTooLarge is returned when a batched call exceeds MaxBatchSize ids.
	ErrBatchTooLarge = errors.New("solarcloud: batch exceeds limit")
	// ErrEmptyBatch is returned when a batched call has no ids.
	ErrEmptyBatch = errors.New("solarcloud: empty batch")
	// ErrPageLimit is returned with the pages collected so far when a listing
	// does not terminate within the page limit.
	ErrPageLimit = errors.New("solarcloud: listing truncated at page limit")
	errNotFound   = errors.New("solarcloud: not found")
)

// TransportError wraps a failure to reach the remote API (network, timeout).
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("solarcloud: transport %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteAPIError reports a non-success status or code returned by the API.
type RemoteAPIError struct {
	Endpoint   string
	StatusCode int
	Code       string
	Message    string
}

func (e *RemoteAPIError) Error() string {
	if e.StatusCode >= 300 {
		return fmt.Sprintf("solarcloud: %s http %d %s", e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("solarcloud: %s code=%s msg=%s", e.Endpoint, e.Code, e.Message)
}

// Is lets errors.Is match not-found responses.
func (e *RemoteAPIError) Is(target error) bool {
	return target == errNotFound && e.StatusCode == 404
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsRemote reports whether err is a remote API failure.
func IsRemote(err error) bool {
	var re *RemoteAPIError
	return errors.As(err, &re)
}

// IsNotFound reports whether the API answered 404.
func IsNotFound(err error) bool {
	return errors.Is(err, errNotFound)
}
