package reader

import (
	"errors"
	"fmt"
)

// NetworkError is a transport failure talking to a reader: connection
// refused, DNS, timeout, cancelled context.
type NetworkError struct {
	Op   string
	Addr string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("reader %s: %s: %v", e.Addr, e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// DeviceError is a non-200 answer from a reader. Body carries the response
// text for diagnostics (truncated).
type DeviceError struct {
	Op     string
	Addr   string
	Status int
	Body   string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("reader %s: %s: status %d: %s", e.Addr, e.Op, e.Status, e.Body)
}

// AuthError means a session could not be established: login rejected or the
// reader returned no token.
type AuthError struct {
	Addr   string
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("reader %s: auth failed: %s", e.Addr, e.Reason)
}

// IsAuth reports whether err is an authentication failure.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
