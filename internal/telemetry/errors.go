package telemetry

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse marks a 2xx HQ response whose body could not be decoded.
var ErrMalformedResponse = errors.New("malformed HQ response")

// NetworkError is a transport failure: refused connection, DNS, timeout.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a non-2xx answer from HQ.
type ServerError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HQ returned %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: HQ returned %d: %s", e.Op, e.StatusCode, e.Body)
}

// IsRetryable reports whether err is a delivery failure worth retrying
// later, i.e. a NetworkError or ServerError.
func IsRetryable(err error) bool {
	var netErr *NetworkError
	var srvErr *ServerError
	return errors.As(err, &netErr) || errors.As(err, &srvErr)
}
