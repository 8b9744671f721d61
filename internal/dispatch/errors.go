package dispatch

import (
	"errors"
	"fmt"
)

// ErrContactNotFound is returned when the recipient id does not resolve.
// Client-caused and non-retryable; the boundary maps it to 404.
var ErrContactNotFound = errors.New("contact does not exist")

// TransportError wraps a transport-level failure (connection refused,
// auth rejected, enqueue failed). The dispatcher never records a message
// after one of these.
type TransportError struct {
	Transport string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Transport, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
