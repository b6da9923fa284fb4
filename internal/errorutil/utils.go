package errorutil

import (
	"errors"
	"net"
)

// IsTemporaryErr returns true if the error is temporary.
func IsTemporaryErr(err error) bool {
	var e interface{ Temporary() bool }
	return errors.As(err, &e) && e.Temporary()
}

// IsClosedConnErr returns true if the error reports use of a closed network connection.
func IsClosedConnErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
