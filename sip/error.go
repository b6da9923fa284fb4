package sip

import "fmt"

// RequestError reports a final non-2xx response on an outgoing request.
type RequestError struct {
	Method RequestMethod
	Code   int
	Reason string
}

func (err *RequestError) Error() string {
	if err == nil {
		return "<nil>"
	}

	reason := err.Reason
	if err.Code != 0 {
		reason += fmt.Sprintf(" (Code %d)", err.Code)
	}

	return fmt.Sprintf("sip.RequestError: %s request failed with reason '%s'", err.Method, reason)
}
