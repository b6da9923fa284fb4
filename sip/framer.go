package sip

import (
	"bytes"
	"math"
	"strconv"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/internal/errorutil"
)

const maxMsgSize = math.MaxUint16 // max read buffer size, max size of the IP packet

var (
	crlf     = []byte("\r\n")
	crlfCRLF = []byte("\r\n\r\n")
)

// StreamFramer splits a byte stream into SIP messages using the Content-Length header.
// A missing Content-Length means an empty body.
type StreamFramer struct {
	buf     []byte
	maxSize int
}

// NewStreamFramer creates a framer rejecting messages larger than maxSize bytes.
// Zero or negative maxSize selects 64 KiB.
func NewStreamFramer(maxSize int) *StreamFramer {
	if maxSize <= 0 {
		maxSize = maxMsgSize
	}
	return &StreamFramer{maxSize: maxSize}
}

// Feed appends data to the buffer and returns every complete message available, in order.
// Incomplete trailing data stays buffered until the next call.
// On error the messages extracted before the failure are returned along with it,
// the stream can not be resynchronized afterwards.
func (f *StreamFramer) Feed(data []byte) ([][]byte, error) {
	f.buf = append(f.buf, data...)

	var msgs [][]byte
	for {
		// bare CRLFs between messages are keep-alive pings (RFC 5626)
		for bytes.HasPrefix(f.buf, crlf) {
			f.buf = f.buf[len(crlf):]
		}

		i := bytes.Index(f.buf, crlfCRLF)
		if i < 0 {
			if len(f.buf) > f.maxSize {
				return msgs, errtrace.Wrap(errorutil.NewWrapperError(ErrMessageTooLarge, "no header end in %d bytes", len(f.buf)))
			}
			break
		}
		hdrsEnd := i + len(crlfCRLF)

		bodyLen, err := contentLength(f.buf[:i])
		if err != nil {
			return msgs, errtrace.Wrap(err)
		}
		if bodyLen > f.maxSize-hdrsEnd {
			return msgs, errtrace.Wrap(errorutil.NewWrapperError(ErrMessageTooLarge,
				"headers %d and body %d bytes exceed %d", hdrsEnd, bodyLen, f.maxSize))
		}
		msgLen := hdrsEnd + bodyLen
		if len(f.buf) < msgLen {
			break
		}

		msgs = append(msgs, bytes.Clone(f.buf[:msgLen]))
		f.buf = f.buf[msgLen:]
	}

	if len(f.buf) == 0 {
		f.buf = nil
	}
	return msgs, nil
}

// Buffered returns the number of bytes waiting for the rest of a message.
func (f *StreamFramer) Buffered() int { return len(f.buf) }

// Reset drops buffered data.
func (f *StreamFramer) Reset() { f.buf = nil }

func contentLength(hdrs []byte) (int, error) {
	// the start line can not hold a header, skip it
	lines := bytes.Split(hdrs, crlf)
	for _, line := range lines[1:] {
		name, value, ok := splitHeaderLine(string(line))
		if !ok || name != "content-length" {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return 0, errtrace.Wrap(newMalformedMessageError("invalid Content-Length %q", value))
		}
		return n, nil
	}
	return 0, nil
}
