package sip_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ghettovoice/sipua/sip"
)

const (
	framedReq = "MESSAGE sip:bob@example.com SIP/2.0\r\n" +
		"Via: SIP/2.0/TCP 192.0.2.1:5060;branch=z9hG4bK.1\r\n" +
		"Call-ID: a\r\n" +
		"CSeq: 1 MESSAGE\r\n" +
		"Content-Length: 5\r\n" +
		"\r\n" +
		"hello"
	framedRes = "SIP/2.0 200 OK\r\n" +
		"Call-ID: b\r\n" +
		"CSeq: 2 REGISTER\r\n" +
		"content-length:0\r\n" +
		"\r\n"
	framedNoLength = "SIP/2.0 100 Trying\r\n" +
		"Call-ID: c\r\n" +
		"\r\n"
	framedCompact = "SIP/2.0 200 OK\r\n" +
		"i: d\r\n" +
		"l: 3\r\n" +
		"\r\n" +
		"abc"
)

func framedStrings(msgs [][]byte) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, string(m))
	}
	return out
}

func TestStreamFramer_Pipelined(t *testing.T) {
	t.Parallel()

	f := sip.NewStreamFramer(0)
	msgs, err := f.Feed([]byte(framedReq + framedRes + framedNoLength + framedCompact))
	if err != nil {
		t.Fatalf("f.Feed() error = %v, want nil", err)
	}

	want := []string{framedReq, framedRes, framedNoLength, framedCompact}
	if diff := cmp.Diff(framedStrings(msgs), want); diff != "" {
		t.Errorf("f.Feed() = %q, want %q\ndiff (-got +want):\n%v", msgs, want, diff)
	}
	if got := f.Buffered(); got != 0 {
		t.Errorf("f.Buffered() = %d, want 0", got)
	}
}

func TestStreamFramer_SplitAtEveryOffset(t *testing.T) {
	t.Parallel()

	for i := 1; i < len(framedReq); i++ {
		f := sip.NewStreamFramer(0)

		msgs, err := f.Feed([]byte(framedReq[:i]))
		if err != nil {
			t.Fatalf("f.Feed(chunk1) at offset %d error = %v, want nil", i, err)
		}
		if len(msgs) != 0 {
			t.Fatalf("f.Feed(chunk1) at offset %d = %q, want no messages", i, msgs)
		}
		if got, want := f.Buffered(), i; got != want {
			t.Fatalf("f.Buffered() at offset %d = %d, want %d", i, got, want)
		}

		msgs, err = f.Feed([]byte(framedReq[i:]))
		if err != nil {
			t.Fatalf("f.Feed(chunk2) at offset %d error = %v, want nil", i, err)
		}
		if diff := cmp.Diff(framedStrings(msgs), []string{framedReq}); diff != "" {
			t.Fatalf("f.Feed(chunk2) at offset %d mismatch\ndiff (-got +want):\n%v", i, diff)
		}
	}
}

func TestStreamFramer_ByteByByte(t *testing.T) {
	t.Parallel()

	stream := framedRes + framedReq
	f := sip.NewStreamFramer(0)

	var got []string
	for i := range len(stream) {
		msgs, err := f.Feed([]byte{stream[i]})
		if err != nil {
			t.Fatalf("f.Feed() at byte %d error = %v, want nil", i, err)
		}
		got = append(got, framedStrings(msgs)...)
	}

	want := []string{framedRes, framedReq}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("framed messages mismatch\ndiff (-got +want):\n%v", diff)
	}
}

func TestStreamFramer_KeepAlive(t *testing.T) {
	t.Parallel()

	f := sip.NewStreamFramer(0)
	msgs, err := f.Feed([]byte("\r\n\r\n\r\n"))
	if err != nil {
		t.Fatalf("f.Feed(ping) error = %v, want nil", err)
	}
	if len(msgs) != 0 || f.Buffered() != 0 {
		t.Errorf("f.Feed(ping) = %q, buffered %d, want no messages and empty buffer", msgs, f.Buffered())
	}

	msgs, err = f.Feed([]byte("\r\n\r\n" + framedRes + "\r\n\r\n" + framedNoLength))
	if err != nil {
		t.Fatalf("f.Feed() error = %v, want nil", err)
	}
	want := []string{framedRes, framedNoLength}
	if diff := cmp.Diff(framedStrings(msgs), want); diff != "" {
		t.Errorf("f.Feed() mismatch\ndiff (-got +want):\n%v", diff)
	}
}

func TestStreamFramer_Errors(t *testing.T) {
	t.Parallel()

	t.Run("invalid content length", func(t *testing.T) {
		t.Parallel()

		f := sip.NewStreamFramer(0)
		msgs, err := f.Feed([]byte(framedRes + "SIP/2.0 200 OK\r\nContent-Length: abc\r\n\r\n"))
		if !errors.Is(err, sip.ErrMalformedMessage) {
			t.Errorf("f.Feed() error = %v, want %v", err, sip.ErrMalformedMessage)
		}
		if diff := cmp.Diff(framedStrings(msgs), []string{framedRes}); diff != "" {
			t.Errorf("f.Feed() mismatch\ndiff (-got +want):\n%v", diff)
		}
	})

	t.Run("negative content length", func(t *testing.T) {
		t.Parallel()

		f := sip.NewStreamFramer(0)
		if _, err := f.Feed([]byte("SIP/2.0 200 OK\r\nl: -1\r\n\r\n")); !errors.Is(err, sip.ErrMalformedMessage) {
			t.Errorf("f.Feed() error = %v, want %v", err, sip.ErrMalformedMessage)
		}
	})

	t.Run("body too large", func(t *testing.T) {
		t.Parallel()

		f := sip.NewStreamFramer(128)
		if _, err := f.Feed([]byte("SIP/2.0 200 OK\r\nContent-Length: 1000\r\n\r\n")); !errors.Is(err, sip.ErrMessageTooLarge) {
			t.Errorf("f.Feed() error = %v, want %v", err, sip.ErrMessageTooLarge)
		}
	})

	t.Run("content length overflows message size", func(t *testing.T) {
		t.Parallel()

		f := sip.NewStreamFramer(0)
		msgs, err := f.Feed([]byte("SIP/2.0 200 OK\r\nContent-Length: 9223372036854775807\r\n\r\nabc"))
		if !errors.Is(err, sip.ErrMessageTooLarge) {
			t.Errorf("f.Feed() error = %v, want %v", err, sip.ErrMessageTooLarge)
		}
		if len(msgs) != 0 {
			t.Errorf("len(msgs) = %d, want 0", len(msgs))
		}
	})

	t.Run("endless headers", func(t *testing.T) {
		t.Parallel()

		f := sip.NewStreamFramer(128)
		if _, err := f.Feed([]byte("SIP/2.0 200 OK\r\n" + strings.Repeat("X-Pad: 1\r\n", 20))); !errors.Is(err, sip.ErrMessageTooLarge) {
			t.Errorf("f.Feed() error = %v, want %v", err, sip.ErrMessageTooLarge)
		}
	})
}

func TestStreamFramer_Reset(t *testing.T) {
	t.Parallel()

	f := sip.NewStreamFramer(0)
	if _, err := f.Feed([]byte(framedReq[:10])); err != nil {
		t.Fatalf("f.Feed() error = %v, want nil", err)
	}
	f.Reset()
	if got := f.Buffered(); got != 0 {
		t.Errorf("f.Buffered() after reset = %d, want 0", got)
	}

	msgs, err := f.Feed([]byte(framedRes))
	if err != nil {
		t.Fatalf("f.Feed() error = %v, want nil", err)
	}
	if diff := cmp.Diff(framedStrings(msgs), []string{framedRes}); diff != "" {
		t.Errorf("f.Feed() mismatch\ndiff (-got +want):\n%v", diff)
	}
}
