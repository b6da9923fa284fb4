package sip_test

import (
	"crypto/md5" //nolint:gosec
	"fmt"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ghettovoice/sipua/sip"
)

func md5sum(s string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(s))) //nolint:gosec
}

func TestDigestResponse(t *testing.T) {
	t.Parallel()

	cases := []struct {
		user, realm, pass, nonce, method, uri string
	}{
		{"alice", "example.com", "secret", "abc123", "REGISTER", "sip:example.com"},
		{"bob", "x", "", "y", "MESSAGE", "sip:alice@example.com"},
		{"1001", "asterisk", "p@ss:word", "5f8a3b", "INVITE", "sip:1002@10.0.0.1"},
	}
	for _, c := range cases {
		want := md5sum(md5sum(c.user+":"+c.realm+":"+c.pass) + ":" + c.nonce + ":" + md5sum(c.method+":"+c.uri))

		got := sip.DigestResponse(c.user, c.realm, c.pass, c.nonce, c.method, c.uri)
		if got != want {
			t.Errorf("sip.DigestResponse(%q, %q, %q, %q, %q, %q) = %q, want %q",
				c.user, c.realm, c.pass, c.nonce, c.method, c.uri, got, want)
		}
		if again := sip.DigestResponse(c.user, c.realm, c.pass, c.nonce, c.method, c.uri); again != got {
			t.Errorf("sip.DigestResponse() is not deterministic: %q != %q", again, got)
		}
	}
}

func TestDigestResponse_KnownValue(t *testing.T) {
	t.Parallel()

	// RFC 2617 section 3.5 example without qop
	got := sip.DigestResponse("Mufasa", "testrealm@host.com", "Circle Of Life",
		"dcd98b7102dd2f0e8b11d0f600bfb0c093", "GET", "/dir/index.html")
	want := md5sum("939e7578ed9e3c518a452acee763bce9:dcd98b7102dd2f0e8b11d0f600bfb0c093:39aff3a2bab6126f332b942af96d3366")
	if got != want {
		t.Errorf("sip.DigestResponse(Mufasa) = %q, want %q", got, want)
	}
}

func challengeResponse(t *testing.T, status string, hdrs ...string) *sip.InboundMessage {
	t.Helper()

	data := "SIP/2.0 " + status + "\r\nCSeq: 1 REGISTER\r\n"
	for _, h := range hdrs {
		data += h + "\r\n"
	}
	data += "\r\n"

	msg, err := sip.ParseMessage([]byte(data), netip.AddrPort{})
	if err != nil {
		t.Fatalf("sip.ParseMessage() error = %v, want nil", err)
	}
	return msg
}

func TestParseChallenge(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		res     *sip.InboundMessage
		want    *sip.Challenge
		wantErr error
	}{
		{
			"server challenge",
			challengeResponse(t, "401 Unauthorized", `WWW-Authenticate: Digest realm="x", nonce="y"`),
			&sip.Challenge{Realm: "x", Nonce: "y"},
			nil,
		},
		{
			"proxy challenge",
			challengeResponse(t, "407 Proxy Authentication Required",
				`Proxy-Authenticate: Digest realm="proxy.example.com", nonce="n1", opaque="o1", algorithm=MD5`),
			&sip.Challenge{Proxy: true, Realm: "proxy.example.com", Nonce: "n1", Opaque: "o1", Algorithm: "MD5"},
			nil,
		},
		{
			"case insensitive header",
			challengeResponse(t, "401 Unauthorized", `www-authenticate: Digest nonce="y",realm="x"`),
			&sip.Challenge{Realm: "x", Nonce: "y"},
			nil,
		},
		{
			"missing header",
			challengeResponse(t, "401 Unauthorized"),
			nil,
			sip.ErrMissingChallengeHeader,
		},
		{
			"proxy header on 401",
			challengeResponse(t, "401 Unauthorized", `Proxy-Authenticate: Digest realm="x", nonce="y"`),
			nil,
			sip.ErrMissingChallengeHeader,
		},
		{
			"missing nonce",
			challengeResponse(t, "401 Unauthorized", `WWW-Authenticate: Digest realm="x"`),
			nil,
			sip.ErrMalformedChallenge,
		},
		{
			"unquoted realm",
			challengeResponse(t, "401 Unauthorized", `WWW-Authenticate: Digest realm=x, nonce="y"`),
			nil,
			sip.ErrMalformedChallenge,
		},
		{
			"unsupported algorithm",
			challengeResponse(t, "401 Unauthorized", `WWW-Authenticate: Digest realm="x", nonce="y", algorithm=SHA-256`),
			nil,
			sip.ErrMalformedChallenge,
		},
		{
			"not a challenge",
			challengeResponse(t, "200 OK"),
			nil,
			sip.ErrInvalidArgument,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			got, err := sip.ParseChallenge(c.res)
			if diff := cmp.Diff(err, c.wantErr, cmpopts.EquateErrors()); diff != "" {
				t.Fatalf("sip.ParseChallenge() error = %v, want %v\ndiff (-got +want):\n%v", err, c.wantErr, diff)
			}
			if diff := cmp.Diff(got, c.want); diff != "" {
				t.Errorf("sip.ParseChallenge() = %+v, want %+v\ndiff (-got +want):\n%v", got, c.want, diff)
			}
		})
	}
}

func TestChallenge_Authorize(t *testing.T) {
	t.Parallel()

	uri := "sip:bob@example.com"
	resp := sip.DigestResponse("alice", "x", "secret", "y", "MESSAGE", uri)

	ch := &sip.Challenge{Realm: "x", Nonce: "y"}
	got := ch.Authorize("alice", "secret", sip.RequestMethodMessage, uri)
	want := sip.HeaderField{
		Name: "Authorization",
		Value: `Digest username="alice", realm="x", nonce="y", uri="sip:bob@example.com", response="` +
			resp + `", algorithm=MD5`,
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("ch.Authorize() = %v, want %v\ndiff (-got +want):\n%v", got, want, diff)
	}

	ch = &sip.Challenge{Proxy: true, Realm: "x", Nonce: "y", Opaque: "o"}
	got = ch.Authorize("alice", "secret", sip.RequestMethodMessage, uri)
	want = sip.HeaderField{
		Name: "Proxy-Authorization",
		Value: `Digest username="alice", realm="x", nonce="y", uri="sip:bob@example.com", response="` +
			resp + `", algorithm=MD5, opaque="o"`,
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("ch.Authorize() = %v, want %v\ndiff (-got +want):\n%v", got, want, diff)
	}
}
