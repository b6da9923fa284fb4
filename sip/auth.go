package sip

import (
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/internal/errorutil"
)

const (
	wwwAuthenticateHeader    = "WWW-Authenticate"
	proxyAuthenticateHeader  = "Proxy-Authenticate"
	authorizationHeader      = "Authorization"
	proxyAuthorizationHeader = "Proxy-Authorization"
)

var challengeParamRe = regexp.MustCompile(`([\w-]+)\s*=\s*"([^"]*)"`)

// Challenge is a Digest challenge from a 401 or 407 response.
// Only the MD5 algorithm without qop is supported.
type Challenge struct {
	// Proxy is true for Proxy-Authenticate challenges.
	Proxy     bool
	Realm     string
	Nonce     string
	Opaque    string
	Algorithm string
}

// IsChallenge reports whether the status code asks for credentials.
func IsChallenge(code int) bool { return code == 401 || code == 407 }

// ParseChallenge extracts the challenge of a 401 (WWW-Authenticate)
// or 407 (Proxy-Authenticate) response.
func ParseChallenge(res *InboundMessage) (*Challenge, error) {
	if res == nil || !res.IsResponse || !IsChallenge(res.StatusCode) {
		return nil, errtrace.Wrap(NewInvalidArgumentError("not a challenge response"))
	}

	hdrName, proxy := wwwAuthenticateHeader, false
	if res.StatusCode == 407 {
		hdrName, proxy = proxyAuthenticateHeader, true
	}

	val, ok := res.Header(hdrName)
	if !ok {
		return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrMissingChallengeHeader, hdrName))
	}

	ch, err := ParseChallengeValue(val)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	ch.Proxy = proxy
	return ch, nil
}

// ParseChallengeValue parses the value of a WWW-Authenticate or Proxy-Authenticate header.
func ParseChallengeValue(val string) (*Challenge, error) {
	ch := new(Challenge)
	for _, match := range challengeParamRe.FindAllStringSubmatch(val, -1) {
		switch strings.ToLower(match[1]) {
		case "realm":
			ch.Realm = match[2]
		case "nonce":
			ch.Nonce = match[2]
		case "opaque":
			ch.Opaque = match[2]
		case "algorithm":
			ch.Algorithm = match[2]
		}
	}
	// algorithm is a token, it is usually sent unquoted
	if ch.Algorithm == "" {
		for p := range strings.SplitSeq(val, ",") {
			k, v, _ := strings.Cut(strings.TrimSpace(p), "=")
			if strings.EqualFold(k, "algorithm") {
				ch.Algorithm = strings.Trim(strings.TrimSpace(v), `"`)
			}
		}
	}

	if ch.Realm == "" || ch.Nonce == "" {
		return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrMalformedChallenge, "realm and nonce are required in %q", val))
	}
	if ch.Algorithm != "" && !strings.EqualFold(ch.Algorithm, "MD5") {
		return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrMalformedChallenge, "unsupported algorithm %q", ch.Algorithm))
	}
	return ch, nil
}

// Authorize computes the credentials header answering the challenge.
// It is Authorization for server challenges and Proxy-Authorization for proxy ones.
func (ch *Challenge) Authorize(username, password string, method RequestMethod, uri string) HeaderField {
	name := authorizationHeader
	if ch.Proxy {
		name = proxyAuthorizationHeader
	}

	val := fmt.Sprintf(
		`Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s", algorithm=MD5`,
		username,
		ch.Realm,
		ch.Nonce,
		uri,
		DigestResponse(username, ch.Realm, password, ch.Nonce, string(method.ToUpper()), uri),
	)
	if ch.Opaque != "" {
		val += fmt.Sprintf(`, opaque="%s"`, ch.Opaque)
	}
	return HeaderField{Name: name, Value: val}
}

// DigestResponse calculates the Digest response https://www.ietf.org/rfc/rfc2617.txt
// MD5(MD5(username:realm:password):nonce:MD5(method:uri)).
func DigestResponse(username, realm, password, nonce, method, uri string) string {
	ha1 := md5Hex(username + ":" + realm + ":" + password)
	ha2 := md5Hex(method + ":" + uri)
	return md5Hex(ha1 + ":" + nonce + ":" + ha2)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}
