package sip

import (
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/internal/errorutil"
	"github.com/ghettovoice/sipua/internal/util"
)

const (
	maxForwards        = 70
	defaultContentType = "text/plain"
	sdpContentType     = "application/sdp"
	responsePrefix     = "SIP/2.0 "
)

// HeaderField is a single "Name: Value" header line.
type HeaderField struct {
	Name  string
	Value string
}

func (h HeaderField) IsZero() bool { return h.Name == "" }

func (h HeaderField) String() string { return h.Name + ": " + h.Value }

// RequestSpec describes an outbound request rendered by [BuildRequest].
type RequestSpec struct {
	Method   RequestMethod
	FromUser string
	// ToUser is required for MESSAGE, INVITE and ACK.
	ToUser string
	// ToTag is appended to the To header when set (ACK for a 2xx).
	ToTag     string
	Domain    string
	LocalIP   string
	LocalPort uint16
	CallID    string
	Branch    string
	FromTag   string
	CSeq      uint32
	Body      string
	// ContactURI is required for REGISTER, optional for INVITE.
	ContactURI string
	// Expires is required for REGISTER.
	Expires int
	// ContentType defaults to "text/plain", INVITE always uses "application/sdp".
	ContentType string
	// Auth is injected right after CSeq when set.
	Auth      HeaderField
	Transport TransportProto
}

// RequestURI returns the Request-URI used for the method.
func RequestURI(method RequestMethod, toUser, domain string) string {
	if method.ToUpper() == RequestMethodRegister {
		return "sip:" + domain
	}
	return "sip:" + toUser + "@" + domain
}

// BuildRequest renders a CRLF-delimited SIP request.
// Content-Length is the byte length of the body, ACK requests never carry a body.
func BuildRequest(spec *RequestSpec) ([]byte, error) {
	if spec == nil {
		return nil, errtrace.Wrap(NewInvalidArgumentError("nil request spec"))
	}

	method := spec.Method.ToUpper()
	if !method.IsSupported() {
		return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrUnsupportedMethod, "%q", spec.Method))
	}
	if method != RequestMethodRegister && spec.ToUser == "" {
		return nil, errtrace.Wrap(NewInvalidArgumentError("%s request requires a recipient", method))
	}
	if method == RequestMethodRegister && spec.ContactURI == "" {
		return nil, errtrace.Wrap(NewInvalidArgumentError("REGISTER request requires a contact"))
	}

	proto := spec.Transport.ToUpper()
	if proto == "" {
		proto = TransportProtoUDP
	}
	body := spec.Body
	if method == RequestMethodAck {
		body = ""
	}
	contentType := spec.ContentType
	switch {
	case method == RequestMethodInvite:
		contentType = sdpContentType
	case contentType == "":
		contentType = defaultContentType
	}

	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)

	crlf := func(format string, args ...any) {
		fmt.Fprintf(sb, format, args...)
		sb.WriteString("\r\n")
	}

	fromURI := "sip:" + spec.FromUser + "@" + spec.Domain
	toURI := "sip:" + spec.ToUser + "@" + spec.Domain
	sentBy := net.JoinHostPort(spec.LocalIP, strconv.Itoa(int(spec.LocalPort)))

	crlf("%s %s SIP/2.0", method, RequestURI(method, spec.ToUser, spec.Domain))
	crlf("Via: SIP/2.0/%s %s;branch=%s;rport", proto, sentBy, spec.Branch)
	crlf("Max-Forwards: %d", maxForwards)
	switch method {
	case RequestMethodRegister:
		crlf("To: <%s>", fromURI)
		crlf("Contact: <%s>", spec.ContactURI)
		crlf("Expires: %d", spec.Expires)
	case RequestMethodMessage:
		crlf("To: <%s>", toURI)
		crlf("Content-Type: %s", contentType)
	case RequestMethodInvite:
		crlf("To: <%s>", toURI)
		if spec.ContactURI != "" {
			crlf("Contact: <%s>", spec.ContactURI)
		}
		crlf("Content-Type: %s", contentType)
	case RequestMethodAck:
		if spec.ToTag != "" {
			crlf("To: <%s>;tag=%s", toURI, spec.ToTag)
		} else {
			crlf("To: <%s>", toURI)
		}
	}
	crlf("From: <%s>;tag=%s", fromURI, spec.FromTag)
	crlf("Call-ID: %s", spec.CallID)
	crlf("CSeq: %d %s", spec.CSeq, method)
	if !spec.Auth.IsZero() {
		crlf("%s", spec.Auth)
	}
	crlf("Content-Length: %d", len(body))
	sb.WriteString("\r\n")
	sb.WriteString(body)

	return []byte(sb.String()), nil
}

// FirstLine is the classification of a message start line.
type FirstLine struct {
	IsResponse bool
	// StatusCode and Reason are set for responses.
	StatusCode int
	Reason     string
	// Method is set for requests, upper-cased and not validated.
	Method RequestMethod
}

// ParseFirstLine classifies a start line as a request or a response.
func ParseFirstLine(line string) (FirstLine, error) {
	if rest, ok := strings.CutPrefix(line, responsePrefix); ok {
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return FirstLine{}, errtrace.Wrap(newMalformedMessageError("missing status code in %q", line))
		}
		code, err := strconv.Atoi(fields[0])
		if err != nil || code < 100 || code > 699 {
			return FirstLine{}, errtrace.Wrap(newMalformedMessageError("invalid status code in %q", line))
		}
		return FirstLine{
			IsResponse: true,
			StatusCode: code,
			Reason:     strings.Join(fields[1:], " "),
		}, nil
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return FirstLine{}, errtrace.Wrap(newMalformedMessageError("empty start line"))
	}
	return FirstLine{Method: RequestMethod(fields[0]).ToUpper()}, nil
}

// InboundMessage is a read-only view over one framed inbound message.
type InboundMessage struct {
	FirstLine
	// Lines holds the non-empty header and body lines following the start line.
	// The first NumHeaders of them are header lines.
	Lines      []string
	NumHeaders int
	// RemoteAddr is the address the message arrived from.
	RemoteAddr netip.AddrPort
}

// ParseMessage decodes data as UTF-8, splits it on CRLF dropping empty lines
// and classifies the first line. Headers end at the first blank line.
func ParseMessage(data []byte, raddr netip.AddrPort) (*InboundMessage, error) {
	text := strings.ToValidUTF8(string(data), "�")
	for strings.HasPrefix(text, "\r\n") {
		text = text[2:]
	}
	head, body, _ := strings.Cut(text, "\r\n\r\n")

	lines := nonEmptyLines(nil, head)
	if len(lines) == 0 {
		return nil, errtrace.Wrap(newMalformedMessageError("empty message"))
	}
	numHdrs := len(lines) - 1
	lines = nonEmptyLines(lines, body)

	fl, err := ParseFirstLine(lines[0])
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return &InboundMessage{
		FirstLine:  fl,
		Lines:      lines[1:],
		NumHeaders: numHdrs,
		RemoteAddr: raddr,
	}, nil
}

func nonEmptyLines(dst []string, text string) []string {
	for line := range strings.SplitSeq(text, "\r\n") {
		if line != "" {
			dst = append(dst, line)
		}
	}
	return dst
}

// HeaderFields returns the header lines, body lines are excluded.
func (m *InboundMessage) HeaderFields() []string {
	return m.Lines[:min(m.NumHeaders, len(m.Lines))]
}

var compactHeaders = map[string]string{
	"c": "content-type",
	"f": "from",
	"i": "call-id",
	"l": "content-length",
	"m": "contact",
	"t": "to",
	"v": "via",
}

func canonicHeaderName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if full, ok := compactHeaders[name]; ok {
		return full
	}
	return name
}

func splitHeaderLine(line string) (name, value string, ok bool) {
	name, value, ok = strings.Cut(line, ":")
	if !ok {
		return "", "", false
	}
	return canonicHeaderName(name), strings.TrimSpace(value), true
}

// HeaderLines returns the raw lines of all headers with the given name.
// Body lines are never matched.
// Names are matched case-insensitively, compact forms included.
func (m *InboundMessage) HeaderLines(name string) []string {
	name = canonicHeaderName(name)

	var lines []string
	for _, line := range m.HeaderFields() {
		if n, _, ok := splitHeaderLine(line); ok && n == name {
			lines = append(lines, line)
		}
	}
	return lines
}

// Header returns the trimmed value of the first header with the given name.
func (m *InboundMessage) Header(name string) (string, bool) {
	name = canonicHeaderName(name)
	for _, line := range m.HeaderFields() {
		if n, v, ok := splitHeaderLine(line); ok && n == name {
			return v, true
		}
	}
	return "", false
}

// CallID returns the Call-ID header value.
func (m *InboundMessage) CallID() (string, bool) { return m.Header("Call-ID") }

// CSeq returns the sequence number and method of the CSeq header.
func (m *InboundMessage) CSeq() (uint32, RequestMethod, error) {
	v, ok := m.Header("CSeq")
	if !ok {
		return 0, "", errtrace.Wrap(newMissingHeaderError("CSeq"))
	}
	fields := strings.Fields(v)
	if len(fields) != 2 {
		return 0, "", errtrace.Wrap(newMalformedMessageError("invalid CSeq %q", v))
	}
	seq, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0, "", errtrace.Wrap(newMalformedMessageError("invalid CSeq %q", v))
	}
	return uint32(seq), RequestMethod(fields[1]).ToUpper(), nil
}

// LogValue implements [slog.LogValuer].
func (m *InboundMessage) LogValue() slog.Value {
	if m == nil {
		return slog.Value{}
	}

	attrs := make([]slog.Attr, 0, 5)
	if m.IsResponse {
		attrs = append(attrs,
			slog.Int("status_code", m.StatusCode),
			slog.String("reason", m.Reason),
		)
	} else {
		attrs = append(attrs, slog.String("method", string(m.Method)))
	}
	if callID, ok := m.CallID(); ok {
		attrs = append(attrs, slog.String("call_id", callID))
	}
	if cseq, ok := m.Header("CSeq"); ok {
		attrs = append(attrs, slog.String("cseq", cseq))
	}
	attrs = append(attrs, slog.Any("remote_addr", m.RemoteAddr))
	return slog.GroupValue(attrs...)
}

// headerParam extracts a ";name=value" parameter from a header value.
func headerParam(value, name string) string {
	// skip the URI part enclosed in angle brackets, it may carry its own params
	if i := strings.LastIndexByte(value, '>'); i >= 0 {
		value = value[i+1:]
	}
	for p := range strings.SplitSeq(value, ";") {
		k, v, _ := strings.Cut(strings.TrimSpace(p), "=")
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
