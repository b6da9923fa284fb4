package sip

import (
	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/internal/util"
)

// BuildOKResponse renders a stateless "200 OK" reply to req.
// Via, From, To, Call-ID and CSeq lines are copied verbatim.
func BuildOKResponse(req *InboundMessage, server string) ([]byte, error) {
	if req == nil || req.IsResponse {
		return nil, errtrace.Wrap(NewInvalidArgumentError("not a request"))
	}

	vias := req.HeaderLines("Via")
	if len(vias) == 0 {
		return nil, errtrace.Wrap(newMissingHeaderError("Via"))
	}

	sb := util.GetStringBuilder()
	defer util.FreeStringBuilder(sb)

	sb.WriteString("SIP/2.0 200 OK\r\n")
	for _, line := range vias {
		sb.WriteString(line)
		sb.WriteString("\r\n")
	}
	for _, name := range []string{"From", "To", "Call-ID", "CSeq"} {
		lines := req.HeaderLines(name)
		if len(lines) == 0 {
			return nil, errtrace.Wrap(newMissingHeaderError(name))
		}
		sb.WriteString(lines[0])
		sb.WriteString("\r\n")
	}
	sb.WriteString("Server: ")
	sb.WriteString(server)
	sb.WriteString("\r\n")
	sb.WriteString("Content-Length: 0\r\n\r\n")

	return []byte(sb.String()), nil
}
