package sip

import "strings"

const (
	RequestMethodAck      RequestMethod = "ACK"
	RequestMethodInvite   RequestMethod = "INVITE"
	RequestMethodMessage  RequestMethod = "MESSAGE"
	RequestMethodRegister RequestMethod = "REGISTER"
)

// RequestMethod is a SIP request method name.
type RequestMethod string

func (m RequestMethod) ToUpper() RequestMethod { return RequestMethod(strings.ToUpper(string(m))) }

// IsSupported reports whether requests of the method can be built by [BuildRequest].
func (m RequestMethod) IsSupported() bool {
	switch m {
	case RequestMethodRegister, RequestMethodMessage, RequestMethodInvite, RequestMethodAck:
		return true
	default:
		return false
	}
}

func (m RequestMethod) Equal(other RequestMethod) bool {
	return strings.EqualFold(string(m), string(other))
}

const (
	TransportProtoUDP TransportProto = "UDP"
	TransportProtoTCP TransportProto = "TCP"
)

// TransportProto is a SIP transport protocol token as used in the Via header.
type TransportProto string

func (p TransportProto) ToUpper() TransportProto { return TransportProto(strings.ToUpper(string(p))) }

func (p TransportProto) IsValid() bool {
	switch p.ToUpper() {
	case TransportProtoUDP, TransportProtoTCP:
		return true
	default:
		return false
	}
}

// Network returns the Go network name of the protocol.
func (p TransportProto) Network() string { return strings.ToLower(string(p)) }

// Mode selects what the client does after the initial registration.
type Mode string

const (
	// ModeReceive keeps the registration alive and answers inbound requests until closed.
	ModeReceive Mode = "receive"
	// ModeSend sends one request and closes once its final response arrives.
	ModeSend Mode = "send"
)

func (m Mode) IsValid() bool { return m == ModeReceive || m == ModeSend }
