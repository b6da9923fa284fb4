// Package sip implements a minimal SIP user agent client as described in RFC 3261.
//
// The package builds and parses the handful of messages the client needs,
// frames them over UDP datagrams or a TCP stream, and drives registration,
// instant messages and INVITE/ACK handshakes, answering Digest challenges
// (RFC 2617, MD5 without qop) when the server asks for credentials.
//
// A [Client] owns one [Transport] and runs a single event loop consuming the
// transport inbound channel, so no transaction state is shared between goroutines.
package sip
