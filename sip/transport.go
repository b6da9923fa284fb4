package sip

import (
	"context"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/log"
)

//go:generate mockgen -source=transport.go -destination=transport_mock_test.go -package=sip_test

// Transport owns one network endpoint, frames inbound bytes into messages
// and sends rendered messages.
// It holds no transaction knowledge.
type Transport interface {
	// Proto returns the transport protocol token used in Via headers.
	Proto() TransportProto
	// LocalAddr returns the bound local address.
	LocalAddr() netip.AddrPort
	// Inbound returns the channel of inbound messages.
	// The transport read loop is its only producer, the channel is closed
	// when the transport stops reading.
	Inbound() <-chan *InboundMessage
	// Send writes one message to raddr.
	// After the transport is closed Send returns [ErrTransportClosed].
	Send(ctx context.Context, msg []byte, raddr netip.AddrPort) error
	// Close stops the read loop and releases the endpoint.
	// Subsequent calls are no-op.
	Close(ctx context.Context) error
}

// TransportOptions contains transport options.
type TransportOptions struct {
	// InboundBuffer is the capacity of the inbound channel.
	// Default is 32.
	InboundBuffer int
	// MaxMessageSize limits the size of framed stream messages.
	// Default is 65535.
	MaxMessageSize int
	// Log is a logger used to log transport events, warnings and errors.
	// If nil, [log.Default] is used.
	Log *slog.Logger
}

func (o *TransportOptions) inboundBuffer() int {
	if o == nil || o.InboundBuffer <= 0 {
		return 32
	}
	return o.InboundBuffer
}

func (o *TransportOptions) maxMessageSize() int {
	if o == nil || o.MaxMessageSize <= 0 {
		return maxMsgSize
	}
	return o.MaxMessageSize
}

func (o *TransportOptions) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

type baseTransp struct {
	proto   TransportProto
	laddr   netip.AddrPort
	log     *slog.Logger
	inbound chan *InboundMessage

	closing   atomic.Bool
	stop      chan struct{}
	stopOnce  sync.Once
	served    chan struct{}
	// closeConn closes the connection once and returns the result of the first call.
	closeConn func() error
}

func newBaseTransp(
	proto TransportProto,
	laddr netip.AddrPort,
	closeConn func() error,
	opts *TransportOptions,
) *baseTransp {
	return &baseTransp{
		proto: proto,
		laddr: laddr,
		log: opts.log().With(
			slog.String("transport_proto", string(proto)),
			slog.Any("local_addr", laddr),
		),
		inbound:   make(chan *InboundMessage, opts.inboundBuffer()),
		stop:      make(chan struct{}),
		served:    make(chan struct{}),
		closeConn: sync.OnceValue(closeConn),
	}
}

func (tp *baseTransp) Proto() TransportProto { return tp.proto }

func (tp *baseTransp) LocalAddr() netip.AddrPort { return tp.laddr }

func (tp *baseTransp) Inbound() <-chan *InboundMessage { return tp.inbound }

func (tp *baseTransp) isClosing() bool { return tp.closing.Load() }

// shutdown marks the transport closed and releases the connection,
// it is safe to call from the read loop.
func (tp *baseTransp) shutdown() error {
	tp.closing.Store(true)
	tp.stopOnce.Do(func() { close(tp.stop) })
	return errtrace.Wrap(tp.closeConn())
}

// Close implements [Transport].
func (tp *baseTransp) Close(ctx context.Context) error {
	err := tp.shutdown()
	select {
	case <-tp.served:
	case <-ctx.Done():
		return errtrace.Wrap(ctx.Err())
	}
	return errtrace.Wrap(err)
}

// deliver hands msg to the consumer, it gives up once the transport is closed.
func (tp *baseTransp) deliver(msg *InboundMessage) bool {
	select {
	case tp.inbound <- msg:
		return true
	case <-tp.stop:
		return false
	}
}

func (tp *baseTransp) recv(data []byte, raddr netip.AddrPort) bool {
	msg, err := ParseMessage(data, raddr)
	if err != nil {
		tp.log.LogAttrs(context.Background(), slog.LevelDebug,
			"drop malformed message",
			slog.Any("remote_addr", raddr),
			slog.Any("error", err),
		)
		return true
	}
	return tp.deliver(msg)
}
