package sip

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/internal/errorutil"
)

// TCPTransport is a stream [Transport] bound to one outbound connection.
// Inbound bytes are split into messages by a [StreamFramer].
type TCPTransport struct {
	*baseTransp
	conn   net.Conn
	raddr  netip.AddrPort
	framer *StreamFramer
	wrMu   sync.Mutex
}

// DialTCP connects to raddr from laddr and starts reading from the connection.
// Zero laddr lets the system pick the local address.
func DialTCP(ctx context.Context, laddr, raddr netip.AddrPort, opts *TransportOptions) (*TCPTransport, error) {
	var dialer net.Dialer
	if laddr.IsValid() {
		dialer.LocalAddr = net.TCPAddrFromAddrPort(laddr)
	}
	conn, err := dialer.DialContext(ctx, "tcp", raddr.String())
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	tp := &TCPTransport{
		raddr:  netAddrToAddrPort(conn.RemoteAddr()),
		framer: NewStreamFramer(opts.maxMessageSize()),
	}
	tp.baseTransp = newBaseTransp(
		TransportProtoTCP,
		netAddrToAddrPort(conn.LocalAddr()),
		func() error { return tp.conn.Close() }, //errtrace:skip
		opts,
	)
	tp.log = tp.log.With(slog.Any("remote_addr", tp.raddr))
	tp.conn = &logConn{Conn: conn, log: tp.log.With(slog.Any("connection", conn))}

	go tp.serve()
	return tp, nil
}

// RemoteAddr returns the address of the connected peer.
func (tp *TCPTransport) RemoteAddr() netip.AddrPort { return tp.raddr }

// Send implements [Transport].
// The message always goes to the connected peer, raddr is ignored.
func (tp *TCPTransport) Send(ctx context.Context, msg []byte, _ netip.AddrPort) error {
	if tp.isClosing() {
		return errtrace.Wrap(ErrTransportClosed)
	}

	tp.wrMu.Lock()
	defer tp.wrMu.Unlock()

	if d, ok := ctx.Deadline(); ok {
		if err := tp.conn.SetWriteDeadline(d); err != nil {
			return errtrace.Wrap(err)
		}
		defer tp.conn.SetWriteDeadline(zeroTime)
	}
	if _, err := tp.conn.Write(msg); err != nil {
		if tp.isClosing() || errorutil.IsClosedConnErr(err) {
			return errtrace.Wrap(errorutil.NewWrapperError(ErrTransportClosed, err))
		}
		tp.log.LogAttrs(ctx, slog.LevelWarn, "failed to write to the connection, closing it", slog.Any("error", err))
		tp.shutdown()
		return errtrace.Wrap(err)
	}
	return nil
}

func (tp *TCPTransport) serve() {
	defer close(tp.served)
	defer close(tp.inbound)
	defer tp.closeConn() //nolint:errcheck

	tp.log.LogAttrs(context.Background(), slog.LevelDebug, "begin serving the connection")
	defer tp.log.LogAttrs(context.Background(), slog.LevelDebug, "serving the connection finished")

	buf := make([]byte, 4096)
	for {
		n, err := tp.conn.Read(buf)
		if n > 0 {
			msgs, ferr := tp.framer.Feed(buf[:n])
			for _, data := range msgs {
				if !tp.recv(data, tp.raddr) {
					return
				}
			}
			if ferr != nil {
				tp.log.LogAttrs(context.Background(), slog.LevelWarn, "failed to frame the stream, closing the connection", slog.Any("error", ferr))
				tp.closing.Store(true)
				return
			}
		}
		if err != nil {
			if tp.isClosing() {
				return
			}
			if errors.Is(err, io.EOF) {
				tp.log.LogAttrs(context.Background(), slog.LevelDebug, "connection closed by the remote side")
			} else {
				tp.log.LogAttrs(context.Background(), slog.LevelWarn, "failed to read from the connection", slog.Any("error", err))
			}
			tp.closing.Store(true)
			return
		}
	}
}
