package sip

import (
	"context"
	"log/slog"
	"net"
	"net/netip"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/internal/errorutil"
)

// UDPTransport is a datagram [Transport], one datagram carries one message.
type UDPTransport struct {
	*baseTransp
	conn net.PacketConn
}

// ListenUDP binds a UDP socket on laddr and starts reading from it.
// Zero port in laddr selects an ephemeral port.
func ListenUDP(ctx context.Context, laddr netip.AddrPort, opts *TransportOptions) (*UDPTransport, error) {
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", laddr.String())
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	tp := new(UDPTransport)
	tp.baseTransp = newBaseTransp(
		TransportProtoUDP,
		netAddrToAddrPort(conn.LocalAddr()),
		func() error { return tp.conn.Close() }, //errtrace:skip
		opts,
	)
	tp.conn = &logPacketConn{PacketConn: conn, log: tp.log.With(slog.Any("connection", conn))}

	go tp.serve()
	return tp, nil
}

// Send implements [Transport].
func (tp *UDPTransport) Send(ctx context.Context, msg []byte, raddr netip.AddrPort) error {
	if tp.isClosing() {
		return errtrace.Wrap(ErrTransportClosed)
	}
	if !raddr.IsValid() {
		return errtrace.Wrap(NewInvalidArgumentError("invalid remote address"))
	}

	if d, ok := ctx.Deadline(); ok {
		if err := tp.conn.SetWriteDeadline(d); err != nil {
			return errtrace.Wrap(err)
		}
		defer tp.conn.SetWriteDeadline(zeroTime)
	}
	if _, err := tp.conn.WriteTo(msg, net.UDPAddrFromAddrPort(raddr)); err != nil {
		if tp.isClosing() || errorutil.IsClosedConnErr(err) {
			return errtrace.Wrap(errorutil.NewWrapperError(ErrTransportClosed, err))
		}
		return errtrace.Wrap(err)
	}
	return nil
}

func (tp *UDPTransport) serve() {
	defer close(tp.served)
	defer close(tp.inbound)
	defer tp.closeConn() //nolint:errcheck

	tp.log.LogAttrs(context.Background(), slog.LevelDebug, "begin serving the connection")
	defer tp.log.LogAttrs(context.Background(), slog.LevelDebug, "serving the connection finished")

	buf := make([]byte, maxMsgSize)
	for {
		n, addr, err := tp.conn.ReadFrom(buf)
		if err != nil {
			if tp.isClosing() {
				return
			}
			if errorutil.IsTemporaryErr(err) {
				continue
			}
			tp.log.LogAttrs(context.Background(), slog.LevelWarn, "failed to read from the connection", slog.Any("error", err))
			tp.closing.Store(true)
			return
		}
		if n == 0 {
			continue
		}
		if !tp.recv(buf[:n], netAddrToAddrPort(addr)) {
			return
		}
	}
}
