package sip

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/internal/util"
)

var zeroTime time.Time

const logDataLimit = 1000

// logConn logs every chunk read from and written to the stream at debug level.
type logConn struct {
	net.Conn
	log *slog.Logger
}

func (c *logConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if err != nil {
		return n, errtrace.Wrap(err)
	}
	logData(c.log, "read", c.RemoteAddr(), c.LocalAddr(), b[:n])
	return n, nil
}

func (c *logConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if err != nil {
		return n, errtrace.Wrap(err)
	}
	logData(c.log, "wrote", c.LocalAddr(), c.RemoteAddr(), b[:n])
	return n, nil
}

func (c *logConn) Close() error {
	return errtrace.Wrap(logClose(c.log, c.Conn.Close()))
}

// logPacketConn logs every datagram received and sent at debug level.
type logPacketConn struct {
	net.PacketConn
	log *slog.Logger
}

func (c *logPacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	n, addr, err := c.PacketConn.ReadFrom(b)
	if err != nil {
		return n, addr, errtrace.Wrap(err)
	}
	logData(c.log, "read", addr, c.LocalAddr(), b[:n])
	return n, addr, nil
}

func (c *logPacketConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	n, err := c.PacketConn.WriteTo(b, addr)
	if err != nil {
		return n, errtrace.Wrap(err)
	}
	logData(c.log, "wrote", c.LocalAddr(), addr, b[:n])
	return n, nil
}

func (c *logPacketConn) Close() error {
	return errtrace.Wrap(logClose(c.log, c.PacketConn.Close()))
}

func logData(log *slog.Logger, op string, from, to net.Addr, b []byte) {
	if !log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	log.LogAttrs(context.Background(), slog.LevelDebug, "connection "+op+" buffer",
		slog.Any("from", from),
		slog.Any("to", to),
		slog.Group("buffer",
			slog.Int("size", len(b)),
			slog.String("data", util.Ellipsis(string(b), logDataLimit)),
		),
	)
}

func logClose(log *slog.Logger, err error) error {
	if err != nil {
		log.LogAttrs(context.Background(), slog.LevelDebug, "connection closed with error", slog.Any("error", err))
		return errtrace.Wrap(err)
	}
	log.LogAttrs(context.Background(), slog.LevelDebug, "connection closed")
	return nil
}

func netAddrToAddrPort(addr net.Addr) netip.AddrPort {
	var ap netip.AddrPort
	switch a := addr.(type) {
	case *net.UDPAddr:
		ap = a.AddrPort()
	case *net.TCPAddr:
		ap = a.AddrPort()
	default:
		ap, _ = netip.ParseAddrPort(addr.String())
	}
	return unmapAddrPort(ap)
}

func unmapAddrPort(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}
