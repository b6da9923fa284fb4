// Package log provides logging utilities.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"braces.dev/errtrace"
	"github.com/golang-cz/devslog"
	"github.com/phsym/console-slog"
	slogformatter "github.com/samber/slog-formatter"

	"github.com/ghettovoice/sipua/internal/errorutil"
)

// ErrUnknownFormat is returned by [New] for an unsupported output format.
const ErrUnknownFormat errorutil.Error = "unknown log format"

// Output formats accepted by [New].
const (
	FormatConsole = "console"
	FormatDev     = "dev"
	FormatJSON    = "json"
	FormatNoop    = "noop"
)

var newHandler = slogformatter.NewFormatterHandler(
	slogformatter.ErrorFormatter("error"),
	slogformatter.FormatByType(func(c net.PacketConn) slog.Value {
		return slog.GroupValue(
			slog.String("type", fmt.Sprintf("%T", c)),
			slog.String("ptr", fmt.Sprintf("%p", c)),
			slog.Any("local_addr", c.LocalAddr()),
		)
	}),
	slogformatter.FormatByType(func(c net.Conn) slog.Value {
		return slog.GroupValue(
			slog.String("type", fmt.Sprintf("%T", c)),
			slog.String("ptr", fmt.Sprintf("%p", c)),
			slog.Any("local_addr", c.LocalAddr()),
			slog.Any("remote_addr", c.RemoteAddr()),
		)
	}),
)

// Console returns a logger writing colored human readable lines to w.
func Console(w io.Writer, lvl slog.Leveler) *slog.Logger {
	return slog.New(newHandler(
		console.NewHandler(w, &console.HandlerOptions{
			AddSource:  true,
			Level:      lvl,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}

// Dev returns a developer logger with pretty printed attributes.
func Dev(w io.Writer, lvl slog.Leveler) *slog.Logger {
	return slog.New(newHandler(
		devslog.NewHandler(w, &devslog.Options{
			HandlerOptions: &slog.HandlerOptions{
				AddSource: true,
				Level:     lvl,
			},
			SortKeys:   true,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}

// JSON returns a logger writing one JSON object per record to w.
func JSON(w io.Writer, lvl slog.Leveler) *slog.Logger {
	return slog.New(newHandler(
		slog.NewJSONHandler(w, &slog.HandlerOptions{
			AddSource: true,
			Level:     lvl,
		}),
	))
}

type noopHandler struct{}

func (noopHandler) Enabled(context.Context, slog.Level) bool { return false }

func (noopHandler) Handle(context.Context, slog.Record) error { return nil }

func (h noopHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h noopHandler) WithGroup(string) slog.Handler { return h }

// Noop is a noop logger.
var Noop = slog.New(noopHandler{})

// New builds a logger of the given format writing to w.
func New(format string, lvl slog.Leveler, w io.Writer) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}
	switch strings.ToLower(format) {
	case "", FormatConsole:
		return Console(w, lvl), nil
	case FormatDev:
		return Dev(w, lvl), nil
	case FormatJSON:
		return JSON(w, lvl), nil
	case FormatNoop:
		return Noop, nil
	default:
		return nil, errtrace.Wrap(errorutil.NewWrapperError(ErrUnknownFormat, "%q", format))
	}
}

// ParseLevel parses one of "debug", "info", "warn" or "error".
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	switch strings.ToLower(s) {
	case "debug", "info", "warn", "error":
		if err := lvl.UnmarshalText([]byte(s)); err != nil {
			return 0, errtrace.Wrap(err)
		}
		return lvl, nil
	default:
		return 0, errtrace.Wrap(errorutil.NewInvalidArgumentError("unknown log level %q", s))
	}
}

var def atomic.Pointer[slog.Logger]

func init() {
	def.Store(Console(os.Stderr, slog.LevelInfo))
}

// Default returns the package default logger.
func Default() *slog.Logger { return def.Load() }

// SetDefault replaces the package default logger.
// Nil resets it to [Noop].
func SetDefault(l *slog.Logger) {
	if l == nil {
		l = Noop
	}
	def.Store(l)
}
