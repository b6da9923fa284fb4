// Command sipua registers a SIP identity and either stays online answering
// inbound requests or sends one MESSAGE or INVITE to a peer.
//
// Usage:
//
//	sipua -user alice -password secret [-config sipua.yaml] [-mode receive]
//	sipua -user alice -password secret -mode send -to bob -body "hello" [-method INVITE]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"braces.dev/errtrace"
	"golang.org/x/sync/errgroup"

	"github.com/ghettovoice/sipua/dns"
	"github.com/ghettovoice/sipua/internal/config"
	"github.com/ghettovoice/sipua/log"
	"github.com/ghettovoice/sipua/sip"
)

const startTimeout = 10 * time.Second

var errInterrupted = errors.New("interrupted before the request completed")

type flags struct {
	user, password string
	port           uint
	to, body       string
	mode           string
	transport      string
	method         string
	config         string
}

func parseFlags(args []string) (*flags, error) {
	f := new(flags)
	fs := flag.NewFlagSet("sipua", flag.ContinueOnError)
	fs.StringVar(&f.user, "user", "", "SIP user name (required)")
	fs.StringVar(&f.password, "password", "", "SIP password used to answer Digest challenges")
	fs.UintVar(&f.port, "port", 5060, "local port to bind, 0 selects an ephemeral port")
	fs.StringVar(&f.to, "to", "", "recipient user name (send mode)")
	fs.StringVar(&f.body, "body", "", "request body (send mode)")
	fs.StringVar(&f.mode, "mode", string(sip.ModeReceive), "client mode: receive or send")
	fs.StringVar(&f.transport, "transport", "udp", "transport protocol: udp or tcp")
	fs.StringVar(&f.method, "method", "", "send mode request method: MESSAGE or INVITE, overrides the config")
	fs.StringVar(&f.config, "config", "", "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return nil, errtrace.Wrap(err)
	}
	if f.port > 65535 {
		return nil, errtrace.Wrap(fmt.Errorf("invalid port %d", f.port))
	}
	return f, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return errtrace.Wrap2(config.Load(path))
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	f, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, err := loadConfig(f.config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %s\n", errtrace.FormatString(err))
		return 1
	}

	lvl, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %s\n", errtrace.FormatString(err))
		return 1
	}
	logger, err := log.New(cfg.Log.Format, lvl, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %s\n", errtrace.FormatString(err))
		return 1
	}
	log.SetDefault(logger)

	method := cfg.SendMethod()
	if f.method != "" {
		method = sip.RequestMethod(strings.ToUpper(f.method))
	}
	id := sip.Identity{
		FromUser:  f.user,
		Password:  f.password,
		LocalPort: uint16(f.port), //nolint:gosec
		ToUser:    f.to,
		Body:      f.body,
		Mode:      sip.Mode(strings.ToLower(f.mode)),
		Transport: sip.TransportProto(strings.ToUpper(f.transport)),
		Method:    method,
	}

	resolver := &dns.Resolver{
		NameServer:      cfg.DNS.NameServer,
		Timeout:         cfg.DNSTimeout(),
		NoServiceLookup: !cfg.DNS.Lookup,
	}
	client, err := sip.NewClient(id, cfg.ClientConfig(), &sip.ClientOptions{
		Resolver: resolver,
		Log:      logger,
	})
	if err != nil {
		logger.LogAttrs(context.Background(), slog.LevelError, "invalid arguments", slog.Any("error", err))
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	err = client.Start(startCtx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start the client: %s\n", errtrace.FormatString(err))
		client.Close() //nolint:errcheck
		return 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-client.Done()
		if err := client.Err(); err != nil {
			return errtrace.Wrap(err)
		}
		if id.Mode == sip.ModeSend && ctx.Err() != nil {
			return errtrace.Wrap(errInterrupted)
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			logger.LogAttrs(gctx, slog.LevelInfo, "shutting down")
			return errtrace.Wrap(client.Close())
		case <-client.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", errtrace.FormatString(err))
		return 1
	}
	return 0
}
