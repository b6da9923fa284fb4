package sip

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"braces.dev/errtrace"

	"github.com/ghettovoice/sipua/dns"
	"github.com/ghettovoice/sipua/log"
)

const (
	defaultRegisterExpires  = time.Hour
	defaultReRegisterPeriod = time.Minute
	defaultSettleDelay      = 2 * time.Second
	defaultMaxChallenges    = 2
	defaultServerName       = "sipua"

	sendTimeout  = 5 * time.Second
	closeTimeout = 5 * time.Second
)

// Identity is the per-run user identity of the client.
type Identity struct {
	FromUser string
	Password string
	// LocalPort is the local port to bind, 0 selects an ephemeral port.
	LocalPort uint16
	// ToUser is the recipient of the send mode request.
	ToUser string
	// Body is the send mode request body.
	Body      string
	Mode      Mode
	Transport TransportProto
	// Method is the send mode request method, MESSAGE or INVITE.
	// Default is MESSAGE.
	Method RequestMethod
}

// Validate checks the identity.
func (id Identity) Validate() error {
	if id.FromUser == "" {
		return errtrace.Wrap(NewInvalidArgumentError("empty user"))
	}
	if !id.Mode.IsValid() {
		return errtrace.Wrap(NewInvalidArgumentError("invalid mode %q", id.Mode))
	}
	if id.Transport != "" && !id.Transport.IsValid() {
		return errtrace.Wrap(NewInvalidArgumentError("invalid transport %q", id.Transport))
	}
	if id.Mode == ModeSend {
		if id.ToUser == "" {
			return errtrace.Wrap(NewInvalidArgumentError("empty recipient in send mode"))
		}
		if m := id.method(); m != RequestMethodMessage && m != RequestMethodInvite {
			return errtrace.Wrap(NewInvalidArgumentError("invalid send method %q", id.Method))
		}
	}
	return nil
}

func (id Identity) method() RequestMethod {
	if id.Method == "" {
		return RequestMethodMessage
	}
	return id.Method.ToUpper()
}

func (id Identity) transport() TransportProto {
	if id.Transport == "" {
		return TransportProtoUDP
	}
	return id.Transport.ToUpper()
}

// ClientConfig is the static configuration consumed by the client.
// Zero values select defaults.
type ClientConfig struct {
	ServerHost string
	// ServerPort 0 enables NAPTR/SRV resolution of ServerHost.
	ServerPort uint16
	// Domain is used in request URIs, default is ServerHost.
	Domain string
	// LocalIP is the advertised and bound local address.
	LocalIP          string
	RegisterExpires  time.Duration
	ReRegisterPeriod time.Duration
	// SettleDelay is the send mode delay between the initial REGISTER and the request.
	SettleDelay time.Duration
	// MaxChallenges is the number of consecutive challenges answered per request family.
	MaxChallenges int
	// ServerName is the Server header value of replies.
	ServerName string
}

func (c ClientConfig) domain() string {
	if c.Domain == "" {
		return c.ServerHost
	}
	return c.Domain
}

func (c ClientConfig) registerExpires() time.Duration {
	if c.RegisterExpires <= 0 {
		return defaultRegisterExpires
	}
	return c.RegisterExpires
}

func (c ClientConfig) reRegisterPeriod() time.Duration {
	if c.ReRegisterPeriod <= 0 {
		return defaultReRegisterPeriod
	}
	return c.ReRegisterPeriod
}

func (c ClientConfig) settleDelay() time.Duration {
	if c.SettleDelay <= 0 {
		return defaultSettleDelay
	}
	return c.SettleDelay
}

func (c ClientConfig) maxChallenges() int {
	if c.MaxChallenges <= 0 {
		return defaultMaxChallenges
	}
	return c.MaxChallenges
}

func (c ClientConfig) serverName() string {
	if c.ServerName == "" {
		return defaultServerName
	}
	return c.ServerName
}

// ServerResolver resolves the SIP server address.
// It is implemented by [dns.Resolver].
type ServerResolver interface {
	ResolveServer(ctx context.Context, host string, port uint16, proto string) (netip.AddrPort, error)
}

// ClientOptions contains client options.
type ClientOptions struct {
	// Transport is a pre-built transport, the client takes ownership of it.
	// If nil, the client binds a UDP socket or dials the server over TCP on start.
	Transport Transport
	// Resolver resolves the server host.
	// If nil, [dns.DefaultResolver] is used.
	Resolver ServerResolver
	// Log is a logger used to log client events.
	// If nil, [log.Default] is used.
	Log *slog.Logger
}

func (o *ClientOptions) transport() Transport {
	if o == nil {
		return nil
	}
	return o.Transport
}

func (o *ClientOptions) resolver() ServerResolver {
	if o == nil || o.Resolver == nil {
		return dns.DefaultResolver()
	}
	return o.Resolver
}

func (o *ClientOptions) log() *slog.Logger {
	if o == nil || o.Log == nil {
		return log.Default()
	}
	return o.Log
}

// Client is a SIP user agent client.
// It registers the identity, keeps the registration alive in receive mode,
// sends one MESSAGE or INVITE in send mode and answers inbound requests with 200 OK.
//
// All transaction families are owned by a single run loop
// consuming the transport inbound channel and the client timers.
type Client struct {
	id       Identity
	cfg      ClientConfig
	resolver ServerResolver
	log      *slog.Logger

	mu      sync.Mutex
	tp      Transport
	started bool
	closed  bool
	cancel  context.CancelFunc
	err     error
	done    chan struct{}

	reg    *registrationFSM
	msgFSM *requestFSM
	invFSM *requestFSM

	// owned by the run loop after start
	server    netip.AddrPort
	localIP   string
	localPort uint16
	regTx     TransactionContext
	reqTx     TransactionContext
	stop      bool
}

// NewClient creates a new client.
func NewClient(id Identity, cfg ClientConfig, opts *ClientOptions) (*Client, error) {
	if err := id.Validate(); err != nil {
		return nil, errtrace.Wrap(err)
	}
	if cfg.ServerHost == "" {
		return nil, errtrace.Wrap(NewInvalidArgumentError("empty server host"))
	}

	id.Method = id.method()
	id.Transport = id.transport()

	c := &Client{
		id:       id,
		cfg:      cfg,
		resolver: opts.resolver(),
		tp:       opts.transport(),
		done:     make(chan struct{}),
	}
	c.log = opts.log().With(
		slog.String("user", id.FromUser),
		slog.String("mode", string(id.Mode)),
	)
	c.reg = newRegistrationFSM(c.log)
	c.msgFSM = newRequestFSM(RequestMethodMessage, c.log)
	c.invFSM = newRequestFSM(RequestMethodInvite, c.log)
	return c, nil
}

// Start resolves the server, initializes the transport,
// sends the initial REGISTER and starts the run loop.
// ctx bounds the start only, use [Client.Close] to stop the client.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errtrace.Wrap(ErrClientClosed)
	}
	if c.started {
		return errtrace.Wrap(ErrClientStarted)
	}

	server, err := c.resolver.ResolveServer(ctx, c.cfg.ServerHost, c.cfg.ServerPort, c.id.Transport.Network())
	if err != nil {
		return errtrace.Wrap(err)
	}
	c.server = server

	if c.tp == nil {
		tp, err := c.newTransport(ctx)
		if err != nil {
			return errtrace.Wrap(err)
		}
		c.tp = tp
	}
	c.localIP, c.localPort = c.advertisedAddr()

	c.log.LogAttrs(ctx, slog.LevelInfo, "client started",
		slog.Any("server", c.server),
		slog.String("transport_proto", string(c.tp.Proto())),
		slog.Any("local_addr", c.tp.LocalAddr()),
	)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.started = true

	c.regTx = NewTransactionContext()
	if err := c.sendRegister(loopCtx, HeaderField{}); err != nil {
		c.log.LogAttrs(ctx, slog.LevelError, "failed to send REGISTER", slog.Any("error", err))
	}

	go c.run(loopCtx)
	return nil
}

func (c *Client) newTransport(ctx context.Context) (Transport, error) {
	var laddr netip.AddrPort
	if c.cfg.LocalIP != "" {
		ip, err := netip.ParseAddr(c.cfg.LocalIP)
		if err != nil {
			return nil, errtrace.Wrap(NewInvalidArgumentError(err))
		}
		laddr = netip.AddrPortFrom(ip, c.id.LocalPort)
	} else if c.id.LocalPort != 0 {
		laddr = netip.AddrPortFrom(netip.IPv4Unspecified(), c.id.LocalPort)
	}

	opts := &TransportOptions{Log: c.log}
	switch c.id.Transport {
	case TransportProtoTCP:
		return errtrace.Wrap2(DialTCP(ctx, laddr, c.server, opts))
	default:
		if !laddr.IsValid() {
			laddr = netip.AddrPortFrom(netip.IPv4Unspecified(), 0)
		}
		return errtrace.Wrap2(ListenUDP(ctx, laddr, opts))
	}
}

func (c *Client) advertisedAddr() (string, uint16) {
	laddr := c.tp.LocalAddr()
	if c.cfg.LocalIP != "" {
		return c.cfg.LocalIP, laddr.Port()
	}
	if ip := laddr.Addr(); ip.IsValid() && !ip.IsUnspecified() {
		return ip.String(), laddr.Port()
	}
	c.log.LogAttrs(context.Background(), slog.LevelWarn,
		"local address is unspecified, advertising loopback address",
		slog.Any("local_addr", laddr),
	)
	return "127.0.0.1", laddr.Port()
}

// Close stops the timers, the run loop and closes the transport.
// It is safe to call from any goroutine, subsequent calls are no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.closed = true
	started, cancel, tp := c.started, c.cancel, c.tp
	c.mu.Unlock()

	if started {
		cancel()
		<-c.done
		return nil
	}

	defer close(c.done)
	if tp == nil {
		return nil
	}
	ctx, cancelClose := context.WithTimeout(context.Background(), closeTimeout)
	defer cancelClose()
	return errtrace.Wrap(tp.Close(ctx))
}

// Done returns a channel that is closed when the client stops.
// In send mode the client stops by itself once the request completes.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the send mode outcome: nil on success,
// [*RequestError] on a final non-2xx response or an error of the send path.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// RegistrationState returns the current state of the registration family.
func (c *Client) RegistrationState() RegistrationState { return c.reg.State() }

// Registered reports whether the identity is registered.
// It turns true on the first accepted REGISTER, stays true while refreshes are in flight
// and turns false once the registration is lost.
func (c *Client) Registered() bool { return c.reg.Registered() }

// MessageState returns the current state of the MESSAGE family.
func (c *Client) MessageState() RequestState { return c.msgFSM.State() }

// InviteState returns the current state of the INVITE family.
func (c *Client) InviteState() RequestState { return c.invFSM.State() }

// LocalAddr returns the transport local address, it is valid after start.
func (c *Client) LocalAddr() netip.AddrPort {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tp == nil {
		return netip.AddrPort{}
	}
	return c.tp.LocalAddr()
}

func (c *Client) run(ctx context.Context) {
	defer c.shutdown()

	var keepAlive <-chan time.Time
	if c.id.Mode == ModeReceive {
		tkr := time.NewTicker(c.cfg.reRegisterPeriod())
		defer tkr.Stop()
		keepAlive = tkr.C
	}

	var settle <-chan time.Time
	if c.id.Mode == ModeSend {
		tmr := time.NewTimer(c.cfg.settleDelay())
		defer tmr.Stop()
		settle = tmr.C
	}

	inbound := c.tp.Inbound()
	for !c.stop {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				c.log.LogAttrs(ctx, slog.LevelWarn, "transport stopped receiving messages")
				inbound = nil
				c.finish(ctx, errtrace.Wrap(ErrTransportClosed))
				continue
			}
			c.dispatch(ctx, msg)
		case <-keepAlive:
			c.refreshRegistration(ctx)
		case <-settle:
			settle = nil
			c.sendRequest(ctx)
		}
	}
}

func (c *Client) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	if err := c.tp.Close(ctx); err != nil {
		c.log.LogAttrs(ctx, slog.LevelDebug, "transport closed with error", slog.Any("error", err))
	}
	c.log.LogAttrs(ctx, slog.LevelInfo, "client stopped")
	close(c.done)
}

// finish ends the send mode run with err as the outcome.
// Receive mode runs until closed.
func (c *Client) finish(ctx context.Context, err error) {
	if c.id.Mode != ModeSend {
		return
	}

	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.stop = true

	if err != nil {
		c.log.LogAttrs(ctx, slog.LevelError, "request failed", slog.Any("error", err))
	} else {
		c.log.LogAttrs(ctx, slog.LevelInfo, "request completed")
	}
}

func (c *Client) send(ctx context.Context, data []byte, raddr netip.AddrPort) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return errtrace.Wrap(c.tp.Send(ctx, data, raddr))
}

func (c *Client) contactURI() string {
	uri := "sip:" + c.id.FromUser + "@" + net.JoinHostPort(c.localIP, strconv.Itoa(int(c.localPort)))
	if c.id.Transport == TransportProtoTCP {
		uri += ";transport=tcp"
	}
	return uri
}

func (c *Client) requestSpec(method RequestMethod, tc TransactionContext) *RequestSpec {
	return &RequestSpec{
		Method:    method,
		FromUser:  c.id.FromUser,
		ToUser:    c.id.ToUser,
		Domain:    c.cfg.domain(),
		LocalIP:   c.localIP,
		LocalPort: c.localPort,
		CallID:    tc.CallID,
		Branch:    tc.Branch,
		FromTag:   tc.FromTag,
		CSeq:      tc.CSeq,
		Transport: c.id.Transport,
	}
}
