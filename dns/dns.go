// Package dns resolves SIP server addresses.
package dns

//go:generate errtrace -w .

import (
	"cmp"
	"context"
	"net"
	"net/netip"
	"slices"
	"strings"
	"time"

	"braces.dev/errtrace"
	"github.com/miekg/dns"
)

const (
	defaultTimeout = 5 * time.Second
	resolvConf     = "/etc/resolv.conf"
)

// Resolver resolves SIP server hosts.
// A/AAAA and SRV records are looked up with the embedded [net.Resolver],
// NAPTR records are queried directly from NameServer.
type Resolver struct {
	net.Resolver

	// NameServer is the "host[:port]" of the DNS server used for NAPTR queries.
	// If empty, the first server of /etc/resolv.conf is used.
	NameServer string
	// Timeout bounds a single NAPTR query, default is 5 seconds.
	Timeout time.Duration
	// NoServiceLookup disables NAPTR and SRV lookups in [Resolver.ResolveServer].
	NoServiceLookup bool
}

var defResolver = &Resolver{}

// DefaultResolver returns the resolver used when none is configured.
func DefaultResolver() *Resolver { return defResolver }

// LookupNetIP looks up host addresses, IPv4 addresses are returned unmapped.
func (r *Resolver) LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error) {
	addrs, err := r.Resolver.LookupNetIP(ctx, network, host)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	for i := range addrs {
		addrs[i] = addrs[i].Unmap()
	}
	return addrs, nil
}

// LookupSRV looks up SRV records of the fully qualified service name,
// records are ordered by priority and randomized by weight.
func (r *Resolver) LookupSRV(ctx context.Context, name string) ([]*net.SRV, error) {
	_, srvs, err := r.Resolver.LookupSRV(ctx, "", "", name)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	return srvs, nil
}

// NAPTR is a naming authority pointer record (RFC 3403)
// as used by RFC 3263 to pick the SIP transport of a domain.
type NAPTR struct {
	Order      uint16
	Preference uint16
	// Flags is "s" when Replacement names an SRV record.
	Flags string
	// Service is "SIP+D2U" for UDP, "SIP+D2T" for TCP and so on.
	Service     string
	Replacement string
}

// IsSRV reports whether the record points to an SRV record.
func (n *NAPTR) IsSRV() bool { return strings.EqualFold(n.Flags, "s") }

// Serves reports whether the record advertises SIP over the network ("udp" or "tcp").
func (n *NAPTR) Serves(network string) bool {
	return strings.EqualFold(n.Service, naptrService(network))
}

func naptrService(network string) string {
	if strings.EqualFold(network, "tcp") {
		return "SIP+D2T"
	}
	return "SIP+D2U"
}

// LookupNAPTR queries NAPTR records of host,
// the result is ordered by order, then by preference.
func (r *Resolver) LookupNAPTR(ctx context.Context, host string) ([]*NAPTR, error) {
	res, err := r.query(ctx, host, dns.TypeNAPTR)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	var recs []*NAPTR
	for _, rr := range res.Answer {
		if rec, ok := rr.(*dns.NAPTR); ok {
			recs = append(recs, &NAPTR{
				Order:       rec.Order,
				Preference:  rec.Preference,
				Flags:       rec.Flags,
				Service:     rec.Service,
				Replacement: rec.Replacement,
			})
		}
	}
	slices.SortStableFunc(recs, func(a, b *NAPTR) int {
		return cmp.Or(cmp.Compare(a.Order, b.Order), cmp.Compare(a.Preference, b.Preference))
	})
	return recs, nil
}

func (r *Resolver) query(ctx context.Context, host string, qtype uint16) (*dns.Msg, error) {
	server, err := r.server()
	if err != nil {
		return nil, errtrace.Wrap(err)
	}

	req := new(dns.Msg).SetQuestion(dns.Fqdn(host), qtype)
	req.RecursionDesired = true

	cli := &dns.Client{Timeout: cmp.Or(r.Timeout, defaultTimeout)}
	res, _, err := cli.ExchangeContext(ctx, req, server)
	if err != nil {
		return nil, errtrace.Wrap(err)
	}
	if res.Rcode != dns.RcodeSuccess {
		return nil, errtrace.Wrap(&net.DNSError{
			Err:        dns.RcodeToString[res.Rcode],
			Name:       host,
			Server:     server,
			IsNotFound: res.Rcode == dns.RcodeNameError,
		})
	}
	return res, nil
}

func (r *Resolver) server() (string, error) {
	if r.NameServer != "" {
		if _, _, err := net.SplitHostPort(r.NameServer); err == nil {
			return r.NameServer, nil
		}
		return net.JoinHostPort(r.NameServer, "53"), nil
	}

	conf, err := dns.ClientConfigFromFile(resolvConf)
	if err != nil {
		return "", errtrace.Wrap(err)
	}
	if len(conf.Servers) == 0 {
		return "", errtrace.Wrap(&net.DNSError{Err: "no name servers configured", Name: resolvConf})
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port), nil
}
