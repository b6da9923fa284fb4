package dns

import (
	"context"
	"net"
	"net/netip"
	"strings"

	"braces.dev/errtrace"
	"github.com/miekg/dns"
)

// DefaultPort is the SIP port used when neither the configuration nor SRV records provide one.
const DefaultPort uint16 = 5060

// ResolveServer resolves a SIP server host into a single destination address
// following a subset of RFC 3263.
//
// IP literals are returned as is. With an explicit port only A/AAAA records are queried.
// Otherwise NAPTR records matching the transport are followed to SRV records,
// then "_sip._<proto>.<host>" SRV records are tried, and finally host A/AAAA records
// with [DefaultPort].
func (r *Resolver) ResolveServer(ctx context.Context, host string, port uint16, proto string) (netip.AddrPort, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(addr.Unmap(), portOrDefault(port)), nil
	}

	if port == 0 && !r.NoServiceLookup {
		if ap, ok := r.resolveService(ctx, host, proto); ok {
			return ap, nil
		}
	}

	addr, err := r.lookupAddr(ctx, host)
	if err != nil {
		return netip.AddrPort{}, errtrace.Wrap(err)
	}
	return netip.AddrPortFrom(addr, portOrDefault(port)), nil
}

func (r *Resolver) resolveService(ctx context.Context, host, proto string) (netip.AddrPort, bool) {
	var srvName string
	if recs, err := r.LookupNAPTR(ctx, host); err == nil {
		for _, rec := range recs {
			if rec.IsSRV() && rec.Serves(proto) {
				srvName = rec.Replacement
				break
			}
		}
	}
	if srvName == "" {
		srvName = dns.Fqdn("_sip._" + strings.ToLower(proto) + "." + host)
	}

	srvs, err := r.LookupSRV(ctx, srvName)
	if err != nil {
		return netip.AddrPort{}, false
	}
	for _, srv := range srvs {
		addr, err := r.lookupAddr(ctx, srv.Target)
		if err != nil {
			continue
		}
		return netip.AddrPortFrom(addr, srv.Port), true
	}
	return netip.AddrPort{}, false
}

func (r *Resolver) lookupAddr(ctx context.Context, host string) (netip.Addr, error) {
	addrs, err := r.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.Addr{}, errtrace.Wrap(err)
	}
	for _, addr := range addrs {
		if addr.Is4() {
			return addr, nil
		}
	}
	if len(addrs) == 0 {
		return netip.Addr{}, errtrace.Wrap(&net.DNSError{Err: "no addresses", Name: host, IsNotFound: true})
	}
	return addrs[0], nil
}

func portOrDefault(port uint16) uint16 {
	if port == 0 {
		return DefaultPort
	}
	return port
}
