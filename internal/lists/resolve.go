// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package lists resolves operator-managed allowlist/blocklist name-sets
// (literal CIDRs, addresses, and hostnames) into normalized Network sets,
// and reconciles them against the ban engine on a periodic, minute-aligned
// cadence.
package lists

import (
	"context"
	"net/netip"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"

	"mailcow.email/netfilter/internal/logging"
	"mailcow.email/netfilter/internal/netaddr"
)

const dnsTimeout = 3 * time.Second

// Resolver performs A/AAAA lookups for hostnames in a name-set. It is an
// interface so tests can substitute a fake without a real resolver.
type Resolver interface {
	Resolve(ctx context.Context, hostname string) ([]netip.Addr, error)
}

// DNSResolver resolves hostnames via a direct dns.Client exchange against
// the host's configured resolver, grounded in the daemon's own DNS service
// idiom.
type DNSResolver struct {
	client     *dns.Client
	serverAddr string
	log        *logging.Logger
}

// NewDNSResolver builds a resolver targeting serverAddr (host:port, e.g.
// "127.0.0.1:53"), read from /etc/resolv.conf by the caller.
func NewDNSResolver(serverAddr string) *DNSResolver {
	return &DNSResolver{
		client:     &dns.Client{Timeout: dnsTimeout},
		serverAddr: serverAddr,
		log:        logging.WithComponent("lists"),
	}
}

// Resolve looks up both A and AAAA records for hostname.
func (r *DNSResolver) Resolve(ctx context.Context, hostname string) ([]netip.Addr, error) {
	ascii, err := idna.Lookup.ToASCII(hostname)
	if err != nil {
		return nil, err
	}

	var addrs []netip.Addr
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(ascii), qtype)
		m.RecursionDesired = true

		resp, _, err := r.client.ExchangeContext(ctx, m, r.serverAddr)
		if err != nil {
			r.log.Warn("dns lookup failed", "hostname", ascii, "type", qtype, "error", err)
			continue
		}
		for _, ans := range resp.Answer {
			switch rr := ans.(type) {
			case *dns.A:
				if a, ok := netip.AddrFromSlice(rr.A.To4()); ok {
					addrs = append(addrs, a)
				}
			case *dns.AAAA:
				if a, ok := netip.AddrFromSlice(rr.AAAA.To16()); ok {
					addrs = append(addrs, a)
				}
			}
		}
	}
	return addrs, nil
}

// GenNetworkList partitions entries into literals (parsed directly) and
// hostnames (resolved via resolver), returning the union as a set of
// Networks. A failing hostname is logged and skipped, not fatal.
func GenNetworkList(ctx context.Context, entries []string, resolver Resolver, log *logging.Logger) map[netip.Prefix]struct{} {
	out := make(map[netip.Prefix]struct{})
	for _, entry := range entries {
		if p, err := netaddr.ParseLiteral(entry); err == nil {
			out[p] = struct{}{}
			continue
		}

		lookupCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
		addrs, err := resolver.Resolve(lookupCtx, entry)
		cancel()
		if err != nil {
			log.Warn("failed to resolve name-set entry", "entry", entry, "error", err)
			continue
		}
		for _, a := range addrs {
			out[netaddr.HostPrefix(a)] = struct{}{}
		}
	}
	return out
}
