// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package lists

import (
	"context"
	"net/netip"
	"time"

	"mailcow.email/netfilter/internal/firewall"
	"mailcow.email/netfilter/internal/logging"
	"mailcow.email/netfilter/internal/store"
)

// AllowlistSetter is the subset of banengine.Engine the allowlist loop
// drives: one per address family.
type AllowlistSetter interface {
	SetAllowlist(networks []netip.Prefix)
}

// PermBanner is the subset of banengine.Engine the blocklist loop drives.
type PermBanner interface {
	PermBan(ctx context.Context, network netip.Prefix, unban bool) error
}

// SizeReporter receives the resolved list sizes after each reconciliation,
// for the /status snapshot (lifecycle.Runtime implements this).
type SizeReporter interface {
	SetAllowlistSize(n int)
	SetBlocklistSize(n int)
}

// AllowlistLoop periodically re-resolves NETFILTER_WHITELIST and swaps it
// into each family's ban engine.
type AllowlistLoop struct {
	s        *store.Store
	engines  map[firewall.Family]AllowlistSetter
	resolver Resolver
	interval time.Duration
	log      *logging.Logger
	sizes    SizeReporter
}

// NewAllowlistLoop constructs an AllowlistLoop. sizes may be nil if the
// status snapshot is not wired up.
func NewAllowlistLoop(s *store.Store, engines map[firewall.Family]AllowlistSetter, resolver Resolver, interval time.Duration, sizes SizeReporter) *AllowlistLoop {
	return &AllowlistLoop{s: s, engines: engines, resolver: resolver, interval: interval, log: logging.WithComponent("allowlist"), sizes: sizes}
}

// Run ticks on an interval aligned as closely as the ticker allows to the
// minute boundary, until ctx is canceled.
func (lp *AllowlistLoop) Run(ctx context.Context) {
	alignToMinute(ctx, lp.interval)
	ticker := time.NewTicker(lp.interval)
	defer ticker.Stop()
	lp.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lp.tick(ctx)
		}
	}
}

func (lp *AllowlistLoop) tick(ctx context.Context) {
	hash, err := lp.s.HGetAll(ctx, store.KeyWhitelist)
	if err != nil {
		lp.log.Warn("failed to read whitelist", "error", err)
		return
	}
	entries := make([]string, 0, len(hash))
	for k := range hash {
		entries = append(entries, k)
	}

	resolved := GenNetworkList(ctx, entries, lp.resolver, lp.log)
	byFamily := map[firewall.Family][]netip.Prefix{}
	for p := range resolved {
		f := firewall.IPv4
		if p.Addr().Is6() && !p.Addr().Is4In6() {
			f = firewall.IPv6
		}
		byFamily[f] = append(byFamily[f], p)
	}
	for family, engine := range lp.engines {
		engine.SetAllowlist(byFamily[family])
	}
	if lp.sizes != nil {
		lp.sizes.SetAllowlistSize(len(resolved))
	}
}

// BlocklistLoop periodically re-resolves NETFILTER_BLACKLIST and
// diff-applies it against the previous resolution: additions install
// permanent bans, removals lift them.
type BlocklistLoop struct {
	s        *store.Store
	engines  map[firewall.Family]PermBanner
	resolver Resolver
	interval time.Duration
	log      *logging.Logger

	previous map[netip.Prefix]struct{}
	sizes    SizeReporter
}

// NewBlocklistLoop constructs a BlocklistLoop. sizes may be nil if the
// status snapshot is not wired up.
func NewBlocklistLoop(s *store.Store, engines map[firewall.Family]PermBanner, resolver Resolver, interval time.Duration, sizes SizeReporter) *BlocklistLoop {
	return &BlocklistLoop{
		s:        s,
		engines:  engines,
		resolver: resolver,
		interval: interval,
		log:      logging.WithComponent("blocklist"),
		previous: make(map[netip.Prefix]struct{}),
		sizes:    sizes,
	}
}

// Run ticks on an interval until ctx is canceled.
func (lp *BlocklistLoop) Run(ctx context.Context) {
	alignToMinute(ctx, lp.interval)
	ticker := time.NewTicker(lp.interval)
	defer ticker.Stop()
	lp.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lp.tick(ctx)
		}
	}
}

func (lp *BlocklistLoop) tick(ctx context.Context) {
	hash, err := lp.s.HGetAll(ctx, store.KeyBlacklist)
	if err != nil {
		lp.log.Warn("failed to read blacklist", "error", err)
		return
	}
	entries := make([]string, 0, len(hash))
	for k := range hash {
		entries = append(entries, k)
	}

	current := GenNetworkList(ctx, entries, lp.resolver, lp.log)

	for p := range current {
		if _, existed := lp.previous[p]; existed {
			continue
		}
		family := firewall.IPv4
		if p.Addr().Is6() && !p.Addr().Is4In6() {
			family = firewall.IPv6
		}
		if engine, ok := lp.engines[family]; ok {
			if err := engine.PermBan(ctx, p, false); err != nil {
				lp.log.Warn("failed to install permanent ban", "network", p, "error", err)
			}
		}
	}
	for p := range lp.previous {
		if _, stillPresent := current[p]; stillPresent {
			continue
		}
		family := firewall.IPv4
		if p.Addr().Is6() && !p.Addr().Is4In6() {
			family = firewall.IPv6
		}
		if engine, ok := lp.engines[family]; ok {
			if err := engine.PermBan(ctx, p, true); err != nil {
				lp.log.Warn("failed to remove permanent ban", "network", p, "error", err)
			}
		}
	}
	lp.previous = current
	if lp.sizes != nil {
		lp.sizes.SetBlocklistSize(len(current))
	}
}

// alignToMinute sleeps until the next minute boundary, or until ctx is
// canceled, so both list loops stay phase-aligned the way the source's
// periodic tasks do.
func alignToMinute(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	now := time.Now()
	next := now.Truncate(interval).Add(interval)
	timer := time.NewTimer(next.Sub(now))
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
