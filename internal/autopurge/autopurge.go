// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package autopurge periodically expires transient bans and drains the
// operator-facing unban queue.
package autopurge

import (
	"context"
	"net/netip"
	"time"

	"mailcow.email/netfilter/internal/config"
	"mailcow.email/netfilter/internal/firewall"
	"mailcow.email/netfilter/internal/ledger"
	"mailcow.email/netfilter/internal/logging"
	"mailcow.email/netfilter/internal/metrics"
	"mailcow.email/netfilter/internal/netaddr"
	"mailcow.email/netfilter/internal/store"
)

// Unbanner is the subset of banengine.Engine this loop depends on.
type Unbanner interface {
	Unban(ctx context.Context, network netip.Prefix) error
}

// Loop is the C6 autopurge reconciler. One Loop drains one family's ledger
// and unban requests; the lifecycle runs one per configured family.
type Loop struct {
	s        *store.Store
	family   firewall.Family
	engine   Unbanner
	ledger   *ledger.Ledger
	interval time.Duration
	log      *logging.Logger
	metrics  *metrics.Collector
}

// New constructs an autopurge Loop.
func New(s *store.Store, family firewall.Family, engine Unbanner, l *ledger.Ledger, interval time.Duration, m *metrics.Collector) *Loop {
	return &Loop{
		s:        s,
		family:   family,
		engine:   engine,
		ledger:   l,
		interval: interval,
		log:      logging.WithComponent("autopurge"),
		metrics:  m,
	}
}

// Run ticks every interval until ctx is canceled.
func (lp *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(lp.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			lp.tick(ctx)
		}
	}
}

func (lp *Loop) tick(ctx context.Context) {
	if lp.metrics != nil {
		lp.metrics.LedgerSize.WithLabelValues(lp.family.String()).Set(float64(lp.ledger.Len()))
	}

	opts, err := config.GetOptions(ctx, lp.s)
	if err != nil {
		lp.log.Warn("failed to refresh options", "error", err)
		return
	}

	queued, err := lp.s.HGetAll(ctx, store.KeyUnbanQueue)
	if err != nil {
		lp.log.Warn("failed to read unban queue", "error", err)
	}
	for key := range queued {
		network, err := netip.ParsePrefix(key)
		if err != nil {
			continue
		}
		if networkFamily(network) != lp.family {
			continue // belongs to the other family's Loop; leave it queued for that one
		}
		if err := lp.engine.Unban(ctx, network); err != nil {
			lp.log.Warn("unban from queue failed", "network", key, "error", err)
		}
	}

	now := time.Now().Unix()
	for network, rec := range lp.ledger.Snapshot() {
		if rec.Attempts < opts.MaxAttempts {
			continue
		}
		if now-rec.LastAttempt <= int64(opts.BanTime) {
			continue
		}
		if err := lp.engine.Unban(ctx, network); err != nil {
			lp.log.Warn("autopurge unban failed", "network", netaddr.Key(network), "error", err)
		}
	}
}

// networkFamily reports which address family network belongs to, so a
// single shared NETFILTER_QUEUE_UNBAN hash can be drained by two
// family-scoped Loops without either one touching the other's entries.
func networkFamily(network netip.Prefix) firewall.Family {
	if network.Addr().Is6() && !network.Addr().Is4In6() {
		return firewall.IPv6
	}
	return firewall.IPv4
}
