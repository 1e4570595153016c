// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package banengine is the policy core: allowlist checks, CIDR widening,
// sliding-window attempt accounting, threshold evaluation, and the
// install/remove of reject rules via the firewall adapters. It mirrors
// every decision to the key-value store for operator visibility.
package banengine

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"mailcow.email/netfilter/internal/config"
	"mailcow.email/netfilter/internal/ferrors"
	"mailcow.email/netfilter/internal/firewall"
	"mailcow.email/netfilter/internal/ledger"
	"mailcow.email/netfilter/internal/logging"
	"mailcow.email/netfilter/internal/metrics"
	"mailcow.email/netfilter/internal/netaddr"
	"mailcow.email/netfilter/internal/store"
)

// Table is the subset of firewall.Adapter the ban engine depends on,
// parameterized so v4 and v6 share one Engine implementation.
type Table interface {
	FindByValue(chainName string, want firewall.Rule) (firewall.Rule, bool, error)
	InsertRuleAtHead(chainName string, rule firewall.Rule) error
	DeleteRuleByHandle(chainName string, handle uint64) error
}

// Engine is the C5 policy core. One Engine is constructed per address
// family's filter table; the watcher and autopurge loops route each event
// to the Engine matching the address family.
type Engine struct {
	family    firewall.Family
	chainName string
	table     Table
	s         *store.Store
	ledger    *ledger.Ledger
	log       *logging.Logger
	metrics   *metrics.Collector

	mu        *sync.Mutex // the process-wide filter-table lock (§5); shared across families and with the SNAT guards
	allowlist []netip.Prefix
}

// New constructs an Engine for one address family. mu is the single,
// process-wide filter-table lock every filter mutation (and the allowlist
// snapshot read) serializes through, shared with the other family's Engine
// and the SNAT position guards.
func New(family firewall.Family, chainName string, table Table, s *store.Store, l *ledger.Ledger, m *metrics.Collector, mu *sync.Mutex) *Engine {
	return &Engine{
		family:    family,
		chainName: chainName,
		table:     table,
		s:         s,
		ledger:    l,
		log:       logging.WithComponent("banengine"),
		metrics:   m,
		mu:        mu,
	}
}

// SetAllowlist atomically replaces the allowlist snapshot the engine checks
// attempts against. Called by the allowlist loop (C7) after resolution.
func (e *Engine) SetAllowlist(networks []netip.Prefix) {
	unlock := e.lockTimed()
	defer unlock()
	e.allowlist = networks
}

func (e *Engine) snapshotAllowlist() []netip.Prefix {
	unlock := e.lockTimed()
	defer unlock()
	return e.allowlist
}

// lockTimed acquires the shared filter-table lock and returns a function
// that releases it and observes the hold time, per §5's debug-timer note.
func (e *Engine) lockTimed() func() {
	start := time.Now()
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		if e.metrics != nil {
			e.metrics.LockHoldSeconds.Observe(time.Since(start).Seconds())
		}
	}
}

// Attempt is the engine's entry point: one observed authentication failure
// from addr. It normalizes, checks private/loopback and allowlist status,
// widens to the ban key, accounts the attempt under the sliding window, and
// installs a reject rule once the threshold is crossed.
func (e *Engine) Attempt(ctx context.Context, addr netip.Addr, opts config.Options) error {
	if e.metrics != nil {
		e.metrics.AttemptsTotal.WithLabelValues(e.family.String()).Inc()
	}
	addr, err := netaddr.Normalize(addr)
	if err != nil {
		return nil // invalid address in event: drop, continue
	}
	if netaddr.IsPrivateOrLoopback(addr) {
		return nil
	}

	host := netaddr.HostPrefix(addr)
	for _, allowed := range e.snapshotAllowlist() {
		if netaddr.Overlaps(allowed, host) {
			e.log.Info("whitelisted by rule", "address", addr, "rule", allowed)
			return nil
		}
	}

	bits := opts.NetbanIPv4
	if e.family == firewall.IPv6 {
		bits = opts.NetbanIPv6
	}
	network, err := netaddr.Widen(addr, bits)
	if err != nil {
		return nil
	}

	attempts := e.ledger.Attempt(network, int64(opts.RetryWindow))
	if attempts < opts.MaxAttempts {
		e.log.Info("attempt recorded", "network", netaddr.Key(network), "attempts", attempts, "max_attempts", opts.MaxAttempts)
		return nil
	}

	unlock := e.lockTimed()
	defer unlock()

	want := firewall.Rule{Family: e.family, Source: network, Target: firewall.TargetReject}
	if _, found, err := e.table.FindByValue(e.chainName, want); err != nil {
		return ferrors.Wrap(err, ferrors.KindUnavailable, "banengine: check existing rule")
	} else if !found {
		if err := e.table.InsertRuleAtHead(e.chainName, want); err != nil {
			return ferrors.Wrap(err, ferrors.KindUnavailable, "banengine: install reject rule")
		}
		if e.metrics != nil {
			e.metrics.BansInstalledTotal.WithLabelValues(e.family.String()).Inc()
		}
		e.log.Crit("installed ban", "network", netaddr.Key(network), "attempts", attempts)
	}

	if e.s != nil {
		expiry := time.Now().Unix() + int64(opts.BanTime)
		if err := e.s.HSet(ctx, store.KeyActiveBans, netaddr.Key(network), fmt.Sprintf("%d", expiry)); err != nil {
			e.log.Warn("failed to mirror active ban to store", "network", netaddr.Key(network), "error", err)
		}
	}
	return nil
}

// Unban removes a transient ban: the reject rule (idempotent), the
// ACTIVE_BANS entry, the unban-queue entry, and the ledger record.
func (e *Engine) Unban(ctx context.Context, network netip.Prefix) error {
	key := netaddr.Key(network)
	if _, ok := e.ledger.Get(network); !ok {
		e.log.Info("not banned", "network", key)
		if e.s != nil {
			_ = e.s.HDel(ctx, store.KeyUnbanQueue, key)
		}
		return nil
	}

	unlock := e.lockTimed()
	want := firewall.Rule{Family: e.family, Source: network, Target: firewall.TargetReject}
	if rule, found, err := e.table.FindByValue(e.chainName, want); err != nil {
		unlock()
		return ferrors.Wrap(err, ferrors.KindUnavailable, "banengine: check existing rule")
	} else if found {
		if err := e.table.DeleteRuleByHandle(e.chainName, rule.Handle); err != nil {
			unlock()
			return ferrors.Wrap(err, ferrors.KindUnavailable, "banengine: remove reject rule")
		}
	}
	unlock()

	if e.s != nil {
		_ = e.s.HDel(ctx, store.KeyActiveBans, key)
		_ = e.s.HDel(ctx, store.KeyUnbanQueue, key)
	}
	e.ledger.Delete(network)
	if e.metrics != nil {
		e.metrics.BansExpiredTotal.WithLabelValues(e.family.String()).Inc()
	}
	e.log.Crit("unbanned", "network", key)
	return nil
}

// PermBan installs (unban=false) or removes (unban=true) a permanent,
// blocklist-driven reject rule for network. Unlike Attempt, no
// private/loopback filtering is applied: operators may blocklist anything.
// A wide network logs an advisory warning but is never rejected.
func (e *Engine) PermBan(ctx context.Context, network netip.Prefix, unban bool) error {
	if netaddr.WidthForIsWide(network) {
		e.log.Warn("blocklisting a wide network", "network", netaddr.Key(network))
	}

	key := netaddr.Key(network)
	want := firewall.Rule{Family: e.family, Source: network, Target: firewall.TargetReject}

	unlock := e.lockTimed()
	rule, found, err := e.table.FindByValue(e.chainName, want)
	if err != nil {
		unlock()
		return ferrors.Wrap(err, ferrors.KindUnavailable, "banengine: check existing rule")
	}
	if !unban && !found {
		if err := e.table.InsertRuleAtHead(e.chainName, want); err != nil {
			unlock()
			return ferrors.Wrap(err, ferrors.KindUnavailable, "banengine: install perm ban")
		}
	} else if unban && found {
		if err := e.table.DeleteRuleByHandle(e.chainName, rule.Handle); err != nil {
			unlock()
			return ferrors.Wrap(err, ferrors.KindUnavailable, "banengine: remove perm ban")
		}
	}
	unlock()

	if unban {
		if e.s != nil {
			_ = e.s.HDel(ctx, store.KeyPermBans, key)
		}
		if e.metrics != nil {
			e.metrics.PermBansTotal.WithLabelValues("remove").Inc()
		}
		e.log.Crit("permanent ban removed", "network", key)
	} else {
		if e.s != nil {
			_ = e.s.HSet(ctx, store.KeyPermBans, key, fmt.Sprintf("%d", time.Now().Unix()))
		}
		if e.metrics != nil {
			e.metrics.PermBansTotal.WithLabelValues("install").Inc()
		}
		e.log.Crit("permanent ban installed", "network", key)
	}
	return nil
}
