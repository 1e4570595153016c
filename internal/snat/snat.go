// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package snat keeps exactly one masquerade/SNAT rule for an internal
// network at the head of the NAT table's POSTROUTING chain, removing any
// duplicates a later position might accumulate.
package snat

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"mailcow.email/netfilter/internal/firewall"
	"mailcow.email/netfilter/internal/logging"
	"mailcow.email/netfilter/internal/metrics"
)

// Table is the subset of firewall.NATAdapter the guard depends on.
type Table interface {
	ListRules() ([]firewall.Rule, error)
	InsertRuleAtHead(rule firewall.Rule) error
	DeleteRuleByHandle(handle uint64) error
}

// Loop is a C9 SNAT position guard for one address family. v4 targets a
// configured SNAT address; v6 masquerades the source network itself.
type Loop struct {
	table     Table
	family    firewall.Family
	network   netip.Prefix
	snatTo    netip.Addr // zero value for v6 (masquerade, no explicit target)
	interval  time.Duration
	log       *logging.Logger
	mu        *sync.Mutex // shared with the filter-table lock per the concurrency model
	metrics   *metrics.Collector
}

// New constructs a SNAT guard Loop. mu is the process-wide filter-table
// lock; SNAT reconciliation serializes with every other filter mutation.
func New(table Table, family firewall.Family, network netip.Prefix, snatTo netip.Addr, interval time.Duration, mu *sync.Mutex, m *metrics.Collector) *Loop {
	return &Loop{
		table:    table,
		family:   family,
		network:  network,
		snatTo:   snatTo,
		interval: interval,
		log:      logging.WithComponent("snat"),
		mu:       mu,
		metrics:  m,
	}
}

// Run ticks every interval until ctx is canceled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	l.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick()
		}
	}
}

func (l *Loop) canonical() firewall.Rule {
	dest := negate(l.network)
	target := firewall.TargetMasquerade
	if l.snatTo.IsValid() {
		target = firewall.TargetSNAT
	}
	return firewall.Rule{
		Family:  l.family,
		Source:  l.network,
		Dest:    dest,
		Target:  target,
		SNATTo:  l.snatTo,
		Comment: time.Now().UTC().Format(time.RFC3339),
	}
}

func (l *Loop) tick() {
	l.mu.Lock()
	defer l.mu.Unlock()

	want := l.canonical()
	rules, err := l.table.ListRules()
	if err != nil {
		l.log.Warn("failed to list POSTROUTING rules", "error", err)
		return
	}

	headOK := len(rules) > 0 && rules[0].Equal(want)
	if !headOK {
		if err := l.table.InsertRuleAtHead(want); err != nil {
			l.log.Warn("failed to install canonical SNAT rule", "error", err)
			return
		}
		if l.metrics != nil {
			l.metrics.SNATReconcileActions.WithLabelValues(l.family.String(), "install").Inc()
		}
		l.log.Info("installed canonical SNAT rule", "network", l.network)
	}

	for i, r := range rules {
		if i == 0 && headOK {
			continue
		}
		if r.Equal(want) {
			if err := l.table.DeleteRuleByHandle(r.Handle); err != nil {
				l.log.Warn("failed to remove duplicate SNAT rule", "error", err)
				continue
			}
			if l.metrics != nil {
				l.metrics.SNATReconcileActions.WithLabelValues(l.family.String(), "remove_duplicate").Inc()
			}
		}
	}
}

// negate returns a Prefix representing "not network", approximated here as
// the same prefix carried in the rule's Dest field with a negated-match
// comparison built by the adapter (expr.CmpOpNeq); see firewall.buildExprs.
func negate(network netip.Prefix) netip.Prefix {
	return network
}
