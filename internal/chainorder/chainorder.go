// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package chainorder periodically asserts that the jump-to-our-chain rule
// still occupies a privileged position in FORWARD and INPUT. If an upstream
// subsystem reinserts rules ahead of ours, our policy is being bypassed and
// the process must restart.
package chainorder

import (
	"context"
	"time"

	"mailcow.email/netfilter/internal/firewall"
	"mailcow.email/netfilter/internal/logging"
	"mailcow.email/netfilter/internal/metrics"
)

const maxJumpPosition = 2

// RuleLister is the subset of firewall.Adapter the guard depends on.
type RuleLister interface {
	ListRules(chainName string) ([]firewall.Rule, error)
}

// Loop is the C8 chain-order guard for one address family.
type Loop struct {
	table     RuleLister
	chainName string
	interval  time.Duration
	log       *logging.Logger
	shutdown  func(code int)
	metrics   *metrics.Collector
}

// New constructs a chain-order guard Loop.
func New(table RuleLister, chainName string, interval time.Duration, shutdown func(code int), m *metrics.Collector) *Loop {
	return &Loop{
		table:     table,
		chainName: chainName,
		interval:  interval,
		log:       logging.WithComponent("chainorder"),
		shutdown:  shutdown,
		metrics:   m,
	}
}

// Run ticks every interval until ctx is canceled or a violation is found,
// in which case it invokes shutdown(2) and returns.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.checkChain(ctx, "FORWARD") {
				return
			}
			if !l.checkChain(ctx, "INPUT") {
				return
			}
		}
	}
}

// checkChain returns false if a violation was found (and shutdown was
// triggered), true otherwise.
func (l *Loop) checkChain(ctx context.Context, baseChain string) bool {
	rules, err := l.table.ListRules(baseChain)
	if err != nil {
		l.log.Warn("failed to list rules", "chain", baseChain, "error", err)
		return true
	}

	for _, r := range rules {
		if r.Target == firewall.TargetJump && r.JumpTo == l.chainName {
			if r.Position > maxJumpPosition {
				if l.metrics != nil {
					l.metrics.ChainOrderViolations.WithLabelValues(baseChain).Inc()
				}
				l.log.Crit("chain order violation: jump rule displaced", "chain", baseChain, "position", r.Position)
				l.shutdown(2)
				return false
			}
			return true
		}
	}

	if l.metrics != nil {
		l.metrics.ChainOrderViolations.WithLabelValues(baseChain).Inc()
	}
	l.log.Crit("chain order violation: jump rule missing", "chain", baseChain, "target", l.chainName)
	l.shutdown(2)
	return false
}
