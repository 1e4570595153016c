// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics is the daemon's Prometheus collector: counters and
// gauges for attempts, bans, expiries, permanent bans, chain-order
// violations and SNAT reconciliation actions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector bundles the daemon's metric instruments and registers them
// against a dedicated registry, following the daemon's own metrics package
// convention of not polluting the default global registry.
type Collector struct {
	Registry *prometheus.Registry

	AttemptsTotal          *prometheus.CounterVec
	BansInstalledTotal     *prometheus.CounterVec
	BansExpiredTotal       *prometheus.CounterVec
	PermBansTotal          *prometheus.CounterVec
	ChainOrderViolations   *prometheus.CounterVec
	SNATReconcileActions   *prometheus.CounterVec
	LedgerSize             *prometheus.GaugeVec
	LockHoldSeconds        prometheus.Histogram
}

// New builds a Collector and registers every instrument.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netfilterd",
			Name:      "attempts_total",
			Help:      "Authentication-failure attempts observed, by address family.",
		}, []string{"family"}),
		BansInstalledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netfilterd",
			Name:      "bans_installed_total",
			Help:      "Transient reject rules installed, by address family.",
		}, []string{"family"}),
		BansExpiredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netfilterd",
			Name:      "bans_expired_total",
			Help:      "Transient reject rules removed (autopurge expiry or operator unban), by address family.",
		}, []string{"family"}),
		PermBansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netfilterd",
			Name:      "perm_bans_total",
			Help:      "Blocklist-driven permanent ban installs/removals, by action.",
		}, []string{"action"}),
		ChainOrderViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netfilterd",
			Name:      "chain_order_violations_total",
			Help:      "Chain-order guard violations detected, by chain.",
		}, []string{"chain"}),
		SNATReconcileActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netfilterd",
			Name:      "snat_reconcile_actions_total",
			Help:      "SNAT guard insert/remove actions, by address family and action.",
		}, []string{"family", "action"}),
		LedgerSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "netfilterd",
			Name:      "ledger_size",
			Help:      "Current number of ban ledger entries, by address family.",
		}, []string{"family"}),
		LockHoldSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "netfilterd",
			Name:      "filter_lock_hold_seconds",
			Help:      "Duration the global filter-table lock was held, as a debug aid.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}

	reg.MustRegister(
		c.AttemptsTotal,
		c.BansInstalledTotal,
		c.BansExpiredTotal,
		c.PermBansTotal,
		c.ChainOrderViolations,
		c.SNATReconcileActions,
		c.LedgerSize,
		c.LockHoldSeconds,
	)
	return c
}
