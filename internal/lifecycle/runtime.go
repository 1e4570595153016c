// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package lifecycle is the C10 supervisor: initial clear, chain creation,
// fan-out of the daemon's long-running loops, signal handling, and
// exit-code propagation. It owns the single *Runtime value every loop is
// constructed against, holding the global filter-table lock, the shared
// shutdown flag, the per-family ledgers, and the allow/blocklist sizes the
// list loops report for /status. The allowlist itself lives in each ban
// engine and the blocklist in the blocklist loop.
package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"mailcow.email/netfilter/internal/firewall"
	"mailcow.email/netfilter/internal/httpapi"
	"mailcow.email/netfilter/internal/ledger"
	"mailcow.email/netfilter/internal/logging"
	"mailcow.email/netfilter/internal/metrics"
	"mailcow.email/netfilter/internal/store"
)

// FilterTable is the subset of firewall.Adapter the lifecycle needs for
// Clear/InitChain, kept narrow so it is easy to fake in tests. FORWARD and
// INPUT are assumed to pre-exist as base chains managed by the surrounding
// container network stack; this package only creates and tears down the
// MAILCOW chain and its jump rules.
type FilterTable interface {
	EnsureChain(name string) error
	DeleteChain(name string) error
	ListRules(chainName string) ([]firewall.Rule, error)
	InsertRuleAtHead(chainName string, rule firewall.Rule) error
	DeleteRuleByHandle(chainName string, handle uint64) error
}

// Runtime is the shared, explicit context every loop is constructed
// against. There are no package-level mutable variables outside of
// compiled-in defaults and registry singletons.
type Runtime struct {
	Ctx    context.Context
	Cancel context.CancelFunc

	Store   *store.Store
	Metrics *metrics.Collector
	Log     *logging.Logger

	FilterMu *sync.Mutex // the single global filter-table lock (§5)

	ChainName string

	FilterV4 FilterTable
	FilterV6 FilterTable

	LedgerV4 *ledger.Ledger
	LedgerV6 *ledger.Ledger

	exitCode atomic.Int32
	shutdown atomic.Bool

	allowSizeMu sync.Mutex
	allowSize   int
	blockSizeMu sync.Mutex
	blockSize   int
}

// New constructs a Runtime. The caller retains ownership of cancel via
// Shutdown.
func New(store *store.Store, m *metrics.Collector, chainName string) *Runtime {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runtime{
		Ctx:       ctx,
		Cancel:    cancel,
		Store:     store,
		Metrics:   m,
		Log:       logging.WithComponent("lifecycle"),
		FilterMu:  &sync.Mutex{},
		ChainName: chainName,
		LedgerV4:  ledger.New(),
		LedgerV6:  ledger.New(),
	}
}

// Shutdown sets the shared shutdown flag and exit code, and cancels the
// context every loop polls between iterations. It is safe to call more than
// once; the first call's code wins.
func (r *Runtime) Shutdown(code int) {
	if r.shutdown.CompareAndSwap(false, true) {
		r.exitCode.Store(int32(code))
		r.Cancel()
	}
}

// ShutdownRequested reports whether Shutdown has been called.
func (r *Runtime) ShutdownRequested() bool {
	return r.shutdown.Load()
}

// ExitCode returns the code to propagate on process exit: 0 until Shutdown
// is called.
func (r *Runtime) ExitCode() int {
	return int(r.exitCode.Load())
}

// Healthy implements the predicate httpapi.New's /healthz handler polls.
func (r *Runtime) Healthy() bool {
	return !r.ShutdownRequested()
}

// SetAllowlistSize and SetBlocklistSize are called by the C7 loops after
// each reconciliation, purely for the /status snapshot.
func (r *Runtime) SetAllowlistSize(n int) {
	r.allowSizeMu.Lock()
	r.allowSize = n
	r.allowSizeMu.Unlock()
}

func (r *Runtime) SetBlocklistSize(n int) {
	r.blockSizeMu.Lock()
	r.blockSize = n
	r.blockSizeMu.Unlock()
}

// Status implements httpapi.StatusProvider.
func (r *Runtime) Status() httpapi.Status {
	r.allowSizeMu.Lock()
	allow := r.allowSize
	r.allowSizeMu.Unlock()
	r.blockSizeMu.Lock()
	block := r.blockSize
	r.blockSizeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	activeBans, _ := r.Store.HGetAll(ctx, store.KeyActiveBans)
	permBans, _ := r.Store.HGetAll(ctx, store.KeyPermBans)

	return httpapi.Status{
		LedgerSize:    r.LedgerV4.Len() + r.LedgerV6.Len(),
		ActiveBans:    len(activeBans),
		PermBans:      len(permBans),
		AllowlistSize: allow,
		BlocklistSize: block,
		Shutdown:      r.ShutdownRequested(),
	}
}

// InstallSignalHandler arranges for SIGTERM/SIGINT to call Shutdown(0).
func (r *Runtime) InstallSignalHandler() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		select {
		case <-sigCh:
			r.Log.Info("received shutdown signal")
			r.Shutdown(0)
		case <-r.Ctx.Done():
		}
	}()
}

// Wait blocks, polling the shutdown flag every 0.5s per §4.9(f), until
// Shutdown has been called, then returns the propagated exit code.
func (r *Runtime) Wait() int {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if r.ShutdownRequested() {
			return r.ExitCode()
		}
	}
	return r.ExitCode()
}
