// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ledger holds the in-memory attempt-accounting map the ban engine
// and autopurge loop share: network -> {attempts, last_attempt}. It is pure
// data with invariants; no filter-table or store access happens here.
package ledger

import (
	"net/netip"
	"sync"
	"time"
)

// Record is one ledger entry. Attempts is always >= 1 while the record
// exists.
type Record struct {
	Attempts    int
	LastAttempt int64
}

// Clock returns the current unix time in seconds. Tests inject a fixed
// clock to make sliding-window behavior deterministic.
type Clock func() int64

func systemClock() int64 { return time.Now().Unix() }

// Ledger is guarded by its own dedicated mutex, acquired before the filter
// table's global lock whenever a single logical operation needs both.
type Ledger struct {
	mu      sync.Mutex
	records map[netip.Prefix]Record
	now     Clock
}

// New returns an empty Ledger using the system clock.
func New() *Ledger {
	return &Ledger{
		records: make(map[netip.Prefix]Record),
		now:     systemClock,
	}
}

// NewWithClock returns an empty Ledger using the given clock, for tests.
func NewWithClock(clock Clock) *Ledger {
	return &Ledger{
		records: make(map[netip.Prefix]Record),
		now:     clock,
	}
}

// Attempt records one attempt against network, applying the sliding-window
// reset when the prior attempt is older than retryWindow seconds (or no
// record exists). It returns the resulting attempt count.
func (l *Ledger) Attempt(network netip.Prefix, retryWindow int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec, ok := l.records[network]
	if !ok || now-rec.LastAttempt > retryWindow {
		rec = Record{}
	}
	rec.Attempts++
	rec.LastAttempt = now
	l.records[network] = rec
	return rec.Attempts
}

// Get returns the current record for network, if any.
func (l *Ledger) Get(network netip.Prefix) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[network]
	return rec, ok
}

// Delete removes the ledger entry for network. It is a no-op if absent.
func (l *Ledger) Delete(network netip.Prefix) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, network)
}

// Len returns the number of ledger entries, for the status surface.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Snapshot returns a copy of every ledger entry, taken under the dedicated
// lock, for callers (autopurge) that must iterate without holding the lock
// for the whole scan.
func (l *Ledger) Snapshot() map[netip.Prefix]Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[netip.Prefix]Record, len(l.records))
	for k, v := range l.records {
		out[k] = v
	}
	return out
}
