// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package banengine

import (
	"context"
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailcow.email/netfilter/internal/config"
	"mailcow.email/netfilter/internal/firewall"
	"mailcow.email/netfilter/internal/ledger"
	"mailcow.email/netfilter/internal/logging"
)

// fakeTable is an in-memory stand-in for firewall.Adapter, enough to drive
// the engine's install/remove decisions without a kernel.
type fakeTable struct {
	rules      []firewall.Rule
	nextHandle uint64
}

func (f *fakeTable) FindByValue(chainName string, want firewall.Rule) (firewall.Rule, bool, error) {
	for _, r := range f.rules {
		if r.Equal(want) {
			return r, true, nil
		}
	}
	return firewall.Rule{}, false, nil
}

func (f *fakeTable) InsertRuleAtHead(chainName string, rule firewall.Rule) error {
	f.nextHandle++
	rule.Handle = f.nextHandle
	f.rules = append([]firewall.Rule{rule}, f.rules...)
	return nil
}

func (f *fakeTable) DeleteRuleByHandle(chainName string, handle uint64) error {
	out := f.rules[:0]
	for _, r := range f.rules {
		if r.Handle != handle {
			out = append(out, r)
		}
	}
	f.rules = out
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeTable) {
	t.Helper()
	ft := &fakeTable{}
	e := &Engine{
		family:    firewall.IPv4,
		chainName: "MAILCOW",
		table:     ft,
		s:         nil,
		ledger:    ledger.New(),
		log:       logging.WithComponent("banengine-test"),
		mu:        &sync.Mutex{},
	}
	return e, ft
}

func TestAttempt_InstallsRuleOnlyAtThreshold(t *testing.T) {
	e, ft := newTestEngine(t)
	opts := config.Options{MaxAttempts: 3, RetryWindow: 600, NetbanIPv4: 32, NetbanIPv6: 128, BanTime: 1800}
	addr := netip.MustParseAddr("203.0.113.5")

	for i := 0; i < 2; i++ {
		require.NoError(t, e.Attempt(context.Background(), addr, opts))
		assert.Empty(t, ft.rules)
	}
	require.NoError(t, e.Attempt(context.Background(), addr, opts))
	require.Len(t, ft.rules, 1)
	assert.Equal(t, firewall.TargetReject, ft.rules[0].Target)
}

func TestAttempt_NeverBansPrivateAddress(t *testing.T) {
	e, ft := newTestEngine(t)
	opts := config.Options{MaxAttempts: 1, RetryWindow: 600, NetbanIPv4: 32, NetbanIPv6: 128}
	addr := netip.MustParseAddr("10.0.0.5")

	require.NoError(t, e.Attempt(context.Background(), addr, opts))
	assert.Empty(t, ft.rules)
}

func TestAttempt_AllowlistedAddressNeverBanned(t *testing.T) {
	e, ft := newTestEngine(t)
	e.SetAllowlist([]netip.Prefix{netip.MustParsePrefix("203.0.113.0/24")})
	opts := config.Options{MaxAttempts: 1, RetryWindow: 600, NetbanIPv4: 32, NetbanIPv6: 128}
	addr := netip.MustParseAddr("203.0.113.5")

	require.NoError(t, e.Attempt(context.Background(), addr, opts))
	assert.Empty(t, ft.rules)
}

func TestAttempt_InstallIsIdempotent(t *testing.T) {
	e, ft := newTestEngine(t)
	opts := config.Options{MaxAttempts: 1, RetryWindow: 600, NetbanIPv4: 32, NetbanIPv6: 128}
	addr := netip.MustParseAddr("203.0.113.5")

	require.NoError(t, e.Attempt(context.Background(), addr, opts))
	require.Len(t, ft.rules, 1)

	network := netip.MustParsePrefix("203.0.113.5/32")
	// A second threshold-crossing attempt on the same network must not
	// duplicate the rule.
	e.ledger.Attempt(network, int64(opts.RetryWindow))
	require.NoError(t, e.Attempt(context.Background(), addr, opts))
	assert.Len(t, ft.rules, 1)
}

func TestPermBan_RoundTrip(t *testing.T) {
	e, ft := newTestEngine(t)
	network := netip.MustParsePrefix("198.51.100.0/24")

	require.NoError(t, e.PermBan(context.Background(), network, false))
	require.Len(t, ft.rules, 1)

	require.NoError(t, e.PermBan(context.Background(), network, true))
	assert.Empty(t, ft.rules)
}
