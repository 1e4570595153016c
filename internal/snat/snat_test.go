// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package snat

import (
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailcow.email/netfilter/internal/firewall"
)

type fakeTable struct {
	rules      []firewall.Rule
	nextHandle uint64
}

func (f *fakeTable) ListRules() ([]firewall.Rule, error) { return f.rules, nil }

func (f *fakeTable) InsertRuleAtHead(rule firewall.Rule) error {
	f.nextHandle++
	rule.Handle = f.nextHandle
	f.rules = append([]firewall.Rule{rule}, f.rules...)
	return nil
}

func (f *fakeTable) DeleteRuleByHandle(handle uint64) error {
	out := f.rules[:0]
	for _, r := range f.rules {
		if r.Handle != handle {
			out = append(out, r)
		}
	}
	f.rules = out
	return nil
}

func TestTick_InstallsCanonicalRuleWhenAbsent(t *testing.T) {
	ft := &fakeTable{}
	network := netip.MustParsePrefix("172.22.1.0/24")
	l := New(ft, firewall.IPv4, network, netip.MustParseAddr("198.51.100.1"), time.Second, &sync.Mutex{}, nil)

	l.tick()
	require.Len(t, ft.rules, 1)
	assert.Equal(t, firewall.TargetSNAT, ft.rules[0].Target)
}

func TestTick_RemovesDuplicatesKeepingHead(t *testing.T) {
	ft := &fakeTable{}
	network := netip.MustParsePrefix("172.22.1.0/24")
	l := New(ft, firewall.IPv4, network, netip.MustParseAddr("198.51.100.1"), time.Second, &sync.Mutex{}, nil)

	l.tick()
	require.Len(t, ft.rules, 1)

	// A duplicate appears behind the canonical rule (e.g. reinserted by an
	// external tool).
	want := l.canonical()
	want.Handle = 99
	ft.rules = append(ft.rules, want)
	require.Len(t, ft.rules, 2)

	l.tick()
	assert.Len(t, ft.rules, 1, "duplicate must be removed, canonical rule kept at head")
}

func TestTick_IsIdempotentWhenAlreadyCanonical(t *testing.T) {
	ft := &fakeTable{}
	network := netip.MustParsePrefix("172.22.1.0/24")
	l := New(ft, firewall.IPv4, network, netip.MustParseAddr("198.51.100.1"), time.Second, &sync.Mutex{}, nil)

	l.tick()
	require.Len(t, ft.rules, 1)
	handle := ft.rules[0].Handle

	l.tick()
	require.Len(t, ft.rules, 1)
	assert.Equal(t, handle, ft.rules[0].Handle, "reinstalling an already-canonical rule would defeat idempotency")
}
