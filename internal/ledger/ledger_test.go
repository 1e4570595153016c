// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ledger

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttempt_AccumulatesWithinWindow(t *testing.T) {
	now := int64(1000)
	l := NewWithClock(func() int64 { return now })
	net := netip.MustParsePrefix("203.0.113.5/32")

	assert.Equal(t, 1, l.Attempt(net, 600))
	now += 10
	assert.Equal(t, 2, l.Attempt(net, 600))
	now += 10
	assert.Equal(t, 3, l.Attempt(net, 600))
}

func TestAttempt_ResetsAfterIdleWindow(t *testing.T) {
	now := int64(1000)
	l := NewWithClock(func() int64 { return now })
	net := netip.MustParsePrefix("203.0.113.5/32")

	assert.Equal(t, 1, l.Attempt(net, 600))
	now += 601
	assert.Equal(t, 1, l.Attempt(net, 600), "idle period exceeding window must reset the counter to 1")
}

func TestDelete(t *testing.T) {
	l := New()
	net := netip.MustParsePrefix("203.0.113.5/32")
	l.Attempt(net, 600)

	_, ok := l.Get(net)
	require.True(t, ok)

	l.Delete(net)
	_, ok = l.Get(net)
	assert.False(t, ok)
}

func TestSnapshot_IsIndependentCopy(t *testing.T) {
	l := New()
	net := netip.MustParsePrefix("203.0.113.5/32")
	l.Attempt(net, 600)

	snap := l.Snapshot()
	require.Len(t, snap, 1)

	l.Delete(net)
	assert.Len(t, snap, 1, "snapshot must not be affected by later mutation")
	assert.Equal(t, 0, l.Len())
}
