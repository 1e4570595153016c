// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netaddr

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_CollapsesMappedIPv4(t *testing.T) {
	mapped := netip.MustParseAddr("::ffff:203.0.113.5")
	addr, err := Normalize(mapped)
	require.NoError(t, err)
	assert.True(t, addr.Is4())
	assert.Equal(t, "203.0.113.5", addr.String())
}

func TestIsPrivateOrLoopback(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1":    true,
		"10.0.0.1":     true,
		"192.168.1.1":  true,
		"169.254.1.1":  true,
		"203.0.113.5":  false,
		"8.8.8.8":      false,
		"::1":          true,
		"fc00::1":      true,
		"2001:db8::1":  false,
	}
	for s, want := range cases {
		addr := netip.MustParseAddr(s)
		assert.Equal(t, want, IsPrivateOrLoopback(addr), s)
	}
}

func TestWiden(t *testing.T) {
	addr := netip.MustParseAddr("203.0.113.5")
	p, err := Widen(addr, 32)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.5/32", Key(p))
}

func TestParseLiteral_BareAddressGetsHostPrefix(t *testing.T) {
	p, err := ParseLiteral("203.0.113.5")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.5/32", p.String())
}

func TestParseLiteral_CIDRIsMasked(t *testing.T) {
	p, err := ParseLiteral("203.0.113.5/24")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.0/24", p.String())
}

func TestWidthForIsWide(t *testing.T) {
	assert.True(t, WidthForIsWide(netip.MustParsePrefix("10.0.0.0/8")))
	assert.False(t, WidthForIsWide(netip.MustParsePrefix("10.0.0.0/24")))
	assert.True(t, WidthForIsWide(netip.MustParsePrefix("2001:db8::/32")))
	assert.False(t, WidthForIsWide(netip.MustParsePrefix("2001:db8::/64")))
}
