// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package netaddr normalizes offender addresses into the canonical ban key
// form used throughout netfilterd: a masked netip.Prefix rendered as a
// string for map keys, log lines and store hash fields.
package netaddr

import (
	"fmt"
	"net/netip"
)

// Normalize collapses an IPv4-mapped IPv6 address to its IPv4 form and
// rejects zero values. Every address entering policy decisions must pass
// through this first.
func Normalize(addr netip.Addr) (netip.Addr, error) {
	if !addr.IsValid() {
		return netip.Addr{}, fmt.Errorf("netaddr: invalid address")
	}
	return addr.Unmap(), nil
}

// IsPrivateOrLoopback reports whether addr must never be counted toward a
// ban: loopback, link-local, or an RFC1918/RFC4193 private range.
func IsPrivateOrLoopback(addr netip.Addr) bool {
	return addr.IsLoopback() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsPrivate() ||
		addr.IsUnspecified()
}

// Widen computes the ban key: the smallest Prefix containing addr at the
// given bit length, masked to canonical form.
func Widen(addr netip.Addr, bits int) (netip.Prefix, error) {
	p, err := addr.Prefix(bits)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("netaddr: widen %s/%d: %w", addr, bits, err)
	}
	return p, nil
}

// Key renders a Prefix in canonical masked string form, the representation
// used for ledger map keys and key-value store hash fields.
func Key(p netip.Prefix) string {
	return p.Masked().String()
}

// HostPrefix returns the single-host Prefix for addr (the /32 or /128 used
// to test allowlist overlap independent of the configured ban width).
func HostPrefix(addr netip.Addr) netip.Prefix {
	bits := 32
	if addr.Is6() && !addr.Is4In6() {
		bits = 128
	}
	p, _ := addr.Prefix(bits)
	return p
}

// WidthForIsWide reports whether a Prefix being blocklisted is wide enough
// to warrant an advisory warning: /8 or wider for IPv4, /32 or wider for
// IPv6.
func WidthForIsWide(p netip.Prefix) bool {
	if p.Addr().Is4() {
		return p.Bits() <= 8
	}
	return p.Bits() <= 32
}

// ParseLiteral parses a bare address or CIDR literal into a Prefix. A bare
// address is widened to a host prefix (/32 or /128).
func ParseLiteral(s string) (netip.Prefix, error) {
	if p, err := netip.ParsePrefix(s); err == nil {
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("netaddr: parse literal %q: %w", s, err)
	}
	addr = addr.Unmap()
	return HostPrefix(addr), nil
}

// Overlaps reports whether a and b share any address: either contains the
// other's base address.
func Overlaps(a, b netip.Prefix) bool {
	return a.Overlaps(b)
}
