// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package firewall is the typed wrapper over the kernel packet-filter and
// NAT tables, concretely implemented over github.com/google/nftables. It
// exposes chain/rule CRUD for both IPv4 and IPv6, each mutating call
// flushed as its own netlink batch (calls are not grouped), and
// treats rule identity as structural (family, source CIDR, target kind)
// rather than textual rendering.
package firewall

import "net/netip"

// Family distinguishes the IPv4 and IPv6 packet-filter tables. There is no
// combined "inet" handle: the ban engine, chain-order guard and SNAT guards
// all operate per-family.
type Family int

const (
	IPv4 Family = iota
	IPv6
)

func (f Family) String() string {
	if f == IPv6 {
		return "ip6"
	}
	return "ip"
}

// TargetKind is the verdict or target a Rule carries.
type TargetKind int

const (
	TargetReject TargetKind = iota
	TargetJump
	TargetSNAT
	TargetMasquerade
)

// Rule is the adapter's view of a single nftables rule, reduced to the
// fields structural equality depends on plus enough detail to render it.
// Source and Dest are the zero netip.Prefix when the rule matches "any".
type Rule struct {
	Family  Family
	Source  netip.Prefix
	Dest    netip.Prefix
	Target  TargetKind
	JumpTo  string     // only for TargetJump
	SNATTo  netip.Addr // only for TargetSNAT
	Comment string

	// Position and Handle are populated when a Rule is returned from
	// ListRules; they are ignored on input to InsertRuleAtHead.
	Position int
	Handle   uint64
}

// Equal implements the spec's structural-equality rule: family, source,
// destination, target kind, and target parameters (the SNAT address).
// Textual rendering (comments, handles, positions) never participates.
func (r Rule) Equal(other Rule) bool {
	return r.Family == other.Family &&
		r.Source == other.Source &&
		r.Dest == other.Dest &&
		r.Target == other.Target &&
		r.SNATTo == other.SNATTo
}

// anyPrefix is the zero value; used for "match any source/destination".
var anyPrefix netip.Prefix
