// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package firewall

import (
	"net/netip"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
	"golang.org/x/sys/unix"

	"mailcow.email/netfilter/internal/ferrors"
)

// Adapter is the nftables-backed implementation of the packet-filter
// operations: create-chain, delete-chain, list-rules, insert-rule-at-head,
// delete-rule, match-rule-by-value. It has no list-chains operation and no
// separate commit step: every mutating call flushes its own netlink batch
// before returning. A single
// Adapter owns one family's filter table; callers needing both v4 and v6
// hold two Adapters.
type Adapter struct {
	family Family
	conn   *nftables.Conn
	table  *nftables.Table
}

// NewAdapter opens the netlink connection and resolves the filter table for
// the given family (ip for v4, ip6 for v6), creating it if absent.
func NewAdapter(family Family) (*Adapter, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, ferrors.Wrap(err, ferrors.KindUnavailable, "firewall: open nftables connection")
	}
	nfFamily := nftables.TableFamilyIPv4
	if family == IPv6 {
		nfFamily = nftables.TableFamilyIPv6
	}
	table := conn.AddTable(&nftables.Table{
		Name:   "filter",
		Family: nfFamily,
	})
	if err := conn.Flush(); err != nil {
		return nil, ferrors.Wrap(err, ferrors.KindUnavailable, "firewall: ensure filter table")
	}
	return &Adapter{family: family, conn: conn, table: table}, nil
}

// NATAdapter is the analogous handle for the NAT table's POSTROUTING chain,
// used by the SNAT position guards.
type NATAdapter struct {
	family Family
	conn   *nftables.Conn
	table  *nftables.Table
	chain  *nftables.Chain
}

// NewNATAdapter opens the netlink connection and resolves (creating if
// absent) the NAT table and its base POSTROUTING chain.
func NewNATAdapter(family Family) (*NATAdapter, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, ferrors.Wrap(err, ferrors.KindUnavailable, "firewall: open nftables connection")
	}
	nfFamily := nftables.TableFamilyIPv4
	if family == IPv6 {
		nfFamily = nftables.TableFamilyIPv6
	}
	table := conn.AddTable(&nftables.Table{Name: "nat", Family: nfFamily})
	chain := conn.AddChain(&nftables.Chain{
		Name:     "POSTROUTING",
		Table:    table,
		Type:     nftables.ChainTypeNAT,
		Hooknum:  nftables.ChainHookPostrouting,
		Priority: nftables.ChainPriorityNATSource,
	})
	if err := conn.Flush(); err != nil {
		return nil, ferrors.Wrap(err, ferrors.KindUnavailable, "firewall: ensure nat table")
	}
	return &NATAdapter{family: family, conn: conn, table: table, chain: chain}, nil
}

// EnsureChain creates a regular (non-base) chain if it does not already
// exist. This is the MAILCOW chain, reached only via a jump rule.
func (a *Adapter) EnsureChain(name string) error {
	a.conn.AddChain(&nftables.Chain{
		Name:  name,
		Table: a.table,
	})
	if err := a.conn.Flush(); err != nil {
		return ferrors.Wrapf(err, ferrors.KindUnavailable, "firewall: ensure chain %s", name)
	}
	return nil
}

// DeleteChain removes a chain entirely.
func (a *Adapter) DeleteChain(name string) error {
	a.conn.DelChain(&nftables.Chain{Name: name, Table: a.table})
	if err := a.conn.Flush(); err != nil {
		return ferrors.Wrapf(err, ferrors.KindUnavailable, "firewall: delete chain %s", name)
	}
	return nil
}

// ListRules returns every rule currently installed in the named chain, in
// position order.
func (a *Adapter) ListRules(chainName string) ([]Rule, error) {
	chain := &nftables.Chain{Name: chainName, Table: a.table}
	nfRules, err := a.conn.GetRules(a.table, chain)
	if err != nil {
		return nil, ferrors.Wrapf(err, ferrors.KindUnavailable, "firewall: list rules in %s", chainName)
	}
	out := make([]Rule, 0, len(nfRules))
	for i, nr := range nfRules {
		out = append(out, decodeRule(a.family, nr, i))
	}
	return out, nil
}

// InsertRuleAtHead inserts rule at position 0 of the named chain.
func (a *Adapter) InsertRuleAtHead(chainName string, rule Rule) error {
	chain := &nftables.Chain{Name: chainName, Table: a.table}
	nr := &nftables.Rule{
		Table:    a.table,
		Chain:    chain,
		Exprs:    buildExprs(a.family, rule),
		UserData: []byte(rule.Comment),
	}
	a.conn.InsertRule(nr)
	if err := a.conn.Flush(); err != nil {
		return ferrors.Wrapf(err, ferrors.KindUnavailable, "firewall: insert rule in %s", chainName)
	}
	return nil
}

// DeleteRuleByHandle removes the rule with the given kernel handle from the
// named chain.
func (a *Adapter) DeleteRuleByHandle(chainName string, handle uint64) error {
	chain := &nftables.Chain{Name: chainName, Table: a.table}
	err := a.conn.DelRule(&nftables.Rule{
		Table:  a.table,
		Chain:  chain,
		Handle: handle,
	})
	if err != nil {
		return ferrors.Wrapf(err, ferrors.KindUnavailable, "firewall: delete rule in %s", chainName)
	}
	if err := a.conn.Flush(); err != nil {
		return ferrors.Wrapf(err, ferrors.KindUnavailable, "firewall: delete rule in %s", chainName)
	}
	return nil
}

// FindByValue returns the first rule in chainName that is structurally
// equal to want, if any.
func (a *Adapter) FindByValue(chainName string, want Rule) (Rule, bool, error) {
	rules, err := a.ListRules(chainName)
	if err != nil {
		return Rule{}, false, err
	}
	for _, r := range rules {
		if r.Equal(want) {
			return r, true, nil
		}
	}
	return Rule{}, false, nil
}

// ListRules returns every rule currently installed in POSTROUTING.
func (n *NATAdapter) ListRules() ([]Rule, error) {
	nfRules, err := n.conn.GetRules(n.table, n.chain)
	if err != nil {
		return nil, ferrors.Wrap(err, ferrors.KindUnavailable, "firewall: list POSTROUTING rules")
	}
	out := make([]Rule, 0, len(nfRules))
	for i, nr := range nfRules {
		out = append(out, decodeRule(n.family, nr, i))
	}
	return out, nil
}

// InsertRuleAtHead inserts rule at position 0 of POSTROUTING.
func (n *NATAdapter) InsertRuleAtHead(rule Rule) error {
	nr := &nftables.Rule{
		Table:    n.table,
		Chain:    n.chain,
		Exprs:    buildExprs(n.family, rule),
		UserData: []byte(rule.Comment),
	}
	n.conn.InsertRule(nr)
	if err := n.conn.Flush(); err != nil {
		return ferrors.Wrap(err, ferrors.KindUnavailable, "firewall: insert POSTROUTING rule")
	}
	return nil
}

// DeleteRuleByHandle removes the rule with the given kernel handle from
// POSTROUTING.
func (n *NATAdapter) DeleteRuleByHandle(handle uint64) error {
	err := n.conn.DelRule(&nftables.Rule{Table: n.table, Chain: n.chain, Handle: handle})
	if err != nil {
		return ferrors.Wrap(err, ferrors.KindUnavailable, "firewall: delete POSTROUTING rule")
	}
	if err := n.conn.Flush(); err != nil {
		return ferrors.Wrap(err, ferrors.KindUnavailable, "firewall: delete POSTROUTING rule")
	}
	return nil
}


// buildExprs renders a Rule into the nftables expression chain for its
// target kind. Source/destination matching is a payload-load followed by a
// masked comparison; reject/jump/nat is the final verdict or statement.
func buildExprs(family Family, r Rule) []expr.Any {
	var exprs []expr.Any
	if r.Source != anyPrefix {
		exprs = append(exprs, matchPrefix(family, srcOffset(family), r.Source, expr.CmpOpEq)...)
	}
	if r.Dest != anyPrefix {
		exprs = append(exprs, matchPrefix(family, dstOffset(family), r.Dest, expr.CmpOpNeq)...)
	}

	switch r.Target {
	case TargetReject:
		exprs = append(exprs, &expr.Reject{
			Type: unix.NFT_REJECT_ICMPX_UNREACH,
			Code: unix.NFT_REJECT_ICMPX_PORT_UNREACH,
		})
	case TargetJump:
		exprs = append(exprs, &expr.Verdict{
			Kind:  expr.VerdictJump,
			Chain: r.JumpTo,
		})
	case TargetMasquerade:
		exprs = append(exprs, &expr.Masq{})
	case TargetSNAT:
		addrBytes := r.SNATTo.AsSlice()
		exprs = append(exprs,
			&expr.Immediate{Register: 1, Data: addrBytes},
			&expr.NAT{
				Type:        expr.NATTypeSourceNAT,
				Family:      natFamily(family),
				RegAddrMin:  1,
				Specified:   true,
			},
		)
	}
	return exprs
}

func natFamily(family Family) uint32 {
	if family == IPv6 {
		return unix.NFPROTO_IPV6
	}
	return unix.NFPROTO_IPV4
}

func srcOffset(family Family) uint32 {
	if family == IPv6 {
		return 8
	}
	return 12
}

func dstOffset(family Family) uint32 {
	if family == IPv6 {
		return 24
	}
	return 16
}

func addrLen(family Family) uint32 {
	if family == IPv6 {
		return 16
	}
	return 4
}

// matchPrefix builds a payload-load + bitwise-mask + compare sequence that
// matches packets whose address field, masked to prefix's width, equals (or
// for op == CmpOpNeq, does not equal) prefix's network address.
func matchPrefix(family Family, offset uint32, prefix netip.Prefix, op expr.CmpOp) []expr.Any {
	l := addrLen(family)
	mask := prefixMask(prefix.Bits(), int(l))
	network := prefix.Masked().Addr().AsSlice()
	return []expr.Any{
		&expr.Payload{
			DestRegister: 1,
			Base:         expr.PayloadBaseNetworkHeader,
			Offset:       offset,
			Len:          l,
		},
		&expr.Bitwise{
			SourceRegister: 1,
			DestRegister:   1,
			Len:            l,
			Mask:           mask,
			Xor:            make([]byte, l),
		},
		&expr.Cmp{
			Op:       op,
			Register: 1,
			Data:     network,
		},
	}
}

func prefixMask(bits, byteLen int) []byte {
	mask := make([]byte, byteLen)
	for i := 0; i < byteLen; i++ {
		switch {
		case bits >= 8:
			mask[i] = 0xff
			bits -= 8
		case bits > 0:
			mask[i] = byte(0xff << uint(8-bits))
			bits = 0
		default:
			mask[i] = 0
		}
	}
	return mask
}

// decodeRule reconstructs the adapter's Rule view from a raw nftables.Rule.
// It is intentionally conservative: only the fields structural equality and
// the guards depend on are extracted, not a full disassembly.
func decodeRule(family Family, nr *nftables.Rule, position int) Rule {
	r := Rule{
		Family:   family,
		Position: position,
		Handle:   nr.Handle,
		Comment:  string(nr.UserData),
	}
	maskBits := 0
	havePendingMask := false
	var natAddr netip.Addr
	for _, e := range nr.Exprs {
		switch ex := e.(type) {
		case *expr.Bitwise:
			maskBits = maskLenBits(ex.Mask)
			havePendingMask = true
		case *expr.Cmp:
			if len(ex.Data) == 4 || len(ex.Data) == 16 {
				addr, ok := netip.AddrFromSlice(ex.Data)
				if ok {
					bits := len(ex.Data) * 8
					if havePendingMask {
						bits = maskBits
						havePendingMask = false
					}
					p := netip.PrefixFrom(addr, bits)
					if ex.Op == expr.CmpOpNeq {
						r.Dest = p
					} else {
						r.Source = p
					}
				}
			}
		case *expr.Reject:
			r.Target = TargetReject
		case *expr.Verdict:
			if ex.Kind == expr.VerdictJump {
				r.Target = TargetJump
				r.JumpTo = ex.Chain
			}
		case *expr.Immediate:
			if addr, ok := netip.AddrFromSlice(ex.Data); ok {
				natAddr = addr
			}
		case *expr.Masq:
			r.Target = TargetMasquerade
		case *expr.NAT:
			r.Target = TargetSNAT
			r.SNATTo = natAddr
		}
	}
	return r
}

// maskLenBits counts the number of leading set bits in a Bitwise mask, the
// inverse of prefixMask: reconstructs the prefix width a rule's source or
// destination match was built from.
func maskLenBits(mask []byte) int {
	bits := 0
	for _, b := range mask {
		if b == 0xff {
			bits += 8
			continue
		}
		for b&0x80 != 0 {
			bits++
			b <<= 1
		}
		break
	}
	return bits
}
