// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package lifecycle

import (
	"context"

	"mailcow.email/netfilter/internal/ferrors"
	"mailcow.email/netfilter/internal/firewall"
	"mailcow.email/netfilter/internal/store"
)

// Clear deletes the MAILCOW chain entirely on both filter tables, removes
// the jump rules from FORWARD/INPUT, and wipes ACTIVE_BANS/PERM_BANS. It is
// run once at startup, and is also registered as an exit hook.
func (r *Runtime) Clear(ctx context.Context) error {
	for _, table := range []FilterTable{r.FilterV4, r.FilterV6} {
		if table == nil {
			continue
		}
		if err := removeJump(table, "FORWARD", r.ChainName); err != nil {
			r.Log.Warn("failed to remove jump rule", "chain", "FORWARD", "error", err)
		}
		if err := removeJump(table, "INPUT", r.ChainName); err != nil {
			r.Log.Warn("failed to remove jump rule", "chain", "INPUT", "error", err)
		}
		if err := table.DeleteChain(r.ChainName); err != nil {
			r.Log.Warn("failed to delete chain", "chain", r.ChainName, "error", err)
		}
	}

	if err := r.Store.DelKey(ctx, store.KeyActiveBans); err != nil {
		return ferrors.Wrap(err, ferrors.KindUnavailable, "lifecycle: clear active bans")
	}
	if err := r.Store.DelKey(ctx, store.KeyPermBans); err != nil {
		return ferrors.Wrap(err, ferrors.KindUnavailable, "lifecycle: clear perm bans")
	}
	return nil
}

func removeJump(table FilterTable, baseChain, target string) error {
	rules, err := table.ListRules(baseChain)
	if err != nil {
		return err
	}
	for _, r := range rules {
		if r.Target == firewall.TargetJump && r.JumpTo == target {
			if err := table.DeleteRuleByHandle(baseChain, r.Handle); err != nil {
				return err
			}
		}
	}
	return nil
}

// InitChain creates the MAILCOW chain on both filter tables and inserts a
// jump-to-MAILCOW rule at the head of FORWARD and INPUT.
func (r *Runtime) InitChain() error {
	for _, table := range []FilterTable{r.FilterV4, r.FilterV6} {
		if table == nil {
			continue
		}
		if err := table.EnsureChain(r.ChainName); err != nil {
			return ferrors.Wrapf(err, ferrors.KindUnavailable, "lifecycle: create chain %s", r.ChainName)
		}
		jump := firewall.Rule{Target: firewall.TargetJump, JumpTo: r.ChainName}
		if err := table.InsertRuleAtHead("FORWARD", jump); err != nil {
			return ferrors.Wrap(err, ferrors.KindUnavailable, "lifecycle: insert jump rule into FORWARD")
		}
		if err := table.InsertRuleAtHead("INPUT", jump); err != nil {
			return ferrors.Wrap(err, ferrors.KindUnavailable, "lifecycle: insert jump rule into INPUT")
		}
	}
	return nil
}
