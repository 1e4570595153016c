// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"mailcow.email/netfilter/internal/ferrors"
	"mailcow.email/netfilter/internal/store"
)

// RegexRule is one entry of the regex corpus: a numeric rule identifier and
// its pattern. Capture group 1 of Pattern must extract an address-shaped
// token.
type RegexRule struct {
	ID      int
	Pattern string
}

// DefaultRegex returns the compiled-in regex corpus written to the store
// the first time it is consulted. These mirror the mail stack's own
// auth-failure log shapes (Dovecot, Postfix, SOGo).
func DefaultRegex() []RegexRule {
	return []RegexRule{
		{1, `(?:Aborted login|Disconnected)(?:.*?)rip=([0-9a-fA-F.:]+)`},
		{2, `warning: unknown\[([0-9a-fA-F.:]+)\]: SASL .* authentication failed`},
		{3, `SOGo.*Login from '([0-9a-fA-F.:]+)' for user .* might not be authorized`},
	}
}

// GetRegex reads NETFILTER_REGEX from the store. If absent, it writes the
// compiled-in defaults and returns them. If present but not valid JSON, it
// returns a KindValidation error. Rules are returned ordered by ascending
// numeric rule-id so matching is deterministic across runs.
func GetRegex(ctx context.Context, s *store.Store) ([]RegexRule, error) {
	raw, err := s.GetString(ctx, store.KeyRegex)
	if errors.Is(err, redis.Nil) {
		defaults := DefaultRegex()
		m := make(map[string]string, len(defaults))
		for _, r := range defaults {
			m[strconv.Itoa(r.ID)] = r.Pattern
		}
		blob, mErr := json.Marshal(m)
		if mErr != nil {
			return nil, ferrors.Wrap(mErr, ferrors.KindInternal, "config: marshal default regex")
		}
		if sErr := s.SetString(ctx, store.KeyRegex, string(blob)); sErr != nil {
			return nil, ferrors.Wrap(sErr, ferrors.KindUnavailable, "config: write default regex")
		}
		return defaults, nil
	}
	if err != nil {
		return nil, ferrors.Wrap(err, ferrors.KindUnavailable, "config: read regex")
	}

	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, ferrors.Attr(
			ferrors.Wrap(err, ferrors.KindValidation, fmt.Sprintf("config: %s is not valid JSON", store.KeyRegex)),
			"raw", raw,
		)
	}

	rules := make([]RegexRule, 0, len(m))
	for k, v := range m {
		id, err := strconv.Atoi(k)
		if err != nil {
			// A malformed rule-id is skipped, not fatal: only the bus-level
			// JSON decode failure is a configuration error.
			continue
		}
		rules = append(rules, RegexRule{ID: id, Pattern: v})
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}
