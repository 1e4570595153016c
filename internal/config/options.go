// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config provides the daemon's two configuration tiers: a static
// bootstrap file (settings.go, hcl.v2) describing local host topology, and
// dynamic read-through accessors (options.go, regex.go) for the tunables
// and regex corpus the operator manages through the key-value store.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"mailcow.email/netfilter/internal/ferrors"
	"mailcow.email/netfilter/internal/store"
)

// Options are the ban-engine tunables, consulted fresh on every decision
// per the store's read-through contract.
type Options struct {
	BanTime      int `json:"ban_time"`
	MaxAttempts  int `json:"max_attempts"`
	RetryWindow  int `json:"retry_window"`
	NetbanIPv4   int `json:"netban_ipv4"`
	NetbanIPv6   int `json:"netban_ipv6"`
}

// DefaultOptions returns the compiled-in defaults written to the store the
// first time it is consulted.
func DefaultOptions() Options {
	return Options{
		BanTime:     1800,
		MaxAttempts: 10,
		RetryWindow: 600,
		NetbanIPv4:  32,
		NetbanIPv6:  128,
	}
}

// GetOptions reads NETFILTER_OPTIONS from the store. If absent, it writes
// the compiled-in defaults and returns them. If present but not valid JSON,
// it returns a KindValidation error — a fatal configuration condition the
// caller must treat as a shutdown trigger.
func GetOptions(ctx context.Context, s *store.Store) (Options, error) {
	raw, err := s.GetString(ctx, store.KeyOptions)
	if errors.Is(err, redis.Nil) {
		defaults := DefaultOptions()
		blob, mErr := json.Marshal(defaults)
		if mErr != nil {
			return Options{}, ferrors.Wrap(mErr, ferrors.KindInternal, "config: marshal default options")
		}
		if sErr := s.SetString(ctx, store.KeyOptions, string(blob)); sErr != nil {
			return Options{}, ferrors.Wrap(sErr, ferrors.KindUnavailable, "config: write default options")
		}
		return defaults, nil
	}
	if err != nil {
		return Options{}, ferrors.Wrap(err, ferrors.KindUnavailable, "config: read options")
	}

	var opts Options
	if err := json.Unmarshal([]byte(raw), &opts); err != nil {
		return Options{}, ferrors.Attr(
			ferrors.Wrap(err, ferrors.KindValidation, fmt.Sprintf("config: %s is not valid JSON", store.KeyOptions)),
			"raw", raw,
		)
	}
	return opts, nil
}
