// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package store wraps the key-value collaborator netfilterd depends on for
// dynamic configuration, ban bookkeeping, allow/blocklists and the event
// pub/sub channel. It is a thin, typed layer over go-redis; nothing here
// encodes policy.
package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"mailcow.email/netfilter/internal/ferrors"
	"mailcow.email/netfilter/internal/logging"
)

// Key names for the hashes, strings and lists this daemon shares with the
// rest of the mail stack through the key-value store.
const (
	KeyOptions    = "NETFILTER_OPTIONS"
	KeyRegex      = "NETFILTER_REGEX"
	Channel       = "NETFILTER_CHANNEL"
	KeyActiveBans = "NETFILTER_ACTIVE_BANS"
	KeyPermBans   = "NETFILTER_PERM_BANS"
	KeyUnbanQueue = "NETFILTER_QUEUE_UNBAN"
	KeyWhitelist  = "NETFILTER_WHITELIST"
	KeyBlacklist  = "NETFILTER_BLACKLIST"
	KeyLog        = "NETFILTER_LOG"

	logListMax = 10000
)

// Config describes how to reach the key-value store.
type Config struct {
	Addr string
	DB   int
}

// Store is the daemon's view of the key-value collaborator. It is backed by
// a single shared *redis.Client, which is safe for concurrent use by every
// loop.
type Store struct {
	rdb *redis.Client
	log *logging.Logger
}

// Connect dials the store, retrying every 3 seconds until the connection is
// confirmed with a PING, matching the daemon's own startup discipline for
// collaborator dependencies that may not be up yet.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	log := logging.WithComponent("store")
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	s := &Store{rdb: rdb, log: log}

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			return s, nil
		}
		log.Warn("store connection not ready, retrying", "addr", cfg.Addr, "error", err)
		select {
		case <-ctx.Done():
			return nil, ferrors.Wrap(ctx.Err(), ferrors.KindUnavailable, "store: connect canceled")
		case <-ticker.C:
		}
	}
}

// Client exposes the underlying redis client for callers (subscriptions,
// pipelines) that need operations this thin wrapper does not cover.
func (s *Store) Client() *redis.Client { return s.rdb }

// GetString reads a single string key. redis.Nil is surfaced unwrapped so
// callers can test errors.Is(err, redis.Nil) to distinguish "absent" from a
// transport failure.
func (s *Store) GetString(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		return "", err
	}
	return v, nil
}

// SetString writes a single string key with no expiry.
func (s *Store) SetString(ctx context.Context, key, val string) error {
	return s.rdb.Set(ctx, key, val, 0).Err()
}

// HGetAll reads a full hash.
func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, key).Result()
}

// HSet sets a single hash field.
func (s *Store) HSet(ctx context.Context, key, field, val string) error {
	return s.rdb.HSet(ctx, key, field, val).Err()
}

// HDel removes a hash field. Absent fields are not an error.
func (s *Store) HDel(ctx context.Context, key, field string) error {
	return s.rdb.HDel(ctx, key, field).Err()
}

// DelKey removes an entire key (hash, string or list). Absent keys are not
// an error. Used by Clear() to wipe ACTIVE_BANS/PERM_BANS at startup.
func (s *Store) DelKey(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// PushLog left-pushes a JSON log record and trims the list so it cannot
// grow unbounded.
func (s *Store) PushLog(ctx context.Context, record string) error {
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, KeyLog, record)
	pipe.LTrim(ctx, KeyLog, 0, logListMax-1)
	_, err := pipe.Exec(ctx)
	return err
}

// Subscribe opens a pub/sub subscription on the event channel.
func (s *Store) Subscribe(ctx context.Context) *redis.PubSub {
	return s.rdb.Subscribe(ctx, Channel)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}
