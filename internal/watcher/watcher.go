// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package watcher subscribes to the event bus, applies the regex corpus to
// each message, and routes matched addresses to the ban engine for the
// matching address family.
package watcher

import (
	"context"
	"net/netip"
	"regexp"

	"github.com/google/uuid"

	"mailcow.email/netfilter/internal/config"
	"mailcow.email/netfilter/internal/ferrors"
	"mailcow.email/netfilter/internal/firewall"
	"mailcow.email/netfilter/internal/logging"
	"mailcow.email/netfilter/internal/netaddr"
	"mailcow.email/netfilter/internal/store"
)

// Attempter is the subset of banengine.Engine the watcher depends on,
// indexed by address family.
type Attempter interface {
	Attempt(ctx context.Context, addr netip.Addr, opts config.Options) error
}

// Loop is the C4 event matcher. It owns the pub/sub subscription for the
// lifetime of the process; an unexpected error from the bus is fatal.
type Loop struct {
	s          *store.Store
	engines    map[firewall.Family]Attempter
	log        *logging.Logger
	shutdownFn func(code int)
}

// New constructs a watcher Loop. engines must contain an entry for
// firewall.IPv4 and, if IPv6 traffic is possible, firewall.IPv6.
func New(s *store.Store, engines map[firewall.Family]Attempter, shutdownFn func(code int)) *Loop {
	return &Loop{
		s:          s,
		engines:    engines,
		log:        logging.WithComponent("watcher"),
		shutdownFn: shutdownFn,
	}
}

// Run subscribes to the event channel and processes messages until ctx is
// canceled or the bus reports an unrecoverable error.
func (l *Loop) Run(ctx context.Context) {
	pubsub := l.s.Subscribe(ctx)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				l.log.Crit("event bus channel closed unexpectedly")
				l.shutdownFn(2)
				return
			}
			l.handle(ctx, msg.Payload)
		}
	}
}

func (l *Loop) handle(ctx context.Context, payload string) {
	rules, err := config.GetRegex(ctx, l.s)
	if err != nil {
		if ferrors.GetKind(err) == ferrors.KindValidation {
			l.logFatalConfig("malformed regex configuration", err)
			l.shutdownFn(2)
			return
		}
		l.log.Warn("failed to refresh regex corpus", "error", err)
		return
	}

	for _, rule := range rules {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			continue // malformed pattern: skipped silently, not fatal
		}
		m := re.FindStringSubmatch(payload)
		if m == nil || len(m) < 2 {
			continue
		}
		addr, err := netip.ParseAddr(m[1])
		if err != nil {
			continue
		}
		addr = addr.Unmap()
		if netaddr.IsPrivateOrLoopback(addr) {
			continue
		}

		corrID := uuid.New()
		l.log.Info("matched auth failure", "rule_id", rule.ID, "address", addr, "correlation_id", corrID)

		family := firewall.IPv4
		if addr.Is6() {
			family = firewall.IPv6
		}
		engine, ok := l.engines[family]
		if !ok {
			continue
		}
		opts, err := config.GetOptions(ctx, l.s)
		if err != nil {
			if ferrors.GetKind(err) == ferrors.KindValidation {
				l.logFatalConfig("malformed options configuration", err)
				l.shutdownFn(2)
				return
			}
			l.log.Warn("failed to refresh options", "error", err)
			return
		}
		if err := engine.Attempt(ctx, addr, opts); err != nil {
			l.log.Warn("attempt processing failed", "correlation_id", corrID, "error", err)
		}
		return // first successful match wins, matching the source's loop-break
	}
}

// logFatalConfig logs a KindValidation configuration error at crit level,
// including the raw malformed blob ferrors.Attr attached at the read site
// so the operator can see what was actually stored without re-reading the
// key by hand.
func (l *Loop) logFatalConfig(message string, err error) {
	if key, val, ok := ferrors.GetAttr(err); ok {
		l.log.Crit(message, "error", err, key, val)
		return
	}
	l.log.Crit(message, "error", err)
}
