// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package chainorder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailcow.email/netfilter/internal/firewall"
)

type fakeLister struct {
	rules map[string][]firewall.Rule
}

func (f *fakeLister) ListRules(chainName string) ([]firewall.Rule, error) {
	return f.rules[chainName], nil
}

func TestCheckChain_OKWhenJumpAtHead(t *testing.T) {
	lister := &fakeLister{rules: map[string][]firewall.Rule{
		"FORWARD": {{Target: firewall.TargetJump, JumpTo: "MAILCOW", Position: 0}},
	}}
	var gotCode int
	l := New(lister, "MAILCOW", time.Second, func(code int) { gotCode = code }, nil)

	ok := l.checkChain(context.Background(), "FORWARD")
	assert.True(t, ok)
	assert.Zero(t, gotCode)
}

func TestCheckChain_ViolationWhenDisplaced(t *testing.T) {
	lister := &fakeLister{rules: map[string][]firewall.Rule{
		"FORWARD": {
			{Target: firewall.TargetReject, Position: 0},
			{Target: firewall.TargetReject, Position: 1},
			{Target: firewall.TargetReject, Position: 2},
			{Target: firewall.TargetJump, JumpTo: "MAILCOW", Position: 3},
		},
	}}
	var gotCode int
	shutdown := func(code int) { gotCode = code }
	l := New(lister, "MAILCOW", time.Second, shutdown, nil)

	ok := l.checkChain(context.Background(), "FORWARD")
	assert.False(t, ok)
	require.Equal(t, 2, gotCode)
}

func TestCheckChain_ViolationWhenMissing(t *testing.T) {
	lister := &fakeLister{rules: map[string][]firewall.Rule{"FORWARD": {}}}
	var gotCode int
	l := New(lister, "MAILCOW", time.Second, func(code int) { gotCode = code }, nil)

	ok := l.checkChain(context.Background(), "FORWARD")
	assert.False(t, ok)
	assert.Equal(t, 2, gotCode)
}
