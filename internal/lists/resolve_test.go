// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package lists

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"

	"mailcow.email/netfilter/internal/logging"
)

type fakeResolver struct {
	addrs map[string][]netip.Addr
}

func (f *fakeResolver) Resolve(ctx context.Context, hostname string) ([]netip.Addr, error) {
	return f.addrs[hostname], nil
}

func TestGenNetworkList_MixesLiteralsAndHostnames(t *testing.T) {
	resolver := &fakeResolver{addrs: map[string][]netip.Addr{
		"bad.example.com": {netip.MustParseAddr("198.51.100.7")},
	}}
	log := logging.WithComponent("test")

	got := GenNetworkList(context.Background(), []string{
		"203.0.113.0/24",
		"192.0.2.1",
		"bad.example.com",
	}, resolver, log)

	assert.Contains(t, got, netip.MustParsePrefix("203.0.113.0/24"))
	assert.Contains(t, got, netip.MustParsePrefix("192.0.2.1/32"))
	assert.Contains(t, got, netip.MustParsePrefix("198.51.100.7/32"))
	assert.Len(t, got, 3)
}

func TestGenNetworkList_SkipsUnresolvableHostname(t *testing.T) {
	resolver := &fakeResolver{addrs: map[string][]netip.Addr{}}
	log := logging.WithComponent("test")

	got := GenNetworkList(context.Background(), []string{"nowhere.example.com"}, resolver, log)
	assert.Empty(t, got)
}
