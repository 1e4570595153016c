// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	assert.Equal(t, 1800, o.BanTime)
	assert.Equal(t, 10, o.MaxAttempts)
	assert.Equal(t, 600, o.RetryWindow)
	assert.Equal(t, 32, o.NetbanIPv4)
	assert.Equal(t, 128, o.NetbanIPv6)
}

func TestDefaultRegex_OrderedByRuleID(t *testing.T) {
	rules := DefaultRegex()
	for i := 1; i < len(rules); i++ {
		assert.Less(t, rules[i-1].ID, rules[i].ID)
	}
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, "MAILCOW", s.ChainName)
	assert.Equal(t, "/var/lib/netfilterd", s.StateDir)
	assert.Equal(t, "172.22.1.0/24", s.IPv4Network.String())
}

func TestLoadSettings_MissingFileReturnsDefaults(t *testing.T) {
	s, err := LoadSettings("/nonexistent/netfilter.hcl")
	assert := assert.New(t)
	assert.NoError(err)
	assert.Equal(DefaultSettings(), s)
}
