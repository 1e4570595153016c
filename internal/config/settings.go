// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"net/netip"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"mailcow.email/netfilter/internal/ferrors"
)

// settingsFile is the decoded shape of the static bootstrap HCL file. Field
// names use the same hcl-tag convention as the daemon's own topology
// config: the body, optional fields, string-typed durations parsed after
// decode.
type settingsFile struct {
	IPv4Network  string `hcl:"ipv4_network,optional"`
	IPv6Network  string `hcl:"ipv6_network,optional"`
	ChainName    string `hcl:"chain_name,optional"`
	StateDir     string `hcl:"state_dir,optional"`
	PollInterval string `hcl:"poll_interval,optional"`
	ListInterval string `hcl:"list_interval,optional"`
}

// Settings holds the static, host-local topology values needed before the
// key-value store connection exists: internal networks, the packet-filter
// chain name, the state directory, and the cadence of the reconciliation
// loops.
type Settings struct {
	IPv4Network  netip.Prefix
	IPv6Network  netip.Prefix
	ChainName    string
	StateDir     string
	PollInterval time.Duration
	ListInterval time.Duration
}

// DefaultSettings returns the compiled-in zero-value defaults used when no
// bootstrap file is configured.
func DefaultSettings() Settings {
	v4, _ := netip.ParsePrefix("172.22.1.0/24")
	v6, _ := netip.ParsePrefix("fd4d:6169:6c63:6f77::/64")
	return Settings{
		IPv4Network:  v4,
		IPv6Network:  v6,
		ChainName:    "MAILCOW",
		StateDir:     "/var/lib/netfilterd",
		PollInterval: 10 * time.Second,
		ListInterval: 60 * time.Second,
	}
}

// LoadSettings builds Settings from the compiled-in defaults, the
// IPV4_NETWORK/IPV6_NETWORK environment variables (§6), and finally the
// static bootstrap file at path, each layer overriding the previous one.
// An empty path skips the file layer.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()

	if v := os.Getenv("IPV4_NETWORK"); v != "" {
		p, err := parseV4Network(v)
		if err != nil {
			return Settings{}, err
		}
		settings.IPv4Network = p
	}
	if v := os.Getenv("IPV6_NETWORK"); v != "" {
		p, err := netip.ParsePrefix(v)
		if err != nil {
			return Settings{}, ferrors.Wrapf(err, ferrors.KindValidation, "config: IPV6_NETWORK %q", v)
		}
		settings.IPv6Network = p.Masked()
	}

	if path == "" {
		return settings, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return settings, nil
	}

	var f settingsFile
	if err := hclsimple.DecodeFile(path, nil, &f); err != nil {
		return Settings{}, ferrors.Wrapf(err, ferrors.KindValidation, "config: parse %s", path)
	}

	if f.IPv4Network != "" {
		p, err := parseV4Network(f.IPv4Network)
		if err != nil {
			return Settings{}, err
		}
		settings.IPv4Network = p
	}
	if f.IPv6Network != "" {
		p, err := netip.ParsePrefix(f.IPv6Network)
		if err != nil {
			return Settings{}, ferrors.Wrapf(err, ferrors.KindValidation, "config: ipv6_network %q", f.IPv6Network)
		}
		settings.IPv6Network = p.Masked()
	}
	if f.ChainName != "" {
		settings.ChainName = f.ChainName
	}
	if f.StateDir != "" {
		settings.StateDir = f.StateDir
	}
	if f.PollInterval != "" {
		d, err := time.ParseDuration(f.PollInterval)
		if err != nil {
			return Settings{}, ferrors.Wrapf(err, ferrors.KindValidation, "config: poll_interval %q", f.PollInterval)
		}
		settings.PollInterval = d
	}
	if f.ListInterval != "" {
		d, err := time.ParseDuration(f.ListInterval)
		if err != nil {
			return Settings{}, ferrors.Wrapf(err, ferrors.KindValidation, "config: list_interval %q", f.ListInterval)
		}
		settings.ListInterval = d
	}
	return settings, nil
}

// parseV4Network accepts either a dotted first-three-octets string (the
// IPV4_NETWORK environment convention, e.g. "172.22.1") or a full CIDR, and
// returns the /24 prefix.
func parseV4Network(s string) (netip.Prefix, error) {
	if p, err := netip.ParsePrefix(s); err == nil {
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s + ".0")
	if err != nil {
		return netip.Prefix{}, ferrors.Wrapf(err, ferrors.KindValidation, "config: ipv4_network %q", s)
	}
	return netip.PrefixFrom(addr, 24).Masked(), nil
}
