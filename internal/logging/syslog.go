// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"fmt"
	"io"
	"log/syslog"

	"mailcow.email/netfilter/internal/ferrors"
)

// SyslogConfig controls an optional remote syslog mirror for the daemon's
// log output. It is disabled by default, and the static settings file has
// no field that enables it; NewSyslogWriter is the only way to use it.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string
	Tag      string
	Facility syslog.Priority
}

// DefaultSyslogConfig returns the disabled baseline syslog configuration.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "flywall",
		Facility: syslog.Priority(1),
	}
}

// NewSyslogWriter dials a remote syslog daemon and returns an io.Writer
// suitable for use as a Config.Output. Port, Protocol and Tag are defaulted
// when left zero; Host is required.
func NewSyslogWriter(cfg SyslogConfig) (io.Writer, error) {
	if cfg.Host == "" {
		return nil, ferrors.New(ferrors.KindValidation, "syslog: host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "flywall"
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	w, err := syslog.Dial(cfg.Protocol, addr, cfg.Facility|syslog.LOG_INFO, cfg.Tag)
	if err != nil {
		return nil, ferrors.Wrapf(err, ferrors.KindUnavailable, "syslog: dial %s://%s", cfg.Protocol, addr)
	}
	return w, nil
}
