// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command netfilterd is the network intrusion-response daemon for the mail
// stack: it correlates authentication-failure events per source address,
// installs kernel reject rules once a threshold is crossed, enforces an
// operator allowlist/blocklist, ages bans out, and guards the position of
// its jump chain and SNAT rule against external interference.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"mailcow.email/netfilter/internal/autopurge"
	"mailcow.email/netfilter/internal/banengine"
	"mailcow.email/netfilter/internal/chainorder"
	"mailcow.email/netfilter/internal/config"
	"mailcow.email/netfilter/internal/firewall"
	"mailcow.email/netfilter/internal/httpapi"
	"mailcow.email/netfilter/internal/lifecycle"
	"mailcow.email/netfilter/internal/lists"
	"mailcow.email/netfilter/internal/logging"
	"mailcow.email/netfilter/internal/metrics"
	"mailcow.email/netfilter/internal/snat"
	"mailcow.email/netfilter/internal/store"
	"mailcow.email/netfilter/internal/watcher"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logging.WithComponent("main")

	settings, err := config.LoadSettings(os.Getenv("NETFILTERD_CONFIG"))
	if err != nil {
		log.Crit("failed to load static configuration", "error", err)
		return 2
	}

	s, err := store.Connect(context.Background(), store.Config{Addr: storeAddr(settings)})
	if err != nil {
		log.Crit("failed to connect to key-value store", "error", err)
		return 2
	}
	defer s.Close()

	logging.SetSink(func(priority logging.Priority, message string) {
		rec, err := json.Marshal(struct {
			Time     int64  `json:"time"`
			Priority string `json:"priority"`
			Message  string `json:"message"`
		}{Time: time.Now().Unix(), Priority: string(priority), Message: message})
		if err != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.PushLog(ctx, string(rec))
	})

	m := metrics.New()

	rt := lifecycle.New(s, m, settings.ChainName)

	filterV4, err := firewall.NewAdapter(firewall.IPv4)
	if err != nil {
		log.Crit("failed to open IPv4 filter table", "error", err)
		return 2
	}
	filterV6, err := firewall.NewAdapter(firewall.IPv6)
	if err != nil {
		log.Crit("failed to open IPv6 filter table", "error", err)
		return 2
	}
	rt.FilterV4 = filterV4
	rt.FilterV6 = filterV6

	if err := rt.Clear(rt.Ctx); err != nil {
		log.Crit("failed to clear prior state", "error", err)
		return 2
	}
	if err := rt.InitChain(); err != nil {
		log.Crit("failed to initialize chain", "error", err)
		return 2
	}

	engineV4 := banengine.New(firewall.IPv4, settings.ChainName, filterV4, s, rt.LedgerV4, m, rt.FilterMu)
	engineV6 := banengine.New(firewall.IPv6, settings.ChainName, filterV6, s, rt.LedgerV6, m, rt.FilterMu)

	rt.InstallSignalHandler()

	go watcher.New(s, map[firewall.Family]watcher.Attempter{
		firewall.IPv4: engineV4,
		firewall.IPv6: engineV6,
	}, rt.Shutdown).Run(rt.Ctx)

	go autopurge.New(s, firewall.IPv4, engineV4, rt.LedgerV4, settings.PollInterval, m).Run(rt.Ctx)
	go autopurge.New(s, firewall.IPv6, engineV6, rt.LedgerV6, settings.PollInterval, m).Run(rt.Ctx)

	resolver := lists.NewDNSResolver(resolverAddr())
	go lists.NewAllowlistLoop(s, map[firewall.Family]lists.AllowlistSetter{
		firewall.IPv4: engineV4,
		firewall.IPv6: engineV6,
	}, resolver, settings.ListInterval, rt).Run(rt.Ctx)
	go lists.NewBlocklistLoop(s, map[firewall.Family]lists.PermBanner{
		firewall.IPv4: engineV4,
		firewall.IPv6: engineV6,
	}, resolver, settings.ListInterval, rt).Run(rt.Ctx)

	go chainorder.New(filterV4, settings.ChainName, settings.PollInterval, rt.Shutdown, m).Run(rt.Ctx)
	go chainorder.New(filterV6, settings.ChainName, settings.PollInterval, rt.Shutdown, m).Run(rt.Ctx)

	if snatTarget, ok := snatV4Target(); ok {
		natV4, err := firewall.NewNATAdapter(firewall.IPv4)
		if err != nil {
			log.Warn("failed to open IPv4 NAT table, SNAT4 guard disabled", "error", err)
		} else {
			go snat.New(natV4, firewall.IPv4, settings.IPv4Network, snatTarget, settings.PollInterval, rt.FilterMu, m).Run(rt.Ctx)
		}
	}
	if snatV6Enabled() {
		natV6, err := firewall.NewNATAdapter(firewall.IPv6)
		if err != nil {
			log.Warn("failed to open IPv6 NAT table, SNAT6 guard disabled", "error", err)
		} else {
			go snat.New(natV6, firewall.IPv6, settings.IPv6Network, netip.Addr{}, settings.PollInterval, rt.FilterMu, m).Run(rt.Ctx)
		}
	}

	httpAddr := os.Getenv("NETFILTERD_HTTP_ADDR")
	if _, set := os.LookupEnv("NETFILTERD_HTTP_ADDR"); !set {
		httpAddr = "127.0.0.1:8698"
	}
	httpSrv := httpapi.New(httpAddr, m, rt, rt.Healthy)
	go httpSrv.Start(rt.Ctx)

	code := rt.Wait()
	if err := rt.Clear(context.Background()); err != nil {
		log.Warn("failed to clear state on exit", "error", err)
	}
	return code
}

func storeAddr(s config.Settings) string {
	if host := os.Getenv("REDIS_SLAVEOF_IP"); host != "" {
		port := os.Getenv("REDIS_SLAVEOF_PORT")
		if port == "" {
			port = "6379"
		}
		return fmt.Sprintf("%s:%s", host, port)
	}
	base := s.IPv4Network.Addr().As4()
	return fmt.Sprintf("%d.%d.%d.249:6379", base[0], base[1], base[2])
}

func resolverAddr() string {
	data, err := os.ReadFile("/etc/resolv.conf")
	if err != nil {
		return "127.0.0.11:53"
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "nameserver" {
			return fields[1] + ":53"
		}
	}
	return "127.0.0.11:53"
}

func snatV4Target() (netip.Addr, bool) {
	v := os.Getenv("SNAT_TO_SOURCE")
	if v == "" || v == "n" {
		return netip.Addr{}, false
	}
	addr, err := netip.ParseAddr(v)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}

func snatV6Enabled() bool {
	v := os.Getenv("SNAT6_TO_SOURCE")
	return v != "" && v != "n"
}
