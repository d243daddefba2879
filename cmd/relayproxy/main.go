package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/denisvmedia/relayproxy/cert"
	"github.com/denisvmedia/relayproxy/internal/activity"
	"github.com/denisvmedia/relayproxy/internal/chainproxy"
	"github.com/denisvmedia/relayproxy/internal/resolve"
	"github.com/denisvmedia/relayproxy/proxy"
	"github.com/denisvmedia/relayproxy/version"
)

// defaultReapThreshold is the idle-server reap cutoff used when no
// IdleTimeout is configured.
const defaultReapThreshold = 5 * time.Minute

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	var logWriter = os.Stdout
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: level}))
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			slog.Error("failed to open log file", "error", err)
			os.Exit(1)
		}
		defer f.Close()
		logger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	}
	slog.SetDefault(logger)
	logger.Info("relayproxy starting", "version", version.Version)

	ca, err := cert.NewSelfSignCA(cfg.CertPath)
	if err != nil {
		logger.Error("failed to create CA", "error", err)
		os.Exit(1)
	}

	resolver, err := buildResolver(cfg)
	if err != nil {
		logger.Error("failed to build resolver", "error", err)
		os.Exit(1)
	}

	proxyCfg := &proxy.Config{
		Addr:                       cfg.Addr,
		Transparent:                cfg.Transparent,
		IdleTimeout:                cfg.IdleTimeout,
		RequestTimeout:             cfg.RequestTimeout,
		InsecureSkipVerifyUpstream: cfg.SslInsecure,
		UseDNSSEC:                  cfg.UseDNSSEC,
		KeyStoreManager:            ca,
		AddressResolver:            resolver,
		ChainProxyManager:          buildChainProxyManager(cfg),
		EnableGeoIPTracking:        cfg.EnableGeoIP,
		GeoIPDBPath:                cfg.GeoIPDBPath,
		ActivityDBPath:             cfg.ActivityDBPath,
	}

	logTracker := activity.NewLogTracker(logger)
	proxyCfg.ActivityTrackers = append(proxyCfg.ActivityTrackers, logTracker)

	if cfg.EnableGeoIP && cfg.GeoIPDBPath != "" {
		geo, err := activity.NewGeoIPTracker(cfg.GeoIPDBPath, logger)
		if err != nil {
			logger.Warn("failed to open GeoIP database, continuing without it", "error", err)
		} else {
			defer geo.Close()
			proxyCfg.ActivityTrackers = append(proxyCfg.ActivityTrackers, geo)
		}
	}

	if cfg.ActivityDBPath != "" {
		sqliteTracker, err := activity.NewSQLiteTracker(cfg.ActivityDBPath, logger)
		if err != nil {
			logger.Warn("failed to open activity database, continuing without it", "error", err)
		} else {
			defer sqliteTracker.Close()
			proxyCfg.ActivityTrackers = append(proxyCfg.ActivityTrackers, sqliteTracker)
		}
	}

	if cfg.ProxyAuth != "" && strings.ToLower(cfg.ProxyAuth) != "any" {
		user, pass, ok := strings.Cut(cfg.ProxyAuth, ":")
		if ok {
			proxyCfg.Authenticator = proxy.StaticAuthenticator{Username: user, Password: pass}
			logger.Info("proxy authentication enabled")
		} else {
			logger.Warn("proxy-auth must be user:pass, ignoring")
		}
	}

	p := proxy.New(proxyCfg, logger)

	reapThreshold := cfg.IdleTimeout
	if reapThreshold <= 0 {
		reapThreshold = defaultReapThreshold
	}
	reaper := cron.New()
	reaper.AddFunc("@every 1m", func() {
		logger.Debug("reaping idle server connections", "threshold", reapThreshold)
		p.ReapIdleServers(reapThreshold)
	})
	reaper.Start()
	defer reaper.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := p.ListenAndServe(ctx); err != nil {
		logger.Error("proxy exited", "error", err)
		os.Exit(1)
	}
}

func buildResolver(cfg fileConfig) (proxy.AddressResolver, error) {
	var opts []resolve.Option
	if cfg.UseDNSSEC {
		opts = append(opts, resolve.WithDNSSEC("1.1.1.1:53"))
	}
	return resolve.New(opts...)
}

func buildChainProxyManager(cfg fileConfig) proxy.ChainProxyManager {
	m := chainproxy.FromEnvironment()
	m.AddGlobBypass(cfg.IgnoreHosts...)
	return m
}
