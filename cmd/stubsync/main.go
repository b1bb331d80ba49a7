package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/nullstack-solutions/stubsync/internal/adminsync"
	"github.com/nullstack-solutions/stubsync/internal/httpapi"
	"github.com/nullstack-solutions/stubsync/internal/stubs"
)

func main() {
	configPath := flag.String("config", strings.TrimSpace(os.Getenv("STUBSYNC_CONFIG")), "optional YAML config file")
	baseURL := flag.String("base-url", envOrDefault("STUBSYNC_BASE_URL", ""), "mock-server admin API base URL")
	token := flag.String("token", strings.TrimSpace(os.Getenv("STUBSYNC_TOKEN")), "bearer token for the admin API")
	listen := flag.String("listen", envOrDefault("STUBSYNC_LISTEN", ":8787"), "local address for the UI-facing API")
	probeInterval := flag.Duration("probe-interval", durationEnv("STUBSYNC_PROBE_INTERVAL", 0), "staleness probe interval")
	syncInterval := flag.Duration("sync-interval", durationEnv("STUBSYNC_SYNC_INTERVAL", 0), "full sync interval")
	rebuildInterval := flag.Duration("rebuild-interval", durationEnv("STUBSYNC_REBUILD_INTERVAL", 0), "cache rebuild interval")
	syncTimeout := flag.Duration("sync-timeout", durationEnv("STUBSYNC_SYNC_TIMEOUT", 0), "full sync hard deadline")
	cacheTTL := flag.Duration("cache-ttl", durationEnv("STUBSYNC_CACHE_TTL", 0), "service cache max age")
	jitter := flag.Float64("jitter", floatEnv("STUBSYNC_JITTER", 0.2), "full sync interval jitter ratio (0.0-1.0)")
	once := flag.Bool("once", false, "run one full sync and exit")
	flag.Parse()

	logger := log.New(os.Stderr, "stubsync ", log.LstdFlags)

	cfg, err := loadConfigFile(*configPath)
	if err != nil {
		logger.Fatalf("config file %s: %v", *configPath, err)
	}
	applyOverrides(&cfg, *baseURL, *token, *listen, *probeInterval, *syncInterval, *rebuildInterval, *syncTimeout, *cacheTTL, *jitter)
	if cfg.BaseURL == "" {
		logger.Fatalf("base URL is required (--base-url, STUBSYNC_BASE_URL or config file)")
	}

	client := adminsync.NewHTTPClient(adminsync.HTTPClientOptions{
		BaseURL: cfg.BaseURL,
		Token:   cfg.Token,
		Logger:  logger,
	})
	hub := httpapi.NewHub(logger)
	store := stubs.NewStore(stubs.StoreOptions{Notifier: hub, Logger: logger})
	resolver := stubs.NewResolver(store, hub, logger)
	cache := adminsync.NewCacheProtocol(client, adminsync.CacheOptions{
		TTL:    cfg.CacheTTL.std(),
		Logger: logger,
	})
	scheduler := adminsync.NewScheduler(client, store, resolver, cache, adminsync.SchedulerOptions{
		ProbeInterval:        cfg.Intervals.Probe.std(),
		FullSyncInterval:     cfg.Intervals.FullSync.std(),
		CacheRebuildInterval: cfg.Intervals.CacheRebuild.std(),
		FullSyncTimeout:      cfg.Timeouts.FullSync.std(),
		CacheWriteTimeout:    cfg.Timeouts.CacheWrite.std(),
		Jitter:               cfg.Jitter,
		Notifier:             hub,
		Logger:               logger,
	})
	mutator := adminsync.NewMutator(client, store, adminsync.MutatorOptions{Logger: logger})
	server := httpapi.NewServer(store, mutator, scheduler, httpapi.ServerOptions{Hub: hub, Logger: logger})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		if err := scheduler.FullSync(ctx); err != nil {
			logger.Fatalf("full sync failed: %v", err)
		}
		stats := store.Stats()
		logger.Printf("synced %d mappings in %s", stats.Count, stats.LastSyncDuration)
		return
	}

	if err := scheduler.ColdStart(ctx); err != nil {
		// The view stays readable even when the first sync fails; the
		// scheduler retries on its own ticks.
		logger.Printf("cold start incomplete: %v", err)
	}

	go scheduler.Run(ctx)

	httpServer := &http.Server{Addr: cfg.ListenOn, Handler: server}
	go func() {
		logger.Printf("stubsync listening on %s (admin API %s)", cfg.ListenOn, cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

func applyOverrides(cfg *Config, baseURL, token, listen string, probe, sync, rebuild, syncTimeout, cacheTTL time.Duration, jitter float64) {
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if token != "" {
		cfg.Token = token
	}
	if listen != "" {
		cfg.ListenOn = listen
	}
	if cfg.ListenOn == "" {
		cfg.ListenOn = ":8787"
	}
	if probe > 0 {
		cfg.Intervals.Probe = duration(probe)
	}
	if sync > 0 {
		cfg.Intervals.FullSync = duration(sync)
	}
	if rebuild > 0 {
		cfg.Intervals.CacheRebuild = duration(rebuild)
	}
	if syncTimeout > 0 {
		cfg.Timeouts.FullSync = duration(syncTimeout)
	}
	if cacheTTL > 0 {
		cfg.CacheTTL = duration(cacheTTL)
	}
	if jitter > 0 {
		cfg.Jitter = jitter
	}
}

func envOrDefault(name, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback)
		return fallback
	}
	return value
}

func floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %g", name, raw, fallback)
		return fallback
	}
	return value
}
