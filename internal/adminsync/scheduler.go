package adminsync

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nullstack-solutions/stubsync/internal/stubs"
)

const (
	DefaultProbeInterval        = 30 * time.Second
	DefaultFullSyncInterval     = 5 * time.Minute
	DefaultCacheRebuildInterval = 60 * time.Second
	DefaultFullSyncTimeout      = 90 * time.Second
	DefaultCacheWriteTimeout    = 30 * time.Second
)

// Scheduler drives the three periodic reconciliation tasks. Each task carries
// its own in-flight flag: a tick that fires while the previous run is still
// outstanding is dropped, not queued. The staleness probe performs no network
// I/O at all; with 20+ clients polling a listing that takes 40-50s, letting
// the probe fetch would turn every tick into a request storm.
type Scheduler struct {
	client   RemoteClient
	store    *stubs.Store
	resolver *stubs.Resolver
	cache    *CacheProtocol
	notifier stubs.Notifier
	logger   stubs.Logger

	probeInterval   time.Duration
	syncInterval    time.Duration
	rebuildInterval time.Duration
	syncTimeout     time.Duration
	writeTimeout    time.Duration
	staleAfter      time.Duration
	jitter          float64

	probeInFlight   atomic.Bool
	syncInFlight    atomic.Bool
	rebuildInFlight atomic.Bool

	// epoch stamps each full sync; a response arriving for an older epoch is
	// discarded instead of overwriting data from a newer cycle.
	epoch atomic.Uint64

	mu            sync.Mutex
	lastFullSync  time.Time
	lastDuration  time.Duration
	lastSignature string
	stale         bool
}

type SchedulerOptions struct {
	ProbeInterval        time.Duration
	FullSyncInterval     time.Duration
	CacheRebuildInterval time.Duration
	FullSyncTimeout      time.Duration
	CacheWriteTimeout    time.Duration
	StaleAfter           time.Duration
	Jitter               float64
	Notifier             stubs.Notifier
	Logger               stubs.Logger
}

type SchedulerStatus struct {
	LastFullSyncAt       time.Time     `json:"lastFullSyncAt"`
	LastFullSyncDuration time.Duration `json:"lastFullSyncDuration"`
	Stale                bool          `json:"stale"`
	Epoch                uint64        `json:"epoch"`
	SyncInFlight         bool          `json:"syncInFlight"`
}

func NewScheduler(client RemoteClient, store *stubs.Store, resolver *stubs.Resolver, cache *CacheProtocol, opts SchedulerOptions) *Scheduler {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = stubs.NopNotifier
	}
	s := &Scheduler{
		client:          client,
		store:           store,
		resolver:        resolver,
		cache:           cache,
		notifier:        notifier,
		logger:          opts.Logger,
		probeInterval:   opts.ProbeInterval,
		syncInterval:    opts.FullSyncInterval,
		rebuildInterval: opts.CacheRebuildInterval,
		syncTimeout:     opts.FullSyncTimeout,
		writeTimeout:    opts.CacheWriteTimeout,
		staleAfter:      opts.StaleAfter,
		jitter:          opts.Jitter,
	}
	if s.probeInterval <= 0 {
		s.probeInterval = DefaultProbeInterval
	}
	if s.syncInterval <= 0 {
		s.syncInterval = DefaultFullSyncInterval
	}
	if s.rebuildInterval <= 0 {
		s.rebuildInterval = DefaultCacheRebuildInterval
	}
	if s.syncTimeout <= 0 {
		s.syncTimeout = DefaultFullSyncTimeout
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = DefaultCacheWriteTimeout
	}
	if s.staleAfter <= 0 {
		s.staleAfter = s.syncInterval + s.syncInterval/2
	}
	if s.jitter < 0 || s.jitter >= 1 {
		s.jitter = 0
	}
	return s
}

// ColdStart seeds the store as fast as possible: service cache first, full
// sync as the fallback. A cache hit still schedules a background full sync so
// the seeded view is reconciled against the authority unconditionally.
func (s *Scheduler) ColdStart(ctx context.Context) error {
	if s.cache != nil {
		loadCtx, cancel := withDeadline(ctx, s.writeTimeout)
		items, writtenAt, ok := s.cache.Load(loadCtx)
		cancel()
		if ok {
			s.store.SetFromServer(items, stubs.SyncMeta{SyncedAt: writtenAt, Source: "cache"})
			s.logf("cold start seeded %d mappings from service cache (written %s)", len(items), writtenAt.Format(time.RFC3339))
			go func() {
				if err := s.FullSync(ctx); err != nil {
					s.logf("background reconcile after cache seed failed: %v", err)
				}
			}()
			return nil
		}
	}
	s.logf("service cache unavailable, falling through to foreground full sync")
	return s.FullSync(ctx)
}

// Run drives the three task timers until the context is cancelled. Task
// bodies run on their own goroutines so a slow full sync never delays the
// probe; the in-flight flags keep each task serialized against itself.
func (s *Scheduler) Run(ctx context.Context) {
	probe := time.NewTicker(s.probeInterval)
	full := time.NewTicker(s.jittered(s.syncInterval))
	rebuild := time.NewTicker(s.rebuildInterval)
	defer probe.Stop()
	defer full.Stop()
	defer rebuild.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-probe.C:
			s.Probe()
		case <-full.C:
			full.Reset(s.jittered(s.syncInterval))
			go func() {
				if err := s.FullSync(ctx); err != nil {
					s.logf("scheduled full sync failed: %v", err)
				}
			}()
		case <-rebuild.C:
			go func() {
				if err := s.RebuildCache(ctx); err != nil {
					s.logf("cache rebuild failed: %v", err)
				}
			}()
		}
	}
}

// Probe measures elapsed time since the last successful full sync and flags
// approaching staleness. It makes no network call.
func (s *Scheduler) Probe() {
	if !s.probeInFlight.CompareAndSwap(false, true) {
		return
	}
	defer s.probeInFlight.Store(false)
	s.mu.Lock()
	last := s.lastFullSync
	wasStale := s.stale
	nowStale := !last.IsZero() && time.Since(last) > s.staleAfter
	s.stale = nowStale
	s.mu.Unlock()
	if nowStale && !wasStale {
		s.logf("view is stale: last full sync at %s", last.Format(time.RFC3339))
		s.notifier.Notify(stubs.Notification{
			Kind:      stubs.NoteSyncStale,
			Message:   "the mapping list has not refreshed recently; shown data may be out of date",
			Timestamp: time.Now(),
		})
	}
}

// FullSync fetches the entire remote collection under a hard deadline,
// reconciles it into the store and routes collisions with in-flight local
// edits to the resolver. A failure leaves the last synced view plus pending
// edits untouched on screen.
func (s *Scheduler) FullSync(ctx context.Context) error {
	if !s.syncInFlight.CompareAndSwap(false, true) {
		return nil
	}
	defer s.syncInFlight.Store(false)

	epoch := s.epoch.Add(1)
	started := time.Now()
	fetchCtx, cancel := withDeadline(ctx, s.syncTimeout)
	items, err := s.client.List(fetchCtx)
	cancel()
	duration := time.Since(started)
	if err != nil {
		s.logf("full sync failed after %s: %v", duration, err)
		s.notifier.Notify(stubs.Notification{
			Kind:      stubs.NoteSyncFailed,
			Message:   "refresh from the mock server failed; showing the last synced view",
			Timestamp: time.Now(),
		})
		return err
	}
	if s.epoch.Load() != epoch {
		s.logf("discarding full sync response from stale epoch %d", epoch)
		return nil
	}

	items = stubs.FilterSentinel(items)
	meta := stubs.SyncMeta{SyncedAt: time.Now(), Duration: duration, Source: "full-sync"}
	if !s.store.Populated() {
		s.store.SetFromServer(items, meta)
	} else {
		diff := s.store.Diff(items)
		conflicts := s.store.ApplyChanges(diff)
		s.store.RecordSync(meta)
		if s.resolver != nil {
			s.resolver.ResolveAll(conflicts)
		}
	}

	s.mu.Lock()
	s.lastFullSync = time.Now()
	s.lastDuration = duration
	s.stale = false
	s.mu.Unlock()
	s.logf("full sync reconciled %d mappings in %s", len(items), duration)
	return nil
}

// RebuildCache writes a fresh snapshot into the sentinel when the
// authoritative set changed since the last write. It skips entirely while any
// pending operation exists: a snapshot must never encode an unconfirmed
// optimistic edit.
func (s *Scheduler) RebuildCache(ctx context.Context) error {
	if !s.rebuildInFlight.CompareAndSwap(false, true) {
		return nil
	}
	defer s.rebuildInFlight.Store(false)
	if s.cache == nil || !s.store.Populated() {
		return nil
	}
	if s.store.HasPending() {
		s.logf("cache rebuild skipped: %d pending operations in flight", s.store.Stats().PendingCount)
		return nil
	}
	signature := s.store.Signature()
	s.mu.Lock()
	unchanged := signature == s.lastSignature
	s.mu.Unlock()
	if unchanged {
		return nil
	}
	writeCtx, cancel := withDeadline(ctx, s.writeTimeout)
	err := s.cache.Save(writeCtx, s.store.SnapshotForCache())
	cancel()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.lastSignature = signature
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStatus{
		LastFullSyncAt:       s.lastFullSync,
		LastFullSyncDuration: s.lastDuration,
		Stale:                s.stale,
		Epoch:                s.epoch.Load(),
		SyncInFlight:         s.syncInFlight.Load(),
	}
}

// jittered spreads an interval by the configured ratio so many clients
// against the same slow endpoint do not tick in lockstep.
func (s *Scheduler) jittered(base time.Duration) time.Duration {
	if s.jitter <= 0 {
		return base
	}
	spread := float64(base) * s.jitter
	offset := (rand.Float64()*2 - 1) * spread
	return base + time.Duration(offset)
}

func (s *Scheduler) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}
