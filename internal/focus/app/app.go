// Package app wires the conductor focus together: registry, channel
// pool, health checking, selection and the per-conference session
// managers.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sebas/conductor/internal/focus/bridge"
	"github.com/sebas/conductor/internal/focus/colibri"
	"github.com/sebas/conductor/internal/focus/config"
	"github.com/sebas/conductor/internal/focus/discovery"
	"github.com/sebas/conductor/internal/focus/health"
	"github.com/sebas/conductor/internal/focus/ratelimit"
	"github.com/sebas/conductor/internal/focus/selector"
	"github.com/sebas/conductor/internal/focus/session"
	"github.com/sebas/conductor/internal/focus/store"
	"github.com/sebas/conductor/internal/focus/transport"
	"github.com/sebas/conductor/internal/metrics"
)

// MaxConcurrentExpires limits parallel conference teardown RPCs during
// shutdown.
const MaxConcurrentExpires = 5

// limiterTTL is how long an idle conference keeps its restart limiter.
const limiterTTL = 10 * time.Minute

// Focus is the conductor core service.
type Focus struct {
	cfg      *config.Config
	registry *bridge.Registry
	pool     *transport.ChannelPool
	checker  *health.Checker
	ingestor *discovery.Ingestor
	selector *selector.Selector
	counters *metrics.Counters

	mu          sync.Mutex
	conferences map[string]*session.Manager
	limiters    *store.TTLStore[string, *ratelimit.Limiter]
}

// New builds the focus from configuration. Call Start to begin health
// checking and Shutdown to tear everything down.
func New(cfg *config.Config) (*Focus, error) {
	strat, err := selector.FromConfig(cfg.Strategy, cfg.StrategyMaxStress)
	if err != nil {
		return nil, fmt.Errorf("failed to build selection strategy: %w", err)
	}
	sel := selector.New(strat, selector.Config{
		MaxBridgeStress:               cfg.MaxBridgeStress,
		AllowSelectionIfNoPinnedMatch: cfg.AllowSelectionIfNoPinnedMatch,
		AllowMultiBridge:              cfg.MultiBridgeEnabled,
	})

	registry := bridge.NewRegistry()
	pool := transport.NewChannelPool(transport.GRPCDialer(transport.GRPCConfig{
		ConnectTimeout:    cfg.GRPCConnectTimeout,
		KeepaliveInterval: cfg.GRPCKeepaliveInterval,
		KeepaliveTimeout:  cfg.GRPCKeepaliveTimeout,
	}))
	registry.AddListener(pool)

	f := &Focus{
		cfg:         cfg,
		registry:    registry,
		pool:        pool,
		ingestor:    discovery.NewIngestor(registry),
		selector:    sel,
		counters:    metrics.NewCounters(),
		conferences: make(map[string]*session.Manager),
		limiters:    store.NewTTLStore[string, *ratelimit.Limiter](time.Minute),
	}
	registry.AddListener(f)
	f.checker = health.NewChecker(health.Config{
		Interval: cfg.HealthCheckInterval,
		Timeout:  cfg.HealthCheckTimeout,
	}, registry, pool)

	return f, nil
}

// Start seeds the registry with statically configured bridges and begins
// health checking.
func (f *Focus) Start() {
	for jid, addr := range f.cfg.BridgeAddrs {
		f.ingestor.Up(discovery.BridgeUp{JID: jid, Addr: addr})
	}
	f.checker.Start()
	slog.Info("[Focus] Started", "bridges", len(f.cfg.BridgeAddrs), "strategy", f.cfg.Strategy.String())
}

// Registry returns the bridge registry.
func (f *Focus) Registry() *bridge.Registry { return f.registry }

// Ingestor returns the discovery event sink.
func (f *Focus) Ingestor() *discovery.Ingestor { return f.ingestor }

// Counters returns the event-driven metrics.
func (f *Focus) Counters() *metrics.Counters { return f.counters }

// AllocateParticipant places a participant into the named conference,
// creating the conference manager on first use.
func (f *Focus) AllocateParticipant(ctx context.Context, conference string, params session.AllocationParams) (*session.Allocation, error) {
	return f.conference(conference).Allocate(ctx, params)
}

// UpdateParticipant forwards a transport/sources update to the named
// conference.
func (f *Focus) UpdateParticipant(ctx context.Context, conference, id string, upd session.ParticipantUpdate) error {
	m := f.lookup(conference)
	if m == nil {
		return fmt.Errorf("conference %s not found", conference)
	}
	return m.UpdateParticipant(ctx, id, upd)
}

// RemoveParticipant removes a participant from the named conference. The
// conference manager is dropped once its last participant leaves.
func (f *Focus) RemoveParticipant(ctx context.Context, conference, id string) {
	m := f.lookup(conference)
	if m == nil {
		return
	}
	m.RemoveParticipant(ctx, id)
	if m.ParticipantCount() == 0 {
		f.ExpireConference(ctx, conference)
	}
}

// Mute force-mutes or unmutes participants in the named conference.
func (f *Focus) Mute(ctx context.Context, conference string, ids []string, doMute bool, mediaType colibri.MediaType) bool {
	m := f.lookup(conference)
	if m == nil {
		return false
	}
	return m.Mute(ctx, ids, doMute, mediaType)
}

// ExpireConference tears down the named conference.
func (f *Focus) ExpireConference(ctx context.Context, conference string) {
	f.mu.Lock()
	m := f.conferences[conference]
	delete(f.conferences, conference)
	f.mu.Unlock()
	if m != nil {
		m.Expire(ctx)
	}
}

// RestartAllowed reports whether a restart-and-reallocate attempt for the
// conference is admitted by its rate limiter.
func (f *Focus) RestartAllowed(conference string) bool {
	lim := f.limiters.GetOrSet(conference, limiterTTL, func() *ratelimit.Limiter {
		return ratelimit.New(f.cfg.RestartMinInterval, f.cfg.RestartInterval, f.cfg.RestartMaxRequests)
	})
	return lim.Accept()
}

// ConferenceCount implements metrics.ConferenceStatsProvider.
func (f *Focus) ConferenceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conferences)
}

// TotalParticipants implements metrics.ConferenceStatsProvider.
func (f *Focus) TotalParticipants() int {
	f.mu.Lock()
	managers := make([]*session.Manager, 0, len(f.conferences))
	for _, m := range f.conferences {
		managers = append(managers, m)
	}
	f.mu.Unlock()

	total := 0
	for _, m := range managers {
		total += m.ParticipantCount()
	}
	return total
}

// BridgeCounts implements metrics.BridgePoolProvider.
func (f *Focus) BridgeCounts() bridge.Counts { return f.registry.BridgeCounts() }

// Snapshots implements metrics.BridgePoolProvider.
func (f *Focus) Snapshots() []bridge.Snapshot { return f.registry.Snapshots() }

// conference returns the manager for a name, creating it if absent.
func (f *Focus) conference(name string) *session.Manager {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.conferences[name]; ok && !m.Expired() {
		return m
	}
	m := session.NewManager(session.ManagerConfig{
		Name:           name,
		MeetingID:      uuid.NewString(),
		PinnedVersion:  f.cfg.PinnedBridgeVersion,
		RequestTimeout: f.cfg.RequestTimeout,
		Registry:       f.registry,
		Selector:       f.selector,
		Channels:       f.pool,
		Topology:       session.FullMesh{},
		Events:         f.managerEvents(name),
	})
	f.conferences[name] = m
	slog.Info("[Focus] Conference created", "conference", name, "meeting_id", m.MeetingID())
	return m
}

func (f *Focus) lookup(name string) *session.Manager {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conferences[name]
}

func (f *Focus) managerEvents(name string) session.Events {
	return session.Events{
		BridgeSelectionFailed: func() {
			f.counters.SelectionFailures.Inc()
		},
		BridgeSelectionSucceeded: func(jid string) {
			f.counters.SelectionSuccesses.Inc()
		},
		BridgeRemoved: func(jid string, evicted []string) {
			f.counters.BridgesLost.Inc()
			f.counters.ParticipantsEvicted.Add(float64(len(evicted)))
			slog.Warn("[Focus] Bridge lost for conference", "conference", name, "bridge", jid, "evicted", len(evicted))
		},
	}
}

// BridgeAdded implements bridge.Listener.
func (f *Focus) BridgeAdded(b bridge.Snapshot) {}

// BridgeRemoved implements bridge.Listener: evict the bridge from every
// conference using it.
func (f *Focus) BridgeRemoved(b bridge.Snapshot) {
	f.evictEverywhere(b)
}

// BridgeShuttingDown implements bridge.Listener: a shutting-down bridge
// must lose its conferences so participants can be re-invited elsewhere.
func (f *Focus) BridgeShuttingDown(b bridge.Snapshot) {
	f.evictEverywhere(b)
}

// BridgeFailedHealthCheck implements bridge.Listener.
func (f *Focus) BridgeFailedHealthCheck(b bridge.Snapshot) {
	f.evictEverywhere(b)
}

func (f *Focus) evictEverywhere(b bridge.Snapshot) {
	f.mu.Lock()
	managers := make([]*session.Manager, 0, len(f.conferences))
	for _, m := range f.conferences {
		managers = append(managers, m)
	}
	f.mu.Unlock()

	for _, m := range managers {
		m.RemoveBridge(context.Background(), b)
	}
}

// Shutdown expires all conferences with bounded concurrency, then stops
// health checking and closes the channel pool.
func (f *Focus) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	managers := make([]*session.Manager, 0, len(f.conferences))
	for _, m := range f.conferences {
		managers = append(managers, m)
	}
	f.conferences = make(map[string]*session.Manager)
	f.mu.Unlock()

	slog.Info("[Focus] Shutting down", "conferences", len(managers))

	sem := semaphore.NewWeighted(MaxConcurrentExpires)
	g, gCtx := errgroup.WithContext(ctx)
	for _, m := range managers {
		m := m
		g.Go(func() error {
			if err := sem.Acquire(gCtx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			m.Expire(gCtx)
			return nil
		})
	}
	err := g.Wait()

	f.checker.Stop()
	f.limiters.Close()
	if cerr := f.pool.Close(); cerr != nil && err == nil {
		err = cerr
	}
	slog.Info("[Focus] Shutdown complete")
	return err
}
