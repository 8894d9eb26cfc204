package bridge

import (
	"log/slog"
	"sort"
	"sync"
)

// Listener receives registry events. Notifications are fire-and-forget
// and delivered outside registry locks; implementations must not block.
type Listener interface {
	BridgeAdded(b Snapshot)
	BridgeRemoved(b Snapshot)
	BridgeShuttingDown(b Snapshot)
	BridgeFailedHealthCheck(b Snapshot)
}

// Counts aggregates registry state for reporting.
type Counts struct {
	Total            int
	Operational      int
	Draining         int
	GracefulShutdown int
	ShuttingDown     int
}

// Registry is the process-wide map of known bridges. It owns all bridge
// state mutation and emits typed events to registered listeners.
type Registry struct {
	mu        sync.RWMutex
	bridges   map[string]*Bridge
	listeners []Listener
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		bridges: make(map[string]*Bridge),
	}
}

// AddListener registers an event listener.
func (r *Registry) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Registry) notify(fn func(Listener)) {
	r.mu.RLock()
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	for _, l := range listeners {
		fn(l)
	}
}

// AddOrUpdate inserts a new bridge or refreshes an existing one with the
// reported stats. New bridges start operational.
func (r *Registry) AddOrUpdate(jid, addr string, stats *Stats) Snapshot {
	r.mu.Lock()
	b, exists := r.bridges[jid]
	if !exists {
		b = newBridge(jid, addr)
		r.bridges[jid] = b
	}
	r.mu.Unlock()

	shutdownStarted := b.updateStats(stats)
	snap := b.Snapshot()

	if !exists {
		slog.Info("[Registry] Bridge added", "jid", jid, "region", snap.Region, "version", snap.Version)
		r.notify(func(l Listener) { l.BridgeAdded(snap) })
	}
	if shutdownStarted {
		slog.Info("[Registry] Bridge shutting down", "jid", jid)
		r.notify(func(l Listener) { l.BridgeShuttingDown(snap) })
	}
	return snap
}

// Remove deletes a bridge from the registry.
func (r *Registry) Remove(jid string) {
	r.mu.Lock()
	b, exists := r.bridges[jid]
	if exists {
		delete(r.bridges, jid)
	}
	r.mu.Unlock()

	if !exists {
		return
	}
	snap := b.Snapshot()
	slog.Info("[Registry] Bridge removed", "jid", jid)
	r.notify(func(l Listener) { l.BridgeRemoved(snap) })
}

// Get returns a snapshot of the bridge with the given JID.
func (r *Registry) Get(jid string) (Snapshot, bool) {
	r.mu.RLock()
	b, ok := r.bridges[jid]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return b.Snapshot(), true
}

// HealthCheckPassed marks the bridge operational.
func (r *Registry) HealthCheckPassed(jid string) {
	b := r.lookup(jid)
	if b == nil {
		return
	}
	if b.setOperational(true) {
		slog.Info("[Registry] Bridge healthy", "jid", jid)
	}
}

// HealthCheckFailed marks the bridge non-operational and emits
// BridgeFailedHealthCheck.
func (r *Registry) HealthCheckFailed(jid string) {
	b := r.lookup(jid)
	if b == nil {
		return
	}
	if b.setOperational(false) {
		slog.Warn("[Registry] Bridge failed health check", "jid", jid)
	}
	snap := b.Snapshot()
	r.notify(func(l Listener) { l.BridgeFailedHealthCheck(snap) })
}

// HealthCheckTimedOut marks the bridge non-operational without the failed
// event. A timed-out bridge raises no alarm but takes no new allocations.
func (r *Registry) HealthCheckTimedOut(jid string) {
	b := r.lookup(jid)
	if b == nil {
		return
	}
	if b.setOperational(false) {
		slog.Warn("[Registry] Bridge health check timed out", "jid", jid)
	}
}

// SetNonOperational clears the operational flag without an event, used
// when a conference-modify request times out.
func (r *Registry) SetNonOperational(jid string) {
	b := r.lookup(jid)
	if b == nil {
		return
	}
	if b.setOperational(false) {
		slog.Warn("[Registry] Bridge marked non-operational", "jid", jid)
	}
}

// SetGracefulShutdown records that a bridge reported graceful shutdown in
// a conference-modify error.
func (r *Registry) SetGracefulShutdown(jid string) {
	b := r.lookup(jid)
	if b == nil {
		return
	}
	if b.setGracefulShutdown(true) {
		slog.Info("[Registry] Bridge in graceful shutdown", "jid", jid)
	}
}

// EndpointAdded increments the endpoint count for the bridge.
func (r *Registry) EndpointAdded(jid string) {
	if b := r.lookup(jid); b != nil {
		b.endpointAdded()
	}
}

// EndpointRemoved decrements the endpoint count for the bridge.
func (r *Registry) EndpointRemoved(jid string) {
	if b := r.lookup(jid); b != nil {
		b.endpointRemoved()
	}
}

func (r *Registry) lookup(jid string) *Bridge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bridges[jid]
}

// Candidates returns selectable bridges ordered by JID for determinism.
// Version pinning is the selector's concern.
func (r *Registry) Candidates() []Snapshot {
	all := r.Snapshots()
	out := all[:0]
	for _, s := range all {
		if !s.Selectable() {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Snapshots returns snapshots of all known bridges ordered by JID.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	bridges := make([]*Bridge, 0, len(r.bridges))
	for _, b := range r.bridges {
		bridges = append(bridges, b)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(bridges))
	for _, b := range bridges {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JID < out[j].JID })
	return out
}

// BridgeCounts aggregates current registry state.
func (r *Registry) BridgeCounts() Counts {
	var c Counts
	for _, s := range r.Snapshots() {
		c.Total++
		if s.Operational {
			c.Operational++
		}
		if s.Draining {
			c.Draining++
		}
		if s.GracefulShutdown {
			c.GracefulShutdown++
		}
		if s.ShuttingDown {
			c.ShuttingDown++
		}
	}
	return c
}
