// Package bridge tracks the state and health of known media bridges.
package bridge

import (
	"log/slog"
	"sync"
)

// Stats carries the fields a bridge reports in its presence. Nil fields
// were not present in the report and leave the current value untouched.
type Stats struct {
	StressLevel      *float64
	Region           *string
	Version          *string
	RelayID          *string
	Draining         *bool
	GracefulShutdown *bool
	ShuttingDown     *bool
}

// Snapshot is an immutable copy of a bridge's state, safe to hand to
// selectors and event listeners.
type Snapshot struct {
	JID           string
	Addr          string
	RelayID       string
	Region        string
	Version       string
	Stress        float64
	EndpointCount int

	Operational      bool
	Draining         bool
	GracefulShutdown bool
	ShuttingDown     bool
}

// Selectable reports whether the bridge may receive new allocations.
// Draining and graceful shutdown are preference filters applied by the
// selector, not part of this predicate.
func (s Snapshot) Selectable() bool {
	return s.Operational && !s.ShuttingDown
}

// Overloaded reports whether the bridge stress exceeds the given threshold.
func (s Snapshot) Overloaded(maxStress float64) bool {
	return s.Stress > maxStress
}

// Bridge holds the mutable state of a single media relay. All state
// mutation goes through the owning Registry.
type Bridge struct {
	mu sync.Mutex

	jid  string
	addr string

	relayID string
	region  string
	version string

	stress             float64
	lastReportedStress float64
	endpointCount      int

	operational      bool
	draining         bool
	gracefulShutdown bool
	shuttingDown     bool
}

func newBridge(jid, addr string) *Bridge {
	return &Bridge{
		jid:         jid,
		addr:        addr,
		operational: true,
	}
}

// JID returns the stable identifier of the bridge.
func (b *Bridge) JID() string {
	return b.jid
}

// Snapshot returns a copy of the current state.
func (b *Bridge) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Bridge) snapshotLocked() Snapshot {
	return Snapshot{
		JID:              b.jid,
		Addr:             b.addr,
		RelayID:          b.relayID,
		Region:           b.region,
		Version:          b.version,
		Stress:           b.stress,
		EndpointCount:    b.endpointCount,
		Operational:      b.operational,
		Draining:         b.draining,
		GracefulShutdown: b.gracefulShutdown,
		ShuttingDown:     b.shuttingDown,
	}
}

// updateStats applies a presence report. It returns whether shuttingDown
// transitioned false -> true, the only stats transition the registry
// announces separately.
func (b *Bridge) updateStats(stats *Stats) (shutdownStarted bool) {
	if stats == nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if stats.StressLevel != nil {
		v := *stats.StressLevel
		if v != v || v < 0 || v > 1 {
			// Out-of-range report: keep the previous value.
			slog.Warn("[Bridge] Rejecting invalid stress level", "jid", b.jid, "stress", v)
		} else {
			b.stress = v
			b.lastReportedStress = v
		}
	}
	if stats.Region != nil {
		b.region = *stats.Region
	}
	if stats.Version != nil {
		b.version = *stats.Version
	}
	if stats.RelayID != nil && *stats.RelayID != b.relayID {
		if b.relayID != "" {
			slog.Warn("[Bridge] Relay ID changed", "jid", b.jid, "old", b.relayID, "new", *stats.RelayID)
		}
		b.relayID = *stats.RelayID
	}
	if stats.Draining != nil {
		b.draining = *stats.Draining
	}
	if stats.GracefulShutdown != nil {
		b.gracefulShutdown = *stats.GracefulShutdown
	}
	if stats.ShuttingDown != nil && *stats.ShuttingDown && !b.shuttingDown {
		// One-way latch: a bridge never un-announces its shutdown.
		b.shuttingDown = true
		shutdownStarted = true
	}

	return shutdownStarted
}

// setOperational flips the operational flag and reports whether it changed.
func (b *Bridge) setOperational(operational bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.operational == operational {
		return false
	}
	b.operational = operational
	return true
}

// setGracefulShutdown flips the graceful-shutdown flag and reports whether
// it changed.
func (b *Bridge) setGracefulShutdown(v bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gracefulShutdown == v {
		return false
	}
	b.gracefulShutdown = v
	return true
}

// endpointAdded increments the locally maintained endpoint count.
func (b *Bridge) endpointAdded() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endpointCount++
}

// endpointRemoved decrements the endpoint count, floored at zero.
func (b *Bridge) endpointRemoved() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.endpointCount > 0 {
		b.endpointCount--
	}
}
