// Package discovery turns bridge presence events into registry updates.
// The event stream is the sole source of truth for registry contents;
// this package does no probing of its own.
package discovery

import (
	"log/slog"

	"github.com/sebas/conductor/internal/focus/bridge"
)

// BridgeUp announces a bridge joining the pool.
type BridgeUp struct {
	JID     string
	Addr    string
	Region  string
	Version string
	RelayID string
}

// BridgeStats carries a presence stats refresh for a known bridge.
type BridgeStats struct {
	JID   string
	Stats bridge.Stats
}

// BridgeDown announces a bridge leaving the pool.
type BridgeDown struct {
	JID string
}

// Ingestor applies discovery events to the registry.
type Ingestor struct {
	registry *bridge.Registry
}

// NewIngestor creates an ingestor over the given registry.
func NewIngestor(registry *bridge.Registry) *Ingestor {
	return &Ingestor{registry: registry}
}

// Up registers or refreshes a bridge from an up announcement.
func (i *Ingestor) Up(ev BridgeUp) {
	stats := &bridge.Stats{}
	if ev.Region != "" {
		stats.Region = &ev.Region
	}
	if ev.Version != "" {
		stats.Version = &ev.Version
	}
	if ev.RelayID != "" {
		stats.RelayID = &ev.RelayID
	}
	i.registry.AddOrUpdate(ev.JID, ev.Addr, stats)
}

// Stats applies a stats refresh. Unknown bridges are dropped: a stats
// report is not an announcement.
func (i *Ingestor) Stats(ev BridgeStats) {
	if _, ok := i.registry.Get(ev.JID); !ok {
		slog.Debug("[Discovery] Stats for unknown bridge", "jid", ev.JID)
		return
	}
	stats := ev.Stats
	i.registry.AddOrUpdate(ev.JID, "", &stats)
}

// Down removes a bridge from the registry.
func (i *Ingestor) Down(ev BridgeDown) {
	i.registry.Remove(ev.JID)
}
