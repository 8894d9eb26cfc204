package selector

import (
	"log/slog"

	"github.com/sebas/conductor/internal/focus/bridge"
)

// Config are the selection tunables shared by all strategies.
type Config struct {
	// MaxBridgeStress is the overload threshold for candidate filtering.
	MaxBridgeStress float64
	// AllowSelectionIfNoPinnedMatch falls back to unpinned candidates when
	// no bridge matches a pinned version.
	AllowSelectionIfNoPinnedMatch bool
	// AllowMultiBridge permits a conference to span several bridges when
	// its bridges support relaying.
	AllowMultiBridge bool
}

// Selector applies the shared candidate filters and preamble before
// delegating to a strategy.
type Selector struct {
	strategy Strategy
	cfg      Config
}

// New creates a selector around the given strategy.
func New(strategy Strategy, cfg Config) *Selector {
	return &Selector{strategy: strategy, cfg: cfg}
}

// Strategy returns the wrapped strategy.
func (s *Selector) Strategy() Strategy { return s.strategy }

// Select picks a bridge for a new participant, or nil when no bridge
// qualifies. Candidates are the registry's current bridges; conference
// lists the bridges the conference already uses, first-acquired first.
func (s *Selector) Select(candidates []bridge.Snapshot, conference []ConferenceBridge, props ParticipantProps, pinnedVersion string) *bridge.Snapshot {
	filtered := filterSelectable(candidates)
	filtered = filterPinnedVersion(filtered, pinnedVersion, s.cfg.AllowSelectionIfNoPinnedMatch)
	filtered = preferNot(filtered, func(b bridge.Snapshot) bool { return b.Overloaded(s.cfg.MaxBridgeStress) })
	filtered = preferNot(filtered, func(b bridge.Snapshot) bool { return b.Draining })
	filtered = preferNot(filtered, func(b bridge.Snapshot) bool { return b.GracefulShutdown })
	if len(filtered) == 0 {
		return nil
	}
	filtered = orderCandidates(filtered, conference)

	// A conference stays on its existing bridge unless it can grow: either
	// no bridge yet, or multi-bridge allowed and the first bridge relays.
	if len(conference) > 0 && !(s.cfg.AllowMultiBridge && conference[0].Bridge.RelayID != "") {
		existing := conference[0].Bridge
		return &existing
	}

	chosen := s.strategy.doSelect(filtered, conference, props)
	if chosen != nil {
		slog.Debug("[Selector] Bridge selected",
			"strategy", s.strategy.Name(),
			"jid", chosen.JID,
			"region", chosen.Region,
			"stress", chosen.Stress)
	}
	return chosen
}

func filterSelectable(candidates []bridge.Snapshot) []bridge.Snapshot {
	out := make([]bridge.Snapshot, 0, len(candidates))
	for _, b := range candidates {
		if b.Selectable() {
			out = append(out, b)
		}
	}
	return out
}

func filterPinnedVersion(candidates []bridge.Snapshot, version string, allowFallback bool) []bridge.Snapshot {
	if version == "" {
		return candidates
	}
	out := make([]bridge.Snapshot, 0, len(candidates))
	for _, b := range candidates {
		if b.Version == version {
			out = append(out, b)
		}
	}
	if len(out) == 0 && allowFallback {
		return candidates
	}
	return out
}

// preferNot drops bridges matching the predicate, but only when at least
// one non-matching bridge remains.
func preferNot(candidates []bridge.Snapshot, pred func(bridge.Snapshot) bool) []bridge.Snapshot {
	out := make([]bridge.Snapshot, 0, len(candidates))
	for _, b := range candidates {
		if !pred(b) {
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return candidates
	}
	return out
}
