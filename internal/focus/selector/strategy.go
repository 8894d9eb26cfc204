// Package selector implements the bridge selection strategy family.
package selector

import (
	"sort"

	"github.com/sebas/conductor/internal/focus/bridge"
)

// ParticipantProps are the participant properties selection depends on.
type ParticipantProps struct {
	Region  string
	Visitor bool
}

// ConferenceBridge describes one bridge already in use by a conference,
// in the order the conference acquired them.
type ConferenceBridge struct {
	Bridge           bridge.Snapshot
	ParticipantCount int
	Visitor          bool
}

// Strategy picks a bridge for a new participant. Candidates are already
// filtered to selectable bridges and sorted into the deterministic total
// order; nil means no bridge qualified.
type Strategy interface {
	// Name identifies the strategy in logs.
	Name() string

	// doSelect runs after the shared preamble decided a fresh selection
	// is needed.
	doSelect(candidates []bridge.Snapshot, conference []ConferenceBridge, props ParticipantProps) *bridge.Snapshot
}

// orderCandidates sorts candidates into the total deterministic tie-break
// order: stress ascending, then participant count within the conference
// ascending, then JID lexicographic.
func orderCandidates(candidates []bridge.Snapshot, conference []ConferenceBridge) []bridge.Snapshot {
	counts := make(map[string]int, len(conference))
	for _, cb := range conference {
		counts[cb.Bridge.JID] = cb.ParticipantCount
	}

	out := make([]bridge.Snapshot, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Stress != out[j].Stress {
			return out[i].Stress < out[j].Stress
		}
		if ci, cj := counts[out[i].JID], counts[out[j].JID]; ci != cj {
			return ci < cj
		}
		return out[i].JID < out[j].JID
	})
	return out
}

// notLoaded returns the first bridge with stress at or below maxStress.
func notLoaded(candidates []bridge.Snapshot, maxStress float64) *bridge.Snapshot {
	for i := range candidates {
		if !candidates[i].Overloaded(maxStress) {
			return &candidates[i]
		}
	}
	return nil
}

// notLoadedInRegion returns the first not-overloaded bridge in the region.
func notLoadedInRegion(candidates []bridge.Snapshot, region string, maxStress float64) *bridge.Snapshot {
	if region == "" {
		return nil
	}
	for i := range candidates {
		if candidates[i].Region == region && !candidates[i].Overloaded(maxStress) {
			return &candidates[i]
		}
	}
	return nil
}

// notLoadedAlreadyInConferenceInRegion returns the first not-overloaded
// candidate that is both in the conference and in the region.
func notLoadedAlreadyInConferenceInRegion(candidates []bridge.Snapshot, conference []ConferenceBridge, region string, maxStress float64) *bridge.Snapshot {
	if region == "" {
		return nil
	}
	inConference := make(map[string]bool, len(conference))
	for _, cb := range conference {
		inConference[cb.Bridge.JID] = true
	}
	for i := range candidates {
		if inConference[candidates[i].JID] && candidates[i].Region == region && !candidates[i].Overloaded(maxStress) {
			return &candidates[i]
		}
	}
	return nil
}

// leastLoaded returns the minimum-stress bridge. Candidates are in total
// order, so the first entry wins.
func leastLoaded(candidates []bridge.Snapshot) *bridge.Snapshot {
	if len(candidates) == 0 {
		return nil
	}
	return &candidates[0]
}

// leastLoadedInRegion returns the minimum-stress bridge in the region.
func leastLoadedInRegion(candidates []bridge.Snapshot, region string) *bridge.Snapshot {
	if region == "" {
		return nil
	}
	for i := range candidates {
		if candidates[i].Region == region {
			return &candidates[i]
		}
	}
	return nil
}
