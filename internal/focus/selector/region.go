package selector

import "github.com/sebas/conductor/internal/focus/bridge"

// RegionBased prefers a not-overloaded bridge in the participant's region,
// then any not-overloaded bridge, then the least loaded bridge overall.
type RegionBased struct {
	MaxStress float64
}

// Name implements Strategy.
func (s *RegionBased) Name() string { return "region" }

func (s *RegionBased) doSelect(candidates []bridge.Snapshot, conference []ConferenceBridge, props ParticipantProps) *bridge.Snapshot {
	if b := notLoadedInRegion(candidates, props.Region, s.MaxStress); b != nil {
		return b
	}
	if b := notLoaded(candidates, s.MaxStress); b != nil {
		return b
	}
	return leastLoaded(candidates)
}
