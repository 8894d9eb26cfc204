package selector

import "github.com/sebas/conductor/internal/focus/bridge"

// IntraRegion keeps a conference inside the region of its first bridge:
// bridges already in the conference and in that region win, then other
// bridges in that region, then the least loaded bridge overall.
type IntraRegion struct {
	MaxStress float64
}

// Name implements Strategy.
func (s *IntraRegion) Name() string { return "intra-region" }

func (s *IntraRegion) doSelect(candidates []bridge.Snapshot, conference []ConferenceBridge, props ParticipantProps) *bridge.Snapshot {
	if len(conference) == 0 {
		if b := notLoadedInRegion(candidates, props.Region, s.MaxStress); b != nil {
			return b
		}
		return leastLoaded(candidates)
	}

	conferenceRegion := conference[0].Bridge.Region
	if b := notLoadedAlreadyInConferenceInRegion(candidates, conference, conferenceRegion, s.MaxStress); b != nil {
		return b
	}
	if b := notLoadedInRegion(candidates, conferenceRegion, s.MaxStress); b != nil {
		return b
	}
	return leastLoaded(candidates)
}
