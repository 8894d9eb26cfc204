package selector

import "github.com/sebas/conductor/internal/focus/bridge"

// Split spreads a conference across bridges: it always picks a bridge not
// yet in the conference, least loaded first. Used for load spreading and
// for exercising multi-bridge topologies.
type Split struct{}

// Name implements Strategy.
func (s *Split) Name() string { return "split" }

func (s *Split) doSelect(candidates []bridge.Snapshot, conference []ConferenceBridge, props ParticipantProps) *bridge.Snapshot {
	inConference := make(map[string]bool, len(conference))
	for _, cb := range conference {
		inConference[cb.Bridge.JID] = true
	}
	for i := range candidates {
		if !inConference[candidates[i].JID] {
			return &candidates[i]
		}
	}
	return nil
}
