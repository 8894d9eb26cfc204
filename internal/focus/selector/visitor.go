package selector

import "github.com/sebas/conductor/internal/focus/bridge"

// Visitor composes two inner strategies, partitioning the conference's
// bridges by their visitor flag so visitors land on visitor bridges and
// participants on participant bridges. If the partition yields nothing
// the inner strategy runs again over the full candidate set.
type Visitor struct {
	Participant Strategy
	Visitor     Strategy
}

// Name implements Strategy.
func (s *Visitor) Name() string {
	return "visitor(" + s.Participant.Name() + "," + s.Visitor.Name() + ")"
}

func (s *Visitor) doSelect(candidates []bridge.Snapshot, conference []ConferenceBridge, props ParticipantProps) *bridge.Snapshot {
	inner := s.Participant
	if props.Visitor {
		inner = s.Visitor
	}

	partition := make([]ConferenceBridge, 0, len(conference))
	for _, cb := range conference {
		if cb.Visitor == props.Visitor {
			partition = append(partition, cb)
		}
	}

	// Prefer bridges already serving this partition of the conference.
	if len(partition) > 0 {
		partitioned := make([]bridge.Snapshot, 0, len(partition))
		inPartition := make(map[string]bool, len(partition))
		for _, cb := range partition {
			inPartition[cb.Bridge.JID] = true
		}
		for i := range candidates {
			if inPartition[candidates[i].JID] {
				partitioned = append(partitioned, candidates[i])
			}
		}
		if b := inner.doSelect(partitioned, partition, props); b != nil {
			return b
		}
	}

	return inner.doSelect(candidates, partition, props)
}
