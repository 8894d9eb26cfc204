package selector

import "github.com/sebas/conductor/internal/focus/bridge"

// Single restricts every conference to one bridge. With no bridge in the
// conference it picks the least loaded bridge (regional first); with one
// it insists on it; with more than one the conference topology is
// inconsistent and the caller must reconcile.
type Single struct{}

// Name implements Strategy.
func (s *Single) Name() string { return "single" }

func (s *Single) doSelect(candidates []bridge.Snapshot, conference []ConferenceBridge, props ParticipantProps) *bridge.Snapshot {
	switch len(conference) {
	case 0:
		if b := leastLoadedInRegion(candidates, props.Region); b != nil {
			return b
		}
		return leastLoaded(candidates)
	case 1:
		b := conference[0].Bridge
		if !b.Operational {
			return nil
		}
		return &b
	default:
		return nil
	}
}
