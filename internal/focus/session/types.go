package session

import (
	"encoding/json"

	"github.com/sebas/conductor/internal/focus/colibri"
	"github.com/sebas/conductor/internal/focus/transport"
)

// AllocationParams describe a participant joining the conference.
type AllocationParams struct {
	ID          string
	StatsID     string
	DisplayName string
	Region      string
	Visitor     bool
	UseSCTP     bool
	AudioMuted  bool
	VideoMuted  bool
	// Sources is the participant's initial media source set, opaque to
	// the focus.
	Sources      json.RawMessage
	InitialLastN *int
}

// Allocation is the successful result of Allocate.
type Allocation struct {
	// BridgeSessionID is the bridge-assigned conference id of the session
	// the participant landed on.
	BridgeSessionID string
	// Region of the chosen bridge.
	Region string
	// Transport is the endpoint transport returned by the bridge.
	Transport json.RawMessage
	// FeedbackSources are the bridge's RTCP termination sources.
	FeedbackSources json.RawMessage
	// SCTPPort is set when SCTP was requested and granted.
	SCTPPort *int
}

// ParticipantUpdate carries the optional fields of UpdateParticipant.
type ParticipantUpdate struct {
	Transport    json.RawMessage
	Sources      json.RawMessage
	InitialLastN *int
	// SuppressLocalBridgeUpdate skips the RPC to the participant's own
	// bridge; caches and Octo propagation still apply.
	SuppressLocalBridgeUpdate bool
}

// participant is the manager's per-participant record. A participant
// belongs to exactly one session; moving bridges means removing and
// re-adding.
type participant struct {
	id          string
	statsID     string
	displayName string
	region      string
	visitor     bool
	useSCTP     bool
	audioMuted  bool
	videoMuted  bool

	sources      json.RawMessage
	transport    json.RawMessage
	initialLastN *int

	session *Session
}

// mutedMedias renders the participant's current mute flags as force-mute
// media elements. The manager lock must be held.
func (p *participant) mutedMedias() []colibri.Media {
	audio, video := p.audioMuted, p.videoMuted
	return []colibri.Media{
		{Type: colibri.MediaAudio, ForceMuted: &audio},
		{Type: colibri.MediaVideo, ForceMuted: &video},
	}
}

// allocateEndpoint renders the initial allocation element. Mute flags and
// sources are snapshotted here, so the manager lock must be held; the
// returned value is safe to send after the lock is released.
func (p *participant) allocateEndpoint() colibri.Endpoint {
	return colibri.Endpoint{
		ID:           p.id,
		Create:       true,
		StatsID:      p.statsID,
		DisplayName:  p.displayName,
		Medias:       p.mutedMedias(),
		SCTP:         p.useSCTP,
		Sources:      p.sources,
		InitialLastN: p.initialLastN,
	}
}

// muteEndpoint renders a force-mute element from the current mute flags.
// The manager lock must be held.
func (p *participant) muteEndpoint() colibri.Endpoint {
	return colibri.Endpoint{ID: p.id, Medias: p.mutedMedias()}
}

// relayEndpoint renders the participant's remote view for an Octo link.
// The manager lock must be held.
func (p *participant) relayEndpoint(create bool) colibri.Endpoint {
	return colibri.Endpoint{ID: p.id, Create: create, Sources: p.sources}
}

// Events are the manager's fire-and-forget notifications. Nil fields are
// skipped.
type Events struct {
	BridgeCountChanged       func(count int)
	BridgeRemoved            func(jid string, evicted []string)
	BridgeSelectionFailed    func()
	BridgeSelectionSucceeded func(jid string)
	EndpointRemoved          func(id string)
}

func (e Events) bridgeCountChanged(count int) {
	if e.BridgeCountChanged != nil {
		e.BridgeCountChanged(count)
	}
}

func (e Events) bridgeRemoved(jid string, evicted []string) {
	if e.BridgeRemoved != nil {
		e.BridgeRemoved(jid, evicted)
	}
}

func (e Events) bridgeSelectionFailed() {
	if e.BridgeSelectionFailed != nil {
		e.BridgeSelectionFailed()
	}
}

func (e Events) bridgeSelectionSucceeded(jid string) {
	if e.BridgeSelectionSucceeded != nil {
		e.BridgeSelectionSucceeded(jid)
	}
}

func (e Events) endpointRemoved(id string) {
	if e.EndpointRemoved != nil {
		e.EndpointRemoved(id)
	}
}

// ChannelProvider resolves the control channel for a bridge JID.
type ChannelProvider interface {
	Channel(jid string) (transport.ControlChannel, bool)
}
