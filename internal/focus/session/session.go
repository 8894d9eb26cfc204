package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sebas/conductor/internal/focus/bridge"
	"github.com/sebas/conductor/internal/focus/colibri"
	"github.com/sebas/conductor/internal/focus/transport"
)

// Session is one (conference, bridge) pair. It builds and sends
// conference-modify requests; all bookkeeping of participants lives in
// the Manager. The bridge-assigned conference id is set exactly once, on
// the first successful allocate response; expired is a one-way latch
// after which no further RPCs are sent.
type Session struct {
	bridge    bridge.Snapshot
	channel   transport.ControlChannel
	meetingID string
	visitor   bool

	mu              sync.Mutex
	id              string
	expired         bool
	feedbackSources json.RawMessage
	relays          map[string]struct{}
}

func newSession(b bridge.Snapshot, channel transport.ControlChannel, meetingID string, visitor bool) *Session {
	return &Session{
		bridge:    b,
		channel:   channel,
		meetingID: meetingID,
		visitor:   visitor,
		relays:    make(map[string]struct{}),
	}
}

// Bridge returns the snapshot of the bridge this session runs on.
func (s *Session) Bridge() bridge.Snapshot { return s.bridge }

// RelayID returns the relay id of the session's bridge.
func (s *Session) RelayID() string { return s.bridge.RelayID }

// Visitor reports whether this is a visitor session.
func (s *Session) Visitor() bool { return s.visitor }

// ID returns the bridge-assigned conference id, empty until established.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Expired reports whether the session was expired.
func (s *Session) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expired
}

// FeedbackSources returns the bridge's feedback sources once known.
func (s *Session) FeedbackSources() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feedbackSources
}

// setEstablished records the conference id and feedback sources from the
// first successful allocate response.
func (s *Session) setEstablished(id string, feedbackSources json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == "" {
		s.id = id
	}
	if feedbackSources != nil {
		s.feedbackSources = feedbackSources
	}
}

// markExpired latches the expired flag.
func (s *Session) markExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expired = true
}

// newRequest starts a request document addressed to this session's
// conference: the established id when known, otherwise the meeting id
// with the create flag.
func (s *Session) newRequest() (*colibri.ConferenceModifyRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired {
		return nil, fmt.Errorf("session on %s already expired", s.bridge.JID)
	}
	req := &colibri.ConferenceModifyRequest{}
	if s.id != "" {
		req.ConferenceID = s.id
	} else {
		req.MeetingID = s.meetingID
		req.Create = true
	}
	return req, nil
}

// established is like newRequest but requires the conference id.
func (s *Session) established() (*colibri.ConferenceModifyRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expired {
		return nil, fmt.Errorf("session on %s already expired", s.bridge.JID)
	}
	if s.id == "" {
		return nil, fmt.Errorf("session on %s not established", s.bridge.JID)
	}
	return &colibri.ConferenceModifyRequest{ConferenceID: s.id}, nil
}

// allocate sends the initial endpoint allocation for a participant and
// awaits the response. The element is built by the manager under its
// lock; the session only addresses and sends it.
func (s *Session) allocate(ctx context.Context, ep colibri.Endpoint) (*colibri.ConferenceModifyResponse, error) {
	req, err := s.newRequest()
	if err != nil {
		return nil, err
	}
	req.Endpoints = []colibri.Endpoint{ep}
	return s.channel.ConferenceModify(ctx, req)
}

// update sends the provided endpoint sub-elements; it is a no-op when
// nothing was provided.
func (s *Session) update(ctx context.Context, id string, upd ParticipantUpdate) error {
	if upd.Transport == nil && upd.Sources == nil && upd.InitialLastN == nil {
		return nil
	}
	req, err := s.established()
	if err != nil {
		return err
	}
	req.Endpoints = []colibri.Endpoint{{
		ID:           id,
		Transport:    upd.Transport,
		Sources:      upd.Sources,
		InitialLastN: upd.InitialLastN,
	}}
	_, err = s.channel.ConferenceModify(ctx, req)
	return err
}

// updateForceMute sends the given force-mute endpoint elements.
func (s *Session) updateForceMute(ctx context.Context, endpoints []colibri.Endpoint) error {
	if len(endpoints) == 0 {
		return nil
	}
	req, err := s.established()
	if err != nil {
		return err
	}
	req.Endpoints = endpoints
	_, err = s.channel.ConferenceModify(ctx, req)
	return err
}

// expireEndpoints requests per-endpoint expiration. With the conference
// id unset the bridge never learned of the endpoints and the call is a
// no-op.
func (s *Session) expireEndpoints(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	if s.expired || s.id == "" {
		s.mu.Unlock()
		return nil
	}
	req := &colibri.ConferenceModifyRequest{ConferenceID: s.id}
	s.mu.Unlock()

	for _, id := range ids {
		req.Endpoints = append(req.Endpoints, colibri.Endpoint{ID: id, Expire: true})
	}
	_, err := s.channel.ConferenceModify(ctx, req)
	return err
}

// expireConference requests whole-conference expiration on the bridge and
// latches the expired flag. It reports whether an RPC was actually sent:
// with no established id there is nothing to expire remotely.
func (s *Session) expireConference(ctx context.Context) (sent bool, err error) {
	s.mu.Lock()
	if s.expired {
		s.mu.Unlock()
		return false, nil
	}
	id := s.id
	s.expired = true
	s.mu.Unlock()

	if id == "" {
		return false, nil
	}
	req := &colibri.ConferenceModifyRequest{ConferenceID: id, Expire: true}
	_, err = s.channel.ConferenceModify(ctx, req)
	return true, err
}

// createRelay establishes an Octo link towards a remote bridge, seeding
// it with the remote participant view. It fails if the link exists. The
// response carries the bridge's local transport for the link so the
// manager can forward it to the remote side.
func (s *Session) createRelay(ctx context.Context, remoteRelayID string, endpoints []colibri.Endpoint, initiator bool, meshID string) (*colibri.ConferenceModifyResponse, error) {
	s.mu.Lock()
	if _, exists := s.relays[remoteRelayID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("relay %s already exists on %s", remoteRelayID, s.bridge.JID)
	}
	s.relays[remoteRelayID] = struct{}{}
	s.mu.Unlock()

	req, err := s.newRequest()
	if err != nil {
		return nil, err
	}
	req.Relays = []colibri.Relay{{
		ID:        remoteRelayID,
		Create:    true,
		MeshID:    meshID,
		Initiator: &initiator,
		Endpoints: endpoints,
	}}
	return s.channel.ConferenceModify(ctx, req)
}

// hasRelay reports whether an Octo link to the remote relay exists.
func (s *Session) hasRelay(remoteRelayID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.relays[remoteRelayID]
	return ok
}

// expireRelay tears down the Octo link to a remote bridge.
func (s *Session) expireRelay(ctx context.Context, remoteRelayID string) error {
	s.mu.Lock()
	if _, exists := s.relays[remoteRelayID]; !exists {
		s.mu.Unlock()
		return nil
	}
	delete(s.relays, remoteRelayID)
	expired := s.expired
	id := s.id
	s.mu.Unlock()

	if expired || id == "" {
		return nil
	}
	req := &colibri.ConferenceModifyRequest{ConferenceID: id}
	req.Relays = []colibri.Relay{{ID: remoteRelayID, Expire: true}}
	_, err := s.channel.ConferenceModify(ctx, req)
	return err
}

// setRelayTransport delivers the remote bridge's transport for a relay
// link. Relay wiring may run before the session's first allocate, so the
// request is addressed like any other pre-establishment one.
func (s *Session) setRelayTransport(ctx context.Context, transport json.RawMessage, remoteRelayID string) error {
	req, err := s.newRequest()
	if err != nil {
		return err
	}
	req.Relays = []colibri.Relay{{ID: remoteRelayID, Transport: transport}}
	_, err = s.channel.ConferenceModify(ctx, req)
	return err
}

// updateRemoteParticipant installs or updates one remote participant on
// the link to the given relay.
func (s *Session) updateRemoteParticipant(ctx context.Context, ep colibri.Endpoint, remoteRelayID string) error {
	req, err := s.newRequest()
	if err != nil {
		return err
	}
	req.Relays = []colibri.Relay{{ID: remoteRelayID, Endpoints: []colibri.Endpoint{ep}}}
	_, err = s.channel.ConferenceModify(ctx, req)
	return err
}

// expireRemoteParticipants removes remote participants from the link to
// the given relay.
func (s *Session) expireRemoteParticipants(ctx context.Context, ids []string, remoteRelayID string) error {
	if len(ids) == 0 {
		return nil
	}
	req, err := s.established()
	if err != nil {
		return err
	}
	relay := colibri.Relay{ID: remoteRelayID}
	for _, id := range ids {
		relay.Endpoints = append(relay.Endpoints, colibri.Endpoint{ID: id, Expire: true})
	}
	req.Relays = []colibri.Relay{relay}
	_, err = s.channel.ConferenceModify(ctx, req)
	return err
}
