// Package session drives the per-conference allocation lifecycle: one
// Session per bridge in use, participant bookkeeping, error-classified
// failure handling and the inter-bridge relay mesh between sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sebas/conductor/internal/focus/bridge"
	"github.com/sebas/conductor/internal/focus/colibri"
	"github.com/sebas/conductor/internal/focus/selector"
)

const defaultRequestTimeout = 15 * time.Second

// ManagerConfig wires a conference manager to its collaborators.
type ManagerConfig struct {
	// Name of the conference, used in logs and events.
	Name string
	// MeetingID is sent to bridges on the first request of each session.
	MeetingID string
	// PinnedVersion, when set, restricts selection to bridges running
	// exactly this version.
	PinnedVersion string
	// RequestTimeout bounds each conference-modify RPC.
	RequestTimeout time.Duration

	Registry *bridge.Registry
	Selector *selector.Selector
	Channels ChannelProvider
	Topology Topology
	Events   Events
}

// Manager owns all sessions and participants of one conference. Public
// operations are serialised per conference; different conferences run in
// parallel.
type Manager struct {
	name           string
	meetingID      string
	pinnedVersion  string
	requestTimeout time.Duration

	registry *bridge.Registry
	selector *selector.Selector
	channels ChannelProvider
	topology Topology
	events   Events

	mu sync.Mutex
	// respGate serialises allocate response processing so that two
	// in-flight allocations cannot interleave inconsistent updates.
	respGate sync.Mutex

	sessions     map[string]*Session
	order        []*Session
	participants map[string]*participant
	bySession    map[*Session]map[string]*participant
	expired      bool
}

// NewManager creates a manager for one conference.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Topology == nil {
		cfg.Topology = FullMesh{}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &Manager{
		name:           cfg.Name,
		meetingID:      cfg.MeetingID,
		pinnedVersion:  cfg.PinnedVersion,
		requestTimeout: cfg.RequestTimeout,
		registry:       cfg.Registry,
		selector:       cfg.Selector,
		channels:       cfg.Channels,
		topology:       cfg.Topology,
		events:         cfg.Events,
		sessions:       make(map[string]*Session),
		participants:   make(map[string]*participant),
		bySession:      make(map[*Session]map[string]*participant),
	}
}

// Name returns the conference name.
func (m *Manager) Name() string { return m.name }

// MeetingID returns the conference meeting id.
func (m *Manager) MeetingID() string { return m.meetingID }

// Expired reports whether the conference was expired.
func (m *Manager) Expired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expired
}

// ParticipantCount returns the number of allocated participants.
func (m *Manager) ParticipantCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.participants)
}

// BridgeCount returns the number of bridges in use.
func (m *Manager) BridgeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// sessionKeyFor keys sessions by relay id so no two sessions share one;
// bridges without a relay id fall back to their JID.
func sessionKeyFor(b bridge.Snapshot) string {
	if b.RelayID != "" {
		return b.RelayID
	}
	return b.JID
}

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

// Allocate places a participant on a bridge: selects one, creates the
// session if needed, wires new sessions into the relay mesh and sends
// the endpoint allocation. Failures are returned as *AllocationError;
// RemoveBridge set means the whole session was evicted and the caller
// should re-invite the evicted participants elsewhere.
func (m *Manager) Allocate(ctx context.Context, params AllocationParams) (*Allocation, error) {
	m.mu.Lock()
	if m.expired {
		m.mu.Unlock()
		return nil, &AllocationError{Kind: KindStale, Err: errors.New("conference expired")}
	}
	if _, exists := m.participants[params.ID]; exists {
		m.mu.Unlock()
		return nil, &AllocationError{Kind: KindParticipantExists, Err: fmt.Errorf("participant %s already allocated", params.ID)}
	}

	candidates := m.registry.Candidates()
	conference := m.conferenceBridgesLocked()
	props := selector.ParticipantProps{Region: params.Region, Visitor: params.Visitor}
	chosen := m.selector.Select(candidates, conference, props, m.pinnedVersion)
	if chosen == nil {
		m.mu.Unlock()
		slog.Warn("[Conference] Bridge selection failed", "conference", m.name, "region", params.Region, "visitor", params.Visitor)
		m.events.bridgeSelectionFailed()
		return nil, &AllocationError{Kind: KindSelectionFailed}
	}

	sess, created, err := m.getOrCreateSessionLocked(*chosen, params.Visitor)
	if err != nil {
		m.mu.Unlock()
		return nil, &AllocationError{Kind: KindBridgeUnavailable, BridgeJID: chosen.JID, Err: err}
	}

	p := &participant{
		id:           params.ID,
		statsID:      params.StatsID,
		displayName:  params.DisplayName,
		region:       params.Region,
		visitor:      params.Visitor,
		useSCTP:      params.UseSCTP,
		audioMuted:   params.AudioMuted,
		videoMuted:   params.VideoMuted,
		sources:      params.Sources,
		initialLastN: params.InitialLastN,
		session:      sess,
	}
	m.participants[p.id] = p
	m.bySession[sess][p.id] = p
	m.registry.EndpointAdded(chosen.JID)
	ep := p.allocateEndpoint()

	var post []func()
	if created {
		m.order = append(m.order, sess)
		count := len(m.sessions)
		post = append(post, func() { m.events.bridgeCountChanged(count) })
		post = append(post, m.relayWiringLocked(ctx, sess)...)
	}
	m.mu.Unlock()

	m.events.bridgeSelectionSucceeded(chosen.JID)
	runAll(post)

	m.respGate.Lock()
	defer m.respGate.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	resp, rpcErr := sess.allocate(reqCtx, ep)
	cancel()

	return m.processAllocateResponse(ctx, sess, p, created, resp, rpcErr)
}

// processAllocateResponse applies the outcome of an allocate RPC under
// the conference lock, after verifying the session and participant are
// still the current ones.
func (m *Manager) processAllocateResponse(ctx context.Context, sess *Session, p *participant, created bool, resp *colibri.ConferenceModifyResponse, rpcErr error) (*Allocation, error) {
	jid := sess.Bridge().JID

	m.mu.Lock()
	if m.sessions[sessionKeyFor(sess.Bridge())] != sess || m.participants[p.id] != p {
		m.mu.Unlock()
		// The endpoint may have landed on the bridge with no local owner.
		if rpcErr == nil && resp != nil && resp.Error == nil {
			if err := sess.expireEndpoints(ctx, []string{p.id}); err != nil {
				slog.Warn("[Conference] Orphan endpoint expire failed", "conference", m.name, "bridge", jid, "endpoint", p.id, "error", err)
			}
		}
		return nil, &AllocationError{Kind: KindStale, BridgeJID: jid}
	}

	if rpcErr != nil {
		kind := KindBridgeUnavailable
		if errors.Is(rpcErr, context.DeadlineExceeded) {
			kind = KindTimeout
		}
		slog.Warn("[Conference] Allocate RPC failed", "conference", m.name, "bridge", jid, "error", rpcErr)
		m.registry.SetNonOperational(jid)
		return nil, m.evictSessionLocked(ctx, sess, &AllocationError{Kind: kind, BridgeJID: jid, RemoveBridge: true, Err: rpcErr})
	}

	if resp.Error != nil {
		ck := resp.Error.Kind()
		switch ck {
		case colibri.KindGracefulShutdown:
			m.registry.SetGracefulShutdown(jid)
		case colibri.KindBridgeUnavailable:
			m.registry.SetNonOperational(jid)
		}
		if ck.RemovesBridge() {
			return nil, m.evictSessionLocked(ctx, sess, &AllocationError{Kind: kindForColibri(ck), BridgeJID: jid, RemoveBridge: true, Err: resp.Error})
		}
		m.evictParticipantLocked(ctx, p)
		return nil, &AllocationError{Kind: KindProtocol, BridgeJID: jid, Err: resp.Error}
	}

	if sess.ID() == "" && resp.ConferenceID == "" {
		m.evictParticipantLocked(ctx, p)
		return nil, &AllocationError{Kind: KindParse, BridgeJID: jid, Err: errors.New("create response without conference id")}
	}
	if sess.ID() != "" && resp.ConferenceID != "" && resp.ConferenceID != sess.ID() {
		err := fmt.Errorf("conference id changed from %s to %s", sess.ID(), resp.ConferenceID)
		slog.Error("[Conference] Bridge session state mismatch", "conference", m.name, "bridge", jid, "error", err)
		return nil, m.evictSessionLocked(ctx, sess, &AllocationError{Kind: KindStateMismatch, BridgeJID: jid, RemoveBridge: true, Err: err})
	}
	sess.setEstablished(resp.ConferenceID, resp.FeedbackSources)

	epRes := resp.Endpoint(p.id)
	if epRes == nil {
		m.evictParticipantLocked(ctx, p)
		return nil, &AllocationError{Kind: KindParse, BridgeJID: jid, Err: fmt.Errorf("response missing endpoint %s", p.id)}
	}
	p.transport = epRes.Transport

	alloc := &Allocation{
		BridgeSessionID: sess.ID(),
		Region:          sess.Bridge().Region,
		Transport:       epRes.Transport,
		FeedbackSources: sess.FeedbackSources(),
		SCTPPort:        epRes.SCTPPort,
	}

	// New sessions already seeded the participant onto existing relay
	// links at creation time.
	var post []func()
	if !created && !p.visitor {
		post = m.remoteUpdatePostLocked(ctx, p, true)
	}
	m.mu.Unlock()
	runAll(post)

	slog.Info("[Conference] Participant allocated", "conference", m.name, "participant", p.id, "bridge", jid, "session", alloc.BridgeSessionID)
	return alloc, nil
}

// evictSessionLocked removes the session, emits eviction events and
// returns the allocation error. Takes m.mu held, releases it.
func (m *Manager) evictSessionLocked(ctx context.Context, sess *Session, allocErr *AllocationError) error {
	evicted, count, post, found := m.removeSessionLocked(ctx, sess, false)
	m.mu.Unlock()
	runAll(post)
	if found {
		m.events.bridgeRemoved(sess.Bridge().JID, evicted)
		m.events.bridgeCountChanged(count)
	}
	return allocErr
}

// evictParticipantLocked drops a single failed participant from the
// local maps and, when it was the last one on its session, removes the
// session too so no empty session lingers holding relay links. Takes
// m.mu held, releases it.
func (m *Manager) evictParticipantLocked(ctx context.Context, p *participant) {
	delete(m.participants, p.id)
	delete(m.bySession[p.session], p.id)
	m.registry.EndpointRemoved(p.session.Bridge().JID)

	var post []func()
	var count int
	sessionEmpty := len(m.bySession[p.session]) == 0
	if sessionEmpty {
		_, count, post, _ = m.removeSessionLocked(ctx, p.session, true)
	}
	m.mu.Unlock()

	m.events.endpointRemoved(p.id)
	runAll(post)
	if sessionEmpty {
		m.events.bridgeCountChanged(count)
	}
}

// removeSessionLocked unlinks the session and all its participants and
// returns the teardown RPCs to run after the lock is released. Callers
// emit bridgeRemoved/bridgeCountChanged themselves when found is true.
func (m *Manager) removeSessionLocked(ctx context.Context, sess *Session, expireOnBridge bool) (evicted []string, count int, post []func(), found bool) {
	key := sessionKeyFor(sess.Bridge())
	if m.sessions[key] != sess {
		return nil, len(m.sessions), nil, false
	}
	delete(m.sessions, key)
	for i, s := range m.order {
		if s == sess {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	for id := range m.bySession[sess] {
		evicted = append(evicted, id)
		delete(m.participants, id)
		m.registry.EndpointRemoved(sess.Bridge().JID)
	}
	sort.Strings(evicted)
	delete(m.bySession, sess)
	count = len(m.sessions)

	if expireOnBridge {
		post = append(post, func() {
			if _, err := sess.expireConference(ctx); err != nil {
				slog.Warn("[Conference] Session expire failed", "conference", m.name, "bridge", sess.Bridge().JID, "error", err)
			}
		})
	} else {
		sess.markExpired()
	}

	if rid := sess.RelayID(); rid != "" {
		for _, o := range m.order {
			if o.hasRelay(rid) {
				o := o
				post = append(post, func() {
					if err := o.expireRelay(ctx, rid); err != nil {
						slog.Warn("[Conference] Relay expire failed", "conference", m.name, "bridge", o.Bridge().JID, "remote", rid, "error", err)
					}
				})
			}
		}
	}
	return evicted, count, post, true
}

// getOrCreateSessionLocked looks up the session for the chosen bridge or
// creates one over the bridge's control channel.
func (m *Manager) getOrCreateSessionLocked(b bridge.Snapshot, visitor bool) (*Session, bool, error) {
	key := sessionKeyFor(b)
	if sess, ok := m.sessions[key]; ok {
		return sess, false, nil
	}
	ch, ok := m.channels.Channel(b.JID)
	if !ok {
		return nil, false, fmt.Errorf("no control channel for bridge %s", b.JID)
	}
	sess := newSession(b, ch, m.meetingID, visitor)
	m.sessions[key] = sess
	m.bySession[sess] = make(map[string]*participant)
	return sess, true, nil
}

// conferenceBridgesLocked snapshots the bridges currently in use,
// first-acquired first, restricted to operational ones.
func (m *Manager) conferenceBridgesLocked() []selector.ConferenceBridge {
	out := make([]selector.ConferenceBridge, 0, len(m.order))
	for _, s := range m.order {
		snap, ok := m.registry.Get(s.Bridge().JID)
		if !ok || !snap.Operational {
			continue
		}
		out = append(out, selector.ConferenceBridge{
			Bridge:           snap,
			ParticipantCount: len(m.bySession[s]),
			Visitor:          s.visitor,
		})
	}
	return out
}

// relayWiringLocked computes the relay links a freshly added session
// needs and returns the RPCs establishing both directions of each link.
func (m *Manager) relayWiringLocked(ctx context.Context, added *Session) []func() {
	if added.RelayID() == "" {
		return nil
	}
	byRelay := make(map[string]*Session)
	existing := make([]string, 0, len(m.order))
	for _, s := range m.order {
		if s == added || s.RelayID() == "" {
			continue
		}
		existing = append(existing, s.RelayID())
		byRelay[s.RelayID()] = s
	}
	links := m.topology.Links(existing, added.RelayID())

	var post []func()
	for _, rid := range links {
		other := byRelay[rid]
		if other == nil {
			continue
		}
		meshID := m.topology.MeshID(other.RelayID(), added.RelayID())
		onOther := m.relayEndpointsLocked(other)
		onAdded := m.relayEndpointsLocked(added)
		o, a := other, added
		post = append(post, func() {
			respA, err := a.createRelay(ctx, o.RelayID(), onOther, false, meshID)
			if err != nil {
				slog.Warn("[Conference] Relay create failed", "conference", m.name, "bridge", a.Bridge().JID, "remote", o.RelayID(), "error", err)
			}
			respO, err := o.createRelay(ctx, a.RelayID(), onAdded, true, meshID)
			if err != nil {
				slog.Warn("[Conference] Relay create failed", "conference", m.name, "bridge", o.Bridge().JID, "remote", a.RelayID(), "error", err)
			}
			m.deliverRelayTransport(ctx, respA, a, o)
			m.deliverRelayTransport(ctx, respO, o, a)
		})
	}
	return post
}

// deliverRelayTransport forwards the transport that `from` returned for
// its link towards `to`, completing the Octo connection on to's side.
func (m *Manager) deliverRelayTransport(ctx context.Context, resp *colibri.ConferenceModifyResponse, from, to *Session) {
	if resp == nil {
		return
	}
	r := resp.Relay(to.RelayID())
	if r == nil || r.Transport == nil {
		return
	}
	if err := to.setRelayTransport(ctx, r.Transport, from.RelayID()); err != nil {
		slog.Warn("[Conference] Relay transport delivery failed", "conference", m.name, "bridge", to.Bridge().JID, "remote", from.RelayID(), "error", err)
	}
}

// relayEndpointsLocked renders the remote view of a session's
// participants for seeding a relay link. Visitors receive only and are
// not forwarded.
func (m *Manager) relayEndpointsLocked(sess *Session) []colibri.Endpoint {
	out := make([]colibri.Endpoint, 0, len(m.bySession[sess]))
	for _, p := range m.bySession[sess] {
		if !p.visitor {
			out = append(out, p.relayEndpoint(true))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// remoteUpdatePostLocked returns the RPCs propagating a participant's
// current source set to every session holding a relay link to its bridge.
func (m *Manager) remoteUpdatePostLocked(ctx context.Context, p *participant, create bool) []func() {
	rid := p.session.RelayID()
	if rid == "" {
		return nil
	}
	ep := p.relayEndpoint(create)
	var post []func()
	for _, o := range m.order {
		if o == p.session || !o.hasRelay(rid) {
			continue
		}
		o := o
		post = append(post, func() {
			if err := o.updateRemoteParticipant(ctx, ep, rid); err != nil {
				slog.Warn("[Conference] Remote participant update failed", "conference", m.name, "bridge", o.Bridge().JID, "participant", ep.ID, "error", err)
			}
		})
	}
	return post
}

// remoteExpirePostLocked returns the RPCs removing a participant's view
// from every session linked to its bridge.
func (m *Manager) remoteExpirePostLocked(ctx context.Context, p *participant) []func() {
	rid := p.session.RelayID()
	if rid == "" {
		return nil
	}
	var post []func()
	for _, o := range m.order {
		if o == p.session || !o.hasRelay(rid) {
			continue
		}
		o := o
		post = append(post, func() {
			if err := o.expireRemoteParticipants(ctx, []string{p.id}, rid); err != nil {
				slog.Warn("[Conference] Remote participant expire failed", "conference", m.name, "bridge", o.Bridge().JID, "participant", p.id, "error", err)
			}
		})
	}
	return post
}

// UpdateParticipant applies transport/sources/last-n changes for a
// participant: caches them locally, updates the participant's bridge
// unless suppressed and propagates source changes over the relay mesh.
func (m *Manager) UpdateParticipant(ctx context.Context, id string, upd ParticipantUpdate) error {
	m.mu.Lock()
	p, ok := m.participants[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("participant %s not found in conference %s", id, m.name)
	}
	if upd.Transport != nil {
		p.transport = upd.Transport
	}
	sourcesChanged := upd.Sources != nil
	if sourcesChanged {
		p.sources = upd.Sources
	}
	if upd.InitialLastN != nil {
		p.initialLastN = upd.InitialLastN
	}
	sess := p.session

	var post []func()
	if !upd.SuppressLocalBridgeUpdate {
		post = append(post, func() {
			if err := sess.update(ctx, id, upd); err != nil {
				m.sessionFailed(ctx, sess, err)
			}
		})
	}
	if sourcesChanged && !p.visitor {
		post = append(post, m.remoteUpdatePostLocked(ctx, p, false)...)
	}
	m.mu.Unlock()
	runAll(post)
	return nil
}

// RemoveParticipant expires a participant's endpoint and drops it from
// the conference. Unknown ids are ignored. When the participant was the
// last one on its bridge the whole session is expired.
func (m *Manager) RemoveParticipant(ctx context.Context, id string) {
	m.mu.Lock()
	p, ok := m.participants[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	sess := p.session
	delete(m.participants, id)
	delete(m.bySession[sess], id)
	m.registry.EndpointRemoved(sess.Bridge().JID)

	var post []func()
	var count int
	sessionEmpty := len(m.bySession[sess]) == 0
	if sessionEmpty {
		_, count, post, _ = m.removeSessionLocked(ctx, sess, true)
	} else {
		post = append(post, func() {
			if err := sess.expireEndpoints(ctx, []string{id}); err != nil {
				m.sessionFailed(ctx, sess, err)
			}
		})
		if !p.visitor {
			post = append(post, m.remoteExpirePostLocked(ctx, p)...)
		}
	}
	m.mu.Unlock()

	m.events.endpointRemoved(id)
	runAll(post)
	if sessionEmpty {
		slog.Info("[Conference] Last participant left bridge", "conference", m.name, "bridge", sess.Bridge().JID)
		m.events.bridgeCountChanged(count)
	}
}

// Mute force-mutes or unmutes the given media type for a set of
// participants, sending one batched request per affected bridge and
// skipping participants whose flag already matches. Returns false when
// any participant was unknown or a request failed.
func (m *Manager) Mute(ctx context.Context, ids []string, doMute bool, mediaType colibri.MediaType) bool {
	type muteBatch struct {
		endpoints    []colibri.Endpoint
		participants []*participant
	}

	m.mu.Lock()
	queued := make(map[*Session]*muteBatch)
	ok := true
	for _, id := range ids {
		p, found := m.participants[id]
		if !found {
			slog.Warn("[Conference] Mute for unknown participant", "conference", m.name, "participant", id)
			ok = false
			continue
		}
		var flag *bool
		switch mediaType {
		case colibri.MediaAudio:
			flag = &p.audioMuted
		case colibri.MediaVideo:
			flag = &p.videoMuted
		default:
			ok = false
			continue
		}
		if *flag == doMute {
			continue
		}
		*flag = doMute
		b := queued[p.session]
		if b == nil {
			b = &muteBatch{}
			queued[p.session] = b
		}
		b.endpoints = append(b.endpoints, p.muteEndpoint())
		b.participants = append(b.participants, p)
	}
	m.mu.Unlock()

	for sess, b := range queued {
		err := sess.updateForceMute(ctx, b.endpoints)
		if err == nil {
			continue
		}
		slog.Warn("[Conference] Force mute failed", "conference", m.name, "bridge", sess.Bridge().JID, "error", err)
		ok = false

		// The bridge never saw the change; roll the flags back so a retry
		// is not skipped as already applied.
		m.mu.Lock()
		for _, p := range b.participants {
			if m.participants[p.id] != p {
				continue
			}
			switch mediaType {
			case colibri.MediaAudio:
				p.audioMuted = !doMute
			case colibri.MediaVideo:
				p.videoMuted = !doMute
			}
		}
		m.mu.Unlock()
	}
	return ok
}

// RemoveBridge evicts the session running on the given bridge, expiring
// it best-effort, and reports its evicted participants so the caller can
// re-invite them. No-op if the conference does not use the bridge.
func (m *Manager) RemoveBridge(ctx context.Context, b bridge.Snapshot) {
	m.mu.Lock()
	sess := m.sessions[sessionKeyFor(b)]
	if sess == nil {
		m.mu.Unlock()
		return
	}
	evicted, count, post, found := m.removeSessionLocked(ctx, sess, true)
	m.mu.Unlock()
	if !found {
		return
	}
	slog.Warn("[Conference] Bridge removed from conference", "conference", m.name, "bridge", b.JID, "evicted", len(evicted))
	runAll(post)
	m.events.bridgeRemoved(b.JID, evicted)
	m.events.bridgeCountChanged(count)
}

// sessionFailed handles a failed non-allocate RPC: the session is treated
// as lost and evicted, marking the bridge non-operational on timeout.
func (m *Manager) sessionFailed(ctx context.Context, sess *Session, cause error) {
	slog.Warn("[Conference] Session failed", "conference", m.name, "bridge", sess.Bridge().JID, "error", cause)
	if errors.Is(cause, context.DeadlineExceeded) {
		m.registry.SetNonOperational(sess.Bridge().JID)
	}
	m.mu.Lock()
	evicted, count, post, found := m.removeSessionLocked(ctx, sess, false)
	m.mu.Unlock()
	if !found {
		return
	}
	runAll(post)
	m.events.bridgeRemoved(sess.Bridge().JID, evicted)
	m.events.bridgeCountChanged(count)
}

// Expire tears down the whole conference: every session is expired on
// its bridge and all local state is cleared. Safe to call twice.
func (m *Manager) Expire(ctx context.Context) {
	m.mu.Lock()
	if m.expired {
		m.mu.Unlock()
		return
	}
	m.expired = true
	sessions := m.order
	for _, p := range m.participants {
		m.registry.EndpointRemoved(p.session.Bridge().JID)
	}
	m.order = nil
	m.sessions = make(map[string]*Session)
	m.participants = make(map[string]*participant)
	m.bySession = make(map[*Session]map[string]*participant)
	m.mu.Unlock()

	for _, s := range sessions {
		if _, err := s.expireConference(ctx); err != nil {
			slog.Warn("[Conference] Conference expire failed", "conference", m.name, "bridge", s.Bridge().JID, "error", err)
		}
	}
	slog.Info("[Conference] Conference expired", "conference", m.name, "bridges", len(sessions))
	if len(sessions) > 0 {
		m.events.bridgeCountChanged(0)
	}
}
