package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sebas/conductor/internal/focus/bridge"
	"github.com/sebas/conductor/internal/focus/colibri"
	"github.com/sebas/conductor/internal/focus/selector"
	"github.com/sebas/conductor/internal/focus/transport"
)

// fakeChannel is an in-process ControlChannel recording every request.
type fakeChannel struct {
	confID string

	mu           sync.Mutex
	requests     []colibri.ConferenceModifyRequest
	respErr      *colibri.ErrorResponse
	transportErr error
	respConfID   string
	closed       bool
}

func (c *fakeChannel) ConferenceModify(ctx context.Context, req *colibri.ConferenceModifyRequest) (*colibri.ConferenceModifyResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, *req)

	if c.transportErr != nil {
		return nil, c.transportErr
	}
	if c.respErr != nil {
		return &colibri.ConferenceModifyResponse{Error: c.respErr}, nil
	}

	resp := &colibri.ConferenceModifyResponse{
		FeedbackSources: json.RawMessage(`{"sources":["fb"]}`),
	}
	if req.Create {
		resp.ConferenceID = c.confID
	}
	if c.respConfID != "" {
		resp.ConferenceID = c.respConfID
	}
	for _, ep := range req.Endpoints {
		resp.Endpoints = append(resp.Endpoints, colibri.EndpointResult{
			ID:        ep.ID,
			Transport: json.RawMessage(`{"candidates":[]}`),
		})
	}
	// Relay creates return this bridge's local transport for the link,
	// tagged so tests can assert the delivery direction.
	for _, r := range req.Relays {
		if r.Create {
			resp.Relays = append(resp.Relays, colibri.RelayResult{
				ID:        r.ID,
				Transport: json.RawMessage(`{"candidates":["` + c.confID + `"]}`),
			})
		}
	}
	return resp, nil
}

func (c *fakeChannel) Health(ctx context.Context) error { return nil }
func (c *fakeChannel) Ready() bool { return true }
func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) recorded() []colibri.ConferenceModifyRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]colibri.ConferenceModifyRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

type fakeProvider map[string]*fakeChannel

func (p fakeProvider) Channel(jid string) (transport.ControlChannel, bool) {
	c, ok := p[jid]
	if !ok {
		return nil, false
	}
	return c, true
}

// eventLog records manager events.
type eventLog struct {
	mu               sync.Mutex
	countChanges     []int
	removedBridges   []string
	evicted          [][]string
	selectionFailed  int
	selectionSuccess []string
	endpointRemoved  []string
}

func (e *eventLog) events() Events {
	return Events{
		BridgeCountChanged: func(count int) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.countChanges = append(e.countChanges, count)
		},
		BridgeRemoved: func(jid string, evicted []string) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.removedBridges = append(e.removedBridges, jid)
			e.evicted = append(e.evicted, evicted)
		},
		BridgeSelectionFailed: func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.selectionFailed++
		},
		BridgeSelectionSucceeded: func(jid string) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.selectionSuccess = append(e.selectionSuccess, jid)
		},
		EndpointRemoved: func(id string) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.endpointRemoved = append(e.endpointRemoved, id)
		},
	}
}

type bridgeSpec struct {
	jid    string
	region string
	stress float64
}

type testEnv struct {
	registry *bridge.Registry
	channels fakeProvider
	events   *eventLog
	manager  *Manager
}

func newEnv(t *testing.T, strat selector.Strategy, bridges ...bridgeSpec) *testEnv {
	t.Helper()

	registry := bridge.NewRegistry()
	channels := fakeProvider{}
	for _, spec := range bridges {
		relayID := "relay-" + spec.jid
		version := "1"
		registry.AddOrUpdate(spec.jid, spec.jid+":9090", &bridge.Stats{
			StressLevel: &spec.stress,
			Region:      &spec.region,
			Version:     &version,
			RelayID:     &relayID,
		})
		channels[spec.jid] = &fakeChannel{confID: "conf-" + spec.jid}
	}

	events := &eventLog{}
	manager := NewManager(ManagerConfig{
		Name:      "room@conference",
		MeetingID: "meeting-1",
		Registry:  registry,
		Selector: selector.New(strat, selector.Config{
			MaxBridgeStress:  0.85,
			AllowMultiBridge: true,
		}),
		Channels:       channels,
		Topology:       FullMesh{},
		Events:         events.events(),
		RequestTimeout: time.Second,
	})
	return &testEnv{registry: registry, channels: channels, events: events, manager: manager}
}

func regionStrategy() selector.Strategy {
	return &selector.RegionBased{MaxStress: 0.8}
}

func allocErr(t *testing.T, err error) *AllocationError {
	t.Helper()
	var ae *AllocationError
	if !errors.As(err, &ae) {
		t.Fatalf("error %v is not an *AllocationError", err)
	}
	return ae
}

func TestAllocateSingleBridge(t *testing.T) {
	env := newEnv(t, regionStrategy(),
		bridgeSpec{"jvb-a", "us", 0.1},
		bridgeSpec{"jvb-b", "eu", 0.2},
	)

	alloc, err := env.manager.Allocate(context.Background(), AllocationParams{ID: "p1", Region: "us"})
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if alloc.BridgeSessionID != "conf-jvb-a" {
		t.Errorf("BridgeSessionID = %q, want conf-jvb-a", alloc.BridgeSessionID)
	}
	if alloc.Region != "us" {
		t.Errorf("Region = %q, want us", alloc.Region)
	}
	if alloc.Transport == nil || alloc.FeedbackSources == nil {
		t.Error("allocation missing transport or feedback sources")
	}

	if got := env.manager.ParticipantCount(); got != 1 {
		t.Errorf("ParticipantCount() = %d, want 1", got)
	}
	if got := env.manager.BridgeCount(); got != 1 {
		t.Errorf("BridgeCount() = %d, want 1", got)
	}
	if got := env.events.countChanges; len(got) != 1 || got[0] != 1 {
		t.Errorf("bridgeCountChanged events = %v, want [1]", got)
	}
	if got := env.events.selectionSuccess; len(got) != 1 || got[0] != "jvb-a" {
		t.Errorf("selection events = %v, want [jvb-a]", got)
	}

	reqs := env.channels["jvb-a"].recorded()
	if len(reqs) != 1 {
		t.Fatalf("requests to jvb-a = %d, want 1", len(reqs))
	}
	if !reqs[0].Create || reqs[0].MeetingID != "meeting-1" {
		t.Errorf("first request = %+v, want create with meeting id", reqs[0])
	}
	if len(reqs[0].Endpoints) != 1 || reqs[0].Endpoints[0].ID != "p1" || !reqs[0].Endpoints[0].Create {
		t.Errorf("first request endpoints = %+v, want create for p1", reqs[0].Endpoints)
	}
}

func TestAllocateDuplicateParticipant(t *testing.T) {
	env := newEnv(t, regionStrategy(), bridgeSpec{"jvb-a", "us", 0.1})
	ctx := context.Background()

	if _, err := env.manager.Allocate(ctx, AllocationParams{ID: "p1"}); err != nil {
		t.Fatalf("first Allocate() error = %v", err)
	}
	_, err := env.manager.Allocate(ctx, AllocationParams{ID: "p1"})
	if ae := allocErr(t, err); ae.Kind != KindParticipantExists {
		t.Errorf("Kind = %v, want %v", ae.Kind, KindParticipantExists)
	}
}

func TestAllocateSelectionFailed(t *testing.T) {
	env := newEnv(t, regionStrategy())

	_, err := env.manager.Allocate(context.Background(), AllocationParams{ID: "p1"})
	if ae := allocErr(t, err); ae.Kind != KindSelectionFailed {
		t.Errorf("Kind = %v, want %v", ae.Kind, KindSelectionFailed)
	}
	if env.events.selectionFailed != 1 {
		t.Errorf("selectionFailed events = %d, want 1", env.events.selectionFailed)
	}
	if got := env.manager.BridgeCount(); got != 0 {
		t.Errorf("BridgeCount() = %d, want 0", got)
	}
}

func TestAllocateGracefulShutdownError(t *testing.T) {
	env := newEnv(t, regionStrategy(), bridgeSpec{"jvb-a", "us", 0.1})
	env.channels["jvb-a"].respErr = &colibri.ErrorResponse{
		Condition: colibri.ConditionServiceUnavailable,
		Reason:    colibri.ReasonGracefulShutdown,
	}

	_, err := env.manager.Allocate(context.Background(), AllocationParams{ID: "p1"})
	ae := allocErr(t, err)
	if ae.Kind != KindGracefulShutdown || !ae.RemoveBridge {
		t.Errorf("error = %+v, want graceful-shutdown with RemoveBridge", ae)
	}

	if snap, _ := env.registry.Get("jvb-a"); !snap.GracefulShutdown {
		t.Error("bridge not flagged graceful-shutdown in registry")
	}
	if got := env.events.removedBridges; len(got) != 1 || got[0] != "jvb-a" {
		t.Errorf("bridgeRemoved events = %v, want [jvb-a]", got)
	}
	if got := env.events.evicted; len(got) != 1 || len(got[0]) != 1 || got[0][0] != "p1" {
		t.Errorf("evicted lists = %v, want [[p1]]", got)
	}
	if got := env.events.countChanges; len(got) != 2 || got[1] != 0 {
		t.Errorf("bridgeCountChanged events = %v, want [1 0]", got)
	}
	if got := env.manager.ParticipantCount(); got != 0 {
		t.Errorf("ParticipantCount() = %d, want 0 after eviction", got)
	}
}

func TestAllocateTimeoutRemovesBridge(t *testing.T) {
	env := newEnv(t, regionStrategy(), bridgeSpec{"jvb-a", "us", 0.1})
	env.channels["jvb-a"].transportErr = fmt.Errorf("bridge request: %w", context.DeadlineExceeded)

	_, err := env.manager.Allocate(context.Background(), AllocationParams{ID: "p1"})
	ae := allocErr(t, err)
	if ae.Kind != KindTimeout || !ae.RemoveBridge {
		t.Errorf("error = %+v, want timeout with RemoveBridge", ae)
	}
	if snap, _ := env.registry.Get("jvb-a"); snap.Operational {
		t.Error("bridge still operational after allocate timeout")
	}
	if got := env.manager.BridgeCount(); got != 0 {
		t.Errorf("BridgeCount() = %d, want 0", got)
	}
}

func TestAllocateProtocolErrorEvictsOnlyParticipant(t *testing.T) {
	env := newEnv(t, regionStrategy(), bridgeSpec{"jvb-a", "us", 0.1})
	ctx := context.Background()

	if _, err := env.manager.Allocate(ctx, AllocationParams{ID: "p1"}); err != nil {
		t.Fatalf("Allocate(p1) error = %v", err)
	}

	env.channels["jvb-a"].respErr = &colibri.ErrorResponse{Condition: colibri.ConditionBadRequest}
	_, err := env.manager.Allocate(ctx, AllocationParams{ID: "p2"})
	ae := allocErr(t, err)
	if ae.Kind != KindProtocol || ae.RemoveBridge {
		t.Errorf("error = %+v, want protocol error without RemoveBridge", ae)
	}

	// p1 and the session survive; only p2 is gone.
	if got := env.manager.ParticipantCount(); got != 1 {
		t.Errorf("ParticipantCount() = %d, want 1", got)
	}
	if got := env.manager.BridgeCount(); got != 1 {
		t.Errorf("BridgeCount() = %d, want 1", got)
	}
}

func TestAllocateProtocolErrorOnFreshBridgeRemovesSession(t *testing.T) {
	env := newEnv(t, regionStrategy(), bridgeSpec{"jvb-a", "us", 0.1})
	env.channels["jvb-a"].respErr = &colibri.ErrorResponse{Condition: colibri.ConditionBadRequest}

	_, err := env.manager.Allocate(context.Background(), AllocationParams{ID: "p1"})
	ae := allocErr(t, err)
	if ae.Kind != KindProtocol || ae.RemoveBridge {
		t.Errorf("error = %+v, want protocol error without RemoveBridge", ae)
	}

	// The evicted participant was the only occupant, so the session must
	// not linger empty.
	if got := env.manager.BridgeCount(); got != 0 {
		t.Errorf("BridgeCount() = %d, want 0", got)
	}
	if got := env.manager.ParticipantCount(); got != 0 {
		t.Errorf("ParticipantCount() = %d, want 0", got)
	}
	if got := env.events.countChanges; len(got) != 2 || got[0] != 1 || got[1] != 0 {
		t.Errorf("bridgeCountChanged events = %v, want [1 0]", got)
	}
	if got := env.events.removedBridges; len(got) != 0 {
		t.Errorf("bridgeRemoved events = %v, want none for a participant failure", got)
	}
	if got := env.events.endpointRemoved; len(got) != 1 || got[0] != "p1" {
		t.Errorf("endpointRemoved events = %v, want [p1]", got)
	}
}

func TestAllocateProtocolErrorOnSecondBridgeTearsDownRelay(t *testing.T) {
	env := newEnv(t, &selector.Split{},
		bridgeSpec{"jvb-a", "us", 0.1},
		bridgeSpec{"jvb-b", "us", 0.2},
	)
	ctx := context.Background()

	env.mustAllocate(t, "p1")
	env.channels["jvb-b"].respErr = &colibri.ErrorResponse{Condition: colibri.ConditionBadRequest}

	_, err := env.manager.Allocate(ctx, AllocationParams{ID: "p2"})
	if ae := allocErr(t, err); ae.Kind != KindProtocol {
		t.Errorf("Kind = %v, want %v", ae.Kind, KindProtocol)
	}

	if got := env.manager.BridgeCount(); got != 1 {
		t.Errorf("BridgeCount() = %d, want 1", got)
	}
	relayExpired := false
	for _, req := range env.channels["jvb-a"].recorded() {
		for _, r := range req.Relays {
			if r.ID == "relay-jvb-b" && r.Expire {
				relayExpired = true
			}
		}
	}
	if !relayExpired {
		t.Error("jvb-a never expired its relay to relay-jvb-b")
	}
}

func TestAllocateConferenceIDMismatch(t *testing.T) {
	env := newEnv(t, regionStrategy(), bridgeSpec{"jvb-a", "us", 0.1})
	ctx := context.Background()

	if _, err := env.manager.Allocate(ctx, AllocationParams{ID: "p1"}); err != nil {
		t.Fatalf("Allocate(p1) error = %v", err)
	}

	env.channels["jvb-a"].respConfID = "conf-other"
	_, err := env.manager.Allocate(ctx, AllocationParams{ID: "p2"})
	ae := allocErr(t, err)
	if ae.Kind != KindStateMismatch || !ae.RemoveBridge {
		t.Errorf("error = %+v, want state mismatch with RemoveBridge", ae)
	}

	if got := env.events.evicted; len(got) != 1 || len(got[0]) != 2 {
		t.Errorf("evicted lists = %v, want both participants", got)
	}
	if got := env.manager.ParticipantCount(); got != 0 {
		t.Errorf("ParticipantCount() = %d, want 0", got)
	}
}

func TestAllocateOnExpiredConference(t *testing.T) {
	env := newEnv(t, regionStrategy(), bridgeSpec{"jvb-a", "us", 0.1})
	env.manager.Expire(context.Background())

	_, err := env.manager.Allocate(context.Background(), AllocationParams{ID: "p1"})
	if ae := allocErr(t, err); ae.Kind != KindStale {
		t.Errorf("Kind = %v, want %v", ae.Kind, KindStale)
	}
}

func TestSplitCreatesRelayMesh(t *testing.T) {
	env := newEnv(t, &selector.Split{},
		bridgeSpec{"jvb-a", "us", 0.1},
		bridgeSpec{"jvb-b", "us", 0.2},
	)
	ctx := context.Background()

	if _, err := env.manager.Allocate(ctx, AllocationParams{ID: "p1"}); err != nil {
		t.Fatalf("Allocate(p1) error = %v", err)
	}
	if _, err := env.manager.Allocate(ctx, AllocationParams{ID: "p2"}); err != nil {
		t.Fatalf("Allocate(p2) error = %v", err)
	}
	if got := env.manager.BridgeCount(); got != 2 {
		t.Fatalf("BridgeCount() = %d, want 2", got)
	}

	// The first bridge learns about the second over a relay seeded with p2.
	aReqs := env.channels["jvb-a"].recorded()
	relayToB := findRelay(aReqs, "relay-jvb-b")
	if relayToB == nil || !relayToB.Create {
		t.Fatalf("jvb-a never got a relay create for relay-jvb-b: %+v", aReqs)
	}
	if relayToB.MeshID != "0" {
		t.Errorf("relay mesh id = %q, want 0", relayToB.MeshID)
	}
	if relayToB.Initiator == nil || !*relayToB.Initiator {
		t.Error("existing bridge should initiate the relay link")
	}
	if len(relayToB.Endpoints) != 1 || relayToB.Endpoints[0].ID != "p2" {
		t.Errorf("relay endpoints on jvb-a = %+v, want [p2]", relayToB.Endpoints)
	}

	// The second bridge gets the reverse link carrying p1.
	bReqs := env.channels["jvb-b"].recorded()
	relayToA := findRelay(bReqs, "relay-jvb-a")
	if relayToA == nil || !relayToA.Create {
		t.Fatalf("jvb-b never got a relay create for relay-jvb-a: %+v", bReqs)
	}
	if relayToA.Initiator == nil || *relayToA.Initiator {
		t.Error("added bridge should not initiate the relay link")
	}
	if len(relayToA.Endpoints) != 1 || relayToA.Endpoints[0].ID != "p1" {
		t.Errorf("relay endpoints on jvb-b = %+v, want [p1]", relayToA.Endpoints)
	}
}

func TestSplitDeliversRelayTransports(t *testing.T) {
	env := newEnv(t, &selector.Split{},
		bridgeSpec{"jvb-a", "us", 0.1},
		bridgeSpec{"jvb-b", "us", 0.2},
	)
	ctx := context.Background()

	if _, err := env.manager.Allocate(ctx, AllocationParams{ID: "p1"}); err != nil {
		t.Fatalf("Allocate(p1) error = %v", err)
	}
	if _, err := env.manager.Allocate(ctx, AllocationParams{ID: "p2"}); err != nil {
		t.Fatalf("Allocate(p2) error = %v", err)
	}

	// Each bridge returned its local transport on the relay create; the
	// manager must hand it to the other side of the link.
	if !hasRelayTransport(env.channels["jvb-a"].recorded(), "relay-jvb-b", "conf-jvb-b") {
		t.Error("jvb-a never received jvb-b's transport for relay-jvb-b")
	}
	if !hasRelayTransport(env.channels["jvb-b"].recorded(), "relay-jvb-a", "conf-jvb-a") {
		t.Error("jvb-b never received jvb-a's transport for relay-jvb-a")
	}
}

func TestRemoveLastParticipantExpiresSessionAndRelays(t *testing.T) {
	env := newEnv(t, &selector.Split{},
		bridgeSpec{"jvb-a", "us", 0.1},
		bridgeSpec{"jvb-b", "us", 0.2},
	)
	ctx := context.Background()

	env.mustAllocate(t, "p1")
	env.mustAllocate(t, "p2")

	env.manager.RemoveParticipant(ctx, "p2")
	env.manager.RemoveParticipant(ctx, "p2") // second call ignored

	if got := env.manager.BridgeCount(); got != 1 {
		t.Errorf("BridgeCount() = %d, want 1", got)
	}
	if got := env.events.endpointRemoved; len(got) != 1 || got[0] != "p2" {
		t.Errorf("endpointRemoved events = %v, want [p2]", got)
	}

	// jvb-b got a whole-conference expire; jvb-a tore down its relay.
	if !hasConferenceExpire(env.channels["jvb-b"].recorded()) {
		t.Error("jvb-b never received a conference expire")
	}
	relayExpired := false
	for _, req := range env.channels["jvb-a"].recorded() {
		for _, r := range req.Relays {
			if r.ID == "relay-jvb-b" && r.Expire {
				relayExpired = true
			}
		}
	}
	if !relayExpired {
		t.Error("jvb-a never expired its relay to relay-jvb-b")
	}
}

func TestRemoveParticipantExpiresSingleEndpoint(t *testing.T) {
	env := newEnv(t, regionStrategy(), bridgeSpec{"jvb-a", "us", 0.1})
	ctx := context.Background()

	env.mustAllocate(t, "p1")
	env.mustAllocate(t, "p2")
	env.manager.RemoveParticipant(ctx, "p1")

	if got := env.manager.ParticipantCount(); got != 1 {
		t.Errorf("ParticipantCount() = %d, want 1", got)
	}
	if got := env.manager.BridgeCount(); got != 1 {
		t.Errorf("BridgeCount() = %d, want 1", got)
	}

	found := false
	for _, req := range env.channels["jvb-a"].recorded() {
		for _, ep := range req.Endpoints {
			if ep.ID == "p1" && ep.Expire {
				found = true
			}
		}
	}
	if !found {
		t.Error("jvb-a never received an endpoint expire for p1")
	}
}

func TestMuteSendsOncePerChange(t *testing.T) {
	env := newEnv(t, regionStrategy(), bridgeSpec{"jvb-a", "us", 0.1})
	ctx := context.Background()

	env.mustAllocate(t, "p1")
	before := len(env.channels["jvb-a"].recorded())

	if !env.manager.Mute(ctx, []string{"p1"}, true, colibri.MediaAudio) {
		t.Fatal("Mute() = false, want true")
	}
	afterFirst := len(env.channels["jvb-a"].recorded())
	if afterFirst != before+1 {
		t.Errorf("requests after first mute = %d, want %d", afterFirst, before+1)
	}

	// Same mute again: the flag already matches, nothing is sent.
	if !env.manager.Mute(ctx, []string{"p1"}, true, colibri.MediaAudio) {
		t.Fatal("second Mute() = false, want true")
	}
	if got := len(env.channels["jvb-a"].recorded()); got != afterFirst {
		t.Errorf("requests after second mute = %d, want %d", got, afterFirst)
	}

	if env.manager.Mute(ctx, []string{"ghost"}, true, colibri.MediaAudio) {
		t.Error("Mute() of unknown participant = true, want false")
	}
}

func TestMuteRetriesAfterSendFailure(t *testing.T) {
	env := newEnv(t, regionStrategy(), bridgeSpec{"jvb-a", "us", 0.1})
	ctx := context.Background()

	env.mustAllocate(t, "p1")

	env.channels["jvb-a"].transportErr = errors.New("connection reset")
	if env.manager.Mute(ctx, []string{"p1"}, true, colibri.MediaAudio) {
		t.Fatal("Mute() during outage = true, want false")
	}

	// The bridge never applied the mute, so the retry must send it again.
	env.channels["jvb-a"].transportErr = nil
	before := len(env.channels["jvb-a"].recorded())
	if !env.manager.Mute(ctx, []string{"p1"}, true, colibri.MediaAudio) {
		t.Fatal("Mute() retry = false, want true")
	}
	reqs := env.channels["jvb-a"].recorded()
	if len(reqs) != before+1 {
		t.Fatalf("requests after retry = %d, want %d", len(reqs), before+1)
	}
	last := reqs[len(reqs)-1]
	if len(last.Endpoints) != 1 || last.Endpoints[0].ID != "p1" || len(last.Endpoints[0].Medias) == 0 {
		t.Errorf("retry request endpoints = %+v, want force-mute for p1", last.Endpoints)
	}
}

func TestMuteConcurrentWithSourceUpdates(t *testing.T) {
	env := newEnv(t, regionStrategy(), bridgeSpec{"jvb-a", "us", 0.1})
	ctx := context.Background()

	env.mustAllocate(t, "p1")
	env.mustAllocate(t, "p2")

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 25; i++ {
			env.manager.Mute(ctx, []string{"p1", "p2"}, i%2 == 0, colibri.MediaAudio)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 25; i++ {
			env.manager.Mute(ctx, []string{"p1", "p2"}, i%2 == 0, colibri.MediaVideo)
		}
	}()
	go func() {
		defer wg.Done()
		sources := json.RawMessage(`{"audio":["ssrc-7"]}`)
		for i := 0; i < 25; i++ {
			if err := env.manager.UpdateParticipant(ctx, "p1", ParticipantUpdate{Sources: sources}); err != nil {
				t.Errorf("UpdateParticipant() error = %v", err)
				return
			}
		}
	}()
	wg.Wait()

	// Settle on a known state; repeating it must send nothing.
	env.manager.Mute(ctx, []string{"p1", "p2"}, true, colibri.MediaAudio)
	before := len(env.channels["jvb-a"].recorded())
	if !env.manager.Mute(ctx, []string{"p1", "p2"}, true, colibri.MediaAudio) {
		t.Fatal("Mute() = false, want true")
	}
	if got := len(env.channels["jvb-a"].recorded()); got != before {
		t.Errorf("requests after repeated mute = %d, want %d", got, before)
	}
}

func TestRemoveBridgeEvictsSession(t *testing.T) {
	env := newEnv(t, regionStrategy(), bridgeSpec{"jvb-a", "us", 0.1})
	ctx := context.Background()

	env.mustAllocate(t, "p1")
	snap, _ := env.registry.Get("jvb-a")
	env.manager.RemoveBridge(ctx, snap)
	env.manager.RemoveBridge(ctx, snap) // idempotent

	if got := env.manager.BridgeCount(); got != 0 {
		t.Errorf("BridgeCount() = %d, want 0", got)
	}
	if got := env.events.removedBridges; len(got) != 1 || got[0] != "jvb-a" {
		t.Errorf("bridgeRemoved events = %v, want [jvb-a]", got)
	}
	if got := env.events.evicted[0]; len(got) != 1 || got[0] != "p1" {
		t.Errorf("evicted = %v, want [p1]", got)
	}
}

func TestExpireIsIdempotent(t *testing.T) {
	env := newEnv(t, regionStrategy(), bridgeSpec{"jvb-a", "us", 0.1})
	ctx := context.Background()

	env.mustAllocate(t, "p1")
	env.manager.Expire(ctx)
	env.manager.Expire(ctx)

	expires := 0
	for _, req := range env.channels["jvb-a"].recorded() {
		if req.Expire {
			expires++
		}
	}
	if expires != 1 {
		t.Errorf("conference expires sent = %d, want 1", expires)
	}
	if got := env.manager.ParticipantCount(); got != 0 {
		t.Errorf("ParticipantCount() = %d, want 0", got)
	}
	if !env.manager.Expired() {
		t.Error("Expired() = false, want true")
	}
}

func TestExpireWithoutSessionsEmitsNoCountChange(t *testing.T) {
	env := newEnv(t, regionStrategy(), bridgeSpec{"jvb-a", "us", 0.1})

	env.manager.Expire(context.Background())

	if !env.manager.Expired() {
		t.Error("Expired() = false, want true")
	}
	if got := env.events.countChanges; len(got) != 0 {
		t.Errorf("bridgeCountChanged events = %v, want none", got)
	}
}

func TestAllocatePinnedVersion(t *testing.T) {
	env := newEnv(t, regionStrategy(), bridgeSpec{"jvb-a", "us", 0.1})
	ctx := context.Background()

	pinned := NewManager(ManagerConfig{
		Name:          "pinned@conference",
		MeetingID:     "meeting-2",
		PinnedVersion: "2",
		Registry:      env.registry,
		Selector: selector.New(regionStrategy(), selector.Config{
			MaxBridgeStress:  0.85,
			AllowMultiBridge: true,
		}),
		Channels:       env.channels,
		Events:         env.events.events(),
		RequestTimeout: time.Second,
	})

	// All bridges run version 1, so pinning to 2 leaves no candidate.
	_, err := pinned.Allocate(ctx, AllocationParams{ID: "p1"})
	if ae := allocErr(t, err); ae.Kind != KindSelectionFailed {
		t.Errorf("Kind = %v, want %v", ae.Kind, KindSelectionFailed)
	}

	matching := NewManager(ManagerConfig{
		Name:          "matching@conference",
		MeetingID:     "meeting-3",
		PinnedVersion: "1",
		Registry:      env.registry,
		Selector: selector.New(regionStrategy(), selector.Config{
			MaxBridgeStress:  0.85,
			AllowMultiBridge: true,
		}),
		Channels:       env.channels,
		Events:         env.events.events(),
		RequestTimeout: time.Second,
	})
	if _, err := matching.Allocate(ctx, AllocationParams{ID: "p1"}); err != nil {
		t.Fatalf("Allocate() with matching pin error = %v", err)
	}
}

func TestUpdateParticipantPropagatesSourcesOverRelay(t *testing.T) {
	env := newEnv(t, &selector.Split{},
		bridgeSpec{"jvb-a", "us", 0.1},
		bridgeSpec{"jvb-b", "us", 0.2},
	)
	ctx := context.Background()

	env.mustAllocate(t, "p1")
	env.mustAllocate(t, "p2")

	sources := json.RawMessage(`{"audio":["ssrc-1"]}`)
	if err := env.manager.UpdateParticipant(ctx, "p1", ParticipantUpdate{Sources: sources}); err != nil {
		t.Fatalf("UpdateParticipant() error = %v", err)
	}

	// p1 lives on jvb-a, so jvb-a gets the endpoint update and jvb-b gets
	// the relayed view.
	localUpdated := false
	for _, req := range env.channels["jvb-a"].recorded() {
		for _, ep := range req.Endpoints {
			if ep.ID == "p1" && ep.Sources != nil && !ep.Create {
				localUpdated = true
			}
		}
	}
	if !localUpdated {
		t.Error("jvb-a never received the endpoint source update")
	}

	remoteUpdated := false
	for _, req := range env.channels["jvb-b"].recorded() {
		for _, r := range req.Relays {
			if r.ID != "relay-jvb-a" {
				continue
			}
			for _, ep := range r.Endpoints {
				if ep.ID == "p1" && ep.Sources != nil {
					remoteUpdated = true
				}
			}
		}
	}
	if !remoteUpdated {
		t.Error("jvb-b never received the relayed source update for p1")
	}

	if err := env.manager.UpdateParticipant(ctx, "ghost", ParticipantUpdate{Sources: sources}); err == nil {
		t.Error("UpdateParticipant() of unknown participant succeeded, want error")
	}
}

func TestVisitorUpdateNotRelayed(t *testing.T) {
	env := newEnv(t, &selector.Split{},
		bridgeSpec{"jvb-a", "us", 0.1},
		bridgeSpec{"jvb-b", "us", 0.2},
	)
	ctx := context.Background()

	env.mustAllocate(t, "p1")
	if _, err := env.manager.Allocate(ctx, AllocationParams{ID: "v1", Visitor: true}); err != nil {
		t.Fatalf("Allocate(v1) error = %v", err)
	}

	before := len(env.channels["jvb-a"].recorded())
	sources := json.RawMessage(`{"audio":["ssrc-9"]}`)
	if err := env.manager.UpdateParticipant(ctx, "v1", ParticipantUpdate{Sources: sources, SuppressLocalBridgeUpdate: true}); err != nil {
		t.Fatalf("UpdateParticipant() error = %v", err)
	}
	if got := len(env.channels["jvb-a"].recorded()); got != before {
		t.Errorf("jvb-a requests grew from %d to %d, visitor sources must not relay", before, got)
	}
}

func (env *testEnv) mustAllocate(t *testing.T, id string) {
	t.Helper()
	if _, err := env.manager.Allocate(context.Background(), AllocationParams{ID: id, Region: "us"}); err != nil {
		t.Fatalf("Allocate(%s) error = %v", id, err)
	}
}

func findRelay(reqs []colibri.ConferenceModifyRequest, relayID string) *colibri.Relay {
	for _, req := range reqs {
		for i := range req.Relays {
			if req.Relays[i].ID == relayID && req.Relays[i].Create {
				return &req.Relays[i]
			}
		}
	}
	return nil
}

func hasRelayTransport(reqs []colibri.ConferenceModifyRequest, relayID, marker string) bool {
	for _, req := range reqs {
		for _, r := range req.Relays {
			if r.ID == relayID && !r.Create && strings.Contains(string(r.Transport), marker) {
				return true
			}
		}
	}
	return false
}

func hasConferenceExpire(reqs []colibri.ConferenceModifyRequest) bool {
	for _, req := range reqs {
		if req.Expire {
			return true
		}
	}
	return false
}
