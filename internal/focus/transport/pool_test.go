package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sebas/conductor/internal/focus/bridge"
	"github.com/sebas/conductor/internal/focus/colibri"
)

// stubChannel is a minimal ControlChannel for pool tests.
type stubChannel struct {
	addr string

	mu     sync.Mutex
	closed bool
}

func (c *stubChannel) ConferenceModify(ctx context.Context, req *colibri.ConferenceModifyRequest) (*colibri.ConferenceModifyResponse, error) {
	return &colibri.ConferenceModifyResponse{}, nil
}
func (c *stubChannel) Health(ctx context.Context) error { return nil }
func (c *stubChannel) Ready() bool { return true }
func (c *stubChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type stubDialer struct {
	mu      sync.Mutex
	dials   []string
	failAll bool
	last    *stubChannel
}

func (d *stubDialer) dial(addr string) (ControlChannel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials = append(d.dials, addr)
	if d.failAll {
		return nil, errors.New("connection refused")
	}
	d.last = &stubChannel{addr: addr}
	return d.last, nil
}

func (d *stubDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func snap(jid, addr string) bridge.Snapshot {
	return bridge.Snapshot{JID: jid, Addr: addr, Operational: true}
}

func TestPoolDialsOnBridgeAdded(t *testing.T) {
	dialer := &stubDialer{}
	pool := NewChannelPool(dialer.dial)
	defer pool.Close()

	pool.BridgeAdded(snap("jvb1", "localhost:9090"))

	ch, ok := pool.Channel("jvb1")
	if !ok || ch == nil {
		t.Fatal("Channel(jvb1) not available after BridgeAdded")
	}
	if got := dialer.dialCount(); got != 1 {
		t.Errorf("dial count = %d, want 1", got)
	}
}

func TestPoolClosesOnBridgeRemoved(t *testing.T) {
	dialer := &stubDialer{}
	pool := NewChannelPool(dialer.dial)
	defer pool.Close()

	pool.BridgeAdded(snap("jvb1", "localhost:9090"))
	ch := dialer.last
	pool.BridgeRemoved(snap("jvb1", "localhost:9090"))

	if !ch.isClosed() {
		t.Error("channel not closed after BridgeRemoved")
	}
	if _, ok := pool.Channel("jvb1"); ok {
		t.Error("Channel(jvb1) still available after BridgeRemoved")
	}
}

func TestPoolRedialsAfterFailedConnect(t *testing.T) {
	dialer := &stubDialer{failAll: true}
	pool := NewChannelPool(dialer.dial)
	defer pool.Close()

	pool.BridgeAdded(snap("jvb1", "localhost:9090"))
	if _, ok := pool.Channel("jvb1"); ok {
		t.Fatal("Channel(jvb1) available despite failed dial")
	}

	// The next lookup retries the dial now that the bridge is reachable.
	dialer.mu.Lock()
	dialer.failAll = false
	dialer.mu.Unlock()

	ch, ok := pool.Channel("jvb1")
	if !ok || ch == nil {
		t.Fatal("Channel(jvb1) not available after successful redial")
	}
	if got := dialer.dialCount(); got < 2 {
		t.Errorf("dial count = %d, want at least 2", got)
	}
}

func TestPoolUnknownBridge(t *testing.T) {
	pool := NewChannelPool((&stubDialer{}).dial)
	defer pool.Close()

	if _, ok := pool.Channel("ghost"); ok {
		t.Error("Channel(ghost) = true, want false")
	}
}

func TestPoolShutdownEventsKeepChannel(t *testing.T) {
	dialer := &stubDialer{}
	pool := NewChannelPool(dialer.dial)
	defer pool.Close()

	b := snap("jvb1", "localhost:9090")
	pool.BridgeAdded(b)
	pool.BridgeShuttingDown(b)
	pool.BridgeFailedHealthCheck(b)

	// Existing conferences still need the control path.
	if _, ok := pool.Channel("jvb1"); !ok {
		t.Error("Channel(jvb1) lost after shutdown/health events")
	}
}
