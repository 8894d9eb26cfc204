package transport

import (
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/sebas/conductor/internal/focus/bridge"
)

// Dialer opens a control channel to the given address. Replaceable in
// tests.
type Dialer func(addr string) (ControlChannel, error)

// ChannelPool maintains one control channel per registered bridge. It
// implements bridge.Listener so channels open and close as the registry
// gains and loses bridges. Reconnect attempts for bridges whose initial
// dial failed are paced by a token bucket.
type ChannelPool struct {
	mu       sync.RWMutex
	channels map[string]ControlChannel
	addrs    map[string]string

	dialer    Dialer
	redialLim *rate.Limiter
}

// NewChannelPool creates a pool using the given dialer.
func NewChannelPool(dialer Dialer) *ChannelPool {
	return &ChannelPool{
		channels: make(map[string]ControlChannel),
		addrs:    make(map[string]string),
		dialer:   dialer,
		// One reconnect attempt per second across the pool, small burst.
		redialLim: rate.NewLimiter(rate.Limit(1), 3),
	}
}

// GRPCDialer returns a Dialer producing GRPCChannels with the given
// timeouts.
func GRPCDialer(cfg GRPCConfig) Dialer {
	return func(addr string) (ControlChannel, error) {
		c := cfg
		c.Address = addr
		return NewGRPCChannel(c)
	}
}

// Channel returns the control channel for a bridge JID, redialing a
// failed channel if the pacing budget allows.
func (p *ChannelPool) Channel(jid string) (ControlChannel, bool) {
	p.mu.RLock()
	ch, ok := p.channels[jid]
	addr, known := p.addrs[jid]
	p.mu.RUnlock()

	if ok {
		return ch, true
	}
	if !known || !p.redialLim.Allow() {
		return nil, false
	}

	ch, err := p.dialer(addr)
	if err != nil {
		slog.Warn("[ChannelPool] Redial failed", "jid", jid, "address", addr, "error", err)
		return nil, false
	}

	p.mu.Lock()
	// Lost a race with another redial: keep the first channel.
	if existing, ok := p.channels[jid]; ok {
		p.mu.Unlock()
		_ = ch.Close()
		return existing, true
	}
	p.channels[jid] = ch
	p.mu.Unlock()

	slog.Info("[ChannelPool] Reconnected to bridge", "jid", jid, "address", addr)
	return ch, true
}

// BridgeAdded implements bridge.Listener: dial the new bridge.
func (p *ChannelPool) BridgeAdded(b bridge.Snapshot) {
	p.mu.Lock()
	p.addrs[b.JID] = b.Addr
	if _, ok := p.channels[b.JID]; ok {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	ch, err := p.dialer(b.Addr)
	if err != nil {
		// Channel() retries on demand, paced by the limiter.
		slog.Warn("[ChannelPool] Failed to connect to bridge", "jid", b.JID, "address", b.Addr, "error", err)
		return
	}

	p.mu.Lock()
	p.channels[b.JID] = ch
	p.mu.Unlock()
	slog.Info("[ChannelPool] Connected to bridge", "jid", b.JID, "address", b.Addr)
}

// BridgeRemoved implements bridge.Listener: close and forget the channel.
func (p *ChannelPool) BridgeRemoved(b bridge.Snapshot) {
	p.mu.Lock()
	ch, ok := p.channels[b.JID]
	delete(p.channels, b.JID)
	delete(p.addrs, b.JID)
	p.mu.Unlock()

	if ok {
		_ = ch.Close()
		slog.Info("[ChannelPool] Disconnected from bridge", "jid", b.JID)
	}
}

// BridgeShuttingDown implements bridge.Listener. The channel stays open:
// existing conferences on the bridge still need the control path.
func (p *ChannelPool) BridgeShuttingDown(b bridge.Snapshot) {}

// BridgeFailedHealthCheck implements bridge.Listener. The channel stays
// open so the health checker can observe recovery.
func (p *ChannelPool) BridgeFailedHealthCheck(b bridge.Snapshot) {}

// Close closes all channels.
func (p *ChannelPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for jid, ch := range p.channels {
		if err := ch.Close(); err != nil {
			lastErr = err
		}
		delete(p.channels, jid)
	}
	return lastErr
}
