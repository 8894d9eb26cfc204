// Package health runs periodic health probes against every known bridge
// and feeds the outcomes back into the registry.
package health

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sebas/conductor/internal/focus/bridge"
	"github.com/sebas/conductor/internal/focus/transport"
)

// ChannelProvider resolves the control channel for a bridge JID.
type ChannelProvider interface {
	Channel(jid string) (transport.ControlChannel, bool)
}

// Config tunes the probe loop.
type Config struct {
	// Interval between probe rounds.
	Interval time.Duration
	// Timeout bounds a single probe. A probe that exceeds it marks the
	// bridge non-operational without raising the failed event.
	Timeout time.Duration
}

// DefaultConfig returns the standard probe cadence.
func DefaultConfig() Config {
	return Config{
		Interval: 10 * time.Second,
		Timeout:  5 * time.Second,
	}
}

// Checker probes all registry bridges on a fixed interval.
type Checker struct {
	cfg      Config
	registry *bridge.Registry
	channels ChannelProvider

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewChecker creates a checker; call Start to begin probing.
func NewChecker(cfg Config, registry *bridge.Registry, channels ChannelProvider) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Checker{
		cfg:      cfg,
		registry: registry,
		channels: channels,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the probe loop.
func (c *Checker) Start() {
	go c.run()
	slog.Info("[Health] Checker started", "interval", c.cfg.Interval, "timeout", c.cfg.Timeout)
}

// Stop terminates the probe loop and waits for it to exit.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.doneCh
}

func (c *Checker) run() {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.ProbeAll(context.Background())
		}
	}
}

// ProbeAll probes every known bridge once, in parallel, and applies the
// outcomes to the registry.
func (c *Checker) ProbeAll(ctx context.Context) {
	snapshots := c.registry.Snapshots()
	var wg sync.WaitGroup
	for _, snap := range snapshots {
		wg.Add(1)
		go func(jid string) {
			defer wg.Done()
			c.probe(ctx, jid)
		}(snap.JID)
	}
	wg.Wait()
}

func (c *Checker) probe(ctx context.Context, jid string) {
	ch, ok := c.channels.Channel(jid)
	if !ok {
		c.registry.HealthCheckFailed(jid)
		return
	}
	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	err := ch.Health(probeCtx)
	switch {
	case err == nil:
		c.registry.HealthCheckPassed(jid)
	case errors.Is(err, context.DeadlineExceeded):
		slog.Debug("[Health] Probe timed out", "jid", jid)
		c.registry.HealthCheckTimedOut(jid)
	default:
		slog.Debug("[Health] Probe failed", "jid", jid, "error", err)
		c.registry.HealthCheckFailed(jid)
	}
}
