// Package metrics exposes conductor state to prometheus. Pool and
// conference gauges are gathered at scrape time; event counters are
// incremented by the focus as things happen.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sebas/conductor/internal/focus/bridge"
)

// BridgePoolProvider exposes the current bridge pool state.
type BridgePoolProvider interface {
	BridgeCounts() bridge.Counts
	Snapshots() []bridge.Snapshot
}

// ConferenceStatsProvider exposes aggregate conference state.
type ConferenceStatsProvider interface {
	ConferenceCount() int
	TotalParticipants() int
}

// Collector is a prometheus.Collector that gathers conductor metrics at
// scrape time.
type Collector struct {
	pool        BridgePoolProvider
	conferences ConferenceStatsProvider
	startTime   time.Time

	bridgesDesc      *prometheus.Desc
	bridgeStressDesc *prometheus.Desc
	bridgeEndpoints  *prometheus.Desc
	conferencesDesc  *prometheus.Desc
	participantsDesc *prometheus.Desc
	uptimeDesc       *prometheus.Desc
}

// NewCollector creates a collector. Either provider may be nil if
// unavailable.
func NewCollector(pool BridgePoolProvider, conferences ConferenceStatsProvider, startTime time.Time) *Collector {
	return &Collector{
		pool:        pool,
		conferences: conferences,
		startTime:   startTime,

		bridgesDesc: prometheus.NewDesc(
			"conductor_bridges",
			"Number of known bridges by state",
			[]string{"state"}, nil,
		),
		bridgeStressDesc: prometheus.NewDesc(
			"conductor_bridge_stress",
			"Last reported stress level per bridge",
			[]string{"jid", "region"}, nil,
		),
		bridgeEndpoints: prometheus.NewDesc(
			"conductor_bridge_endpoints",
			"Locally tracked endpoint count per bridge",
			[]string{"jid", "region"}, nil,
		),
		conferencesDesc: prometheus.NewDesc(
			"conductor_conferences",
			"Number of active conferences",
			nil, nil,
		),
		participantsDesc: prometheus.NewDesc(
			"conductor_participants",
			"Number of allocated participants across all conferences",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"conductor_uptime_seconds",
			"Seconds since the conductor process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bridgesDesc
	ch <- c.bridgeStressDesc
	ch <- c.bridgeEndpoints
	ch <- c.conferencesDesc
	ch <- c.participantsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.pool != nil {
		counts := c.pool.BridgeCounts()
		for state, v := range map[string]int{
			"total":             counts.Total,
			"operational":       counts.Operational,
			"draining":          counts.Draining,
			"graceful_shutdown": counts.GracefulShutdown,
			"shutting_down":     counts.ShuttingDown,
		} {
			ch <- prometheus.MustNewConstMetric(
				c.bridgesDesc, prometheus.GaugeValue, float64(v), state,
			)
		}
		for _, snap := range c.pool.Snapshots() {
			ch <- prometheus.MustNewConstMetric(
				c.bridgeStressDesc, prometheus.GaugeValue, snap.Stress, snap.JID, snap.Region,
			)
			ch <- prometheus.MustNewConstMetric(
				c.bridgeEndpoints, prometheus.GaugeValue, float64(snap.EndpointCount), snap.JID, snap.Region,
			)
		}
	}

	if c.conferences != nil {
		ch <- prometheus.MustNewConstMetric(
			c.conferencesDesc, prometheus.GaugeValue, float64(c.conferences.ConferenceCount()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.participantsDesc, prometheus.GaugeValue, float64(c.conferences.TotalParticipants()),
		)
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds(),
	)
}

// Counters are the event-driven metrics the focus increments directly.
type Counters struct {
	SelectionFailures   prometheus.Counter
	SelectionSuccesses  prometheus.Counter
	BridgesLost         prometheus.Counter
	ParticipantsEvicted prometheus.Counter
}

// NewCounters creates the event counters.
func NewCounters() *Counters {
	return &Counters{
		SelectionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conductor_bridge_selection_failures_total",
			Help: "Allocations that found no usable bridge",
		}),
		SelectionSuccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conductor_bridge_selections_total",
			Help: "Allocations that selected a bridge",
		}),
		BridgesLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conductor_bridges_lost_total",
			Help: "Bridges evicted from conferences after failures",
		}),
		ParticipantsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conductor_participants_evicted_total",
			Help: "Participants evicted due to bridge loss",
		}),
	}
}

// Register registers all counters with the given registerer.
func (c *Counters) Register(reg prometheus.Registerer) {
	reg.MustRegister(c.SelectionFailures, c.SelectionSuccesses, c.BridgesLost, c.ParticipantsEvicted)
}
