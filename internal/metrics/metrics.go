// Package metrics exposes the fabric's process-wide gauges over
// prometheus/client_golang, replacing teacher's expvar counters in
// hub.go with the corpus-standard metrics library (client_golang appears
// across multiple example repos; expvar appears only in the teacher).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LiveConnections tracks the number of WebSocket connections
	// currently in State.StateLive, mirroring teacher's hub.go
	// "numSessions" expvar counter.
	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "eventfabric",
		Name:      "live_connections",
		Help:      "Number of connections currently in the LIVE state.",
	})

	// OnlineUsers tracks the size of the process-observed users:online
	// set maintained by internal/presence.Tracker.
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "eventfabric",
		Name:      "online_users",
		Help:      "Number of distinct users with at least one live connection.",
	})

	// CommandsTotal counts dispatched commands by type and outcome,
	// mirroring teacher's per-topic message counters generalized across
	// the whole Command grammar of spec §4.10.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventfabric",
		Name:      "commands_total",
		Help:      "Commands dispatched, partitioned by command type and outcome.",
	}, []string{"type", "outcome"})

	// BusPublishFailuresTotal counts publish errors surfaced by the
	// Event Bus, partitioned by subject kind, so a broker outage shows up
	// distinctly from an application bug.
	BusPublishFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventfabric",
		Name:      "bus_publish_failures_total",
		Help:      "Event Bus publish errors, partitioned by subject kind.",
	}, []string{"subject_kind"})
)

// Outcome labels used with CommandsTotal.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeIgnored = "ignored"
)
