package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the Prometheus collectors for the arena core.
type Metrics struct {
	QueueDepth       prometheus.Gauge
	MatchesCreated   prometheus.Counter
	MatchesEnded     *prometheus.CounterVec
	SubmissionsTotal *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec
	PairingConflicts prometheus.Counter
}

// New registers collectors on the default registry.
func New() *Metrics {
	return &Metrics{
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "arena_queue_depth",
			Help: "Players currently in the matchmaking queue.",
		}),
		MatchesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arena_matches_created_total",
			Help: "Matches created by the match-creation service.",
		}),
		MatchesEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_matches_ended_total",
			Help: "Matches resolved, partitioned by outcome reason.",
		}, []string{"reason"}),
		SubmissionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arena_submissions_total",
			Help: "Competitive and test submissions processed.",
		}, []string{"kind", "result"}),
		BreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arena_breaker_state",
			Help: "Circuit breaker state per downstream (0=closed 1=open 2=half-open).",
		}, []string{"downstream"}),
		PairingConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arena_pairing_conflicts_total",
			Help: "Pairing attempts abandoned after losing a reservation race.",
		}),
	}
}
