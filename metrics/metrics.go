// Package metrics holds the prometheus collectors of the coordinator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lightspeed_rooms"

type Metrics struct {
	PresenceEvents *prometheus.CounterVec
	ReclaimTicks   prometheus.Counter
	ReclaimFailed  prometheus.Counter
	RoomsReclaimed prometheus.Counter
	TokensIssued   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves them unregistered,
// which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PresenceEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_events_total",
			Help:      "webhook events handled, by event kind and outcome",
		}, []string{"event", "outcome"}),
		ReclaimTicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclaim_ticks_total",
			Help:      "reclamation ticks run",
		}),
		ReclaimFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reclaim_ticks_aborted_total",
			Help:      "reclamation ticks aborted because the backend or the store could not be read",
		}),
		RoomsReclaimed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_reclaimed_total",
			Help:      "idle rooms deleted by the reclamation scheduler",
		}),
		TokensIssued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "join credentials issued, by role",
		}, []string{"role"}),
	}
}
