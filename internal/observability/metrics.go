package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aeras-dispatch/internal/logger"
)

var (
	MessagesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aeras_messages_published_total",
		Help: "Messages delivered to the backend link, by topic.",
	}, []string{"topic"})

	PublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aeras_publish_failures_total",
		Help: "Publish attempts that failed at the transport.",
	})

	MessagesQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aeras_messages_queued_total",
		Help: "Messages diverted to the offline queue.",
	})

	MessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aeras_messages_dropped_total",
		Help: "Queued messages discarded by eviction or the retry ceiling.",
	})

	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aeras_messages_received_total",
		Help: "Inbound messages dispatched to a handler, by topic.",
	}, []string{"topic"})

	LinkUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aeras_link_up",
		Help: "Whether the backend link is currently connected.",
	})

	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aeras_link_reconnects_total",
		Help: "Successful link establishments after a disconnect.",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aeras_offline_queue_depth",
		Help: "Messages currently waiting in the offline queue.",
	})

	StateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aeras_state_transitions_total",
		Help: "Ride lifecycle state transitions.",
	}, []string{"from", "to"})

	RidesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aeras_rides_completed_total",
		Help: "Rides settled to completion.",
	})

	PointsAwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aeras_points_awarded_total",
		Help: "Incentive points credited to the operator.",
	})

	PrivilegeChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aeras_privilege_checks_total",
		Help: "Privilege verification outcomes.",
	}, []string{"result"})
)

// StartMetricsServer exposes /metrics and /healthz on the given port. It
// returns immediately; the listener runs until the process exits.
func StartMetricsServer(port int, log *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		log.Infof("metrics server listening on :%d", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server: %v", err)
		}
	}()
}
