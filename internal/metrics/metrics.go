// Package metrics exposes Prometheus collectors for the outbox and the
// magic-link flow. Collectors are registered on the default registry and
// served by the API's /metrics route.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	emailsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shelter_outbox_enqueued_total",
		Help: "Emails written to the outbox.",
	})
	enqueueErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shelter_outbox_enqueue_errors_total",
		Help: "Enqueue calls rolled back.",
	})
	deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shelter_outbox_deliveries_total",
		Help: "Delivery attempts by outcome (sent, failed, retry).",
	}, []string{"outcome"})
	pollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shelter_outbox_poll_errors_total",
		Help: "Delivery cycles that could not claim from the store.",
	})
	recovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shelter_outbox_recovered_total",
		Help: "Stale sending claims returned to pending.",
	})
	sendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shelter_outbox_send_seconds",
		Help:    "Transport call latency.",
		Buckets: prometheus.DefBuckets,
	})
	outboxLag = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shelter_outbox_lag_seconds",
		Help:    "Time between enqueue and the delivery attempt.",
		Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 3600},
	})
	redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shelter_login_redemptions_total",
		Help: "Magic-link redemptions by result (ok, invalid, expired).",
	}, []string{"result"})
	tokensIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shelter_login_tokens_issued_total",
		Help: "Login tokens minted.",
	})
)

func AddEnqueued(n int)  { emailsEnqueued.Add(float64(n)) }
func IncEnqueueError()   { enqueueErrors.Inc() }
func IncPollError()      { pollErrors.Inc() }
func AddRecovered(n int) { recovered.Add(float64(n)) }
func IncTokenIssued()    { tokensIssued.Inc() }

// IncDelivery records one attempt outcome.
func IncDelivery(outcome string) { deliveries.WithLabelValues(outcome).Inc() }

// ObserveSend records transport latency.
func ObserveSend(d time.Duration) { sendDuration.Observe(d.Seconds()) }

// ObserveLag records how long a message waited in the outbox.
func ObserveLag(d time.Duration) { outboxLag.Observe(d.Seconds()) }

// IncRedemption records a magic-link redemption result.
func IncRedemption(result string) { redemptions.WithLabelValues(result).Inc() }
