package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedemptionDuration tracks redeem calls by outcome (ok, insufficient, locked, ...).
	RedemptionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "klippekort_redemption_duration_seconds",
			Help: "Duration of punch card redemptions in seconds",
			Buckets: []float64{
				0.001, // 1ms
				0.005, // 5ms
				0.01,  // 10ms
				0.025, // 25ms
				0.05,  // 50ms
				0.1,   // 100ms
				0.25,  // 250ms
				0.5,   // 500ms
				1.0,   // 1s
				2.5,   // 2.5s
			},
		},
		[]string{"outcome"},
	)

	StampsRedeemed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klippekort_stamps_redeemed_total",
		Help: "Stamps converted into redemption tickets",
	})

	CardsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "klippekort_cards_issued_total",
		Help: "Punch cards minted at order finalisation",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "klippekort_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// Recorder feeds ledger outcomes into the collectors above.
type Recorder struct{}

func (Recorder) ObserveRedemption(outcome string, stamps int, elapsed time.Duration) {
	RedemptionDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	if outcome == "ok" {
		StampsRedeemed.Add(float64(stamps))
	}
}

func (Recorder) ObserveIssued(cards int) {
	CardsIssued.Add(float64(cards))
}
