package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cudis_claimer_build_info",
			Help: "Build information of the CUDIS NTT claimer",
		},
		[]string{"version", "commit", "date"},
	)

	PollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cudis_claimer_poll_cycles_total",
			Help: "Total number of custody balance poll cycles",
		},
		[]string{"status"},
	)

	AttestationFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cudis_claimer_attestation_fetch_total",
			Help: "Total number of attestation fetch attempts",
		},
		[]string{"source", "status"},
	)

	RedeemAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cudis_claimer_redeem_attempts_total",
			Help: "Total number of redemption submission attempts",
		},
		[]string{"status"},
	)

	ClaimCompletedTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cudis_claimer_claim_completed_timestamp_seconds",
			Help: "Unix timestamp of the successful claim, 0 until then",
		},
	)
)
