package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Authorization core metrics for production monitoring
var (
	// Gate check metrics
	GateChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aeonsage_gate_checks_total",
			Help: "Total number of operation authorization checks",
		},
		[]string{"gate", "decision"}, // decision: allow/deny/ask
	)

	// Threat scanner metrics
	ThreatDetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aeonsage_threat_detections_total",
			Help: "Total number of threat scanner detections",
		},
		[]string{"level"},
	)

	ThreatScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aeonsage_threat_scan_duration_seconds",
			Help:    "Threat scan duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8), // 100µs to ~1.6s
		},
	)

	// Approval lifecycle metrics
	ApprovalsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aeonsage_approvals_created_total",
			Help: "Total number of approval requests created",
		},
	)

	ApprovalResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aeonsage_approval_resolutions_total",
			Help: "Total number of approval request resolutions",
		},
		[]string{"outcome"}, // approved/denied/expired
	)

	ApprovalResolutionSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aeonsage_approval_resolution_seconds",
			Help:    "Time from approval request creation to resolution",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1s to ~4min
		},
	)

	// PIN authentication metrics
	PinVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aeonsage_pin_verifications_total",
			Help: "Total number of PIN verification attempts",
		},
		[]string{"result"}, // ok/mismatch/locked
	)

	PinLockoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aeonsage_pin_lockouts_total",
			Help: "Total number of brute-force lockouts imposed",
		},
	)

	// Kill switch state
	KillSwitchEngaged = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aeonsage_kill_switch_engaged",
			Help: "Whether the emergency kill switch is active (1) or not (0)",
		},
	)
)
