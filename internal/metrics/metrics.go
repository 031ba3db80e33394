package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SessionStateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpd_session_state_transitions_total",
			Help: "Peer FSM state transitions.",
		},
		[]string{"peer", "state"},
	)

	SessionEstablishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpd_session_established_total",
			Help: "Times a peer session reached Established.",
		},
		[]string{"peer"},
	)

	SessionResetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpd_session_resets_total",
			Help: "Peer session teardowns, by cause.",
		},
		[]string{"peer", "reason"},
	)

	RIBDestinationsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bgpd_rib_destinations",
			Help: "Current destination count per family.",
		},
		[]string{"family"},
	)

	RIBPathsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bgpd_rib_paths",
			Help: "Current candidate-path count per family.",
		},
		[]string{"family"},
	)

	UpdatesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpd_updates_received_total",
			Help: "UPDATE messages received, by peer and NLRI kind.",
		},
		[]string{"peer", "kind"},
	)

	UpdatesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpd_updates_sent_total",
			Help: "UPDATE messages sent, by peer and NLRI kind.",
		},
		[]string{"peer", "kind"},
	)

	DecodeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpd_decode_errors_total",
			Help: "Message decode failures, by peer.",
		},
		[]string{"peer"},
	)

	ActiveConnectAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpd_active_connect_attempts_total",
			Help: "Outbound connect attempts by the orchestrator, by outcome.",
		},
		[]string{"outcome"},
	)

	ControlAPIOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpd_control_api_operations_total",
			Help: "Control API operations, by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	TelemetryDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpd_telemetry_dropped_total",
			Help: "RIB events dropped from the telemetry channel on overflow.",
		},
		[]string{"reason"},
	)

	TelemetryErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bgpd_telemetry_errors_total",
			Help: "Telemetry sink failures (Kafka publish, DB write), by sink.",
		},
		[]string{"sink"},
	)

	TelemetryBatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bgpd_telemetry_batch_size",
			Help:    "Telemetry batch sizes flushed to Kafka/Postgres.",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 2000},
		},
		[]string{"sink"},
	)

	TelemetryWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bgpd_telemetry_write_duration_seconds",
			Help:    "Telemetry sink write latency.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"sink"},
	)
)

var registerOnce sync.Once

// Register registers every collector with the default registry. It is safe
// to call more than once; only the first call takes effect.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			SessionStateTransitionsTotal,
			SessionEstablishedTotal,
			SessionResetsTotal,
			RIBDestinationsGauge,
			RIBPathsGauge,
			UpdatesReceivedTotal,
			UpdatesSentTotal,
			DecodeErrorsTotal,
			ActiveConnectAttemptsTotal,
			ControlAPIOperationsTotal,
			TelemetryDroppedTotal,
			TelemetryErrorsTotal,
			TelemetryBatchSize,
			TelemetryWriteDuration,
		)
	})
}
