package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReadingsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensorfleet_readings_generated_total",
		Help: "Readings sampled and committed to the store, per sensor.",
	}, []string{"sensor_id", "sensor_type"})

	AppendRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensorfleet_sink_append_retries_total",
		Help: "Transient store append errors that were retried.",
	}, []string{"sensor_id"})

	AppendFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensorfleet_sink_append_failures_total",
		Help: "Readings dropped after exhausting append retries.",
	}, []string{"sensor_id"})

	AppendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sensorfleet_append_duration_seconds",
		Help:    "Latency of store appends, including retries.",
		Buckets: prometheus.ExponentialBuckets(0.00001, 10, 6),
	})

	ControlState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sensorfleet_control_state",
		Help: "Fleet control state: 0 running, 1 paused, 2 stopped.",
	})

	EtlRecordsRetained = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensorfleet_etl_records_retained_total",
		Help: "Records written to the normalized store.",
	})

	EtlRecordsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensorfleet_etl_records_dropped_total",
		Help: "Records dropped during cleaning, by reason.",
	}, []string{"reason"})
)
