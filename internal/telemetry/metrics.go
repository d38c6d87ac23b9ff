// Package telemetry holds the shared Prometheus registry and metric
// families used across the capture and aggregator binaries, following
// the namespaced CounterVec/SummaryVec construction style of goflow2's
// metrics package.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name exposed by this module.
const Namespace = "netsentinel"

var (
	// Capture-side metrics (C1/C2/C3).

	FramesCaptured = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "frames_captured_total",
			Help:      "Frames read off the capture ring, per interface.",
		},
		[]string{"interface"},
	)
	FramesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames dropped by the kernel ring or the capture pipeline, per interface and reason.",
		},
		[]string{"interface", "reason"},
	)
	DecodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "decode_errors_total",
			Help:      "Frames that failed decoding at a given layer.",
		},
		[]string{"interface", "layer"},
	)
	BatchesPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "batches_published_total",
			Help:      "Frame batches successfully appended to the frame stream.",
		},
		[]string{"interface"},
	)
	PublishErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "publish_errors_total",
			Help:      "Errors appending a batch to the frame stream.",
		},
		[]string{"interface"},
	)
	BatchSize = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace:  Namespace,
			Name:       "batch_frame_count",
			Help:       "Number of frames per published batch.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"interface"},
	)

	// Aggregator-side metrics (A1/A2/A3/A4).

	FramesConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "frames_consumed_total",
			Help:      "Frames read from the frame stream by the consumer.",
		},
		[]string{"stream"},
	)
	ConsumerReadErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "consumer_read_errors_total",
			Help:      "Errors reading from the frame stream via XREADGROUP.",
		},
		[]string{"stream"},
	)
	DevicesTracked = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "devices_tracked",
			Help:      "Distinct devices currently held in the in-memory model.",
		},
		nil,
	)
	FlowsTracked = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "flows_tracked",
			Help:      "Distinct flows currently held in the in-memory model.",
		},
		nil,
	)
	DevicesActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "devices_active",
			Help:      "Devices last seen within the configured activity window.",
		},
		nil,
	)
	FlowsEvicted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "flows_evicted_total",
			Help:      "Flows evicted from the in-memory model because flow_cap was exceeded.",
		},
		nil,
	)
	PersistDuration = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace:  Namespace,
			Name:       "persist_duration_seconds",
			Help:       "Wall time spent committing one persister cycle, per entity class.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"entity_class"},
	)
	PersistErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "persist_errors_total",
			Help:      "Persister transaction failures, per entity class.",
		},
		[]string{"entity_class"},
	)
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_published_total",
			Help:      "Events published to the notification channel, per event type.",
		},
		[]string{"event_type"},
	)
	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because the event publisher's bounded channel was full or the publish to the notification channel failed.",
		},
		nil,
	)
)

func init() {
	prometheus.MustRegister(
		FramesCaptured, FramesDropped, DecodeErrors, BatchesPublished, PublishErrors, BatchSize,
		FramesConsumed, ConsumerReadErrors, DevicesTracked, FlowsTracked, DevicesActive, FlowsEvicted,
		PersistDuration, PersistErrors, EventsPublished, EventsDropped,
	)
}

// Serve starts a blocking HTTP server exposing the registered metrics at
// path, the way both binaries run their /metrics endpoint.
func Serve(addr, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
