// Package metrics registers the service's Prometheus collectors on the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "oncall"

var (
	// Checks counts /oncall-check outcomes (check_in, check_out, or the rejection reason).
	Checks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checks_total",
		Help:      "Attendance check requests by outcome.",
	}, []string{"outcome"})

	Registrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registrations_total",
		Help:      "Face registrations by outcome.",
	}, []string{"outcome"})

	FaceServiceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "face_service_request_duration_seconds",
		Help:      "Latency of calls to the face service.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	GallerySize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "gallery_size",
		Help:      "Number of registered face embeddings held in memory.",
	})

	AuditFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_failures_total",
		Help:      "Audit lines that could not be recorded.",
	})
)
