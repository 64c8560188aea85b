// Package metrics declares the Prometheus collectors exported by the worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "ride_window"

	LabelKeyField = "key_field"
	LabelStatus   = "status"
)

var (
	// RidesProcessed counts rides folded into a window
	RidesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "rides_processed_total",
		Help:      "Total number of rides folded into a trailing window",
	}, []string{LabelKeyField})

	// WindowEvictions counts entries that aged out of a window
	WindowEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "window_evictions_total",
		Help:      "Total number of window entries evicted past the retention period",
	}, []string{LabelKeyField})

	// RejectedRides counts rides that failed validation before a pass
	RejectedRides = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "rides_rejected_total",
		Help:      "Total number of rides rejected by validation",
	}, []string{LabelKeyField})

	// RunDuration observes the wall time of a full aggregation pass
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "run_duration_seconds",
		Help:      "Duration of an aggregation pass",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{LabelKeyField})

	// JobsTotal counts finished jobs by terminal status
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "jobs_total",
		Help:      "Total number of finished jobs by status",
	}, []string{LabelStatus})

	// QueueDepth is the number of jobs waiting for a worker
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "queue",
		Name:      "pending_jobs",
		Help:      "Number of jobs waiting for a worker",
	})

	// PublishedRecords counts enriched rides written to Kafka
	PublishedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "publisher",
		Name:      "records_total",
		Help:      "Total number of enriched rides published",
	})
)
