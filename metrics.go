// Copyright 2025 OpenVision Lab
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package visiond

import "github.com/prometheus/client_golang/prometheus"

var (
	inferenceRequestOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "openvision",
			Subsystem: "visiond",
			Name:      "inference_request_ops_total",
			Help:      "The total number of inference requests.",
		},
		[]string{"model"},
	)
	detectionCreationOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "openvision",
			Subsystem: "visiond",
			Name:      "detection_creation_ops_total",
			Help:      "The total number of detections produced.",
		},
		[]string{"model"},
	)

	modelSwitchOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "openvision",
			Subsystem: "visiond",
			Name:      "model_switch_ops_total",
			Help:      "The total number of active-model switches.",
		},
		[]string{"model"},
	)

	modelLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "openvision",
			Subsystem: "visiond",
			Name:      "model_load_duration_seconds",
			Help:      "Time taken to load a model artifact.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "openvision",
			Subsystem: "visiond",
			Name:      "request_duration_seconds",
			Help:      "Time taken to process a request.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "status"},
	)

	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "openvision",
			Subsystem: "visiond",
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits.",
		},
		[]string{"type"}, // model, tts
	)

	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "openvision",
			Subsystem: "visiond",
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses.",
		},
		[]string{"type"}, // model, tts
	)

	openSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "openvision",
			Subsystem: "visiond",
			Name:      "open_streaming_sessions",
			Help:      "Number of currently open streaming sessions.",
		},
	)

	framesProcessedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "openvision",
			Subsystem: "visiond",
			Name:      "frames_processed_total",
			Help:      "Total number of streaming frames processed.",
		},
	)

	// Queue metrics
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "openvision",
			Subsystem: "visiond",
			Name:      "queue_depth",
			Help:      "Number of requests currently waiting in queue.",
		},
	)

	queueActiveRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "openvision",
			Subsystem: "visiond",
			Name:      "queue_active_requests",
			Help:      "Number of requests currently being processed.",
		},
	)

	queueRejectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "openvision",
			Subsystem: "visiond",
			Name:      "queue_rejected_total",
			Help:      "Total number of requests rejected due to full queue.",
		},
	)

	queueTimedOutTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "openvision",
			Subsystem: "visiond",
			Name:      "queue_timed_out_total",
			Help:      "Total number of requests that timed out while waiting in queue.",
		},
	)

	queueWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "openvision",
			Subsystem: "visiond",
			Name:      "queue_wait_duration_seconds",
			Help:      "Time spent waiting in queue before processing.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)
)

func init() {
	prometheus.MustRegister(inferenceRequestOps)
	prometheus.MustRegister(detectionCreationOps)
	prometheus.MustRegister(modelSwitchOps)
	prometheus.MustRegister(modelLoadDuration)
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(cacheHits)
	prometheus.MustRegister(cacheMisses)
	prometheus.MustRegister(openSessions)
	prometheus.MustRegister(framesProcessedTotal)
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(queueActiveRequests)
	prometheus.MustRegister(queueRejectedTotal)
	prometheus.MustRegister(queueTimedOutTotal)
	prometheus.MustRegister(queueWaitDuration)
}

// RecordInference counts one inference call and the detections it produced
func RecordInference(model string, detections int) {
	inferenceRequestOps.WithLabelValues(model).Inc()
	detectionCreationOps.WithLabelValues(model).Add(float64(detections))
}

// RecordModelSwitch counts one completed active-model switch
func RecordModelSwitch(model string) {
	modelSwitchOps.WithLabelValues(model).Inc()
}

// RecordModelLoadDuration records how long it took to load a model
func RecordModelLoadDuration(model string, seconds float64) {
	modelLoadDuration.WithLabelValues(model).Observe(seconds)
}

// RecordRequestDuration records how long a request took
func RecordRequestDuration(endpoint, status string, seconds float64) {
	requestDuration.WithLabelValues(endpoint, status).Observe(seconds)
}

// RecordCacheHit increments the cache hit counter
func RecordCacheHit(cacheType string) {
	cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss increments the cache miss counter
func RecordCacheMiss(cacheType string) {
	cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordSessionOpened increments the open session gauge
func RecordSessionOpened() {
	openSessions.Inc()
}

// RecordSessionClosed decrements the open session gauge
func RecordSessionClosed() {
	openSessions.Dec()
}

// RecordFrameProcessed counts one processed streaming frame
func RecordFrameProcessed() {
	framesProcessedTotal.Inc()
}

// UpdateQueueMetrics updates all queue-related metrics from QueueStats
func UpdateQueueMetrics(stats QueueStats) {
	queueDepth.Set(float64(stats.CurrentQueued))
	queueActiveRequests.Set(float64(stats.CurrentActive))
}

// RecordQueueRejection increments the rejected counter
func RecordQueueRejection() {
	queueRejectedTotal.Inc()
}

// RecordQueueTimeout increments the timeout counter
func RecordQueueTimeout() {
	queueTimedOutTotal.Inc()
}

// RecordQueueWaitTime records how long a request waited in queue
func RecordQueueWaitTime(seconds float64) {
	queueWaitDuration.Observe(seconds)
}
