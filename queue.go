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

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Queue errors returned by Acquire.
var (
	ErrQueueFull      = errors.New("request queue is full")
	ErrRequestTimeout = errors.New("request timed out waiting in queue")
)

// RequestQueueConfig configures request backpressure.
type RequestQueueConfig struct {
	// MaxConcurrentRequests bounds in-flight requests (0 = unlimited).
	MaxConcurrentRequests int
	// MaxQueueSize bounds requests waiting for a slot (0 = no waiting:
	// reject as soon as all slots are busy).
	MaxQueueSize int
	// RequestTimeout bounds time spent waiting in the queue (0 = wait
	// until the context is cancelled).
	RequestTimeout time.Duration
}

// QueueStats is a point-in-time snapshot of queue occupancy.
type QueueStats struct {
	CurrentQueued int64 `json:"current_queued"`
	CurrentActive int64 `json:"current_active"`
}

// RequestQueue applies backpressure to inference requests: a bounded number
// run concurrently, a bounded number wait, everyone else is rejected
// immediately so the client can retry instead of piling up.
type RequestQueue struct {
	config RequestQueueConfig
	logger *zap.Logger

	slots  chan struct{}
	queued atomic.Int64
	active atomic.Int64
}

// NewRequestQueue creates a queue. A zero MaxConcurrentRequests disables
// limiting entirely.
func NewRequestQueue(config RequestQueueConfig, logger *zap.Logger) *RequestQueue {
	if logger == nil {
		logger = zap.NewNop()
	}

	q := &RequestQueue{
		config: config,
		logger: logger,
	}
	if config.MaxConcurrentRequests > 0 {
		q.slots = make(chan struct{}, config.MaxConcurrentRequests)
	}

	logger.Info("Request queue configured",
		zap.Int("max_concurrent", config.MaxConcurrentRequests),
		zap.Int("max_queue_size", config.MaxQueueSize),
		zap.Duration("request_timeout", config.RequestTimeout))

	return q
}

// Acquire blocks until a concurrency slot is available and returns a release
// function that must be called when the request finishes. It fails with
// ErrQueueFull when the wait queue is at capacity, ErrRequestTimeout when
// RequestTimeout elapses, or the context error on cancellation.
func (q *RequestQueue) Acquire(ctx context.Context) (func(), error) {
	if q.slots == nil {
		q.active.Add(1)
		return q.releaseFunc(), nil
	}

	// Fast path: a slot is free right now.
	select {
	case q.slots <- struct{}{}:
		q.active.Add(1)
		return q.releaseFunc(), nil
	default:
	}

	// Slow path: join the wait queue if there is room. With MaxQueueSize 0
	// there is never room, so a busy queue rejects immediately.
	if q.queued.Load() >= int64(q.config.MaxQueueSize) {
		q.logger.Warn("Rejecting request, queue full",
			zap.Int64("queued", q.queued.Load()),
			zap.Int64("active", q.active.Load()))
		return nil, ErrQueueFull
	}

	q.queued.Add(1)
	defer q.queued.Add(-1)

	start := time.Now()

	var timeout <-chan time.Time
	if q.config.RequestTimeout > 0 {
		timer := time.NewTimer(q.config.RequestTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case q.slots <- struct{}{}:
		RecordQueueWaitTime(time.Since(start).Seconds())
		q.active.Add(1)
		return q.releaseFunc(), nil
	case <-timeout:
		q.logger.Warn("Request timed out in queue",
			zap.Duration("waited", time.Since(start)))
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns current queue occupancy.
func (q *RequestQueue) Stats() QueueStats {
	return QueueStats{
		CurrentQueued: q.queued.Load(),
		CurrentActive: q.active.Load(),
	}
}

func (q *RequestQueue) releaseFunc() func() {
	var once atomic.Bool
	return func() {
		if !once.CompareAndSwap(false, true) {
			return
		}
		q.active.Add(-1)
		if q.slots != nil {
			<-q.slots
		}
	}
}

// WriteQueueFullResponse writes a 429 with a Retry-After hint.
func WriteQueueFullResponse(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())))
	http.Error(w, "server is busy, please retry later", http.StatusTooManyRequests)
}

// WriteTimeoutResponse writes a 503 for a request that timed out in queue.
func WriteTimeoutResponse(w http.ResponseWriter) {
	http.Error(w, "request timed out waiting for capacity", http.StatusServiceUnavailable)
}
