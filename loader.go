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
	"fmt"
	"path/filepath"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/openvisionlab/visiond/lib/vision"
)

// ModelHandle is a loaded, ready-to-infer model bound to one artifact path.
// Handles are immutable after construction and safe for concurrent Predict
// calls.
type ModelHandle struct {
	Path  string
	Model vision.Model
}

// ModelLoader loads model artifacts and caches handles by normalized path.
// Concurrent loads of the same uncached path are deduplicated: exactly one
// load executes and every caller receives the same handle or the same error.
// Failed loads are never cached.
type ModelLoader struct {
	backend vision.Backend
	logger  *zap.Logger

	cache *ttlcache.Cache[string, *ModelHandle]
	group singleflight.Group

	keepAlive time.Duration

	// active reports the handle currently serving inference, so eviction
	// never closes a model that is still in use.
	active func() *ModelHandle
}

// LoaderConfig configures the model loader cache.
type LoaderConfig struct {
	// KeepAlive is how long an unused handle stays loaded (0 = forever).
	KeepAlive time.Duration
	// MaxLoadedModels caps handles in memory (0 = unlimited).
	MaxLoadedModels uint64
}

// NewModelLoader creates a loader backed by backend. active may be nil when
// no handle is ever considered in use.
func NewModelLoader(config LoaderConfig, backend vision.Backend, active func() *ModelHandle, logger *zap.Logger) *ModelLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if active == nil {
		active = func() *ModelHandle { return nil }
	}

	keepAlive := config.KeepAlive
	if keepAlive == 0 {
		keepAlive = ttlcache.NoTTL
	}

	loader := &ModelLoader{
		backend:   backend,
		logger:    logger,
		keepAlive: keepAlive,
		active:    active,
	}

	cacheOpts := []ttlcache.Option[string, *ModelHandle]{
		ttlcache.WithTTL[string, *ModelHandle](keepAlive),
	}
	if config.MaxLoadedModels > 0 {
		cacheOpts = append(cacheOpts,
			ttlcache.WithCapacity[string, *ModelHandle](config.MaxLoadedModels))
	}
	loader.cache = ttlcache.New(cacheOpts...)

	loader.cache.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *ModelHandle]) {
		handle := item.Value()

		if loader.active() == handle {
			logger.Debug("Evicted handle is the active model, skipping close",
				zap.String("path", handle.Path))
			return
		}

		reasonStr := "unknown"
		switch reason {
		case ttlcache.EvictionReasonExpired:
			reasonStr = "expired (keep-alive timeout)"
		case ttlcache.EvictionReasonCapacityReached:
			reasonStr = "capacity reached (LRU eviction)"
		case ttlcache.EvictionReasonDeleted:
			reasonStr = "manually deleted"
		}

		logger.Info("Unloading model",
			zap.String("path", handle.Path),
			zap.String("reason", reasonStr))

		if err := handle.Model.Close(); err != nil {
			logger.Warn("Error closing model",
				zap.String("path", handle.Path),
				zap.Error(err))
		}
	})

	go loader.cache.Start()

	return loader
}

// Load returns a handle for the artifact at path, loading it on first use.
func (l *ModelLoader) Load(ctx context.Context, path string) (*ModelHandle, error) {
	key, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: normalizing path %s: %v", ErrLoad, path, err)
	}

	if item := l.cache.Get(key); item != nil {
		l.logger.Debug("Model cache hit", zap.String("path", key))
		RecordCacheHit("model")
		return item.Value(), nil
	}

	result, err, shared := l.group.Do(key, func() (any, error) {
		// Double-check after winning the flight: a racing caller may have
		// populated the cache between our miss and this closure running.
		if item := l.cache.Get(key); item != nil {
			return item.Value(), nil
		}
		RecordCacheMiss("model")

		l.logger.Info("Loading model on demand", zap.String("path", key))
		start := time.Now()

		model, err := l.backend.Load(key)
		if err != nil {
			l.logger.Error("Failed to load model",
				zap.String("path", key),
				zap.Error(err))
			return nil, fmt.Errorf("%w: %s: %v", ErrLoad, key, err)
		}

		handle := &ModelHandle{Path: key, Model: model}
		l.cache.Set(key, handle, ttlcache.DefaultTTL)

		RecordModelLoadDuration(key, time.Since(start).Seconds())
		l.logger.Info("Loaded model",
			zap.String("path", key),
			zap.Duration("duration", time.Since(start)))

		return handle, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		l.logger.Debug("Deduplicated concurrent model load",
			zap.String("path", key))
	}

	return result.(*ModelHandle), nil
}

// Unload evicts the handle for path, closing it unless it is active.
func (l *ModelLoader) Unload(path string) {
	if key, err := filepath.Abs(path); err == nil {
		l.cache.Delete(key)
	}
}

// LoadedCount returns the number of cached handles.
func (l *ModelLoader) LoadedCount() int {
	return l.cache.Len()
}

// Close stops the cache and unloads every cached handle.
func (l *ModelLoader) Close() error {
	l.cache.Stop()
	l.cache.DeleteAll()
	return nil
}
