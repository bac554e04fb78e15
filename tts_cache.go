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
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/openvisionlab/visiond/lib/tts"
)

// TTSCacheTTL is how long synthesized audio stays cached. Detection
// summaries repeat constantly, so most requests never hit the network.
const TTSCacheTTL = 10 * time.Minute

// CachedSpeaker wraps a tts.Speaker with caching and singleflight
// deduplication of concurrent identical requests.
type CachedSpeaker struct {
	speaker tts.Speaker
	cache   *ttlcache.Cache[string, []byte]
	sfGroup singleflight.Group
	logger  *zap.Logger

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCachedSpeaker wraps speaker with a TTL cache.
func NewCachedSpeaker(speaker tts.Speaker, logger *zap.Logger) *CachedSpeaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, []byte](TTSCacheTTL),
	)
	go cache.Start()

	return &CachedSpeaker{
		speaker: speaker,
		cache:   cache,
		logger:  logger,
	}
}

// Speak implements tts.Speaker with caching.
func (c *CachedSpeaker) Speak(ctx context.Context, text string) ([]byte, error) {
	key := ttsCacheKey(text)

	if item := c.cache.Get(key); item != nil {
		c.hits.Add(1)
		RecordCacheHit("tts")
		c.logger.Debug("TTS cache hit", zap.Int("audio_bytes", len(item.Value())))
		return item.Value(), nil
	}

	result, err, shared := c.sfGroup.Do(key, func() (any, error) {
		c.misses.Add(1)
		RecordCacheMiss("tts")

		start := time.Now()
		audio, err := c.speaker.Speak(ctx, text)
		if err != nil {
			return nil, err
		}

		c.cache.Set(key, audio, ttlcache.DefaultTTL)
		c.logger.Debug("Synthesized and cached audio",
			zap.Int("audio_bytes", len(audio)),
			zap.Duration("duration", time.Since(start)))
		return audio, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("Singleflight hit for TTS request")
	}

	return result.([]byte), nil
}

// Close stops the cache.
func (c *CachedSpeaker) Close() {
	c.cache.Stop()
	c.cache.DeleteAll()
}

// Stats returns cache statistics.
func (c *CachedSpeaker) Stats() map[string]any {
	return map[string]any{
		"hits":   c.hits.Load(),
		"misses": c.misses.Load(),
		"items":  c.cache.Len(),
	}
}

// ttsCacheKey hashes the utterance into a compact cache key.
func ttsCacheKey(text string) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], xxhash.Sum64String(text))
	return string(buf[:])
}
