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
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// mockSpeaker implements tts.Speaker for testing
type mockSpeaker struct {
	speakFunc func(ctx context.Context, text string) ([]byte, error)
	callCount atomic.Int32
}

func (m *mockSpeaker) Speak(ctx context.Context, text string) ([]byte, error) {
	m.callCount.Add(1)
	if m.speakFunc != nil {
		return m.speakFunc(ctx, text)
	}
	return []byte("audio:" + text), nil
}

func TestCachedSpeakerCachesByText(t *testing.T) {
	speaker := &mockSpeaker{}
	cached := NewCachedSpeaker(speaker, zaptest.NewLogger(t))
	defer cached.Close()

	ctx := context.Background()
	audio1, err := cached.Speak(ctx, "Se detectó 1 gato")
	require.NoError(t, err)
	audio2, err := cached.Speak(ctx, "Se detectó 1 gato")
	require.NoError(t, err)

	assert.Equal(t, audio1, audio2)
	assert.Equal(t, int32(1), speaker.callCount.Load())

	// Different text synthesizes fresh audio.
	audio3, err := cached.Speak(ctx, "No se detectaron objetos")
	require.NoError(t, err)
	assert.NotEqual(t, audio1, audio3)
	assert.Equal(t, int32(2), speaker.callCount.Load())
}

func TestCachedSpeakerErrorNotCached(t *testing.T) {
	fail := true
	speaker := &mockSpeaker{
		speakFunc: func(ctx context.Context, text string) ([]byte, error) {
			if fail {
				return nil, errors.New("endpoint down")
			}
			return []byte("ok"), nil
		},
	}
	cached := NewCachedSpeaker(speaker, zaptest.NewLogger(t))
	defer cached.Close()

	ctx := context.Background()
	_, err := cached.Speak(ctx, "hola")
	require.Error(t, err)

	fail = false
	audio, err := cached.Speak(ctx, "hola")
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), audio)
	assert.Equal(t, int32(2), speaker.callCount.Load())
}

func TestCachedSpeakerStats(t *testing.T) {
	cached := NewCachedSpeaker(&mockSpeaker{}, zaptest.NewLogger(t))
	defer cached.Close()

	_, err := cached.Speak(context.Background(), "hola")
	require.NoError(t, err)
	_, err = cached.Speak(context.Background(), "hola")
	require.NoError(t, err)

	stats := cached.Stats()
	assert.Equal(t, uint64(1), stats["hits"])
	assert.Equal(t, uint64(1), stats["misses"])
}
