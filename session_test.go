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
	"encoding/base64"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/openvisionlab/visiond/lib/vision"
)

// stubFrameConn implements FrameConn over channels for testing
type stubFrameConn struct {
	frames chan []byte

	mu      sync.Mutex
	written []any
	closed  atomic.Bool
}

func newStubFrameConn() *stubFrameConn {
	return &stubFrameConn{frames: make(chan []byte, 128)}
}

func (c *stubFrameConn) ReadFrame() ([]byte, error) {
	frame, ok := <-c.frames
	if !ok {
		return nil, io.EOF
	}
	return frame, nil
}

func (c *stubFrameConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, v)
	return nil
}

func (c *stubFrameConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *stubFrameConn) messages() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.written...)
}

func newTestSession(t *testing.T, conn FrameConn, registry *ActiveModelRegistry) *StreamingSession {
	t.Helper()
	return NewStreamingSession(conn, registry,
		NewInferenceEngine(zaptest.NewLogger(t)), zaptest.NewLogger(t))
}

func TestSessionNoModelStaysOpen(t *testing.T) {
	conn := newStubFrameConn()
	registry := NewActiveModelRegistry()

	conn.frames <- testJPEG(t, 32, 32)
	conn.frames <- testJPEG(t, 32, 32)
	close(conn.frames)

	newTestSession(t, conn, registry).Run(context.Background())

	msgs := conn.messages()
	require.Len(t, msgs, 2, "a missing model must not kill the session")
	for _, msg := range msgs {
		frameErr, ok := msg.(FrameError)
		require.True(t, ok)
		assert.Equal(t, NoModelStreamError, frameErr.Error)
	}
	assert.True(t, conn.closed.Load())
}

func TestSessionFrameResultShape(t *testing.T) {
	conn := newStubFrameConn()
	registry := NewActiveModelRegistry()
	registry.SetCurrent("model1", &ModelHandle{
		Path: "/a.onnx",
		Model: &mockModel{detections: []vision.Detection{{
			Name:       "persona",
			Confidence: 0.8765,
			Box:        vision.Box{XMin: 5, YMin: 6, XMax: 25, YMax: 30},
		}}},
	})

	conn.frames <- testJPEG(t, 64, 64)
	close(conn.frames)

	newTestSession(t, conn, registry).Run(context.Background())

	msgs := conn.messages()
	require.Len(t, msgs, 1)
	result, ok := msgs[0].(FrameResult)
	require.True(t, ok)

	// Annotated image is transport-safe base64.
	decoded, err := base64.StdEncoding.DecodeString(result.Image)
	require.NoError(t, err)
	assert.NotEmpty(t, decoded)

	require.Len(t, result.Detections, 1)
	assert.Equal(t, "persona", result.Detections[0].Name)
	assert.InDelta(t, 0.88, result.Detections[0].Confidence, 1e-6)
	assert.Equal(t, [4]int{5, 6, 25, 30}, result.Detections[0].BBox)
}

func TestSessionClosesOnBadFrameWithoutAffectingOthers(t *testing.T) {
	registry := NewActiveModelRegistry()
	registry.SetCurrent("model1", &ModelHandle{Path: "/a.onnx", Model: &mockModel{}})

	// Session one receives a non-image payload.
	badConn := newStubFrameConn()
	badConn.frames <- []byte("definitely not a jpeg")

	done := make(chan struct{})
	go func() {
		newTestSession(t, badConn, registry).Run(context.Background())
		close(done)
	}()
	<-done
	assert.True(t, badConn.closed.Load())
	assert.Empty(t, badConn.messages())

	// Session two keeps working afterwards.
	goodConn := newStubFrameConn()
	goodConn.frames <- testJPEG(t, 32, 32)
	close(goodConn.frames)

	newTestSession(t, goodConn, registry).Run(context.Background())
	require.Len(t, goodConn.messages(), 1)
	_, ok := goodConn.messages()[0].(FrameResult)
	assert.True(t, ok)
}

func TestSessionConsistentHandlePerFrameDuringSwitch(t *testing.T) {
	registry := NewActiveModelRegistry()
	oldHandle := &ModelHandle{
		Path:  "/old.onnx",
		Model: &mockModel{detections: []vision.Detection{det("old")}},
	}
	newHandle := &ModelHandle{
		Path:  "/new.onnx",
		Model: &mockModel{detections: []vision.Detection{det("new")}},
	}
	registry.SetCurrent("old", oldHandle)

	conn := newStubFrameConn()
	const frames = 100
	frame := testJPEG(t, 32, 32)

	sessionDone := make(chan struct{})
	go func() {
		newTestSession(t, conn, registry).Run(context.Background())
		close(sessionDone)
	}()

	for i := 0; i < frames; i++ {
		conn.frames <- frame
		if i == frames/2 {
			registry.SetCurrent("new", newHandle)
		}
	}
	close(conn.frames)
	<-sessionDone

	msgs := conn.messages()
	require.Len(t, msgs, frames, "no frame may be dropped because of the switch")

	sawNew := false
	for _, msg := range msgs {
		result, ok := msg.(FrameResult)
		require.True(t, ok)
		require.Len(t, result.Detections, 1)

		name := result.Detections[0].Name
		require.Contains(t, []string{"old", "new"}, name)
		if name == "new" {
			sawNew = true
		} else {
			// Frames are processed in order, so once the new handle has
			// been observed the old one never reappears.
			assert.False(t, sawNew, "old handle observed after new handle")
		}
	}
}
