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
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openvisionlab/visiond/lib/vision"
)

// mockModel implements vision.Model for testing
type mockModel struct {
	detections   []vision.Detection
	predictErr   error
	predictCalls atomic.Int32
	closed       atomic.Bool
}

func (m *mockModel) Predict(ctx context.Context, img image.Image) ([]vision.Detection, error) {
	m.predictCalls.Add(1)
	if m.predictErr != nil {
		return nil, m.predictErr
	}
	return m.detections, nil
}

func (m *mockModel) Close() error {
	m.closed.Store(true)
	return nil
}

// mockBackend implements vision.Backend for testing
type mockBackend struct {
	loadFunc  func(path string) (vision.Model, error)
	loadCalls atomic.Int32
}

func (b *mockBackend) Load(path string) (vision.Model, error) {
	b.loadCalls.Add(1)
	if b.loadFunc != nil {
		return b.loadFunc(path)
	}
	return &mockModel{}, nil
}

// testJPEG returns a valid JPEG of the given dimensions.
func testJPEG(t testing.TB, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 80, G: 120, B: 160, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

// writeModelFile drops a placeholder artifact file and returns its path.
func writeModelFile(t testing.TB, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("onnx-bytes"), 0o644))
	return path
}
