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

package vision

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// Defaults matching the Ultralytics export conventions.
const (
	DefaultInputSize     = 640
	DefaultConfThreshold = 0.25
	DefaultIoUThreshold  = 0.45
)

// ONNXConfig configures the ONNX Runtime detection backend.
type ONNXConfig struct {
	// LibraryPath points at the onnxruntime shared library. Empty falls back
	// to the ONNXRUNTIME_SHARED_LIBRARY_PATH environment variable, then to
	// the platform default lookup.
	LibraryPath   string
	InputSize     int
	ConfThreshold float32
	IoUThreshold  float32
}

// ONNXBackend loads YOLOv8-style detection models through ONNX Runtime.
type ONNXBackend struct {
	cfg    ONNXConfig
	logger *zap.Logger
}

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// initRuntime initializes the process-wide ONNX Runtime environment exactly
// once. All sessions share it.
func initRuntime(libraryPath string) error {
	runtimeOnce.Do(func() {
		if libraryPath == "" {
			libraryPath = os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
		}
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if !ort.IsInitialized() {
			runtimeErr = ort.InitializeEnvironment()
		}
	})
	return runtimeErr
}

// NewONNXBackend creates the production detection backend.
func NewONNXBackend(cfg ONNXConfig, logger *zap.Logger) *ONNXBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.InputSize == 0 {
		cfg.InputSize = DefaultInputSize
	}
	if cfg.ConfThreshold == 0 {
		cfg.ConfThreshold = DefaultConfThreshold
	}
	if cfg.IoUThreshold == 0 {
		cfg.IoUThreshold = DefaultIoUThreshold
	}
	return &ONNXBackend{cfg: cfg, logger: logger}
}

// Load implements Backend.
func (b *ONNXBackend) Load(path string) (Model, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("model file %s: %w", path, err)
	}
	if err := initRuntime(b.cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("initializing onnxruntime: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{"images"}, []string{"output0"}, nil)
	if err != nil {
		return nil, fmt.Errorf("creating session for %s: %w", path, err)
	}

	names := loadNames(path)
	b.logger.Info("Loaded detection model",
		zap.String("path", path),
		zap.Int("classes", len(names)),
		zap.Int("input_size", b.cfg.InputSize))

	return &yoloModel{
		session:       session,
		names:         names,
		inputSize:     b.cfg.InputSize,
		confThreshold: b.cfg.ConfThreshold,
		iouThreshold:  b.cfg.IoUThreshold,
	}, nil
}

// yoloModel wraps one ONNX Runtime session. Session.Run is safe for
// concurrent use (ONNX Runtime locks internally), so the model itself needs
// no mutex and is never mutated after Load.
type yoloModel struct {
	session       *ort.DynamicAdvancedSession
	names         []string
	inputSize     int
	confThreshold float32
	iouThreshold  float32
}

// anchorCount returns the number of prediction anchors a YOLOv8 head emits
// for a square input: one per cell at strides 8, 16 and 32.
func anchorCount(inputSize int) int {
	s8 := inputSize / 8
	s16 := inputSize / 16
	s32 := inputSize / 32
	return s8*s8 + s16*s16 + s32*s32
}

// Predict implements Model.
func (m *yoloModel) Predict(ctx context.Context, img image.Image) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	canvas, lb := letterboxImage(img, m.inputSize)
	data := imageToTensor(canvas, m.inputSize)

	inputShape := ort.NewShape(1, 3, int64(m.inputSize), int64(m.inputSize))
	input, err := ort.NewTensor(inputShape, data)
	if err != nil {
		return nil, fmt.Errorf("creating input tensor: %w", err)
	}
	defer func() { _ = input.Destroy() }()

	anchors := anchorCount(m.inputSize)
	outputShape := ort.NewShape(1, int64(4+len(m.names)), int64(anchors))
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		return nil, fmt.Errorf("creating output tensor: %w", err)
	}
	defer func() { _ = output.Destroy() }()

	if err := m.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("running model: %w", err)
	}

	cands := decodeOutput(output.GetData(), len(m.names), anchors, m.confThreshold)
	kept := nonMaxSuppression(cands, m.iouThreshold)

	detections := make([]Detection, 0, len(kept))
	for _, c := range kept {
		name := fmt.Sprintf("class%d", c.class)
		if c.class < len(m.names) {
			name = m.names[c.class]
		}
		detections = append(detections, Detection{
			Name:       name,
			Confidence: c.confidence,
			Box:        lb.toSource(c.x1, c.y1, c.x2, c.y2),
		})
	}
	return detections, nil
}

// Close implements Model.
func (m *yoloModel) Close() error {
	return m.session.Destroy()
}
