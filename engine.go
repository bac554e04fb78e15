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
	"fmt"
	"image"
	"strings"
	"time"

	// Frame payloads arrive as JPEG or PNG bytes.
	_ "image/jpeg"
	_ "image/png"

	"go.uber.org/zap"

	"github.com/openvisionlab/visiond/lib/annotate"
	"github.com/openvisionlab/visiond/lib/vision"
)

// NoDetectionsSummary is the summary for an empty detection list.
const NoDetectionsSummary = "No se detectaron objetos"

// DetectionResult is the outcome of one inference call.
type DetectionResult struct {
	// AnnotatedJPEG is the input image re-encoded as JPEG with boxes and
	// labels drawn. Its dimensions match the input image.
	AnnotatedJPEG []byte
	// Detections preserves the order the model produced them.
	Detections []vision.Detection
	// Summary is a Spanish sentence listing each label with its count.
	Summary string
}

// InferenceEngine runs detection on raw image bytes against a model handle.
type InferenceEngine struct {
	logger *zap.Logger
}

// NewInferenceEngine creates an engine.
func NewInferenceEngine(logger *zap.Logger) *InferenceEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InferenceEngine{logger: logger}
}

// Infer decodes imageBytes, runs one forward pass on handle, and returns the
// annotated image, the detections and a summary. handle == nil fails with
// ErrNoModelLoaded.
func (e *InferenceEngine) Infer(ctx context.Context, handle *ModelHandle, imageBytes []byte) (*DetectionResult, error) {
	if handle == nil {
		return nil, ErrNoModelLoaded
	}

	img, format, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	start := time.Now()
	detections, err := handle.Model.Predict(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	RecordInference(handle.Path, len(detections))

	annotated, err := annotate.EncodeJPEG(annotate.Draw(img, detections))
	if err != nil {
		return nil, fmt.Errorf("%w: annotating result: %v", ErrInference, err)
	}

	e.logger.Debug("Inference complete",
		zap.String("model", handle.Path),
		zap.String("format", format),
		zap.Int("detections", len(detections)),
		zap.Duration("duration", time.Since(start)))

	return &DetectionResult{
		AnnotatedJPEG: annotated,
		Detections:    detections,
		Summary:       summarize(detections),
	}, nil
}

// summarize builds the Spanish detection summary. Labels are listed in the
// order they first appear among the detections, pluralized with a trailing
// "s" when the count exceeds one.
func summarize(detections []vision.Detection) string {
	if len(detections) == 0 {
		return NoDetectionsSummary
	}

	var order []string
	counts := make(map[string]int)
	for _, det := range detections {
		if counts[det.Name] == 0 {
			order = append(order, det.Name)
		}
		counts[det.Name]++
	}

	items := make([]string, 0, len(order))
	for _, name := range order {
		n := counts[name]
		label := name
		if n > 1 {
			label += "s"
		}
		items = append(items, fmt.Sprintf("%d %s", n, label))
	}

	if len(items) == 1 {
		return "Se detectó " + items[0]
	}
	return fmt.Sprintf("Se detectaron: %s y %s",
		strings.Join(items[:len(items)-1], ", "), items[len(items)-1])
}
