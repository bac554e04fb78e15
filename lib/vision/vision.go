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

// Package vision defines the detection model contract and the ONNX-backed
// implementation used to run object-detection artifacts.
package vision

import (
	"context"
	"image"
)

// Box is an axis-aligned bounding box in input-image pixel coordinates.
// XMin <= XMax and YMin <= YMax always hold for boxes produced by this package.
type Box struct {
	XMin int `json:"xmin"`
	YMin int `json:"ymin"`
	XMax int `json:"xmax"`
	YMax int `json:"ymax"`
}

// Detection is one recognized object instance.
type Detection struct {
	Name       string  `json:"name"`
	Confidence float32 `json:"confidence"`
	Box        Box     `json:"box"`
}

// Model is a loaded, ready-to-run detection model. Implementations must be
// safe for concurrent Predict calls; a Model is never mutated after
// construction.
type Model interface {
	// Predict runs one forward pass and returns zero or more detections in
	// the coordinate space of img.
	Predict(ctx context.Context, img image.Image) ([]Detection, error)

	// Close releases the model's resources. Predict must not be called after
	// Close.
	Close() error
}

// Backend constructs Models from on-disk artifacts.
type Backend interface {
	// Load parses the artifact at path and returns a ready model. The
	// returned error is non-nil if the file is missing or is not a valid
	// model for this backend.
	Load(path string) (Model, error)
}
