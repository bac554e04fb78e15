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

import "errors"

// Sentinel errors for the model lifecycle and inference pipeline. Handlers
// map these to HTTP statuses with errors.Is.
var (
	// ErrNotFound means no artifact is registered under the requested id.
	ErrNotFound = errors.New("model not found")

	// ErrDuplicateID means an artifact with that id is already registered.
	ErrDuplicateID = errors.New("model id already registered")

	// ErrProtected means the artifact is a builtin and cannot be deleted.
	ErrProtected = errors.New("builtin model cannot be deleted")

	// ErrDecode means the input bytes are not a valid image.
	ErrDecode = errors.New("invalid image")

	// ErrLoad means the artifact file could not be parsed as a model.
	ErrLoad = errors.New("model load failed")

	// ErrInference means the model's forward pass failed at runtime.
	ErrInference = errors.New("inference failed")

	// ErrNoModelLoaded means no model has been switched to yet.
	ErrNoModelLoaded = errors.New("no model loaded")

	// ErrIO means a filesystem operation on an artifact failed.
	ErrIO = errors.New("artifact i/o failed")
)
