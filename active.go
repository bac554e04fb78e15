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

import "sync/atomic"

// activeModel pairs a handle with its logical artifact id. The pair is
// immutable once stored.
type activeModel struct {
	id     string
	handle *ModelHandle
}

// ActiveModelRegistry holds the single currently-active model. Swaps are
// atomic pointer replacements of an immutable id/handle pair: an inference
// that captured Current before a concurrent SetCurrent completes against the
// handle it captured, and no reader ever observes a handle paired with a
// stale id. No further locking is needed.
type ActiveModelRegistry struct {
	entry atomic.Pointer[activeModel]
}

// NewActiveModelRegistry creates an empty registry (no model loaded).
func NewActiveModelRegistry() *ActiveModelRegistry {
	return &ActiveModelRegistry{}
}

// Current returns the active handle, or nil before the first switch. It
// never blocks.
func (r *ActiveModelRegistry) Current() *ModelHandle {
	if e := r.entry.Load(); e != nil {
		return e.handle
	}
	return nil
}

// CurrentID returns the logical id of the active model, or "" when none.
func (r *ActiveModelRegistry) CurrentID() string {
	if e := r.entry.Load(); e != nil {
		return e.id
	}
	return ""
}

// SetCurrent atomically replaces the active model.
func (r *ActiveModelRegistry) SetCurrent(id string, handle *ModelHandle) {
	r.entry.Store(&activeModel{id: id, handle: handle})
}
