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

// Command visiond runs the hot-swappable object-detection service.
//
// visiond serves single-image and streaming inference against ONNX detection
// models that can be uploaded and switched at runtime.
//
// Usage:
//
//	visiond run                    # Start the server
//	visiond list                   # List local model artifacts
package main

import (
	"runtime"

	"github.com/openvisionlab/visiond/cmd/cmd"
)

// https://goreleaser.com/cookbooks/using-main.version/
//
// main.version: Current Git tag (the v prefix is stripped) or the name of the
// snapshot, if you're using the --snapshot flag
var version = "dev"

func main() {
	runtime.SetMutexProfileFraction(1) // Enable mutex profiling
	runtime.SetBlockProfileRate(1)     // Sample every blocking event
	cmd.Version = version
	cmd.Execute()
}
