// Copyright 2025 OpenVision Lab
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"text/tabwriter"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListBuiltinsUsesConfiguredIDs(t *testing.T) {
	modelsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(modelsDir, "yolov8n.onnx"), []byte("onnx"), 0o644))

	// The configured id differs from the file stem; the listing must show
	// the id the server registers, not the stem.
	viper.Set("builtins", map[string]string{"detector": "yolov8n.onnx"})
	defer viper.Set("builtins", nil)

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	listBuiltins(w, modelsDir)
	require.NoError(t, w.Flush())

	out := buf.String()
	assert.Contains(t, out, "detector")
	assert.NotContains(t, out, "yolov8n\t")
	assert.Contains(t, out, "builtin")
}

func TestListBuiltinsMarksMissingFiles(t *testing.T) {
	viper.Set("builtins", map[string]string{"model1": "model1.onnx"})
	defer viper.Set("builtins", nil)

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	listBuiltins(w, t.TempDir())
	require.NoError(t, w.Flush())

	assert.Contains(t, buf.String(), "missing")
}

func TestListUploadsPrefixesIDs(t *testing.T) {
	uploadsDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(uploadsDir, "helmet.onnx"), []byte("onnx"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(uploadsDir, "notes.txt"), []byte("x"), 0o644))

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	require.NoError(t, listUploads(w, uploadsDir))
	require.NoError(t, w.Flush())

	out := buf.String()
	assert.Contains(t, out, "uploaded_helmet")
	assert.NotContains(t, out, "notes")
}
