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
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/openvisionlab/visiond/lib/vision"
)

func newTestNode(t *testing.T, backend vision.Backend) *Node {
	t.Helper()
	logger := zaptest.NewLogger(t)

	modelsDir := t.TempDir()
	builtinPath := writeModelFile(t, modelsDir, "model1.onnx")

	store, err := NewArtifactStore(ArtifactStoreConfig{
		Builtins:   map[string]string{"model1": builtinPath},
		UploadsDir: t.TempDir(),
	}, logger)
	require.NoError(t, err)

	registry := NewActiveModelRegistry()
	loader := NewModelLoader(LoaderConfig{}, backend, registry.Current, logger)
	t.Cleanup(func() { _ = loader.Close() })

	speaker := NewCachedSpeaker(&mockSpeaker{}, logger)
	t.Cleanup(speaker.Close)

	return &Node{
		logger:         logger,
		store:          store,
		loader:         loader,
		activeRegistry: registry,
		engine:         NewInferenceEngine(logger),
		speaker:        speaker,
		requestQueue:   NewRequestQueue(RequestQueueConfig{}, logger),
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHandleListModels(t *testing.T) {
	node := newTestNode(t, &mockBackend{})

	rec := httptest.NewRecorder()
	node.handleListModels(rec, httptest.NewRequest(http.MethodGet, "/api/models", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ModelsResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, []string{"model1"}, resp.Preloaded)
	assert.Empty(t, resp.Uploaded)
	assert.Nil(t, resp.Current)
}

func TestHandleSwitchModel(t *testing.T) {
	node := newTestNode(t, &mockBackend{})

	body := strings.NewReader(`{"model": "model1"}`)
	rec := httptest.NewRecorder()
	node.handleSwitchModel(rec, httptest.NewRequest(http.MethodPost, "/api/switch-model", body))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "Modelo cambiado a model1", resp.Status)
	assert.Equal(t, "model1", node.activeRegistry.CurrentID())
	require.NotNil(t, node.activeRegistry.Current())

	// The listing now reports the active model.
	rec = httptest.NewRecorder()
	node.handleListModels(rec, httptest.NewRequest(http.MethodGet, "/api/models", nil))
	var models ModelsResponse
	decodeBody(t, rec, &models)
	require.NotNil(t, models.Current)
	assert.Equal(t, "model1", *models.Current)
}

func TestHandleSwitchModelUnknown(t *testing.T) {
	node := newTestNode(t, &mockBackend{})

	body := strings.NewReader(`{"model": "missing"}`)
	rec := httptest.NewRecorder()
	node.handleSwitchModel(rec, httptest.NewRequest(http.MethodPost, "/api/switch-model", body))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleSwitchModelLoadFailure(t *testing.T) {
	backend := &mockBackend{
		loadFunc: func(path string) (vision.Model, error) {
			return nil, errors.New("corrupt artifact")
		},
	}
	node := newTestNode(t, backend)

	body := strings.NewReader(`{"model": "model1"}`)
	rec := httptest.NewRecorder()
	node.handleSwitchModel(rec, httptest.NewRequest(http.MethodPost, "/api/switch-model", body))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Nil(t, node.activeRegistry.Current())
}

func multipartModelUpload(t *testing.T, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHandleUploadModel(t *testing.T) {
	node := newTestNode(t, &mockBackend{})

	body, contentType := multipartModelUpload(t, "helmet.onnx", []byte("weights"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload-model", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	node.handleUploadModel(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp UploadModelResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "uploaded_helmet", resp.ModelID)

	_, uploaded := node.store.List()
	assert.Equal(t, []string{"uploaded_helmet"}, uploaded)
}

func TestHandleUploadModelBadExtension(t *testing.T) {
	node := newTestNode(t, &mockBackend{})

	body, contentType := multipartModelUpload(t, "weights.zip", []byte("nope"))
	req := httptest.NewRequest(http.MethodPost, "/api/upload-model", body)
	req.Header.Set("Content-Type", contentType)

	rec := httptest.NewRecorder()
	node.handleUploadModel(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleDeleteModel(t *testing.T) {
	node := newTestNode(t, &mockBackend{})

	_, err := node.store.SaveUpload("temp.onnx", []byte("x"))
	require.NoError(t, err)

	body := strings.NewReader(`{"model": "uploaded_temp"}`)
	rec := httptest.NewRecorder()
	node.handleDeleteModel(rec, httptest.NewRequest(http.MethodPost, "/api/delete-model", body))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "Modelo uploaded_temp eliminado", resp.Status)
}

func TestHandleDeleteModelProtectedAndMissing(t *testing.T) {
	node := newTestNode(t, &mockBackend{})

	rec := httptest.NewRecorder()
	node.handleDeleteModel(rec, httptest.NewRequest(http.MethodPost, "/api/delete-model",
		strings.NewReader(`{"model": "model1"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	node.handleDeleteModel(rec, httptest.NewRequest(http.MethodPost, "/api/delete-model",
		strings.NewReader(`{"model": "uploaded_ghost"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleUploadImageNoModel(t *testing.T) {
	node := newTestNode(t, &mockBackend{})

	req := httptest.NewRequest(http.MethodPost, "/api/upload-image",
		bytes.NewReader(testJPEG(t, 32, 32)))
	rec := httptest.NewRecorder()
	node.handleUploadImage(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleUploadImage(t *testing.T) {
	backend := &mockBackend{
		loadFunc: func(path string) (vision.Model, error) {
			return &mockModel{detections: []vision.Detection{{
				Name:       "persona",
				Confidence: 0.9,
				Box:        vision.Box{XMin: 1, YMin: 2, XMax: 10, YMax: 20},
			}}}, nil
		},
	}
	node := newTestNode(t, backend)
	require.NoError(t, node.switchModel(t.Context(), "model1"))

	req := httptest.NewRequest(http.MethodPost, "/api/upload-image",
		bytes.NewReader(testJPEG(t, 64, 64)))
	rec := httptest.NewRecorder()
	node.handleUploadImage(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp UploadImageResponse
	decodeBody(t, rec, &resp)
	assert.True(t, strings.HasPrefix(resp.Image, "data:image/jpeg;base64,"))
	assert.Equal(t, "Se detectó 1 persona", resp.Description)
	require.Len(t, resp.Detections, 1)
	assert.Equal(t, "persona", resp.Detections[0].Name)
	assert.Equal(t, 1, resp.Detections[0].XMin)
	assert.Equal(t, 20, resp.Detections[0].YMax)
}

func TestHandleUploadImageBadPayload(t *testing.T) {
	node := newTestNode(t, &mockBackend{})
	require.NoError(t, node.switchModel(t.Context(), "model1"))

	req := httptest.NewRequest(http.MethodPost, "/api/upload-image",
		strings.NewReader("not an image"))
	rec := httptest.NewRecorder()
	node.handleUploadImage(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleGenerateTTS(t *testing.T) {
	node := newTestNode(t, &mockBackend{})

	rec := httptest.NewRecorder()
	node.handleGenerateTTS(rec, httptest.NewRequest(http.MethodPost, "/api/generate-tts",
		strings.NewReader(`{"text": "Se detectó 1 gato"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/mpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "audio:Se detectó 1 gato", rec.Body.String())
}

func TestHandleGenerateTTSEmptyText(t *testing.T) {
	node := newTestNode(t, &mockBackend{})

	rec := httptest.NewRecorder()
	node.handleGenerateTTS(rec, httptest.NewRequest(http.MethodPost, "/api/generate-tts",
		strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleWelcomeAndHealth(t *testing.T) {
	node := newTestNode(t, &mockBackend{})

	rec := httptest.NewRecorder()
	node.handleWelcome(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var welcome WelcomeResponse
	decodeBody(t, rec, &welcome)
	assert.NotEmpty(t, welcome.Message)

	rec = httptest.NewRecorder()
	node.handleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	node.handleReadyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var ready ReadyResponse
	decodeBody(t, rec, &ready)
	assert.Equal(t, "ready", ready.Status)
	assert.Equal(t, 1, ready.Models.Builtin)

	rec = httptest.NewRecorder()
	node.handleVersion(rec, httptest.NewRequest(http.MethodGet, "/api/version", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var version VersionResponse
	decodeBody(t, rec, &version)
	assert.Equal(t, Version, version.Version)
}

func TestConcurrentSwitchesDeduplicateLoads(t *testing.T) {
	backend := &mockBackend{}
	node := newTestNode(t, backend)

	// Racing switches to the same artifact must collapse into one load and
	// leave the registry holding a fully-constructed handle.
	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			done <- node.switchModel(t.Context(), "model1")
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}

	require.NotNil(t, node.activeRegistry.Current())
	assert.Equal(t, "model1", node.activeRegistry.CurrentID())
	assert.Equal(t, int32(1), backend.loadCalls.Load())
}
