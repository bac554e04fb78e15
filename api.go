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
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic/decoder"
	"github.com/bytedance/sonic/encoder"
	"go.uber.org/zap"

	"github.com/openvisionlab/visiond/lib/vision"
)

// maxUploadBytes bounds model upload size (ONNX detection models are
// typically tens of MB).
const maxUploadBytes = 512 << 20

// maxImageBytes bounds a single inference image payload.
const maxImageBytes = 32 << 20

// WelcomeResponse is the GET / response.
type WelcomeResponse struct {
	Message string `json:"message"`
}

// ModelsResponse lists known artifacts and the active model.
type ModelsResponse struct {
	Preloaded []string `json:"preloaded"`
	Uploaded  []string `json:"uploaded"`
	Current   *string  `json:"current"`
}

// UploadModelResponse confirms an upload.
type UploadModelResponse struct {
	Status  string `json:"status"`
	ModelID string `json:"model_id"`
}

// SwitchModelRequest selects the active model.
type SwitchModelRequest struct {
	Model string `json:"model"`
}

// DeleteModelRequest removes an uploaded model.
type DeleteModelRequest struct {
	Model string `json:"model"`
}

// StatusResponse carries a human-readable status string.
type StatusResponse struct {
	Status string `json:"status"`
}

// APIDetection is one detection in the request/response surface, with the
// box flattened into pixel coordinates.
type APIDetection struct {
	Name       string  `json:"name"`
	Confidence float32 `json:"confidence"`
	XMin       int     `json:"xmin"`
	YMin       int     `json:"ymin"`
	XMax       int     `json:"xmax"`
	YMax       int     `json:"ymax"`
}

// UploadImageResponse is the single-image inference result.
type UploadImageResponse struct {
	// Image is the annotated JPEG as a data URI.
	Image       string         `json:"image"`
	Detections  []APIDetection `json:"detections"`
	Description string         `json:"description"`
}

// GenerateTTSRequest asks for synthesized speech.
type GenerateTTSRequest struct {
	Text string `json:"text"`
}

// handleWelcome serves the root greeting.
func (n *Node) handleWelcome(w http.ResponseWriter, r *http.Request) {
	n.writeJSON(w, http.StatusOK, WelcomeResponse{
		Message: "API de detección de objetos en funcionamiento",
	})
}

// handleListModels returns builtin ids, uploaded ids and the active model.
func (n *Node) handleListModels(w http.ResponseWriter, r *http.Request) {
	builtins, uploaded := n.store.List()

	resp := ModelsResponse{
		Preloaded: builtins,
		Uploaded:  uploaded,
	}
	if id := n.activeRegistry.CurrentID(); id != "" {
		resp.Current = &id
	}
	if resp.Uploaded == nil {
		resp.Uploaded = []string{}
	}
	if resp.Preloaded == nil {
		resp.Preloaded = []string{}
	}

	n.writeJSON(w, http.StatusOK, resp)
}

// handleUploadModel persists a multipart model file and registers it.
func (n *Node) handleUploadModel(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()
	start := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("reading upload: %v", err), http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("reading upload: %v", err), http.StatusBadRequest)
		return
	}

	id, err := n.store.SaveUpload(header.Filename, data)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ErrIO) {
			status = http.StatusInternalServerError
		}
		RecordRequestDuration("upload-model", strconv.Itoa(status), time.Since(start).Seconds())
		http.Error(w, err.Error(), status)
		return
	}

	n.logger.Info("Model uploaded",
		zap.String("model", id),
		zap.String("filename", header.Filename),
		zap.Int("bytes", len(data)))

	RecordRequestDuration("upload-model", "200", time.Since(start).Seconds())
	n.writeJSON(w, http.StatusOK, UploadModelResponse{
		Status:  fmt.Sprintf("Modelo %s subido correctamente", id),
		ModelID: id,
	})
}

// handleSwitchModel resolves, loads and activates the requested model.
func (n *Node) handleSwitchModel(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()
	start := time.Now()

	var req SwitchModelRequest
	if err := decoder.NewStreamDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Model == "" {
		http.Error(w, "model is required", http.StatusBadRequest)
		return
	}

	if err := n.switchModel(r.Context(), req.Model); err != nil {
		status := errorStatus(err)
		n.logger.Error("Model switch failed",
			zap.String("model", req.Model),
			zap.Error(err))
		RecordRequestDuration("switch-model", strconv.Itoa(status), time.Since(start).Seconds())
		http.Error(w, err.Error(), status)
		return
	}

	n.logger.Info("Switched active model", zap.String("model", req.Model))
	RecordRequestDuration("switch-model", "200", time.Since(start).Seconds())
	n.writeJSON(w, http.StatusOK, StatusResponse{
		Status: fmt.Sprintf("Modelo cambiado a %s", req.Model),
	})
}

// handleDeleteModel removes an uploaded model and its backing file.
func (n *Node) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	var req DeleteModelRequest
	if err := decoder.NewStreamDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Model == "" {
		http.Error(w, "model is required", http.StatusBadRequest)
		return
	}

	// Resolve before removal so the cached handle can be dropped too.
	path, resolveErr := n.store.Resolve(req.Model)

	if err := n.store.Remove(req.Model); err != nil {
		http.Error(w, err.Error(), errorStatus(err))
		return
	}
	if resolveErr == nil {
		n.loader.Unload(path)
	}

	n.writeJSON(w, http.StatusOK, StatusResponse{
		Status: fmt.Sprintf("Modelo %s eliminado", req.Model),
	})
}

// handleUploadImage runs single-image inference against the active model.
func (n *Node) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()
	start := time.Now()

	// Apply backpressure via request queue
	release, err := n.requestQueue.Acquire(r.Context())
	if err != nil {
		switch err {
		case ErrQueueFull:
			RecordQueueRejection()
			WriteQueueFullResponse(w, 5*time.Second)
		case ErrRequestTimeout:
			RecordQueueTimeout()
			WriteTimeoutResponse(w)
		default:
			// Context cancelled
			http.Error(w, "request cancelled", http.StatusRequestTimeout)
		}
		return
	}
	defer release()

	// Update queue metrics
	UpdateQueueMetrics(n.requestQueue.Stats())

	imageBytes, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImageBytes))
	if err != nil {
		http.Error(w, fmt.Sprintf("reading image: %v", err), http.StatusBadRequest)
		return
	}

	result, err := n.engine.Infer(r.Context(), n.activeRegistry.Current(), imageBytes)
	if err != nil {
		status := errorStatus(err)
		if !errors.Is(err, ErrDecode) {
			n.logger.Error("Inference failed", zap.Error(err))
		}
		RecordRequestDuration("upload-image", strconv.Itoa(status), time.Since(start).Seconds())
		http.Error(w, err.Error(), status)
		return
	}

	RecordRequestDuration("upload-image", "200", time.Since(start).Seconds())
	n.writeJSON(w, http.StatusOK, UploadImageResponse{
		Image:       "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(result.AnnotatedJPEG),
		Detections:  apiDetections(result.Detections),
		Description: result.Summary,
	})
}

// handleGenerateTTS synthesizes speech for a short text.
func (n *Node) handleGenerateTTS(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	var req GenerateTTSRequest
	if err := decoder.NewStreamDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	audio, err := n.speaker.Speak(r.Context(), req.Text)
	if err != nil {
		n.logger.Error("Speech synthesis failed", zap.Error(err))
		http.Error(w, fmt.Sprintf("generating speech: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(audio)))
	_, _ = w.Write(audio)
}

// writeJSON encodes v as the JSON response body.
func (n *Node) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := encoder.NewStreamEncoder(w).Encode(v); err != nil {
		n.logger.Error("encoding response", zap.Error(err))
	}
}

// apiDetections flattens detections for the request/response surface.
func apiDetections(detections []vision.Detection) []APIDetection {
	out := make([]APIDetection, 0, len(detections))
	for _, det := range detections {
		out = append(out, APIDetection{
			Name:       det.Name,
			Confidence: det.Confidence,
			XMin:       det.Box.XMin,
			YMin:       det.Box.YMin,
			XMax:       det.Box.XMax,
			YMax:       det.Box.YMax,
		})
	}
	return out
}

// errorStatus maps the error taxonomy to HTTP statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrProtected),
		errors.Is(err, ErrDecode),
		errors.Is(err, ErrDuplicateID):
		return http.StatusBadRequest
	case errors.Is(err, ErrNoModelLoaded):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
