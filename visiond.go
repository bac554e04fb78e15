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

// Package visiond implements a hot-swappable object-detection service: a
// registry of named model artifacts, lazy cached loading, atomic active-model
// switching under concurrent readers, and frame-by-frame streaming inference.
package visiond

import (
	"context"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/openvisionlab/visiond/lib/tts"
	"github.com/openvisionlab/visiond/lib/vision"
)

// Config holds the service configuration, populated from flags/env/config
// file by the cmd layer.
type Config struct {
	// ApiUrl is the listen address, e.g. "http://0.0.0.0:8000".
	ApiUrl string `json:"api_url" mapstructure:"api_url"`

	// ModelsDir holds the builtin model files.
	ModelsDir string `json:"models_dir" mapstructure:"models_dir"`
	// UploadsDir holds user-uploaded model files.
	UploadsDir string `json:"uploads_dir" mapstructure:"uploads_dir"`
	// Builtins maps builtin model ids to filenames under ModelsDir.
	// Empty means the default pair model1/model2.
	Builtins map[string]string `json:"builtins" mapstructure:"builtins"`

	// OnnxLibrary is the path to the onnxruntime shared library.
	OnnxLibrary string `json:"onnx_library" mapstructure:"onnx_library"`

	// KeepAlive is how long an unused model stays loaded ("0" = forever).
	KeepAlive string `json:"keep_alive" mapstructure:"keep_alive"`
	// MaxLoadedModels caps loaded models in memory (0 = unlimited).
	MaxLoadedModels int `json:"max_loaded_models" mapstructure:"max_loaded_models"`

	// MaxConcurrentRequests bounds in-flight HTTP inference requests.
	MaxConcurrentRequests int `json:"max_concurrent_requests" mapstructure:"max_concurrent_requests"`
	// MaxQueueSize bounds inference requests waiting for a slot.
	MaxQueueSize int `json:"max_queue_size" mapstructure:"max_queue_size"`
	// RequestTimeout bounds queue wait time ("0" = no timeout).
	RequestTimeout string `json:"request_timeout" mapstructure:"request_timeout"`

	// TtsEndpoint overrides the speech-synthesis endpoint.
	TtsEndpoint string `json:"tts_endpoint" mapstructure:"tts_endpoint"`
	// TtsLanguage is the synthesis language code (default "es").
	TtsLanguage string `json:"tts_language" mapstructure:"tts_language"`
}

// DefaultBuiltins is the builtin artifact set used when none is configured.
var DefaultBuiltins = map[string]string{
	"model1": "model1.onnx",
	"model2": "model2.onnx",
}

// Node wires the artifact store, loader, active registry, inference engine
// and streaming surface together behind the HTTP API.
type Node struct {
	logger *zap.Logger

	store          *ArtifactStore
	loader         *ModelLoader
	activeRegistry *ActiveModelRegistry
	engine         *InferenceEngine
	speaker        *CachedSpeaker

	// Request queue for backpressure control on HTTP inference
	requestQueue *RequestQueue
}

// corsMiddleware adds permissive CORS headers for the API
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Accept, Origin")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// DefaultShutdownTimeout is the default time to wait for graceful shutdown
const DefaultShutdownTimeout = 30 * time.Second

// Run starts the detection service and blocks until ctx is cancelled.
// If readyC is non-nil, it is closed when the server accepts requests.
func Run(ctx context.Context, zl *zap.Logger, config Config, readyC chan struct{}) {
	zl = zl.Named("visiond")
	zl.Info("Starting visiond node", zap.Any("config", config))

	u, err := url.Parse(config.ApiUrl)
	if err != nil {
		zl.Fatal("Invalid API URL", zap.String("url", config.ApiUrl), zap.Error(err))
	}

	// Parse keep_alive duration
	var keepAlive time.Duration
	if config.KeepAlive != "" && config.KeepAlive != "0" {
		keepAlive, err = time.ParseDuration(config.KeepAlive)
		if err != nil {
			zl.Fatal("Invalid keep_alive duration", zap.String("keep_alive", config.KeepAlive), zap.Error(err))
		}
		zl.Info("Model eviction enabled",
			zap.Duration("keep_alive", keepAlive),
			zap.Int("max_loaded_models", config.MaxLoadedModels))
	} else {
		zl.Info("Models stay loaded for the process lifetime")
	}

	builtinFiles := config.Builtins
	if len(builtinFiles) == 0 {
		builtinFiles = DefaultBuiltins
	}
	builtins := make(map[string]string, len(builtinFiles))
	for id, filename := range builtinFiles {
		builtins[id] = filepath.Join(config.ModelsDir, filename)
	}

	store, err := NewArtifactStore(ArtifactStoreConfig{
		Builtins:   builtins,
		UploadsDir: config.UploadsDir,
	}, zl.Named("store"))
	if err != nil {
		zl.Fatal("Failed to initialize artifact store", zap.Error(err))
	}

	activeRegistry := NewActiveModelRegistry()

	backend := vision.NewONNXBackend(vision.ONNXConfig{
		LibraryPath: config.OnnxLibrary,
	}, zl.Named("onnx"))

	loader := NewModelLoader(LoaderConfig{
		KeepAlive:       keepAlive,
		MaxLoadedModels: uint64(config.MaxLoadedModels),
	}, backend, activeRegistry.Current, zl.Named("loader"))
	defer func() { _ = loader.Close() }()

	engine := NewInferenceEngine(zl.Named("engine"))

	speaker := NewCachedSpeaker(tts.NewClient(tts.Config{
		Endpoint: config.TtsEndpoint,
		Language: config.TtsLanguage,
	}), zl.Named("tts"))
	defer speaker.Close()

	// Initialize request queue for backpressure control
	var requestTimeout time.Duration
	if config.RequestTimeout != "" && config.RequestTimeout != "0" {
		requestTimeout, err = time.ParseDuration(config.RequestTimeout)
		if err != nil {
			zl.Fatal("Invalid request_timeout duration", zap.String("request_timeout", config.RequestTimeout), zap.Error(err))
		}
	}

	requestQueue := NewRequestQueue(RequestQueueConfig{
		MaxConcurrentRequests: config.MaxConcurrentRequests,
		MaxQueueSize:          config.MaxQueueSize,
		RequestTimeout:        requestTimeout,
	}, zl.Named("queue"))

	node := &Node{
		logger: zl,

		store:          store,
		loader:         loader,
		activeRegistry: activeRegistry,
		engine:         engine,
		speaker:        speaker,
		requestQueue:   requestQueue,
	}

	// Activate the first builtin so the service starts with a working model.
	// Failure is non-fatal: the service runs in the no-model-loaded state and
	// a later switch-model call can recover.
	node.activateFirstBuiltin(ctx)

	rootMux := http.NewServeMux()

	// Health endpoints (outside /api prefix for k8s compatibility)
	rootMux.HandleFunc("GET /healthz", node.handleHealthz)
	rootMux.HandleFunc("GET /readyz", node.handleReadyz)
	rootMux.Handle("GET /metrics", promhttp.Handler())

	rootMux.HandleFunc("GET /{$}", node.handleWelcome)
	rootMux.HandleFunc("GET /api/version", node.handleVersion)
	rootMux.HandleFunc("GET /api/models", node.handleListModels)
	rootMux.HandleFunc("POST /api/upload-model", node.handleUploadModel)
	rootMux.HandleFunc("POST /api/switch-model", node.handleSwitchModel)
	rootMux.HandleFunc("POST /api/delete-model", node.handleDeleteModel)
	rootMux.HandleFunc("POST /api/upload-image", node.handleUploadImage)
	rootMux.HandleFunc("POST /api/generate-tts", node.handleGenerateTTS)
	rootMux.HandleFunc("GET /ws/detect", node.handleWsDetect)

	srv := &http.Server{
		Addr:        u.Host,
		Handler:     corsMiddleware(rootMux),
		ReadTimeout: 540 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		zl.Info("visiond api server starting", zap.String("address", config.ApiUrl))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Signal readiness after server starts
	if readyC != nil {
		close(readyC)
	}

	// Wait for context cancellation or server error
	select {
	case err := <-serverErr:
		if err != nil {
			zl.Fatal("HTTP server error", zap.Error(err))
		}
	case <-ctx.Done():
		zl.Info("Shutdown signal received, starting graceful shutdown...")
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections
	srv.SetKeepAlivesEnabled(false)

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("Graceful shutdown failed, forcing close",
			zap.Error(err),
			zap.Duration("timeout", DefaultShutdownTimeout))
		_ = srv.Close()
	} else {
		zl.Info("Graceful shutdown completed successfully")
	}

	zl.Info("HTTP server stopped")
}

// activateFirstBuiltin loads and activates the lexically first builtin model.
func (n *Node) activateFirstBuiltin(ctx context.Context) {
	builtins, _ := n.store.List()
	if len(builtins) == 0 {
		n.logger.Info("No builtin models configured")
		return
	}
	id := builtins[0] // List returns sorted ids

	if err := n.switchModel(ctx, id); err != nil {
		n.logger.Warn("Startup model activation failed, serving without a model",
			zap.String("model", id),
			zap.Error(err))
		return
	}
	n.logger.Info("Activated startup model", zap.String("model", id))
}

// switchModel resolves, loads and atomically activates the model named id.
func (n *Node) switchModel(ctx context.Context, id string) error {
	path, err := n.store.Resolve(id)
	if err != nil {
		return err
	}
	handle, err := n.loader.Load(ctx, path)
	if err != nil {
		return err
	}
	n.activeRegistry.SetCurrent(id, handle)
	RecordModelSwitch(id)
	return nil
}
