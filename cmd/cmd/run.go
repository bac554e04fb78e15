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
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/openvisionlab/visiond"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the visiond server",
	Long:  `Start the visiond server for object-detection inference with runtime model switching.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	// Run command flags
	runCmd.Flags().String("api-url", "http://0.0.0.0:8000", "listen address for the API server")
	runCmd.Flags().String("onnx-library", "", "path to the onnxruntime shared library")
	runCmd.Flags().String("keep-alive", "0", "how long unused models stay loaded (0 = forever)")
	runCmd.Flags().Int("max-loaded-models", 0, "max models kept in memory (0 = unlimited)")
	runCmd.Flags().Int("max-concurrent-requests", 4, "max concurrent HTTP inference requests (0 = unlimited)")
	runCmd.Flags().Int("max-queue-size", 64, "max inference requests waiting for a slot")
	runCmd.Flags().String("request-timeout", "30s", "max time a request may wait in queue (0 = no timeout)")
	runCmd.Flags().String("tts-endpoint", "", "speech synthesis endpoint override")
	runCmd.Flags().String("tts-language", "es", "speech synthesis language code")

	mustBindPFlag("api_url", runCmd.Flags().Lookup("api-url"))
	mustBindPFlag("onnx_library", runCmd.Flags().Lookup("onnx-library"))
	mustBindPFlag("keep_alive", runCmd.Flags().Lookup("keep-alive"))
	mustBindPFlag("max_loaded_models", runCmd.Flags().Lookup("max-loaded-models"))
	mustBindPFlag("max_concurrent_requests", runCmd.Flags().Lookup("max-concurrent-requests"))
	mustBindPFlag("max_queue_size", runCmd.Flags().Lookup("max-queue-size"))
	mustBindPFlag("request_timeout", runCmd.Flags().Lookup("request-timeout"))
	mustBindPFlag("tts_endpoint", runCmd.Flags().Lookup("tts-endpoint"))
	mustBindPFlag("tts_language", runCmd.Flags().Lookup("tts-language"))
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger(viper.GetString("log.level"), viper.GetString("log.style"))
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Running visiond")

	cfg := visiond.Config{
		ApiUrl:                viper.GetString("api_url"),
		ModelsDir:             viper.GetString("models_dir"),
		UploadsDir:            viper.GetString("uploads_dir"),
		Builtins:              viper.GetStringMapString("builtins"),
		OnnxLibrary:           viper.GetString("onnx_library"),
		KeepAlive:             viper.GetString("keep_alive"),
		MaxLoadedModels:       viper.GetInt("max_loaded_models"),
		MaxConcurrentRequests: viper.GetInt("max_concurrent_requests"),
		MaxQueueSize:          viper.GetInt("max_queue_size"),
		RequestTimeout:        viper.GetString("request_timeout"),
		TtsEndpoint:           viper.GetString("tts_endpoint"),
		TtsLanguage:           viper.GetString("tts_language"),
	}

	readyC := make(chan struct{})
	go func() {
		<-readyC
		logger.Info("visiond is ready")
	}()

	visiond.Run(ctx, logger, cfg, readyC)
	return nil
}

// newLogger builds the process logger from config.
func newLogger(level, style string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	var cfg zap.Config
	if style == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
