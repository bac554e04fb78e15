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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Version is set by main from the build's ldflags.
var Version = "dev"

var (
	cfgFile    string
	modelsDir  string
	uploadsDir string
)

var rootCmd = &cobra.Command{
	Use:     "visiond",
	Short:   "Hot-swappable object-detection service",
	Long:    `visiond serves object detection over HTTP and websockets, with runtime upload and switching of ONNX model artifacts.`,
	Version: Version,
}

// Execute runs the CLI.
func Execute() {
	rootCmd.Version = Version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	defaultModelsDir := filepath.Join(home, ".visiond", "models")
	defaultUploadsDir := filepath.Join(home, ".visiond", "uploads")

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.visiond/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&modelsDir, "models-dir", defaultModelsDir, "directory holding builtin model files")
	rootCmd.PersistentFlags().StringVar(&uploadsDir, "uploads-dir", defaultUploadsDir, "directory holding uploaded model files")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-style", "console", "log style (console, json)")

	mustBindPFlag("models_dir", rootCmd.PersistentFlags().Lookup("models-dir"))
	mustBindPFlag("uploads_dir", rootCmd.PersistentFlags().Lookup("uploads-dir"))
	mustBindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("log.style", rootCmd.PersistentFlags().Lookup("log-style"))
}

// initConfig reads in the config file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".visiond"))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("VISIOND")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// mustBindPFlag panics if a flag cannot be bound, which only happens on a
// programming error at startup.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", key, err))
	}
}
