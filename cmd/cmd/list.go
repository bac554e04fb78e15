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
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openvisionlab/visiond"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List local model artifacts",
	Long: `List ONNX model artifacts present in the models and uploads directories.

Examples:
  # List local models
  visiond list`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	fmt.Fprintln(w, "ID\tORIGIN\tFILE\tSIZE")

	listBuiltins(w, viper.GetString("models_dir"))
	return listUploads(w, viper.GetString("uploads_dir"))
}

// listBuiltins prints one row per configured builtin model. Ids come from the
// builtins config map, the same mapping the server registers, so the listing
// agrees with /api/models even when an id differs from its file stem.
func listBuiltins(w *tabwriter.Writer, modelsDir string) {
	builtins := viper.GetStringMapString("builtins")
	if len(builtins) == 0 {
		builtins = visiond.DefaultBuiltins
	}

	ids := make([]string, 0, len(builtins))
	for id := range builtins {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		path := filepath.Join(modelsDir, builtins[id])
		size := "missing"
		if info, err := os.Stat(path); err == nil {
			size = formatSize(info.Size())
		}
		fmt.Fprintf(w, "%s\tbuiltin\t%s\t%s\n", id, path, size)
	}
}

// listUploads prints one row per .onnx file in the uploads directory.
func listUploads(w *tabwriter.Writer, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".onnx") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		var size int64
		if info, err := os.Stat(path); err == nil {
			size = info.Size()
		}
		id := visiond.UploadedIDPrefix + strings.TrimSuffix(name, filepath.Ext(name))
		fmt.Fprintf(w, "%s\tuploaded\t%s\t%s\n", id, path, formatSize(size))
	}
	return nil
}

// formatSize renders a byte count human-readably.
func formatSize(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
