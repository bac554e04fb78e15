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

import "net/http"

// Version information - set at build time via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// HealthResponse is the response for /healthz endpoint
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is the response for /readyz endpoint
type ReadyResponse struct {
	Status string      `json:"status"`
	Models ReadyModels `json:"models"`
}

// ReadyModels shows model availability
type ReadyModels struct {
	Builtin  int    `json:"builtin"`
	Uploaded int    `json:"uploaded"`
	Loaded   int    `json:"loaded"`
	Current  string `json:"current,omitempty"`
}

// VersionResponse is the response for /api/version endpoint
type VersionResponse struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
}

// handleHealthz returns 200 if the service is running (liveness check)
func (n *Node) handleHealthz(w http.ResponseWriter, r *http.Request) {
	n.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleReadyz returns 200 once the artifact store is scanned (readiness
// check). An empty artifact set means nothing can ever be served.
func (n *Node) handleReadyz(w http.ResponseWriter, r *http.Request) {
	builtins, uploaded := n.store.List()

	resp := ReadyResponse{
		Status: "ready",
		Models: ReadyModels{
			Builtin:  len(builtins),
			Uploaded: len(uploaded),
			Loaded:   n.loader.LoadedCount(),
			Current:  n.activeRegistry.CurrentID(),
		},
	}

	if len(builtins)+len(uploaded) == 0 {
		resp.Status = "not_ready"
		n.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	n.writeJSON(w, http.StatusOK, resp)
}

// handleVersion returns build information
func (n *Node) handleVersion(w http.ResponseWriter, r *http.Request) {
	n.writeJSON(w, http.StatusOK, VersionResponse{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
	})
}
