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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// UploadedIDPrefix marks artifact ids derived from user-uploaded files.
const UploadedIDPrefix = "uploaded_"

// ArtifactOrigin distinguishes builtin artifacts from user uploads.
type ArtifactOrigin string

const (
	OriginBuiltin  ArtifactOrigin = "builtin"
	OriginUploaded ArtifactOrigin = "uploaded"
)

// ModelArtifact is one known model file: a stable logical id bound to a
// storage path.
type ModelArtifact struct {
	ID     string
	Path   string
	Origin ArtifactOrigin
}

// ArtifactStore tracks known model artifacts by logical id. Builtins are
// registered once at construction and are immutable; uploaded artifacts are
// re-derived by scanning the uploads directory, so filesystem presence is the
// source of truth for the uploaded set.
type ArtifactStore struct {
	uploadsDir string
	modelExt   string
	logger     *zap.Logger

	mu        sync.RWMutex
	artifacts map[string]*ModelArtifact
}

// ArtifactStoreConfig configures an ArtifactStore.
type ArtifactStoreConfig struct {
	// Builtins maps logical id to model file path. Builtins cannot be deleted.
	Builtins map[string]string
	// UploadsDir holds user-uploaded model files. One file = one artifact,
	// id = "uploaded_" + filename stem. May be empty to disable uploads.
	UploadsDir string
	// ModelExt is the recognized model-file extension, e.g. ".onnx".
	ModelExt string
}

// NewArtifactStore creates the store, registers builtins, and scans the
// uploads directory for already-present artifacts.
func NewArtifactStore(config ArtifactStoreConfig, logger *zap.Logger) (*ArtifactStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ext := config.ModelExt
	if ext == "" {
		ext = ".onnx"
	}

	store := &ArtifactStore{
		uploadsDir: config.UploadsDir,
		modelExt:   ext,
		logger:     logger,
		artifacts:  make(map[string]*ModelArtifact),
	}

	for id, path := range config.Builtins {
		if err := store.Register(id, path, OriginBuiltin); err != nil {
			return nil, fmt.Errorf("registering builtin %s: %w", id, err)
		}
	}

	if config.UploadsDir != "" {
		if err := os.MkdirAll(config.UploadsDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating uploads directory: %w", err)
		}
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if err := store.rescanUploadsLocked(); err != nil {
		return nil, err
	}

	return store, nil
}

// Register adds an artifact under id. It fails with ErrDuplicateID if the id
// is already taken.
func (s *ArtifactStore) Register(id, path string, origin ArtifactOrigin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.artifacts[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	s.artifacts[id] = &ModelArtifact{ID: id, Path: path, Origin: origin}

	s.logger.Info("Registered model artifact",
		zap.String("id", id),
		zap.String("path", path),
		zap.String("origin", string(origin)))
	return nil
}

// Resolve returns the storage path for id. Uploaded artifacts whose backing
// file has disappeared are treated as not found.
func (s *ArtifactStore) Resolve(id string) (string, error) {
	s.mu.RLock()
	artifact, ok := s.artifacts[id]
	s.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if artifact.Origin == OriginUploaded {
		if _, err := os.Stat(artifact.Path); err != nil {
			s.mu.Lock()
			delete(s.artifacts, id)
			s.mu.Unlock()
			return "", fmt.Errorf("%w: %s (backing file missing)", ErrNotFound, id)
		}
	}

	return artifact.Path, nil
}

// Remove deletes an uploaded artifact and its backing file. Builtins fail
// with ErrProtected; a failed file delete leaves the artifact registered and
// fails with ErrIO.
func (s *ArtifactStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	artifact, ok := s.artifacts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if artifact.Origin == OriginBuiltin {
		return fmt.Errorf("%w: %s", ErrProtected, id)
	}

	if err := os.Remove(artifact.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: deleting %s: %v", ErrIO, artifact.Path, err)
	}
	delete(s.artifacts, id)

	s.logger.Info("Removed model artifact",
		zap.String("id", id),
		zap.String("path", artifact.Path))
	return nil
}

// SaveUpload persists an uploaded model file and registers it. The filename
// must carry the recognized model extension. An upload reusing an existing
// filename overwrites the previous file and keeps the same id.
func (s *ArtifactStore) SaveUpload(filename string, data []byte) (string, error) {
	if s.uploadsDir == "" {
		return "", fmt.Errorf("%w: no uploads directory configured", ErrIO)
	}
	base := filepath.Base(filename)
	if !strings.EqualFold(filepath.Ext(base), s.modelExt) {
		return "", fmt.Errorf("file must have the %s extension", s.modelExt)
	}

	path := filepath.Join(s.uploadsDir, base)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: writing %s: %v", ErrIO, path, err)
	}

	id := uploadedID(base)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rescanUploadsLocked(); err != nil {
		return "", err
	}
	return id, nil
}

// List returns builtin and uploaded ids, each sorted, plus nothing else. The
// uploaded set is refreshed from disk first.
func (s *ArtifactStore) List() (builtins, uploaded []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rescanUploadsLocked(); err != nil {
		s.logger.Warn("Rescanning uploads directory failed", zap.Error(err))
	}

	for id, artifact := range s.artifacts {
		switch artifact.Origin {
		case OriginBuiltin:
			builtins = append(builtins, id)
		case OriginUploaded:
			uploaded = append(uploaded, id)
		}
	}
	sort.Strings(builtins)
	sort.Strings(uploaded)
	return builtins, uploaded
}

// IsBuiltin reports whether id names a builtin artifact.
func (s *ArtifactStore) IsBuiltin(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	artifact, ok := s.artifacts[id]
	return ok && artifact.Origin == OriginBuiltin
}

// rescanUploadsLocked reconciles the uploaded set with the uploads directory.
// Callers must hold s.mu.
func (s *ArtifactStore) rescanUploadsLocked() error {
	if s.uploadsDir == "" {
		return nil
	}

	entries, err := os.ReadDir(s.uploadsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: reading uploads directory: %v", ErrIO, err)
	}

	present := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), s.modelExt) {
			continue
		}
		id := uploadedID(entry.Name())
		present[id] = filepath.Join(s.uploadsDir, entry.Name())
	}

	// Drop uploaded entries whose files vanished.
	for id, artifact := range s.artifacts {
		if artifact.Origin != OriginUploaded {
			continue
		}
		if _, ok := present[id]; !ok {
			s.logger.Debug("Uploaded artifact disappeared from disk",
				zap.String("id", id))
			delete(s.artifacts, id)
		}
	}

	// Add files not yet registered.
	for id, path := range present {
		if existing, ok := s.artifacts[id]; ok {
			existing.Path = path
			continue
		}
		s.artifacts[id] = &ModelArtifact{ID: id, Path: path, Origin: OriginUploaded}
		s.logger.Info("Discovered uploaded model artifact",
			zap.String("id", id),
			zap.String("path", path))
	}

	return nil
}

// uploadedID derives an artifact id from an uploaded filename.
func uploadedID(filename string) string {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	return UploadedIDPrefix + stem
}
