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
	"context"
	"encoding/base64"
	"errors"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NoModelStreamError is the in-band error sent when a frame arrives before
// any model has been switched to. The session stays open.
const NoModelStreamError = "No hay modelo cargado"

// FrameConn is the transport a streaming session reads frames from and
// writes results to. The websocket adapter in ws.go is the production
// implementation.
type FrameConn interface {
	// ReadFrame blocks until the next binary frame or a transport error.
	ReadFrame() ([]byte, error)
	// WriteJSON sends one JSON message.
	WriteJSON(v any) error
	Close() error
}

// FrameDetection is one detection in a streaming response message.
type FrameDetection struct {
	Name       string  `json:"name"`
	Confidence float32 `json:"confidence"`
	BBox       [4]int  `json:"bbox"`
}

// FrameResult is the per-frame streaming response.
type FrameResult struct {
	// Image is the annotated frame as base64-encoded JPEG.
	Image      string           `json:"image"`
	Detections []FrameDetection `json:"detections"`
}

// FrameError is an in-band, non-fatal error message.
type FrameError struct {
	Error string `json:"error"`
}

// StreamingSession runs frame-by-frame inference over one connection.
// Frames are processed strictly in receive order; each frame's inference
// uses a single handle snapshot taken after the frame arrived, so a
// concurrent model switch never tears an in-flight frame.
type StreamingSession struct {
	id       string
	conn     FrameConn
	registry *ActiveModelRegistry
	engine   *InferenceEngine
	logger   *zap.Logger
}

// NewStreamingSession creates a session over conn.
func NewStreamingSession(conn FrameConn, registry *ActiveModelRegistry, engine *InferenceEngine, logger *zap.Logger) *StreamingSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &StreamingSession{
		id:       id,
		conn:     conn,
		registry: registry,
		engine:   engine,
		logger:   logger.With(zap.String("session", id)),
	}
}

// ID returns the session's correlation id.
func (s *StreamingSession) ID() string {
	return s.id
}

// Run processes frames until the connection closes or a fatal error occurs.
// A missing active model is a recoverable transient state (in-band error,
// loop continues); decode, inference and transport failures close the
// session. Other sessions and the shared registries are never affected.
func (s *StreamingSession) Run(ctx context.Context) {
	RecordSessionOpened()
	defer RecordSessionClosed()
	defer func() { _ = s.conn.Close() }()

	s.logger.Info("Streaming session opened")

	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("Streaming session cancelled")
			return
		}

		frame, err := s.conn.ReadFrame()
		if err != nil {
			s.logger.Info("Streaming session read ended", zap.Error(err))
			return
		}

		handle := s.registry.Current()
		if handle == nil {
			if err := s.conn.WriteJSON(FrameError{Error: NoModelStreamError}); err != nil {
				s.logger.Warn("Writing no-model message failed", zap.Error(err))
				return
			}
			continue
		}

		result, err := s.engine.Infer(ctx, handle, frame)
		if err != nil {
			// ErrNoModelLoaded cannot happen here (handle is non-nil);
			// everything else is fatal for this session.
			if errors.Is(err, ErrDecode) {
				s.logger.Warn("Closing session on undecodable frame", zap.Error(err))
			} else {
				s.logger.Error("Closing session on inference failure", zap.Error(err))
			}
			return
		}
		RecordFrameProcessed()

		if err := s.conn.WriteJSON(frameResult(result)); err != nil {
			s.logger.Warn("Closing session on write failure", zap.Error(err))
			return
		}
	}
}

// frameResult converts a DetectionResult into the streaming wire shape.
func frameResult(result *DetectionResult) FrameResult {
	detections := make([]FrameDetection, 0, len(result.Detections))
	for _, det := range result.Detections {
		detections = append(detections, FrameDetection{
			Name:       det.Name,
			Confidence: round2(det.Confidence),
			BBox:       [4]int{det.Box.XMin, det.Box.YMin, det.Box.XMax, det.Box.YMax},
		})
	}
	return FrameResult{
		Image:      base64.StdEncoding.EncodeToString(result.AnnotatedJPEG),
		Detections: detections,
	}
}

// round2 rounds a confidence to two decimal places.
func round2(v float32) float32 {
	return float32(math.Round(float64(v)*100) / 100)
}
