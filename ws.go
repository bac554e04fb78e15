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
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 256 * 1024, // room for base64 encoded JPEG frames
	CheckOrigin: func(r *http.Request) bool {
		// The API is CORS-open; the websocket follows suit.
		return true
	},
}

// wsFrameConn adapts a gorilla websocket connection to FrameConn.
type wsFrameConn struct {
	conn *websocket.Conn
}

// ReadFrame implements FrameConn. Text and binary messages are both accepted
// as frame payloads; control frames are handled by gorilla internally.
func (c *wsFrameConn) ReadFrame() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// WriteJSON implements FrameConn.
func (c *wsFrameConn) WriteJSON(v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding frame message: %w", err)
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close implements FrameConn.
func (c *wsFrameConn) Close() error {
	return c.conn.Close()
}

// handleWsDetect upgrades the connection and runs a streaming session until
// the client disconnects or a fatal per-session error occurs.
func (n *Node) handleWsDetect(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.logger.Warn("Websocket upgrade failed",
			zap.String("remote", r.RemoteAddr),
			zap.Error(err))
		return
	}

	session := NewStreamingSession(
		&wsFrameConn{conn: conn},
		n.activeRegistry,
		n.engine,
		n.logger.Named("session"),
	)

	n.logger.Info("Websocket client connected",
		zap.String("remote", r.RemoteAddr),
		zap.String("session", session.ID()))

	session.Run(r.Context())
}
