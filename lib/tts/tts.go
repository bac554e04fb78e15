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

// Package tts synthesizes speech through the Google Translate TTS endpoint.
package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"
)

const (
	// DefaultEndpoint is the unofficial Translate TTS endpoint gTTS uses.
	DefaultEndpoint = "https://translate.google.com/translate_tts"

	// DefaultLanguage matches the Spanish detection summaries.
	DefaultLanguage = "es"

	defaultTimeout = 15 * time.Second

	// maxTextLen is the longest utterance the endpoint accepts per request.
	maxTextLen = 200
)

// Speaker converts text into audio bytes.
type Speaker interface {
	Speak(ctx context.Context, text string) ([]byte, error)
}

// Config configures a Client.
type Config struct {
	// Endpoint overrides the synthesis URL. Empty means DefaultEndpoint.
	Endpoint string
	// Language is the BCP-47 language code. Empty means DefaultLanguage.
	Language string
	// Timeout bounds a single synthesis request.
	Timeout time.Duration
}

// Client fetches MP3 audio for short utterances.
type Client struct {
	endpoint string
	language string
	http     *http.Client
}

// NewClient creates a synthesis client.
func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		endpoint: cfg.Endpoint,
		language: cfg.Language,
		http:     &http.Client{Timeout: cfg.Timeout},
	}
}

// Speak implements Speaker. It returns the MP3 bytes for text.
func (c *Client) Speak(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text")
	}
	if len(text) > maxTextLen {
		// Back off to a rune boundary so the cut never splits a multibyte
		// character ("ó" in the Spanish summaries).
		cut := maxTextLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}

	q := url.Values{}
	q.Set("ie", "UTF-8")
	q.Set("client", "tw-ob")
	q.Set("tl", c.language)
	q.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building tts request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching tts audio: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tts endpoint returned %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading tts audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts endpoint returned no audio")
	}
	return audio, nil
}
