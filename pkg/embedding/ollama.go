// Copyright 2026 © The Kirox Memory Authors
// SPDX-License-Identifier: Apache-2.0

package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/DeL1215/kirox-memory/pkg/errors"
)

// OllamaEngine implements Engine against an Ollama server's batch embed
// endpoint. The reference deployment serves bge-small-zh-v1.5 at 512
// dimensions.
type OllamaEngine struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
}

// NewOllamaEngine creates an Engine backed by Ollama at baseURL.
func NewOllamaEngine(baseURL, model string, dimension int) *OllamaEngine {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaEngine{
		baseURL:   baseURL,
		model:     model,
		dimension: dimension,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// Dimension returns the configured output vector length.
func (e *OllamaEngine) Dimension() int {
	return e.dimension
}

// EmbedBatch embeds texts in one model invocation. Any transport or
// backend failure surfaces as ENGINE_UNAVAILABLE; so does a response whose
// shape or dimension disagrees with the configuration, since that means the
// served model does not match the collections built against it.
func (e *OllamaEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to marshal embed request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to create http request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, errors.New(errors.CodeEngineUnavailable, "ollama embed api call failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(errors.CodeEngineUnavailable,
			fmt.Sprintf("ollama api returned status %d", resp.StatusCode), nil).
			WithContext("model", e.model)
	}

	var embResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, errors.New(errors.CodeEngineUnavailable, "failed to decode embed response", err)
	}

	if len(embResp.Embeddings) != len(texts) {
		return nil, errors.New(errors.CodeEngineUnavailable,
			fmt.Sprintf("embed count mismatch: got %d vectors for %d texts", len(embResp.Embeddings), len(texts)), nil)
	}

	vectors := make([][]float32, len(embResp.Embeddings))
	for i, emb := range embResp.Embeddings {
		if len(emb) != e.dimension {
			return nil, errors.New(errors.CodeEngineUnavailable,
				fmt.Sprintf("embedding dimension %d does not match configured %d", len(emb), e.dimension), nil).
				WithContext("model", e.model)
		}
		vec := make([]float32, len(emb))
		for j, v := range emb {
			vec[j] = float32(v)
		}
		vectors[i] = vec
	}

	return vectors, nil
}
