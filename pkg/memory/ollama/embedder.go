// Package ollama implements the memory.Embedder contract against a local
// ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/loomworks/loom/pkg/errors"
)

// Embedder calls ollama's batched embed endpoint.
type Embedder struct {
	baseURL string
	model   string
	client  *http.Client
}

// New creates an embedder for the given model. An empty baseURL defaults to
// the local ollama port.
func New(baseURL, model string) *Embedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &Embedder{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed converts texts into vectors, one request for the whole batch.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, errors.Newf(errors.CodeInternal, "marshal embed request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Newf(errors.CodeInternal, "create embed request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, errors.Newf(errors.CodeBackendFailure, "ollama embed call failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.CodeBackendFailure, "ollama embed returned status %d", resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Newf(errors.CodeBackendFailure, "decode embed response: %v", err)
	}
	if len(out.Embeddings) != len(texts) {
		return nil, errors.Newf(errors.CodeBackendFailure,
			"ollama returned %d embeddings for %d inputs", len(out.Embeddings), len(texts))
	}
	return out.Embeddings, nil
}
