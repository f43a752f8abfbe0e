package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"ragingest/types"
)

const (
	embedPath       = "/api/embed"
	legacyEmbedPath = "/api/embeddings"
)

// OllamaEmbedder creates embeddings through the Ollama HTTP API. It keeps no
// cache: every call goes to the provider.
type OllamaEmbedder struct {
	apiURL    string
	legacy    bool // single prompt per request
	model     string
	client    *http.Client
	timeout   time.Duration
	batchSize int
	dim       atomic.Int64
}

type OllamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type OllamaEmbedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

type OllamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type OllamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

type Option func(*OllamaEmbedder)

// WithTimeout bounds each provider request; an expired request is
// ProviderUnavailable.
func WithTimeout(d time.Duration) Option {
	return func(e *OllamaEmbedder) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithBatchSize(n int) Option {
	return func(e *OllamaEmbedder) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithDimension pins the expected vector length. Zero accepts the first length
// the provider returns and pins that.
func WithDimension(n int) Option {
	return func(e *OllamaEmbedder) {
		if n > 0 {
			e.dim.Store(int64(n))
		}
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(e *OllamaEmbedder) {
		if c != nil {
			e.client = c
		}
	}
}

// NewOllamaEmbedder accepts either the server base URL or a full endpoint URL
// ending in /api/embed or /api/embeddings.
func NewOllamaEmbedder(apiURL, model string, opts ...Option) *OllamaEmbedder {
	apiURL = strings.TrimRight(apiURL, "/")
	e := &OllamaEmbedder{
		model:     model,
		client:    http.DefaultClient,
		timeout:   30 * time.Second,
		batchSize: 16,
	}
	switch {
	case strings.HasSuffix(apiURL, legacyEmbedPath):
		e.apiURL = apiURL
		e.legacy = true
	case strings.HasSuffix(apiURL, embedPath):
		e.apiURL = apiURL
	default:
		e.apiURL = apiURL + embedPath
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *OllamaEmbedder) Model() string {
	return e.model
}

// Dimension is the pinned vector length, 0 until known.
func (e *OllamaEmbedder) Dimension() int {
	return int(e.dim.Load())
}

func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	if e.legacy {
		for _, text := range texts {
			v, err := e.embedLegacy(ctx, text)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
	} else {
		for start := 0; start < len(texts); start += e.batchSize {
			end := min(start+e.batchSize, len(texts))
			vecs, err := e.embedBatch(ctx, texts[start:end])
			if err != nil {
				return nil, err
			}
			out = append(out, vecs...)
		}
	}

	if len(out) > 0 {
		e.dim.CompareAndSwap(0, int64(len(out[0])))
	}
	if err := checkVectors("ollama.Embed", out, len(texts), e.Dimension()); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *OllamaEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var resp OllamaEmbedResponse
	if err := e.post(ctx, OllamaEmbedRequest{Model: e.model, Input: texts}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, types.Errorf(types.KindProviderError, "ollama.Embed", "expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}
	vecs := make([][]float32, len(resp.Embeddings))
	for i, v := range resp.Embeddings {
		vecs[i] = toFloat32(normalize64(v))
	}
	return vecs, nil
}

func (e *OllamaEmbedder) embedLegacy(ctx context.Context, text string) ([]float32, error) {
	var resp OllamaEmbeddingResponse
	if err := e.post(ctx, OllamaEmbeddingRequest{Model: e.model, Prompt: text}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, types.Errorf(types.KindProviderError, "ollama.Embed", "empty embedding in response")
	}
	return toFloat32(normalize64(resp.Embedding)), nil
}

func (e *OllamaEmbedder) post(ctx context.Context, req any, dst any) error {
	const op = "ollama.Embed"

	body, err := json.Marshal(req)
	if err != nil {
		return types.NewError(types.KindProviderError, op, fmt.Errorf("failed to marshal request: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL, bytes.NewReader(body))
	if err != nil {
		return types.NewError(types.KindConfigurationError, op, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return types.NewError(types.KindProviderUnavailable, op, fmt.Errorf("failed to make request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.NewError(types.KindProviderUnavailable, op, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		kind := types.KindProviderError
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			kind = types.KindProviderUnavailable
		}
		return types.Errorf(kind, op, "ollama API error: status %d, body: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	if err := json.Unmarshal(respBody, dst); err != nil {
		return types.NewError(types.KindProviderError, op, fmt.Errorf("failed to unmarshal response: %w", err))
	}
	return nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// normalize64 scales vec to unit length in place.
func normalize64(vec []float64) []float64 {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}
	for i, x := range vec {
		vec[i] = x / norm
	}
	return vec
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
