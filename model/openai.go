package model

import (
	"context"
	"errors"
	"net"
	"net/url"
	"sync/atomic"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"ragingest/types"
)

// OpenAIEmbedder talks to any OpenAI-compatible embeddings endpoint
// (including Ollama's /v1) through langchaingo.
type OpenAIEmbedder struct {
	embedder embeddings.Embedder
	model    string
	dim      atomic.Int64
}

func NewOpenAIEmbedder(baseURL, model, token string, batchSize int) (*OpenAIEmbedder, error) {
	if token == "" {
		// local OpenAI-compatible servers do not check the token
		token = "none"
	}
	client, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, types.NewError(types.KindConfigurationError, "openai.New", err)
	}

	opts := []embeddings.Option{embeddings.WithStripNewLines(false)}
	if batchSize > 0 {
		opts = append(opts, embeddings.WithBatchSize(batchSize))
	}
	embedder, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, types.NewError(types.KindConfigurationError, "openai.New", err)
	}

	return &OpenAIEmbedder{embedder: embedder, model: model}, nil
}

func (e *OpenAIEmbedder) Model() string {
	return e.model
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, classify("openai.Embed", err)
	}
	if len(vecs) > 0 {
		e.dim.CompareAndSwap(0, int64(len(vecs[0])))
	}
	if err := checkVectors("openai.Embed", vecs, len(texts), int(e.dim.Load())); err != nil {
		return nil, err
	}
	return vecs, nil
}

// classify separates transport failures from bad responses.
func classify(op string, err error) error {
	var (
		netErr net.Error
		urlErr *url.Error
	)
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return types.NewError(types.KindProviderUnavailable, op, err)
	}
	return types.NewError(types.KindProviderError, op, err)
}
