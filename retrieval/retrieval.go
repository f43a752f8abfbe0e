package retrieval

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"ragingest/model"
	"ragingest/store"
	"ragingest/types"
)

const (
	DefaultK = 5
	MaxK     = 20
)

// Retriever answers nearest-chunk queries for the query tools.
type Retriever struct {
	embedder model.Embedder
	searcher store.Searcher
	defaultK int
	maxK     int
	logger   *slog.Logger
}

type Option func(*Retriever)

// WithLimits sets the K used when a request gives none and the cap applied
// to any requested K.
func WithLimits(defaultK, maxK int) Option {
	return func(r *Retriever) {
		if defaultK > 0 {
			r.defaultK = defaultK
		}
		if maxK > 0 {
			r.maxK = maxK
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func New(embedder model.Embedder, searcher store.Searcher, opts ...Option) *Retriever {
	r := &Retriever{
		embedder: embedder,
		searcher: searcher,
		defaultK: DefaultK,
		maxK:     MaxK,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.defaultK > r.maxK {
		r.defaultK = r.maxK
	}
	r.logger = r.logger.With("component", "retrieval")
	return r
}

// Limit resolves the requested K against the configured default and cap.
func (r *Retriever) Limit(k int) int {
	if k <= 0 {
		return r.defaultK
	}
	return min(k, r.maxK)
}

// Search embeds the question and returns the nearest chunks, best first.
// Equal scores are ordered by position, then path.
func (r *Retriever) Search(ctx context.Context, params types.SearchParams) (*types.SearchResponse, error) {
	question := strings.TrimSpace(params.Question)
	if question == "" {
		return nil, types.Errorf(types.KindInvalidRequest, "retrieval.Search", "question is empty")
	}

	vec, err := model.EmbedOne(ctx, r.embedder, question)
	if err != nil {
		return nil, err
	}

	k := r.Limit(params.K)
	results, err := r.searcher.Search(ctx, types.VectorQuery{
		Vector:      vec,
		Collections: params.Collections,
		Version:     params.Version,
		Metadata:    params.Metadata,
		Limit:       k,
	})
	if err != nil {
		return nil, err
	}
	store.SortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	if results == nil {
		results = []types.SearchResult{}
	}

	r.logger.Debug("search served", "k", k, "collections", params.Collections, "results", len(results))
	return &types.SearchResponse{
		Question:  question,
		Results:   results,
		Count:     len(results),
		Timestamp: time.Now(),
	}, nil
}

func (r *Retriever) Collections(ctx context.Context) ([]types.CollectionStat, error) {
	stats, err := r.searcher.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	if stats == nil {
		stats = []types.CollectionStat{}
	}
	return stats, nil
}

// Querier is the read surface the query tools depend on.
type Querier interface {
	Search(context.Context, types.SearchParams) (*types.SearchResponse, error)
	Collections(context.Context) ([]types.CollectionStat, error)
}

var _ Querier = (*Retriever)(nil)
