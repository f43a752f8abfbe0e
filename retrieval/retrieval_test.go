package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragingest/store"
	"ragingest/types"
)

type mapEmbedder map[string][]float32

func (m mapEmbedder) Model() string { return "map" }

func (m mapEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := m[t]
		if !ok {
			return nil, types.Errorf(types.KindProviderError, "map.Embed", "no vector for %q", t)
		}
		out[i] = v
	}
	return out, nil
}

type failingSearcher struct{ err error }

func (f failingSearcher) Search(context.Context, types.VectorQuery) ([]types.SearchResult, error) {
	return nil, f.err
}

func (f failingSearcher) ListCollections(context.Context) ([]types.CollectionStat, error) {
	return nil, f.err
}

func seed(t *testing.T, s *store.MemoryStore, key types.DocumentKey, chunks ...types.Chunk) {
	t.Helper()
	for i := range chunks {
		chunks[i].Position = i
		chunks[i].Fingerprint = chunks[i].Content
	}
	require.NoError(t, s.Apply(context.Background(), types.ChangeSet{
		Document:   types.Document{Key: key, Fingerprint: key.Path},
		Inserts:    chunks,
		DeleteFrom: -1,
		ChunkCount: len(chunks),
	}))
}

func newCorpus(t *testing.T) *store.MemoryStore {
	s := store.NewMemoryStore()
	require.NoError(t, s.Init(context.Background(), types.IndexSpec{Dimension: 3, Model: "map", Metric: types.MetricCosine}))
	seed(t, s, types.DocumentKey{Path: "/docs/a.md", Collection: "docs", Version: "v1"},
		types.Chunk{Content: "# Intro\nhello", Embedding: []float32{0.9, 0.1, 0}},
	)
	seed(t, s, types.DocumentKey{Path: "/docs/b.md", Collection: "docs", Version: "v1"},
		types.Chunk{Content: "# Billing\ninvoices", Embedding: []float32{0, 1, 0}},
		types.Chunk{Content: "# Limits\nquotas", Embedding: []float32{0, 0, 1}, Metadata: map[string]string{"product": "api"}},
	)
	seed(t, s, types.DocumentKey{Path: "/api/c.md", Collection: "api", Version: "v1"},
		types.Chunk{Content: "# Intro\nhello api", Embedding: []float32{0.8, 0.2, 0}, Metadata: map[string]string{"product": "api"}},
	)
	return s
}

func TestSearch_NearestFirst(t *testing.T) {
	emb := mapEmbedder{"what does the intro say?": {1, 0, 0}}
	r := New(emb, newCorpus(t))

	resp, err := r.Search(context.Background(), types.SearchParams{Question: "what does the intro say?", Collections: []string{"docs"}, K: 3})
	require.NoError(t, err)
	require.Equal(t, 3, resp.Count)
	first := resp.Results[0]
	assert.Equal(t, "# Intro\nhello", first.Content)
	assert.Equal(t, "/docs/a.md", first.Path)
	assert.Equal(t, "docs", first.Collection)
	for _, other := range resp.Results[1:] {
		assert.Greater(t, first.Score, other.Score)
	}
}

func TestSearch_Filters(t *testing.T) {
	emb := mapEmbedder{"intro": {1, 0, 0}}
	r := New(emb, newCorpus(t))
	ctx := context.Background()

	resp, err := r.Search(ctx, types.SearchParams{Question: "intro", K: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, resp.Count, "no filter searches every collection")

	resp, err = r.Search(ctx, types.SearchParams{Question: "intro", Collections: []string{"api"}})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "/api/c.md", resp.Results[0].Path)

	resp, err = r.Search(ctx, types.SearchParams{Question: "intro", Metadata: map[string]string{"product": "api"}, K: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Count)

	resp, err = r.Search(ctx, types.SearchParams{Question: "intro", Version: "v9"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.NotNil(t, resp.Results)
}

func TestSearch_Limits(t *testing.T) {
	r := New(mapEmbedder{}, store.NewMemoryStore(), WithLimits(2, 3))
	assert.Equal(t, 2, r.Limit(0))
	assert.Equal(t, 1, r.Limit(1))
	assert.Equal(t, 3, r.Limit(50))

	r = New(mapEmbedder{}, store.NewMemoryStore(), WithLimits(10, 4))
	assert.Equal(t, 4, r.Limit(0), "default never exceeds the cap")
}

func TestSearch_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := New(mapEmbedder{}, store.NewMemoryStore()).Search(ctx, types.SearchParams{Question: "  "})
	assert.ErrorIs(t, err, types.ErrInvalidRequest)

	_, err = New(mapEmbedder{}, store.NewMemoryStore()).Search(ctx, types.SearchParams{Question: "unknown"})
	assert.ErrorIs(t, err, types.ErrProviderError)

	down := types.NewError(types.KindStorageUnavailable, "store.Search", errors.New("no connection"))
	_, err = New(mapEmbedder{"q": {1}}, failingSearcher{err: down}).Search(ctx, types.SearchParams{Question: "q"})
	assert.ErrorIs(t, err, types.ErrStorageUnavailable)
}

func TestCollections(t *testing.T) {
	r := New(mapEmbedder{}, newCorpus(t))
	stats, err := r.Collections(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []types.CollectionStat{
		{Collection: "api", Version: "v1", Documents: 1, Chunks: 1},
		{Collection: "docs", Version: "v1", Documents: 2, Chunks: 3},
	}, stats)

	stats, err = New(mapEmbedder{}, store.NewMemoryStore()).Collections(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, stats)
}
