package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragingest/types"
)

func chunk(pos int, text string, vec ...float32) types.Chunk {
	return types.Chunk{Position: pos, Content: text, Fingerprint: text, Embedding: vec}
}

func changeSet(key types.DocumentKey, inserts ...types.Chunk) types.ChangeSet {
	return types.ChangeSet{
		Document:   types.Document{Key: key, Fingerprint: "doc"},
		Inserts:    inserts,
		DeleteFrom: -1,
		ChunkCount: len(inserts),
	}
}

func TestMemoryStore_Init(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	spec := types.IndexSpec{Dimension: 3, Model: "m", Metric: types.MetricCosine}
	require.NoError(t, s.Init(ctx, spec))
	require.NoError(t, s.Init(ctx, spec), "second init is a no-op")

	err := s.Init(ctx, types.IndexSpec{Dimension: 4, Model: "m", Metric: types.MetricCosine})
	assert.Equal(t, types.KindConfigurationError, types.KindOf(err))

	err = s.Init(ctx, types.IndexSpec{Dimension: 3, Model: "m", Metric: types.MetricInnerProduct})
	assert.Equal(t, types.KindConfigurationError, types.KindOf(err))

	err = NewMemoryStore().Init(ctx, types.IndexSpec{Dimension: 3, Metric: "l2"})
	assert.Equal(t, types.KindConfigurationError, types.KindOf(err))
}

func TestMemoryStore_ApplyIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := types.DocumentKey{Path: "/docs/a.md", Collection: "docs", Version: "v1"}
	b := types.DocumentKey{Path: "/docs/b.md", Collection: "docs", Version: "v1"}
	aV2 := types.DocumentKey{Path: "/docs/a.md", Collection: "docs", Version: "v2"}

	require.NoError(t, s.Apply(ctx, changeSet(a, chunk(0, "a0", 1, 0), chunk(1, "a1", 0, 1))))
	require.NoError(t, s.Apply(ctx, changeSet(b, chunk(0, "b0", 1, 1))))
	require.NoError(t, s.Apply(ctx, changeSet(aV2, chunk(0, "a0v2", 1, 0))))

	stored, err := s.StoredChunks(ctx, a)
	require.NoError(t, err)
	require.Len(t, stored, 2)

	// shrink a to nothing
	cs := types.ChangeSet{Document: types.Document{Key: a}, DeleteFrom: 0}
	require.NoError(t, s.Apply(ctx, cs))

	assert.Empty(t, s.Chunks(a))
	assert.Len(t, s.Chunks(b), 1)
	assert.Len(t, s.Chunks(aV2), 1)
}

func TestMemoryStore_UpdateRequiresSameRow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	key := types.DocumentKey{Path: "/a.md", Collection: "c", Version: "v1"}
	require.NoError(t, s.Apply(ctx, changeSet(key, chunk(0, "x", 1))))

	upd := chunk(0, "y", 1)
	upd.ID = uuid.New()
	err := s.Apply(ctx, types.ChangeSet{Document: types.Document{Key: key}, Updates: []types.Chunk{upd}, DeleteFrom: -1})
	assert.Equal(t, types.KindStorageUnavailable, types.KindOf(err))
	assert.Equal(t, "x", s.Chunks(key)[0].Content, "failed apply leaves state untouched")
}

func TestMemoryStore_SearchOrderingAndFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	docs := types.DocumentKey{Path: "/r/a.md", Collection: "docs", Version: "v1"}
	other := types.DocumentKey{Path: "/r/b.md", Collection: "other", Version: "v1"}

	c0 := chunk(0, "same-a", 1, 0)
	c1 := chunk(1, "same-b", 1, 0)
	c2 := chunk(2, "far", 0, 1)
	c1.Metadata = map[string]string{"product": "x"}
	require.NoError(t, s.Apply(ctx, changeSet(docs, c1, c0, c2)))
	require.NoError(t, s.Apply(ctx, changeSet(other, chunk(0, "other", 1, 0))))

	res, err := s.Search(ctx, types.VectorQuery{Vector: []float32{1, 0}, Collections: []string{"docs"}, Limit: 3})
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "same-a", res[0].Content, "tie broken by position")
	assert.Equal(t, "same-b", res[1].Content)
	assert.Equal(t, "far", res[2].Content)
	assert.Greater(t, res[1].Score, res[2].Score)

	res, err = s.Search(ctx, types.VectorQuery{Vector: []float32{1, 0}, Metadata: map[string]string{"product": "x"}, Limit: 5})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "same-b", res[0].Content)

	_, err = s.Search(ctx, types.VectorQuery{Limit: 5})
	assert.Error(t, err)
}

func TestMemoryStore_ListCollectionsAndDocuments(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Apply(ctx, changeSet(types.DocumentKey{Path: "/r/a.md", Collection: "docs", Version: "v1"}, chunk(0, "a", 1), chunk(1, "b", 1))))
	require.NoError(t, s.Apply(ctx, changeSet(types.DocumentKey{Path: "/r/b.md", Collection: "docs", Version: "v1"}, chunk(0, "c", 1))))
	require.NoError(t, s.Apply(ctx, changeSet(types.DocumentKey{Path: "/elsewhere/c.md", Collection: "api", Version: "v1"}, chunk(0, "d", 1))))

	stats, err := s.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []types.CollectionStat{
		{Collection: "api", Version: "v1", Documents: 1, Chunks: 1},
		{Collection: "docs", Version: "v1", Documents: 2, Chunks: 3},
	}, stats)

	docs, err := s.ListDocuments(ctx, "v1", "/r/")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "/r/a.md", docs[0].Key.Path)

	n, err := s.DeleteDocument(ctx, docs[0].Key)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, "<=>", distanceOperator(types.MetricCosine))
	assert.Equal(t, "<#>", distanceOperator(types.MetricInnerProduct))
	assert.InDelta(t, 0.75, similarity(types.MetricCosine, 0.25), 1e-9)
	assert.InDelta(t, 0.5, similarity(types.MetricInnerProduct, -0.5), 1e-9)
}

func TestCompatible(t *testing.T) {
	rec := indexRecord{Version: 1, Dimension: 768, Model: "nomic-embed-text", Metric: types.MetricCosine}
	assert.NoError(t, compatible("store.Init", rec, types.IndexSpec{Dimension: 768, Model: "nomic-embed-text", Metric: types.MetricCosine}))
	assert.NoError(t, compatible("store.Init", rec, types.IndexSpec{Dimension: 768, Metric: types.MetricCosine}), "unknown model is accepted")
	assert.Error(t, compatible("store.Init", rec, types.IndexSpec{Dimension: 1024, Model: "nomic-embed-text", Metric: types.MetricCosine}))
	assert.Error(t, compatible("store.Init", rec, types.IndexSpec{Dimension: 768, Model: "mxbai", Metric: types.MetricCosine}))
}
