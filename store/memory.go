package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ragingest/types"
)

// MemoryStore keeps chunks in process memory with the same semantics as
// PostgresStore, including exact (non-approximate) nearest-K search. It backs
// tests and dry runs.
type MemoryStore struct {
	mu     sync.RWMutex
	spec   *types.IndexSpec
	docs   map[types.DocumentKey]types.DocumentState
	chunks map[types.DocumentKey]map[int]types.Chunk

	// FailApply makes Apply fail for matching paths, leaving state untouched.
	FailApply func(types.DocumentKey) error
	writes    int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:   make(map[types.DocumentKey]types.DocumentState),
		chunks: make(map[types.DocumentKey]map[int]types.Chunk),
	}
}

func (m *MemoryStore) Init(_ context.Context, spec types.IndexSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if spec.Dimension <= 0 {
		return types.Errorf(types.KindConfigurationError, "store.Init", "embedding dimension must be positive, got %d", spec.Dimension)
	}
	if _, err := opsClass(spec.Metric); err != nil {
		return err
	}
	if m.spec != nil {
		rec := indexRecord{Version: schemaVersion, Dimension: m.spec.Dimension, Model: m.spec.Model, Metric: m.spec.Metric}
		return compatible("store.Init", rec, spec)
	}
	m.spec = &spec
	return nil
}

func (m *MemoryStore) metric() types.Metric {
	if m.spec == nil {
		return types.MetricCosine
	}
	return m.spec.Metric
}

func (m *MemoryStore) DocumentState(_ context.Context, key types.DocumentKey) (*types.DocumentState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.docs[key]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (m *MemoryStore) StoredChunks(_ context.Context, key types.DocumentKey) ([]types.StoredChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.StoredChunk
	for _, c := range m.chunks[key] {
		out = append(out, types.StoredChunk{ID: c.ID, Position: c.Position, Fingerprint: c.Fingerprint})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *MemoryStore) Apply(_ context.Context, cs types.ChangeSet) error {
	key := cs.Document.Key
	if m.FailApply != nil {
		if err := m.FailApply(key); err != nil {
			return unavailable("store.Apply", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.spec != nil {
		for _, c := range append(append([]types.Chunk(nil), cs.Inserts...), cs.Updates...) {
			if len(c.Embedding) != m.spec.Dimension {
				return types.Errorf(types.KindStorageUnavailable, "store.Apply",
					"expected %d dimensions, not %d", m.spec.Dimension, len(c.Embedding))
			}
		}
	}

	rows := m.chunks[key]
	next := make(map[int]types.Chunk, len(rows)+len(cs.Inserts))
	for pos, c := range rows {
		next[pos] = c
	}
	for _, c := range cs.Inserts {
		if _, exists := next[c.Position]; exists {
			return types.Errorf(types.KindStorageUnavailable, "store.Apply", "duplicate position %d for %s", c.Position, key.Path)
		}
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.Key = key
		next[c.Position] = c
	}
	for _, c := range cs.Updates {
		old, ok := next[c.Position]
		if !ok || old.ID != c.ID {
			return types.Errorf(types.KindStorageUnavailable, "store.Apply", "update of %s position %d matched 0 rows", key.Path, c.Position)
		}
		c.Key = key
		next[c.Position] = c
	}
	if cs.DeleteFrom >= 0 {
		for pos := range next {
			if pos >= cs.DeleteFrom {
				delete(next, pos)
			}
		}
	}

	m.writes += len(cs.Inserts) + len(cs.Updates)
	if cs.DeleteFrom >= 0 {
		m.writes += len(rows) - countBelow(rows, cs.DeleteFrom)
	}
	m.chunks[key] = next
	m.docs[key] = types.DocumentState{
		ID:          key.ID(),
		Key:         key,
		Fingerprint: cs.Document.Fingerprint,
		ChunkCount:  cs.ChunkCount,
		ModifiedAt:  cs.Document.ModifiedAt,
		UpdatedAt:   time.Now(),
	}
	return nil
}

func countBelow(rows map[int]types.Chunk, limit int) int {
	n := 0
	for pos := range rows {
		if pos < limit {
			n++
		}
	}
	return n
}

func (m *MemoryStore) ListDocuments(_ context.Context, version, pathPrefix string) ([]types.DocumentState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.DocumentState
	for key, st := range m.docs {
		if key.Version == version && strings.HasPrefix(key.Path, pathPrefix) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Path != out[j].Key.Path {
			return out[i].Key.Path < out[j].Key.Path
		}
		return out[i].Key.Collection < out[j].Key.Collection
	})
	return out, nil
}

func (m *MemoryStore) DeleteDocument(_ context.Context, key types.DocumentKey) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.chunks[key])
	m.writes += n
	delete(m.chunks, key)
	delete(m.docs, key)
	return n, nil
}

func (m *MemoryStore) Search(_ context.Context, q types.VectorQuery) ([]types.SearchResult, error) {
	if len(q.Vector) == 0 {
		return nil, types.Errorf(types.KindProviderError, "store.Search", "empty query vector")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	collections := make(map[string]bool, len(q.Collections))
	for _, c := range q.Collections {
		collections[c] = true
	}

	var results []types.SearchResult
	for key, rows := range m.chunks {
		if len(collections) > 0 && !collections[key.Collection] {
			continue
		}
		if q.Version != "" && key.Version != q.Version {
			continue
		}
		for _, c := range rows {
			if !containsAll(c.Metadata, q.Metadata) {
				continue
			}
			results = append(results, types.SearchResult{
				Content:    c.Content,
				Path:       key.Path,
				Collection: key.Collection,
				Version:    key.Version,
				Position:   c.Position,
				Score:      score(m.metric(), q.Vector, c.Embedding),
				Metadata:   c.Metadata,
			})
		}
	}

	SortResults(results)
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

// SortResults orders by score descending, then position, then path.
func SortResults(results []types.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.Path < b.Path
	})
}

func containsAll(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

func score(m types.Metric, a, b []float32) float64 {
	var dot, na, nb float64
	for i := range min(len(a), len(b)) {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if m == types.MetricInnerProduct {
		return dot
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (m *MemoryStore) ListCollections(_ context.Context) ([]types.CollectionStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byName := make(map[[2]string]*types.CollectionStat)
	for key, rows := range m.chunks {
		if len(rows) == 0 {
			continue
		}
		k := [2]string{key.Collection, key.Version}
		s, ok := byName[k]
		if !ok {
			s = &types.CollectionStat{Collection: key.Collection, Version: key.Version}
			byName[k] = s
		}
		s.Documents++
		s.Chunks += len(rows)
	}
	stats := make([]types.CollectionStat, 0, len(byName))
	for _, s := range byName {
		stats = append(stats, *s)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Collection != stats[j].Collection {
			return stats[i].Collection < stats[j].Collection
		}
		return stats[i].Version < stats[j].Version
	})
	return stats, nil
}

// Chunks returns a copy of the stored chunks of key ordered by position.
func (m *MemoryStore) Chunks(key types.DocumentKey) []types.Chunk {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Chunk, 0, len(m.chunks[key]))
	for _, c := range m.chunks[key] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// Writes counts chunk rows inserted, updated or deleted since creation.
func (m *MemoryStore) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

func (m *MemoryStore) Close() error {
	return nil
}
