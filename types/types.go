package types

import (
	"time"

	"github.com/google/uuid"
)

// DocumentKey identifies the set of chunks owned by one document. The upsert
// engine never touches rows outside the key it was given.
type DocumentKey struct {
	Path       string
	Collection string
	Version    string
}

// ID returns a stable row identity for the document.
func (k DocumentKey) ID() uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(k.Collection+"@"+k.Version+":"+k.Path))
}

type Document struct {
	Key         DocumentKey
	RelPath     string
	Fingerprint string // content + chunker settings
	ModifiedAt  time.Time
	Metadata    map[string]string
}

// DocumentState is what the store remembers about a document after the last
// committed run.
type DocumentState struct {
	ID          uuid.UUID
	Key         DocumentKey
	Fingerprint string
	ChunkCount  int
	ModifiedAt  time.Time
	UpdatedAt   time.Time
}

type Chunk struct {
	ID          uuid.UUID
	Key         DocumentKey
	Position    int
	Content     string
	Size        int
	Fingerprint string
	Embedding   []float32
	Metadata    map[string]string
}

// StoredChunk is the part of a stored row needed for change detection.
type StoredChunk struct {
	ID          uuid.UUID
	Position    int
	Fingerprint string
}

// ChangeSet is the full set of writes for one document, committed atomically.
type ChangeSet struct {
	Document Document
	Inserts  []Chunk
	Updates  []Chunk
	// Positions >= DeleteFrom are removed; negative means no deletes.
	DeleteFrom int
	ChunkCount int
}

func (c ChangeSet) Empty() bool {
	return len(c.Inserts) == 0 && len(c.Updates) == 0 && c.DeleteFrom < 0
}

type Metric string

const (
	MetricCosine       Metric = "cosine"
	MetricInnerProduct Metric = "inner_product"
)

// IndexSpec describes the vector index the store must maintain.
type IndexSpec struct {
	Dimension      int
	Model          string
	Metric         Metric
	M              int
	EfConstruction int
}

type VectorQuery struct {
	Vector      []float32
	Collections []string
	Version     string
	Metadata    map[string]string
	Limit       int
}

type SearchResult struct {
	Content    string            `json:"content"`
	Path       string            `json:"path"`
	Collection string            `json:"collection"`
	Version    string            `json:"version"`
	Position   int               `json:"position"`
	Score      float64           `json:"score"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type CollectionStat struct {
	Collection string `json:"collection"`
	Version    string `json:"version"`
	Documents  int    `json:"documents"`
	Chunks     int    `json:"chunks"`
}
