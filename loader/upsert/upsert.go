package upsert

import (
	"context"
	"encoding/binary"
	"log/slog"

	"github.com/google/uuid"

	"ragingest/store"
	"ragingest/types"
)

// Engine reconciles a document's fresh chunks with what the store holds.
// It is the only component that writes chunk rows, and every write it makes
// is scoped to one document key.
type Engine struct {
	store  store.ChunkStorer
	logger *slog.Logger
}

func New(s store.ChunkStorer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: s, logger: logger.With("component", "upsert")}
}

// Plan is the computed change set for one document plus the bookkeeping the
// report needs.
type Plan struct {
	ChangeSet types.ChangeSet
	Unchanged int
	Deleted   int
	// documentCurrent is true when the stored document row already carries
	// this fingerprint.
	documentCurrent bool
}

// Pending returns pointers to the chunks that still need embeddings, in
// position order within inserts then updates.
func (p *Plan) Pending() []*types.Chunk {
	out := make([]*types.Chunk, 0, len(p.ChangeSet.Inserts)+len(p.ChangeSet.Updates))
	for i := range p.ChangeSet.Inserts {
		out = append(out, &p.ChangeSet.Inserts[i])
	}
	for i := range p.ChangeSet.Updates {
		out = append(out, &p.ChangeSet.Updates[i])
	}
	return out
}

// NoOp reports whether applying the plan would write nothing at all.
func (p *Plan) NoOp() bool {
	return p.ChangeSet.Empty() && p.documentCurrent
}

func (p *Plan) Result(path string) types.FileResult {
	return types.FileResult{
		Path:      path,
		Inserted:  len(p.ChangeSet.Inserts),
		Updated:   len(p.ChangeSet.Updates),
		Unchanged: p.Unchanged,
		Deleted:   p.Deleted,
	}
}

// Plan compares chunks, ordered by position from 0, with the stored rows of
// doc.Key. A position whose fingerprint matches is left alone, a changed one
// is updated in place keeping its row id, a new one is inserted, and stored
// positions past the new end are deleted.
func (e *Engine) Plan(ctx context.Context, doc types.Document, chunks []types.Chunk) (*Plan, error) {
	stored, err := e.store.StoredChunks(ctx, doc.Key)
	if err != nil {
		return nil, err
	}
	state, err := e.store.DocumentState(ctx, doc.Key)
	if err != nil {
		return nil, err
	}

	byPos := make(map[int]types.StoredChunk, len(stored))
	for _, s := range stored {
		byPos[s.Position] = s
	}

	plan := &Plan{
		ChangeSet: types.ChangeSet{
			Document:   doc,
			DeleteFrom: -1,
			ChunkCount: len(chunks),
		},
		documentCurrent: state != nil && state.Fingerprint == doc.Fingerprint,
	}

	for i, c := range chunks {
		if c.Position != i {
			return nil, types.Errorf(types.KindInvalidDocument, "upsert.Plan", "chunk %d has position %d", i, c.Position)
		}
		c.Key = doc.Key
		old, ok := byPos[c.Position]
		switch {
		case ok && old.Fingerprint == c.Fingerprint:
			plan.Unchanged++
		case ok:
			c.ID = old.ID
			plan.ChangeSet.Updates = append(plan.ChangeSet.Updates, c)
		default:
			c.ID = ChunkID(doc.Key, c.Position)
			plan.ChangeSet.Inserts = append(plan.ChangeSet.Inserts, c)
		}
	}

	for _, s := range stored {
		if s.Position >= len(chunks) {
			plan.Deleted++
		}
	}
	if plan.Deleted > 0 {
		plan.ChangeSet.DeleteFrom = len(chunks)
	}
	return plan, nil
}

// Apply commits the plan atomically. A plan with nothing to write touches
// nothing.
func (e *Engine) Apply(ctx context.Context, plan *Plan) error {
	if plan.NoOp() {
		return nil
	}
	for _, c := range plan.Pending() {
		if len(c.Embedding) == 0 {
			return types.Errorf(types.KindProviderError, "upsert.Apply", "chunk %d of %s has no embedding", c.Position, plan.ChangeSet.Document.Key.Path)
		}
	}
	cs := plan.ChangeSet
	if err := e.store.Apply(ctx, cs); err != nil {
		return err
	}
	e.logger.Debug("document applied",
		"path", cs.Document.Key.Path,
		"collection", cs.Document.Key.Collection,
		"inserted", len(cs.Inserts),
		"updated", len(cs.Updates),
		"unchanged", plan.Unchanged,
		"deleted", plan.Deleted,
	)
	return nil
}

// Remove deletes every chunk of a document that no longer exists on disk.
func (e *Engine) Remove(ctx context.Context, key types.DocumentKey) (int, error) {
	n, err := e.store.DeleteDocument(ctx, key)
	if err != nil {
		return 0, err
	}
	e.logger.Info("document pruned", "path", key.Path, "collection", key.Collection, "chunks", n)
	return n, nil
}

// ChunkID derives a stable row id from the document key and position.
func ChunkID(key types.DocumentKey, position int) uuid.UUID {
	var pos [8]byte
	binary.BigEndian.PutUint64(pos[:], uint64(position))
	return uuid.NewSHA1(key.ID(), pos[:])
}
