package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"ragingest/types"
)

// ChunkStorer is what the upsert engine needs. All writes for one document go
// through Apply and commit together.
type ChunkStorer interface {
	DocumentState(context.Context, types.DocumentKey) (*types.DocumentState, error)
	StoredChunks(context.Context, types.DocumentKey) ([]types.StoredChunk, error)
	Apply(context.Context, types.ChangeSet) error
	ListDocuments(ctx context.Context, version, pathPrefix string) ([]types.DocumentState, error)
	DeleteDocument(context.Context, types.DocumentKey) (int, error)
}

// Searcher is the read side used by the retrieval contract.
type Searcher interface {
	Search(context.Context, types.VectorQuery) ([]types.SearchResult, error)
	ListCollections(context.Context) ([]types.CollectionStat, error)
}

// IndexManager bootstraps schema and the vector index.
type IndexManager interface {
	Init(context.Context, types.IndexSpec) error
}

type DBStorer interface {
	ChunkStorer
	Searcher
	IndexManager
	Close() error
}

type PostgresStore struct {
	pool   *pgxpool.Pool
	metric types.Metric
	logger *slog.Logger
	// pgvector >= 0.8 can keep scanning the HNSW graph until filtered
	// queries have enough rows.
	iterativeScan bool
}

func NewPostgresStore(ctx context.Context, connStr string, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, types.NewError(types.KindConfigurationError, "store.Connect", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, types.NewError(types.KindStorageUnavailable, "store.Connect", err)
	}

	return &PostgresStore{
		pool:   pool,
		metric: types.MetricCosine,
		logger: logger.With("component", "store"),
	}, nil
}

// pgvector's default hnsw.ef_search
const defaultEfSearch = 40

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *types.Error
	if errors.As(err, &e) {
		return err
	}
	return types.NewError(types.KindStorageUnavailable, op, err)
}

func (p *PostgresStore) DocumentState(ctx context.Context, key types.DocumentKey) (*types.DocumentState, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT id, fingerprint, chunk_count, modified_at, updated_at
		FROM documents
		WHERE path = $1 AND collection_name = $2 AND version = $3`,
		key.Path, key.Collection, key.Version)

	st := &types.DocumentState{Key: key}
	var modified *time.Time
	if err := row.Scan(&st.ID, &st.Fingerprint, &st.ChunkCount, &modified, &st.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, unavailable("store.DocumentState", err)
	}
	if modified != nil {
		st.ModifiedAt = *modified
	}
	return st, nil
}

func (p *PostgresStore) StoredChunks(ctx context.Context, key types.DocumentKey) ([]types.StoredChunk, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, position, fingerprint
		FROM document_chunk
		WHERE doc_path = $1 AND collection_name = $2 AND version = $3
		ORDER BY position`,
		key.Path, key.Collection, key.Version)
	if err != nil {
		return nil, unavailable("store.StoredChunks", err)
	}
	defer rows.Close()

	var chunks []types.StoredChunk
	for rows.Next() {
		var c types.StoredChunk
		if err := rows.Scan(&c.ID, &c.Position, &c.Fingerprint); err != nil {
			return nil, unavailable("store.StoredChunks", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, unavailable("store.StoredChunks", rows.Err())
}

// Apply commits one document's inserts, updates and deletes in a single
// transaction. Every statement is scoped to the change set's document key.
func (p *PostgresStore) Apply(ctx context.Context, cs types.ChangeSet) error {
	const op = "store.Apply"
	key := cs.Document.Key

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return unavailable(op, err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, c := range cs.Inserts {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return types.NewError(types.KindInvalidDocument, op, err)
		}
		id := c.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		batch.Queue(`
			INSERT INTO document_chunk
				(id, doc_path, position, collection_name, version, text, size, fingerprint, embedding, vmetadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			id, key.Path, c.Position, key.Collection, key.Version, c.Content, c.Size, c.Fingerprint,
			pgvector.NewVector(c.Embedding), meta)
	}
	for _, c := range cs.Updates {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return types.NewError(types.KindInvalidDocument, op, err)
		}
		batch.Queue(`
			UPDATE document_chunk
			SET text = $1, size = $2, fingerprint = $3, embedding = $4, vmetadata = $5, updated_at = now()
			WHERE id = $6 AND doc_path = $7 AND collection_name = $8 AND version = $9 AND position = $10`,
			c.Content, c.Size, c.Fingerprint, pgvector.NewVector(c.Embedding), meta,
			c.ID, key.Path, key.Collection, key.Version, c.Position)
	}
	if cs.DeleteFrom >= 0 {
		batch.Queue(`
			DELETE FROM document_chunk
			WHERE doc_path = $1 AND collection_name = $2 AND version = $3 AND position >= $4`,
			key.Path, key.Collection, key.Version, cs.DeleteFrom)
	}
	batch.Queue(`
		INSERT INTO documents (id, path, collection_name, version, fingerprint, chunk_count, modified_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (path, collection_name, version) DO UPDATE SET
			fingerprint = EXCLUDED.fingerprint,
			chunk_count = EXCLUDED.chunk_count,
			modified_at = EXCLUDED.modified_at,
			updated_at = EXCLUDED.updated_at`,
		key.ID(), key.Path, key.Collection, key.Version, cs.Document.Fingerprint, cs.ChunkCount, cs.Document.ModifiedAt)

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return unavailable(op, err)
		}
		if i >= len(cs.Inserts) && i < len(cs.Inserts)+len(cs.Updates) && tag.RowsAffected() != 1 {
			br.Close()
			return types.Errorf(types.KindStorageUnavailable, op, "update of %s position %d matched %d rows",
				key.Path, cs.Updates[i-len(cs.Inserts)].Position, tag.RowsAffected())
		}
	}
	if err := br.Close(); err != nil {
		return unavailable(op, err)
	}

	return unavailable(op, tx.Commit(ctx))
}

func (p *PostgresStore) ListDocuments(ctx context.Context, version, pathPrefix string) ([]types.DocumentState, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, path, collection_name, version, fingerprint, chunk_count, updated_at
		FROM documents
		WHERE version = $1 AND starts_with(path, $2)
		ORDER BY path, collection_name`,
		version, pathPrefix)
	if err != nil {
		return nil, unavailable("store.ListDocuments", err)
	}
	defer rows.Close()

	var docs []types.DocumentState
	for rows.Next() {
		var d types.DocumentState
		if err := rows.Scan(&d.ID, &d.Key.Path, &d.Key.Collection, &d.Key.Version, &d.Fingerprint, &d.ChunkCount, &d.UpdatedAt); err != nil {
			return nil, unavailable("store.ListDocuments", err)
		}
		docs = append(docs, d)
	}
	return docs, unavailable("store.ListDocuments", rows.Err())
}

// DeleteDocument removes every chunk and the document row for key.
func (p *PostgresStore) DeleteDocument(ctx context.Context, key types.DocumentKey) (int, error) {
	const op = "store.DeleteDocument"
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, unavailable(op, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		DELETE FROM document_chunk
		WHERE doc_path = $1 AND collection_name = $2 AND version = $3`,
		key.Path, key.Collection, key.Version)
	if err != nil {
		return 0, unavailable(op, err)
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM documents
		WHERE path = $1 AND collection_name = $2 AND version = $3`,
		key.Path, key.Collection, key.Version); err != nil {
		return 0, unavailable(op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, unavailable(op, err)
	}
	return int(tag.RowsAffected()), nil
}

// Search returns the nearest chunks. The inner query is shaped so the HNSW
// index serves it; the outer query breaks distance ties by position. HNSW
// applies WHERE clauses after the graph scan, so filtered queries widen the
// scan for the duration of the transaction.
func (p *PostgresStore) Search(ctx context.Context, q types.VectorQuery) ([]types.SearchResult, error) {
	const op = "store.Search"
	if len(q.Vector) == 0 {
		return nil, types.Errorf(types.KindProviderError, op, "empty query vector")
	}
	distOp := distanceOperator(p.metric)

	args := []any{pgvector.NewVector(q.Vector)}
	var where []string
	if len(q.Collections) > 0 {
		args = append(args, q.Collections)
		where = append(where, fmt.Sprintf("collection_name = ANY($%d)", len(args)))
	}
	if q.Version != "" {
		args = append(args, q.Version)
		where = append(where, fmt.Sprintf("version = $%d", len(args)))
	}
	if len(q.Metadata) > 0 {
		meta, err := json.Marshal(q.Metadata)
		if err != nil {
			return nil, types.NewError(types.KindProviderError, op, err)
		}
		args = append(args, meta)
		where = append(where, fmt.Sprintf("vmetadata @> $%d::jsonb", len(args)))
	}
	args = append(args, q.Limit)
	limitArg := len(args)

	filter := ""
	if len(where) > 0 {
		filter = "WHERE " + strings.Join(where, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT text, doc_path, collection_name, version, position, vmetadata, distance
		FROM (
			SELECT text, doc_path, collection_name, version, position, vmetadata,
			       embedding %[1]s $1 AS distance
			FROM document_chunk
			%[2]s
			ORDER BY embedding %[1]s $1
			LIMIT $%[3]d
		) nearest
		ORDER BY distance, position, doc_path`, distOp, filter, limitArg)

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer tx.Rollback(ctx)

	if len(where) > 0 {
		for _, stmt := range filteredScanSettings(q.Limit, p.iterativeScan) {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return nil, unavailable(op, err)
			}
		}
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	var results []types.SearchResult
	for rows.Next() {
		var (
			r        types.SearchResult
			meta     []byte
			distance float64
		)
		if err := rows.Scan(&r.Content, &r.Path, &r.Collection, &r.Version, &r.Position, &meta, &distance); err != nil {
			return nil, unavailable(op, err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &r.Metadata); err != nil {
				p.logger.Warn("bad chunk metadata", "path", r.Path, "position", r.Position, "error", err)
			}
		}
		r.Score = similarity(p.metric, distance)
		p.logger.Debug("search hit", "path", r.Path, "position", r.Position, "score", r.Score)
		results = append(results, r)
	}
	return results, unavailable(op, rows.Err())
}

// filteredScanSettings returns the session settings for a filtered nearest-k
// query. ef_search is capped at pgvector's maximum of 1000.
func filteredScanSettings(k int, iterative bool) []string {
	ef := min(max(defaultEfSearch, k*20), 1000)
	stmts := []string{fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", ef)}
	if iterative {
		stmts = append(stmts, "SET LOCAL hnsw.iterative_scan = relaxed_order")
	}
	return stmts
}

// supportsIterativeScan reports whether a pgvector extension version has
// hnsw.iterative_scan (0.8.0 and later).
func supportsIterativeScan(version string) bool {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 {
		return false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return false
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return false
	}
	return major > 0 || minor >= 8
}

func (p *PostgresStore) ListCollections(ctx context.Context) ([]types.CollectionStat, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT collection_name, version, COUNT(DISTINCT doc_path), COUNT(*)
		FROM document_chunk
		GROUP BY collection_name, version
		ORDER BY collection_name, version`)
	if err != nil {
		return nil, unavailable("store.ListCollections", err)
	}
	defer rows.Close()

	var stats []types.CollectionStat
	for rows.Next() {
		var s types.CollectionStat
		if err := rows.Scan(&s.Collection, &s.Version, &s.Documents, &s.Chunks); err != nil {
			return nil, unavailable("store.ListCollections", err)
		}
		stats = append(stats, s)
	}
	return stats, unavailable("store.ListCollections", rows.Err())
}

func distanceOperator(m types.Metric) string {
	if m == types.MetricInnerProduct {
		return "<#>"
	}
	return "<=>"
}

// similarity converts a pgvector distance to a higher-is-closer score.
func similarity(m types.Metric, distance float64) float64 {
	if m == types.MetricInnerProduct {
		// <#> is the negative inner product
		return -distance
	}
	return 1 - distance
}

// Close closes the connection pool.
func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.logger.Info("postgres connection pool is closed")
	}
	return nil
}
