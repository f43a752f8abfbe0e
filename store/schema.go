package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"ragingest/types"
)

const schemaVersion = 1

// advisory lock key for schema bootstrap
const initLockKey = 7164207

func opsClass(m types.Metric) (string, error) {
	switch m {
	case types.MetricCosine:
		return "vector_cosine_ops", nil
	case types.MetricInnerProduct:
		return "vector_ip_ops", nil
	default:
		return "", types.Errorf(types.KindConfigurationError, "store.Init", "unsupported metric %q", m)
	}
}

// Init creates the schema and the HNSW index when absent and verifies that an
// existing index was built for the same model, dimension and metric. It is
// safe to call on every run; a mismatch is a ConfigurationError and nothing
// is written.
func (p *PostgresStore) Init(ctx context.Context, spec types.IndexSpec) error {
	const op = "store.Init"
	if spec.Dimension <= 0 {
		return types.Errorf(types.KindConfigurationError, op, "embedding dimension must be positive, got %d", spec.Dimension)
	}
	ops, err := opsClass(spec.Metric)
	if err != nil {
		return err
	}
	if spec.M <= 0 {
		spec.M = 16
	}
	if spec.EfConstruction <= 0 {
		spec.EfConstruction = 64
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return unavailable(op, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, initLockKey); err != nil {
		return unavailable(op, err)
	}

	if _, err := tx.Exec(ctx, `
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS rag_schema_version (
			version INTEGER PRIMARY KEY,
			dimension INTEGER NOT NULL,
			model TEXT NOT NULL,
			metric TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT now()
		);`); err != nil {
		return unavailable(op, err)
	}

	existing, err := describe(ctx, tx)
	if err != nil {
		return err
	}
	if existing != nil {
		if err := compatible(op, *existing, spec); err != nil {
			return err
		}
	}

	colDim, err := columnDimension(ctx, tx)
	if err != nil {
		return err
	}
	if colDim > 0 && colDim != spec.Dimension {
		return types.Errorf(types.KindConfigurationError, op,
			"document_chunk.embedding has dimension %d, provider returns %d", colDim, spec.Dimension)
	}

	if existing != nil && existing.Version >= schemaVersion && colDim > 0 {
		p.metric = spec.Metric
		p.detectIterativeScan(ctx)
		p.logger.Debug("schema and index already present", "version", existing.Version, "dimension", colDim)
		return nil
	}

	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS documents (
		id UUID PRIMARY KEY,
		path TEXT NOT NULL,
		collection_name TEXT NOT NULL,
		version TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		modified_at TIMESTAMP WITH TIME ZONE,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
		UNIQUE (path, collection_name, version)
	);

	CREATE TABLE IF NOT EXISTS document_chunk (
		id UUID PRIMARY KEY,
		doc_path TEXT NOT NULL,
		position INTEGER NOT NULL CHECK (position >= 0),
		collection_name TEXT NOT NULL,
		version TEXT NOT NULL,
		text TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		fingerprint TEXT NOT NULL,
		embedding vector(%[1]d) NOT NULL,
		vmetadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
		UNIQUE (doc_path, collection_name, version, position)
	);

	CREATE INDEX IF NOT EXISTS idx_document_chunk_collection
		ON document_chunk (collection_name, version);

	CREATE INDEX IF NOT EXISTS idx_document_chunk_embedding_hnsw
		ON document_chunk USING hnsw (embedding %[2]s)
		WITH (m = %[3]d, ef_construction = %[4]d);
	`, spec.Dimension, ops, spec.M, spec.EfConstruction)

	if _, err := tx.Exec(ctx, query); err != nil {
		return unavailable(op, err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO rag_schema_version (version, dimension, model, metric)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (version) DO NOTHING`,
		schemaVersion, spec.Dimension, spec.Model, string(spec.Metric)); err != nil {
		return unavailable(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return unavailable(op, err)
	}
	p.metric = spec.Metric
	p.detectIterativeScan(ctx)
	p.logger.Info("schema ready", "version", schemaVersion, "dimension", spec.Dimension, "metric", spec.Metric)
	return nil
}

type indexRecord struct {
	Version   int
	Dimension int
	Model     string
	Metric    types.Metric
}

// compatible checks a recorded index against spec. A zero dimension or an
// empty model in spec is not checked.
func compatible(op string, rec indexRecord, spec types.IndexSpec) error {
	switch {
	case spec.Dimension > 0 && rec.Dimension != spec.Dimension:
		return types.Errorf(types.KindConfigurationError, op,
			"index was built for dimension %d, provider returns %d", rec.Dimension, spec.Dimension)
	case rec.Metric != spec.Metric:
		return types.Errorf(types.KindConfigurationError, op,
			"index uses metric %s, configured %s", rec.Metric, spec.Metric)
	case spec.Model != "" && rec.Model != spec.Model:
		return types.Errorf(types.KindConfigurationError, op,
			"index was built with model %q, configured %q", rec.Model, spec.Model)
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func describe(ctx context.Context, q querier) (*indexRecord, error) {
	var rec indexRecord
	var metric string
	err := q.QueryRow(ctx, `
		SELECT version, dimension, model, metric
		FROM rag_schema_version
		ORDER BY version DESC
		LIMIT 1`).Scan(&rec.Version, &rec.Dimension, &rec.Model, &metric)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("store.Init", err)
	}
	rec.Metric = types.Metric(metric)
	return &rec, nil
}

// columnDimension reads the declared vector dimension, 0 if the table is absent.
func columnDimension(ctx context.Context, q querier) (int, error) {
	var dim int
	err := q.QueryRow(ctx, `
		SELECT a.atttypmod
		FROM pg_attribute a
		WHERE a.attrelid = to_regclass('document_chunk')
		  AND a.attname = 'embedding'
		  AND NOT a.attisdropped`).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("store.Init", err)
	}
	return dim, nil
}

// UseIndex checks the recorded index against the model, dimension and metric
// a read-only process will query with, and scores results with that metric.
// A database where nothing was ingested yet is accepted.
func (p *PostgresStore) UseIndex(ctx context.Context, spec types.IndexSpec) error {
	rec, err := describe(ctx, p.pool)
	switch {
	case isUndefinedTable(err):
		p.logger.Warn("no index recorded yet, searches return nothing until ingest runs")
	case err != nil:
		return err
	case rec != nil:
		if err := compatible("store.UseIndex", *rec, spec); err != nil {
			return err
		}
	}
	p.metric = spec.Metric
	p.detectIterativeScan(ctx)
	return nil
}

// isUndefinedTable reports whether err is Postgres' undefined_table.
func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}

func (p *PostgresStore) detectIterativeScan(ctx context.Context) {
	var version string
	err := p.pool.QueryRow(ctx, `SELECT extversion FROM pg_extension WHERE extname = 'vector'`).Scan(&version)
	if err != nil {
		p.logger.Debug("pgvector version unknown", "error", err)
		p.iterativeScan = false
		return
	}
	p.iterativeScan = supportsIterativeScan(version)
	p.logger.Debug("pgvector detected", "version", version, "iterative_scan", p.iterativeScan)
}
