package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"ragingest/config"
	"ragingest/loader/internal"
	"ragingest/loader/upsert"
	"ragingest/model"
	"ragingest/store"
	"ragingest/types"
)

// Storer is the storage surface the ingestion service needs.
type Storer interface {
	store.ChunkStorer
	store.IndexManager
}

// RunOptions select what one ingestion run covers.
type RunOptions struct {
	Root       string
	Collection string
	Version    string
	Prune      bool
}

// ProgressFunc is called after each document with the number done so far.
type ProgressFunc func(done, total int, path string)

type Service struct {
	cfg      *config.Config
	store    Storer
	embedder model.Embedder
	engine   *upsert.Engine
	chunker  *internal.Chunker
	walker   *internal.Walker
	logger   *slog.Logger
	progress ProgressFunc
	workers  int

	dimension int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithWorkers sets how many documents are processed concurrently.
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithProgress(fn ProgressFunc) Option {
	return func(s *Service) {
		s.progress = fn
	}
}

func New(cfg *config.Config, st Storer, embedder model.Embedder, opts ...Option) (*Service, error) {
	chunker, err := internal.ChunkerFromConfig(cfg.Chunking)
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:      cfg,
		store:    st,
		embedder: embedder,
		chunker:  chunker,
		walker:   internal.NewWalker(cfg.Ingest.Extensions, cfg.Ingest.Excludes),
		logger:   slog.Default(),
		workers:  cfg.Ingest.Workers,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.workers < 1 {
		s.workers = 1
	}
	s.logger = s.logger.With("component", "ingest")
	s.engine = upsert.New(st, s.logger)
	return s, nil
}

// Prepare asks the provider once for its embedding dimension, checks it
// against a configured dimension, and makes sure the index exists and
// matches it. Any error here is fatal for the run.
func (s *Service) Prepare(ctx context.Context) (types.IndexSpec, error) {
	var dim int
	err := retryUnavailable(ctx, s.logger, s.cfg.Embedding.Retries, s.cfg.Embedding.RetryDelay, func() error {
		var err error
		dim, err = model.Probe(ctx, s.embedder)
		return err
	})
	if err != nil {
		return types.IndexSpec{}, err
	}
	if want := s.cfg.Embedding.Dimension; want > 0 && want != dim {
		return types.IndexSpec{}, types.Errorf(types.KindConfigurationError, "ingest.Prepare",
			"model %s returns %d dimensions, configured %d", s.embedder.Model(), dim, want)
	}
	s.logger.Info("embedding dimension detected", "model", s.embedder.Model(), "dimension", dim)

	spec := types.IndexSpec{
		Dimension:      dim,
		Model:          s.embedder.Model(),
		Metric:         types.Metric(s.cfg.Index.Metric),
		M:              s.cfg.Index.M,
		EfConstruction: s.cfg.Index.EfConstruction,
	}
	if err := s.store.Init(ctx, spec); err != nil {
		return types.IndexSpec{}, err
	}
	s.dimension = dim
	return spec, nil
}

// Run ingests every eligible file under the root. Per-document failures are
// recorded in the report and never stop the run. The returned error is
// non-nil only when the run could not start or was cancelled.
func (s *Service) Run(ctx context.Context, opts RunOptions) (*types.Report, error) {
	start := time.Now()
	report := &types.Report{}

	if opts.Version == "" {
		opts.Version = "v1"
	}
	if strings.TrimSpace(opts.Collection) == "" {
		return report, types.Errorf(types.KindConfigurationError, "ingest.Run", "collection name is required")
	}
	rule, err := internal.NewCollectionRule(s.cfg.Ingest.CollectionRule, opts.Collection)
	if err != nil {
		return report, err
	}
	if s.dimension == 0 {
		if _, err := s.Prepare(ctx); err != nil {
			return report, err
		}
	}

	files, err := s.walker.Walk(opts.Root)
	if err != nil {
		return report, err
	}
	s.logger.Info("ingestion started",
		"root", opts.Root,
		"collection", opts.Collection,
		"version", opts.Version,
		"files", len(files),
		"workers", s.workers,
	)

	jobs := make([]job, len(files))
	seen := make(map[types.DocumentKey]bool, len(files))
	for i, f := range files {
		key := types.DocumentKey{
			Path:       filepath.ToSlash(f.Path),
			Collection: rule(f.RelPath),
			Version:    opts.Version,
		}
		jobs[i] = job{file: f, key: key}
		seen[key] = true
	}

	results := s.process(ctx, jobs)
	for _, res := range results {
		report.Add(res)
	}

	if ctx.Err() == nil && opts.Prune {
		s.prune(ctx, opts, seen, report)
	}

	report.Duration = time.Since(start)
	s.logger.Info("ingestion finished",
		"files", report.FilesScanned,
		"skipped", report.FilesSkipped,
		"inserted", report.ChunksInserted,
		"updated", report.ChunksUpdated,
		"unchanged", report.ChunksUnchanged,
		"deleted", report.ChunksDeleted,
		"errors", report.Errors(),
		"duration", report.Duration,
	)
	return report, ctx.Err()
}

type job struct {
	file internal.FileInfo
	key  types.DocumentKey
}

// process runs jobs in order, or on an ants pool when more than one worker
// is configured. Results keep the order of jobs.
func (s *Service) process(ctx context.Context, jobs []job) []types.FileResult {
	results := make([]types.FileResult, len(jobs))
	var (
		mu   sync.Mutex
		done int
	)
	finish := func(i int, res types.FileResult) {
		results[i] = res
		if s.progress == nil {
			return
		}
		mu.Lock()
		done++
		s.progress(done, len(jobs), res.Path)
		mu.Unlock()
	}

	if s.workers == 1 {
		for i, j := range jobs {
			if ctx.Err() != nil {
				return results[:i]
			}
			finish(i, s.IngestFile(ctx, j.file, j.key))
		}
		return results
	}

	pool, err := ants.NewPool(s.workers)
	if err != nil {
		s.logger.Warn("worker pool unavailable, processing sequentially", "error", err)
		s.workers = 1
		return s.process(ctx, jobs)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	submitted := 0
	for i, j := range jobs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			finish(i, s.IngestFile(ctx, j.file, j.key))
		}); err != nil {
			wg.Done()
			finish(i, types.FileResult{Path: j.file.RelPath, Err: types.WithPath(err, types.KindStorageUnavailable, j.file.RelPath)})
		}
		submitted = i + 1
	}
	wg.Wait()
	return results[:submitted]
}

// IngestFile brings the stored chunks of one document in line with the file.
func (s *Service) IngestFile(ctx context.Context, f internal.FileInfo, key types.DocumentKey) types.FileResult {
	res := types.FileResult{Path: f.RelPath}
	logger := s.logger.With("path", f.RelPath, "collection", key.Collection)

	data, err := internal.ReadDocument(f.Path)
	if err != nil {
		logger.Warn("document skipped", "error", err)
		res.Err = types.WithPath(err, types.KindInvalidDocument, f.RelPath)
		return res
	}

	doc := types.Document{
		Key:         key,
		RelPath:     f.RelPath,
		Fingerprint: internal.DocumentFingerprint(data, s.settings()),
		ModifiedAt:  f.ModTime,
		Metadata:    internal.Metadata(f.RelPath),
	}

	if s.cfg.Ingest.SkipUnchanged {
		st, err := s.store.DocumentState(ctx, key)
		if err != nil {
			res.Err = types.WithPath(err, types.KindStorageUnavailable, f.RelPath)
			return res
		}
		if st != nil && st.Fingerprint == doc.Fingerprint {
			logger.Debug("document unchanged")
			res.Skipped = true
			res.Unchanged = st.ChunkCount
			return res
		}
	}

	texts := s.chunker.Split(string(data))
	chunks := make([]types.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = types.Chunk{
			Key:         key,
			Position:    i,
			Content:     text,
			Size:        s.chunker.Count(text),
			Fingerprint: internal.FingerprintString(text),
			Metadata:    doc.Metadata,
		}
	}

	plan, err := s.engine.Plan(ctx, doc, chunks)
	if err != nil {
		res.Err = types.WithPath(err, types.KindStorageUnavailable, f.RelPath)
		return res
	}
	if err := s.embed(ctx, plan.Pending()); err != nil {
		logger.Error("embedding failed", "error", err)
		res.Err = types.WithPath(err, types.KindProviderError, f.RelPath)
		return res
	}
	if err := s.engine.Apply(ctx, plan); err != nil {
		logger.Error("store write failed", "error", err)
		res.Err = types.WithPath(err, types.KindStorageUnavailable, f.RelPath)
		return res
	}

	res = plan.Result(f.RelPath)
	logger.Info("document ingested",
		"chunks", len(chunks),
		"inserted", res.Inserted,
		"updated", res.Updated,
		"unchanged", res.Unchanged,
		"deleted", res.Deleted,
	)
	return res
}

// embed fills in embeddings for pending chunks in provider-sized batches.
func (s *Service) embed(ctx context.Context, pending []*types.Chunk) error {
	size := s.cfg.Embedding.BatchSize
	if size < 1 {
		size = len(pending)
	}
	for start := 0; start < len(pending); start += size {
		batch := pending[start:min(start+size, len(pending))]
		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		var vecs [][]float32
		err := retryUnavailable(ctx, s.logger, s.cfg.Embedding.Retries, s.cfg.Embedding.RetryDelay, func() error {
			var err error
			vecs, err = s.embedder.Embed(ctx, texts)
			return err
		})
		if err != nil {
			return err
		}
		if len(vecs) != len(batch) {
			return types.Errorf(types.KindProviderError, "ingest.embed", "expected %d vectors, got %d", len(batch), len(vecs))
		}
		for i, c := range batch {
			if s.dimension > 0 && len(vecs[i]) != s.dimension {
				return types.Errorf(types.KindProviderError, "ingest.embed", "vector has dimension %d, index expects %d", len(vecs[i]), s.dimension)
			}
			c.Embedding = vecs[i]
		}
	}
	return nil
}

// prune removes stored documents under the root that were not seen on disk.
func (s *Service) prune(ctx context.Context, opts RunOptions, seen map[types.DocumentKey]bool, report *types.Report) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return
	}
	prefix := strings.TrimSuffix(filepath.ToSlash(root), "/") + "/"

	docs, err := s.store.ListDocuments(ctx, opts.Version, prefix)
	if err != nil {
		report.Failures = append(report.Failures, types.Failure{Path: opts.Root, Kind: types.KindOf(err), Err: err})
		return
	}
	fixed := s.cfg.Ingest.CollectionRule != internal.RuleTopFolder
	for _, d := range docs {
		if seen[d.Key] || (fixed && d.Key.Collection != opts.Collection) {
			continue
		}
		n, err := s.engine.Remove(ctx, d.Key)
		if err != nil {
			rel := strings.TrimPrefix(d.Key.Path, prefix)
			report.Failures = append(report.Failures, types.Failure{Path: rel, Kind: types.KindOf(err), Err: err})
			continue
		}
		report.FilesPruned++
		report.ChunksDeleted += n
	}
}

// Watch runs once, then again whenever files under the root change, until
// ctx is cancelled. onReport receives every run's report.
func (s *Service) Watch(ctx context.Context, opts RunOptions, settle time.Duration, onReport func(*types.Report)) error {
	run := func(ctx context.Context) error {
		report, err := s.Run(ctx, opts)
		if onReport != nil {
			onReport(report)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
	if err := run(ctx); err != nil {
		if types.KindOf(err) == types.KindConfigurationError {
			return err
		}
		s.logger.Error("initial run failed", "error", err)
	}

	w := internal.NewWatcher(opts.Root, s.walker, settle, s.logger)
	return w.Run(ctx, run)
}

// settings is folded into document fingerprints so that changing how
// documents are chunked or embedded re-processes them.
func (s *Service) settings() string {
	return fmt.Sprintf("%s;model=%s;dim=%d", s.chunker.Signature(), s.embedder.Model(), s.dimension)
}
