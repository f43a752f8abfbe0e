package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ragingest/config"
	"ragingest/model"
	"ragingest/store"
)

var (
	cfgFile    string
	dsn        string
	rootDir    string
	collection string
	docVersion string
	workers    int
	logLevel   string
)

// errRunFailed marks a run that completed with failed documents; the summary
// has already been printed.
var errRunFailed = errors.New("one or more documents failed")

var rootCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Incrementally ingest a documentation tree into a pgvector store",
	Long: `ingest walks a folder of markdown and text files, splits them into
heading-bounded chunks, embeds only new or changed chunks and reconciles them
with the chunk table in Postgres. Running it again on an unchanged tree
writes nothing.

Examples:
  ingest run --root ./docs --collection docs --version v1
  ingest run --root ./docs --collection docs --prune
  ingest watch --root ./docs --collection docs
  ingest verify -q "how do I rotate keys?"
  ingest verify --summary`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is rag.yaml in --root)")
	pf.StringVar(&dsn, "dsn", "", "Postgres connection string (overrides config and PG_* variables)")
	pf.StringVarP(&rootDir, "root", "r", ".", "document root")
	pf.StringVarP(&collection, "collection", "c", "docs", "collection name")
	pf.StringVar(&docVersion, "version", "v1", "version label")
	pf.IntVarP(&workers, "workers", "w", 0, "documents processed concurrently (default from config)")
	pf.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errRunFailed) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

type environment struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.PostgresStore
	embedder model.Embedder
}

func (e *environment) Close() {
	if err := e.store.Close(); err != nil {
		e.logger.Warn("closing database pool", "error", err)
	}
}

// setup loads configuration, applies flags, and connects to Postgres and
// the embedding provider.
func setup(ctx context.Context) (*environment, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
	} else {
		cfg, err = config.LoadFromDir(rootDir)
	}
	if err != nil {
		return nil, err
	}
	if dsn != "" {
		cfg.Postgres.DSN = dsn
	}
	if workers > 0 {
		cfg.Ingest.Workers = workers
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := config.NewLogger(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	embedder, err := model.NewEmbedder(cfg, logger)
	if err != nil {
		return nil, err
	}

	st, err := store.NewPostgresStore(ctx, cfg.ConnString(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect to Postgres: %w", err)
	}

	return &environment{cfg: cfg, logger: logger, store: st, embedder: embedder}, nil
}
