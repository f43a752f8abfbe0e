package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ragingest/app/mcp"
	"ragingest/app/server"
	"ragingest/config"
	"ragingest/model"
	"ragingest/retrieval"
	"ragingest/store"
	"ragingest/types"
)

var (
	cfgFile  string
	dsn      string
	addr     string
	mcpHTTP  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "ragserver",
	Short: "Serve similarity search over ingested documents",
	Long: `ragserver answers questions against the chunk table written by ingest.
It never writes to the store.

Examples:
  ragserver serve --addr :8080
  ragserver mcp
  ragserver mcp --http :8090`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP search API",
	RunE:  runServe,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Expose search as MCP tools over stdio or streamable HTTP",
	RunE:  runMCP,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is rag.yaml in the working directory)")
	pf.StringVar(&dsn, "dsn", "", "Postgres connection string")
	pf.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")

	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	mcpCmd.Flags().StringVar(&mcpHTTP, "http", "", "serve streamable HTTP on this address instead of stdio")

	rootCmd.AddCommand(serveCmd, mcpCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type environment struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.PostgresStore
	retriever *retrieval.Retriever
}

func setup(ctx context.Context) (*environment, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
	} else {
		cfg, err = config.LoadFromDir(".")
	}
	if err != nil {
		return nil, err
	}
	if dsn != "" {
		cfg.Postgres.DSN = dsn
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// stdout carries the MCP stdio stream, so logs always go to stderr.
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
	dim := cfg.Embedding.Dimension
	if dim == 0 {
		if dim, err = model.Probe(ctx, embedder); err != nil {
			logger.Warn("embedding provider unreachable, index dimension not checked", "error", err)
			dim = 0
		}
	}
	spec := types.IndexSpec{Dimension: dim, Model: embedder.Model(), Metric: types.Metric(cfg.Index.Metric)}
	if err := st.UseIndex(ctx, spec); err != nil {
		_ = st.Close()
		return nil, err
	}

	r := retrieval.New(embedder, st,
		retrieval.WithLimits(cfg.Server.DefaultK, cfg.Server.MaxK),
		retrieval.WithLogger(logger),
	)
	return &environment{cfg: cfg, logger: logger, store: st, retriever: r}, nil
}

func (e *environment) Close() {
	if err := e.store.Close(); err != nil {
		e.logger.Warn("closing database pool", "error", err)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	env, err := setup(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	s := server.NewServer(env.cfg, env.retriever, env.logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Run()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	env.logger.Info("received shutdown signal, shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Stop(shutdownCtx)
}

func runMCP(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	env, err := setup(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	s, err := mcp.NewServer(env.retriever, env.logger)
	if err != nil {
		return err
	}
	if mcpHTTP != "" {
		return s.RunHTTP(ctx, mcpHTTP)
	}
	return s.Run(ctx)
}
