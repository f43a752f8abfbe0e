package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"ragingest/app/agent"
	"ragingest/config"
	"ragingest/loader/internal"
	"ragingest/loader/service"
	"ragingest/model"
	"ragingest/retrieval"
	"ragingest/types"
)

var (
	prune      bool
	noProgress bool
	settle     time.Duration
	question   string
	topK       int
	summary    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest the document root once and print a summary",
	RunE:  runIngest,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Ingest, then re-ingest whenever files under the root change",
	RunE:  runWatch,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Print the embedding dimension and the top results for a question",
	Long: `verify embeds a question, prints the closest chunks and, with --summary,
asks the configured LLM for an executive summary of them. Without -q it reads
questions from stdin until EOF or "exit".`,
	RunE:  runVerify,
}

func init() {
	runCmd.Flags().BoolVar(&prune, "prune", false, "remove stored documents that no longer exist under the root")
	runCmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the progress bar")

	watchCmd.Flags().BoolVar(&prune, "prune", false, "remove stored documents that no longer exist under the root")
	watchCmd.Flags().DurationVar(&settle, "settle", internal.DefaultSettleTime, "quiet period before re-ingesting")

	verifyCmd.Flags().StringVarP(&question, "question", "q", "", "question to search for")
	verifyCmd.Flags().IntVarP(&topK, "k", "k", retrieval.DefaultK, "number of results")
	verifyCmd.Flags().BoolVar(&summary, "summary", false, "summarize the results with the configured LLM")

	rootCmd.AddCommand(runCmd, watchCmd, verifyCmd)
}

func runOptions(cfg *config.Config) service.RunOptions {
	return service.RunOptions{
		Root:       rootDir,
		Collection: collection,
		Version:    docVersion,
		Prune:      prune || cfg.Ingest.Prune,
	}
}

func runIngest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	env, err := setup(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	opts := []service.Option{service.WithLogger(env.logger)}
	if !noProgress {
		opts = append(opts, service.WithProgress(newProgress()))
	}
	svc, err := service.New(env.cfg, env.store, env.embedder, opts...)
	if err != nil {
		return err
	}
	if _, err := svc.Prepare(ctx); err != nil {
		return err
	}

	report, err := svc.Run(ctx, runOptions(env.cfg))
	if err != nil && report.FilesScanned == 0 {
		return err
	}
	fmt.Fprintln(os.Stderr)
	report.Print(os.Stdout)
	if err != nil {
		return err
	}
	if report.Failed() {
		return errRunFailed
	}
	return nil
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	env, err := setup(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	svc, err := service.New(env.cfg, env.store, env.embedder, service.WithLogger(env.logger))
	if err != nil {
		return err
	}
	if _, err := svc.Prepare(ctx); err != nil {
		return err
	}
	return svc.Watch(ctx, runOptions(env.cfg), settle, func(r *types.Report) {
		r.Print(os.Stdout)
	})
}

func runVerify(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	env, err := setup(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	dim, err := model.Probe(ctx, env.embedder)
	if err != nil {
		return err
	}
	fmt.Printf("embedding model: %s (dimension %d)\n", env.embedder.Model(), dim)

	spec := types.IndexSpec{Dimension: dim, Model: env.embedder.Model(), Metric: types.Metric(env.cfg.Index.Metric)}
	if err := env.store.UseIndex(ctx, spec); err != nil {
		return err
	}
	r := retrieval.New(env.embedder, env.store,
		retrieval.WithLimits(env.cfg.Server.DefaultK, env.cfg.Server.MaxK),
		retrieval.WithLogger(env.logger),
	)
	var summarizer *agent.Summarizer
	if summary {
		summarizer = newSummarizer(env)
	}
	params := types.SearchParams{K: topK, Version: docVersion}
	if cmd.Flags().Changed("collection") {
		params.Collections = []string{collection}
	}

	if question != "" {
		params.Question = question
		return answer(ctx, r, summarizer, params)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("Question (or 'exit'): ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		q := strings.TrimSpace(scanner.Text())
		switch q {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		params.Question = q
		if err := answer(ctx, r, summarizer, params); err != nil {
			if ctx.Err() != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
}

func newSummarizer(env *environment) *agent.Summarizer {
	counter, err := model.NewCounter("tokens", env.cfg.Chunking.Encoding)
	if err != nil {
		env.logger.Warn("token encoding unavailable, measuring the prompt in characters", "error", err)
		counter = model.CharCounter{}
	}
	sc := env.cfg.Summary
	return agent.New(sc.URL, sc.Model,
		agent.WithLogger(env.logger),
		agent.WithCounter(counter),
		agent.WithPromptBudget(sc.MaxPromptTokens),
		agent.WithTemperature(sc.Temperature),
		agent.WithMaxTokens(sc.MaxTokens),
		agent.WithTimeout(sc.Timeout),
	)
}

func answer(ctx context.Context, r *retrieval.Retriever, summarizer *agent.Summarizer, params types.SearchParams) error {
	resp, err := r.Search(ctx, params)
	if err != nil {
		return err
	}

	if len(resp.Results) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	fmt.Printf("Found %d results for: %s\n\n", resp.Count, params.Question)
	docs := make([]string, 0, len(resp.Results))
	for i, res := range resp.Results {
		fmt.Printf("--- [%d] %s #%d [%s] (score: %.4f) ---\n", i+1, res.Path, res.Position, res.Collection, res.Score)
		fmt.Println(preview(res.Content, 300))
		fmt.Println()
		docs = append(docs, res.Content)
	}

	if summarizer == nil {
		return nil
	}
	text, err := summarizer.Summarize(ctx, params.Question, docs)
	if err != nil {
		return err
	}
	fmt.Println("=== Summary ===")
	fmt.Println(text)
	fmt.Println()
	return nil
}

func newProgress() service.ProgressFunc {
	var (
		mu  sync.Mutex
		bar *progressbar.ProgressBar
	)
	return func(done, total int, _ string) {
		mu.Lock()
		defer mu.Unlock()
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Ingesting[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
			)
		}
		_ = bar.Set(done)
	}
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
