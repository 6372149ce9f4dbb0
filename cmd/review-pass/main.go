// Command review-pass runs one offline review pass over a CSV or JSONL dataset
// and prints a summary report.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/miradorstack/agentic-reviewer/internal/app"
	"github.com/miradorstack/agentic-reviewer/internal/config"
	"github.com/miradorstack/agentic-reviewer/internal/dataset"
	"github.com/miradorstack/agentic-reviewer/internal/insights"
	"github.com/miradorstack/agentic-reviewer/internal/models"
	"github.com/miradorstack/agentic-reviewer/internal/utils"
)

type options struct {
	configPath string
	dataPath   string
	strategy   string
	threshold  float64
	count      int
	seed       int64
	seedSet    bool
	mode       string
	outPath    string
	topN       int
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("review-pass", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "Path to configuration file")
	fs.StringVar(&o.dataPath, "data", "", "Dataset to review (.csv, .jsonl or .ndjson)")
	fs.StringVar(&o.strategy, "strategy", "", "Selection strategy: low_confidence, random or all (default from config)")
	fs.Float64Var(&o.threshold, "threshold", 0, "Confidence threshold for low_confidence")
	fs.IntVar(&o.count, "count", 0, "Sample count for random")
	fs.Int64Var(&o.seed, "seed", 0, "Seed for random selection")
	fs.StringVar(&o.mode, "mode", "", "Agent mode: unified or specialist (default from config)")
	fs.StringVar(&o.outPath, "out", "", "Write every result as JSON lines to this file")
	fs.IntVar(&o.topN, "top", 5, "Number of relabel patterns to print")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			o.seedSet = true
		}
	})
	if o.dataPath == "" {
		return o, fmt.Errorf("-data is required")
	}
	return o, nil
}

// strategyRequest fills unset flags from the configured selection defaults.
func (o options) strategyRequest(sel config.SelectionConfig) models.StrategyRequest {
	req := models.StrategyRequest{Kind: o.strategy, Threshold: o.threshold, Count: o.count}
	if req.Kind == "" {
		req.Kind = sel.Strategy
	}
	if req.Threshold == 0 {
		req.Threshold = sel.Threshold
	}
	if req.Count == 0 {
		req.Count = sel.Count
	}
	if o.seedSet {
		seed := o.seed
		req.Seed = &seed
	} else {
		req.Seed = sel.Seed
	}
	return req
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(opts, os.Stdout); err != nil {
		slog.Error("review pass failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(opts options, stdout io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger := utils.NewLoggerTo(os.Stderr, cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)

	samples, err := dataset.Load(opts.dataPath)
	if err != nil {
		return err
	}
	logger.Info("dataset loaded", slog.String("path", opts.dataPath), slog.Int("samples", len(samples)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reviewer, err := app.New(ctx, *cfg, logger, app.WithRegistry(prometheus.NewRegistry()))
	if err != nil {
		return err
	}
	defer func() {
		if err := reviewer.Close(context.Background()); err != nil {
			logger.Warn("close", slog.Any("error", err))
		}
	}()

	resp, err := reviewer.Service.ReviewBatch(ctx, models.BatchReviewRequest{
		Samples:  samples,
		Strategy: opts.strategyRequest(cfg.Selection),
		Mode:     opts.mode,
	})
	if err != nil {
		return err
	}

	if opts.outPath != "" {
		if err := writeResults(opts.outPath, resp.Results); err != nil {
			return err
		}
		logger.Info("results written", slog.String("path", opts.outPath))
	}
	return report(stdout, resp, reviewer.Service.CacheStats(), opts.topN)
}

func writeResults(path string, results []models.ReviewResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return fmt.Errorf("encode result %s: %w", r.SampleID, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func report(out io.Writer, resp models.BatchReviewResponse, stats models.CacheStats, topN int) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "pass\t%s\n", resp.PassID)
	fmt.Fprintf(tw, "strategy\t%s\n", resp.Strategy)
	fmt.Fprintf(tw, "mode\t%s\n", resp.Mode)
	if resp.Notice != "" {
		fmt.Fprintf(tw, "notice\t%s\n", resp.Notice)
	}
	sel := resp.Selection
	fmt.Fprintf(tw, "selected\t%d of %d (%.1f%%)\n", sel.Selected, sel.Original, sel.SelectionRate*100)
	fmt.Fprintf(tw, "avg confidence\t%.3f selected, %.3f overall\n", sel.AvgConfidenceSelected, sel.AvgConfidenceOriginal)

	sum := resp.Summary
	fmt.Fprintf(tw, "reviewed\t%d ok, %d failed, %d cached\n", sum.Succeeded, sum.Failed, sum.Cached)
	for _, v := range []models.Verdict{models.VerdictAgree, models.VerdictDisagree, models.VerdictUncertain} {
		fmt.Fprintf(tw, "  %s\t%d\n", v, sum.Verdicts[v])
	}
	fmt.Fprintf(tw, "tokens\t%d\n", sum.TokensUsed)
	fmt.Fprintf(tw, "cache\t%d hits, %d misses, %.1f%% hit rate\n", stats.Hits, stats.Misses, stats.HitRate*100)

	if top := insights.TopRelabels(sum, topN); len(top) > 0 {
		fmt.Fprintln(tw, "suggested relabels")
		for _, p := range top {
			fmt.Fprintf(tw, "  %s -> %s\t%d (%.0f%%)\n", p.From, p.To, p.Count, p.Share*100)
		}
	}
	return tw.Flush()
}
