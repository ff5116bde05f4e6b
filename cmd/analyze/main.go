// Command analyze runs the insight rules over normalized credit report files.
//
// Usage:
//
//	analyze -rules rules.yaml -format text -out ./reports report1.json [report2.json ...]
//
// For each input it writes report_<name>.json into the output directory and
// prints a summary. An invalid rule set exits with status 1 before any file
// is read.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/creditsight/internal/aggregate"
	"github.com/opensource-finance/creditsight/internal/condition"
	"github.com/opensource-finance/creditsight/internal/domain"
	"github.com/opensource-finance/creditsight/internal/normalize"
	"github.com/opensource-finance/creditsight/internal/rules"
	"github.com/opensource-finance/creditsight/internal/schema"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	rulesPath      string
	format         string
	outDir         string
	currency       string
	includeRecords bool
	parallel       int
	verbose        bool
	files          []string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{}
	fs.StringVar(&opts.rulesPath, "rules", "", "rule definition file (JSON or YAML); empty uses the embedded rules")
	fs.StringVar(&opts.format, "format", "text", "stdout format: text or json")
	fs.StringVar(&opts.outDir, "out", ".", "directory for report_<name>.json files")
	fs.StringVar(&opts.currency, "currency", "RM", "currency prefix for money values")
	fs.BoolVar(&opts.includeRecords, "include-records", false, "attach the matched record to each insight")
	fs.IntVar(&opts.parallel, "parallel", 4, "number of files processed concurrently")
	fs.BoolVar(&opts.verbose, "v", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	opts.files = fs.Args()

	if len(opts.files) == 0 {
		return nil, errors.New("at least one input file is required")
	}
	if opts.format != "text" && opts.format != "json" {
		return nil, fmt.Errorf("unsupported format %q", opts.format)
	}
	if opts.parallel < 1 {
		opts.parallel = 1
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "analyze: %v\n", err)
		return 2
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))

	engine, err := buildEngine(opts)
	if err != nil {
		fmt.Fprintf(stderr, "analyze: %v\n", err)
		return 1
	}

	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		fmt.Fprintf(stderr, "analyze: cannot create output directory: %v\n", err)
		return 1
	}

	normalizer := normalize.New(schema.Default())
	aggregator := aggregate.New()

	var (
		mu     sync.Mutex
		failed atomic.Int32
		g      errgroup.Group
	)
	g.SetLimit(opts.parallel)

	for _, path := range opts.files {
		g.Go(func() error {
			out, err := processFile(ctx, path, opts, engine, normalizer, aggregator)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed.Add(1)
				fmt.Fprintf(stderr, "analyze: %s: %v\n", path, err)
				return nil
			}
			stdout.Write(out)
			return nil
		})
	}
	g.Wait()

	if n := failed.Load(); n > 0 {
		fmt.Fprintf(stderr, "analyze: %d of %d files failed\n", n, len(opts.files))
		return 1
	}
	return 0
}

func buildEngine(opts *options) (*rules.Engine, error) {
	var (
		ruleSet []domain.Rule
		err     error
	)
	if opts.rulesPath != "" {
		ruleSet, err = rules.LoadFile(opts.rulesPath)
	} else {
		ruleSet, err = rules.BuiltinRules()
	}
	if err != nil {
		return nil, err
	}

	s := schema.Default()
	evaluator, err := condition.New(s, domain.DefaultConfig().Evaluator)
	if err != nil {
		return nil, err
	}
	return rules.NewEngine(s, evaluator, ruleSet, rules.Options{
		CurrencyPrefix: opts.currency,
		IncludeRecords: opts.includeRecords,
	})
}

// processFile analyzes one input and returns what should go to stdout.
func processFile(ctx context.Context, path string, opts *options, engine *rules.Engine, normalizer *normalize.Normalizer, aggregator *aggregate.Aggregator) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data, err := normalizer.Decode(raw)
	if err != nil {
		return nil, err
	}

	insights, diag := engine.Process(ctx, data)
	report := aggregator.Aggregate(ctx, &aggregate.Input{
		PersonalInfo: data.PersonalInfo,
		Insights:     insights,
		Diagnostics:  diag,
	})

	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	dest := filepath.Join(opts.outDir, "report_"+stem(path)+".json")
	if err := os.WriteFile(dest, encoded, 0o644); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if opts.format == "json" {
		buf.Write(encoded)
		buf.WriteByte('\n')
		return buf.Bytes(), nil
	}

	fmt.Fprintf(&buf, "\n%s -> %s\n", path, dest)
	if err := aggregate.WriteText(&buf, report); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
