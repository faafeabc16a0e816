package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v2"

	"emprofiler/internal/catalog"
	"emprofiler/internal/operations"
)

const defaultBatchConcurrency = 4

// batchFile lists the runs of a batch
//
//	concurrency: 2
//	runs:
//	  - name: alpha
//	    target: alpha-diversity
//	    params: {metric: shannon}
//	    out: results/alpha.xlsx
type batchFile struct {
	Concurrency int          `yaml:"concurrency"`
	Runs        []batchEntry `yaml:"runs"`
}

type batchEntry struct {
	Name   string                 `yaml:"name"`
	Target string                 `yaml:"target"`
	Params map[string]interface{} `yaml:"params"`
	Out    string                 `yaml:"out"`
	Format string                 `yaml:"format"`
}

type batchResult struct {
	Name    string
	Target  string
	RunID   string
	Status  string
	Elapsed time.Duration
	Detail  string
	Err     error
}

func (r batchResult) succeeded() bool {
	return r.Err == nil && r.Status == string(operations.RunSucceeded)
}

type batchOptions struct {
	concurrency  int
	failFast     bool
	stageTimeout time.Duration
}

func newBatchCmd(opts *rootOptions) *cobra.Command {
	flags := &batchOptions{}
	cmd := &cobra.Command{
		Use:   "batch <file>",
		Short: "Run every entry of a batch file concurrently",
		Long: `Batch reads a YAML file listing runs (name, target, params, out, format)
and dispatches them concurrently. Each run's report is written to its out
file when one is given. A summary table is printed when every run is done.

With --fail-fast the first rejected or failed run cancels the rest.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, opts, flags, args[0])
		},
	}

	f := cmd.Flags()
	f.IntVarP(&flags.concurrency, "concurrency", "c", 0, "Runs in flight at once (default: file setting, else 4)")
	f.BoolVar(&flags.failFast, "fail-fast", false, "Cancel remaining runs after the first failure")
	f.DurationVar(&flags.stageTimeout, "stage-timeout", 0, "Default timeout per stage, e.g. 30m")
	return cmd
}

func loadBatchFile(path string) (*batchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	var file batchFile
	if err := yaml.UnmarshalStrict(data, &file); err != nil {
		return nil, fmt.Errorf("parse batch file: %w", err)
	}
	if len(file.Runs) == 0 {
		return nil, errors.New("batch file has no runs")
	}
	for i := range file.Runs {
		entry := &file.Runs[i]
		if entry.Target == "" {
			return nil, fmt.Errorf("run %d has no target", i+1)
		}
		if entry.Name == "" {
			entry.Name = fmt.Sprintf("%s#%d", entry.Target, i+1)
		}
	}
	return &file, nil
}

func runBatch(cmd *cobra.Command, opts *rootOptions, flags *batchOptions, path string) error {
	file, err := loadBatchFile(path)
	if err != nil {
		return err
	}

	concurrency := flags.concurrency
	if concurrency <= 0 {
		concurrency = file.Concurrency
	}
	if concurrency <= 0 {
		concurrency = defaultBatchConcurrency
	}

	s, err := newSession(cmd, opts, flags.stageTimeout)
	if err != nil {
		return err
	}

	results := make([]batchResult, len(file.Runs))
	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(concurrency)
	for i, entry := range file.Runs {
		g.Go(func() error {
			results[i] = runBatchEntry(ctx, s, entry)
			if flags.failFast && !results[i].succeeded() {
				return fmt.Errorf("%s did not succeed", entry.Name)
			}
			return nil
		})
	}
	// Failures are reported per run below
	_ = g.Wait()

	failed := 0
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTARGET\tSTATUS\tRUN ID\tELAPSED\tDETAIL")
	for _, r := range results {
		if !r.succeeded() {
			failed++
		}
		runID := r.RunID
		if runID == "" {
			runID = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Name, r.Target, r.Status, runID, r.Elapsed.Round(time.Millisecond), r.Detail)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	s.logger.Info("batch_complete",
		slog.Int("runs", len(results)),
		slog.Int("failed", failed),
		slog.Int("concurrency", concurrency))

	if failed > 0 {
		return fmt.Errorf("%d of %d runs did not succeed", failed, len(results))
	}
	return nil
}

// runBatchEntry dispatches one entry and writes its report
func runBatchEntry(ctx context.Context, s *session, entry batchEntry) batchResult {
	result := batchResult{Name: entry.Name, Target: entry.Target}

	if err := ctx.Err(); err != nil {
		result.Status = "skipped"
		result.Detail = "batch cancelled"
		result.Err = err
		return result
	}

	format, err := resolveFormat(entry.Format, entry.Out)
	if err != nil {
		result.Status = "rejected"
		result.Detail = err.Error()
		result.Err = err
		return result
	}

	report, err := s.catalog.Dispatcher.Dispatch(ctx, entry.Target, catalog.NormalizeParams(entry.Params))
	if err != nil {
		result.Status = "rejected"
		result.Detail = fmt.Sprintf("%s: %v", operations.KindOf(err), err)
		result.Err = err
		return result
	}

	result.RunID = report.ID
	result.Status = string(report.Status)
	result.Elapsed = report.Elapsed()
	if failure := report.Failure(); failure != nil {
		result.Detail = fmt.Sprintf("%s: %s", failure.Kind, failure.Message)
	}

	if entry.Out != "" {
		path, err := s.files.ExportTo(entry.Out, report, format)
		if err != nil {
			result.Detail = err.Error()
			result.Err = err
			return result
		}
		if result.Detail == "" {
			result.Detail = path
		}
	}
	return result
}
