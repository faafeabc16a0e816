package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"emprofiler/internal/catalog"
	"emprofiler/internal/config"
	"emprofiler/internal/exporter"
	"emprofiler/internal/infrastructure"
	"emprofiler/internal/operations"
)

// session is the configuration, logger and catalog a subcommand runs against
type session struct {
	cfg         *config.Config
	logger      *slog.Logger
	catalog     *catalog.Catalog
	catalogFile string
	files       *exporter.FileExporter
}

// newSession loads configuration and builds the catalog. A positive
// stageTimeout overrides the configured default stage timeout.
func newSession(cmd *cobra.Command, opts *rootOptions, stageTimeout time.Duration) (*session, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configFile != "" {
		cfg, err = config.LoadFile(opts.configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if stageTimeout > 0 {
		cfg.Executor.DefaultStageTimeout = stageTimeout
	}

	logger := infrastructure.NewLogger(config.LoggingConfig{
		Level:  opts.logLevel,
		Format: "text",
	}, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	paths, err := cfg.ResolvePaths()
	if err != nil {
		return nil, err
	}

	catalogFile := opts.catalogFile
	if catalogFile == "" {
		catalogFile = cfg.Executor.CatalogFile
	}

	executor := operations.NewExecutor(catalog.NewExecutorConfig(cfg.Executor), operations.WithLogger(logger))
	cat, err := catalog.Build(catalog.Options{
		CatalogFile: catalogFile,
		Executor:    executor,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	return &session{
		cfg:         cfg,
		logger:      logger,
		catalog:     cat,
		catalogFile: catalogFile,
		files:       exporter.NewFileExporter(paths),
	}, nil
}

// parseParamFlags turns repeated k=v flags into params. Values are decoded
// as inline YAML; quote a value to keep it a string.
func parseParamFlags(params operations.Params, flags []string) error {
	for _, flag := range flags {
		key, value, ok := strings.Cut(flag, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return fmt.Errorf("invalid --param %q: expected key=value", flag)
		}
		params[key] = catalog.ParseValue(value)
	}
	return nil
}

// loadParamsFile reads a YAML or JSON params document
func loadParamsFile(path string) (operations.Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read params file: %w", err)
	}
	return catalog.ParseParams(data)
}

// resolveFormat picks the export format from the flag value, falling back
// to the output file extension and then JSON
func resolveFormat(name, out string) (exporter.Format, error) {
	if name == "" && out != "" {
		if ext := strings.TrimPrefix(filepath.Ext(out), "."); ext != "" {
			if format, err := exporter.ParseFormat(ext); err == nil {
				return format, nil
			}
		}
	}
	return exporter.ParseFormat(name)
}

// describeOutcome is the one-line summary of a finished run
func describeOutcome(report *operations.RunReport) string {
	line := fmt.Sprintf("run %s %s in %s", report.ID, report.Status, report.Elapsed().Round(time.Millisecond))
	if failure := report.Failure(); failure != nil {
		line += ": " + failure.Message
	}
	return line
}
