// emp runs EasyMultiProfiler analyses from the command line.
//
// Usage:
//
//	emp targets [--json]
//	emp run <target> [--param k=v]... [--params-file f.yaml] [--format json|xlsx|csv] [--out FILE]
//	emp batch <file> [--concurrency N] [--fail-fast]
//	emp validate [--catalog FILE]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

// rootOptions are the flags shared by every subcommand
type rootOptions struct {
	configFile  string
	catalogFile string
	logLevel    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "emp",
		Short: "Run EasyMultiProfiler analyses and pipelines",
		Long: `emp dispatches single analyses and multi-stage pipelines against the
built-in operation catalog, optionally extended with a YAML catalog file.

Reports are written as JSON, Excel or CSV. The server counterpart is
emp-server, which exposes the same targets over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "Config file (default: $EMP_CONFIG_FILE or configs/config.yaml)")
	pf.StringVar(&opts.catalogFile, "catalog", "", "YAML catalog with extra operations, pipelines and aliases")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn or error")

	root.AddCommand(
		newTargetsCmd(opts),
		newRunCmd(opts),
		newBatchCmd(opts),
		newValidateCmd(opts),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
