package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"emprofiler/internal/dispatch"
)

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a catalog file against the built-in operations",
		Long: `Validate loads the built-in catalog plus the file given with --catalog
(or the catalog_file config setting) exactly as emp-server would at startup.
Any parse error, duplicate name, dangling binding or bad alias is reported
and the command exits non-zero.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, opts, 0)
			if err != nil {
				return err
			}

			pipelines := 0
			for _, t := range s.catalog.Dispatcher.Targets() {
				if t.Kind == dispatch.KindPipeline {
					pipelines++
				}
			}

			source := "built-in catalog"
			if s.catalogFile != "" {
				source = s.catalogFile
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s OK: %d operations, %d pipelines, %d aliases\n",
				source, s.catalog.Registry.Count(), pipelines, len(s.catalog.Dispatcher.Aliases()))
			return nil
		},
	}
}
