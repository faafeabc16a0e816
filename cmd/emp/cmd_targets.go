package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"emprofiler/internal/dispatch"
)

func newTargetsCmd(opts *rootOptions) *cobra.Command {
	var (
		asJSON  bool
		aliases bool
	)

	cmd := &cobra.Command{
		Use:   "targets",
		Short: "List dispatchable operations and pipelines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd, opts, 0)
			if err != nil {
				return err
			}
			if aliases {
				return printAliases(cmd, s.catalog.Dispatcher.Aliases(), asJSON)
			}
			return printTargets(cmd, s.catalog.Dispatcher.Targets(), asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	cmd.Flags().BoolVar(&aliases, "aliases", false, "List legacy aliases instead of targets")
	return cmd
}

func printTargets(cmd *cobra.Command, targets []dispatch.TargetInfo, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(targets)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tSTAGES\tDESCRIPTION")
	for _, t := range targets {
		stages := "-"
		if t.Kind == dispatch.KindPipeline {
			stages = fmt.Sprint(len(t.Stages))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Name, t.Kind, stages, t.Description)
	}
	return w.Flush()
}

func printAliases(cmd *cobra.Command, aliases map[string]string, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(aliases)
	}

	names := make([]string, 0, len(aliases))
	for alias := range aliases {
		names = append(names, alias)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALIAS\tTARGET")
	for _, alias := range names {
		fmt.Fprintf(w, "%s\t%s\n", alias, aliases[alias])
	}
	return w.Flush()
}
