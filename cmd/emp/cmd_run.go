package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"emprofiler/internal/exporter"
	"emprofiler/internal/operations"
)

type runOptions struct {
	params       []string
	paramsFile   string
	format       string
	out          string
	save         bool
	stageTimeout time.Duration
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	flags := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <target>",
		Short: "Run one analysis or pipeline and write its report",
		Long: `Run dispatches a target (a pipeline, a legacy alias such as
"chipseq.callpeak", or a single operation) and writes the sealed run report.

Parameters come from --params-file and then --param, which wins on conflict.
Values are decoded as YAML, so --param depth=1000 is an integer and
--param group=[a,b] a list. Pipeline stages can be addressed by ID:
--param 'preprocess={method: clr}'.

Examples:
  emp run alpha-diversity --param metric=shannon
  emp run chipseq-complete --param bam_file=sample.bam --out report.xlsx
  emp run microbiome-complete --params-file params.yaml --format csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTarget(cmd, opts, flags, args[0])
		},
	}

	f := cmd.Flags()
	f.StringArrayVarP(&flags.params, "param", "p", nil, "Parameter as key=value (repeatable)")
	f.StringVar(&flags.paramsFile, "params-file", "", "YAML or JSON file with parameters")
	f.StringVarP(&flags.format, "format", "f", "", "Report format: json, xlsx or csv (default: from --out extension, else json)")
	f.StringVarP(&flags.out, "out", "o", "", "Output file (default: stdout)")
	f.BoolVar(&flags.save, "save", false, "Save the report under the exports directory as runs/<run-id>.<format>")
	f.DurationVar(&flags.stageTimeout, "stage-timeout", 0, "Default timeout per stage, e.g. 30m")
	return cmd
}

func runTarget(cmd *cobra.Command, opts *rootOptions, flags *runOptions, target string) error {
	params := operations.Params{}
	if flags.paramsFile != "" {
		loaded, err := loadParamsFile(flags.paramsFile)
		if err != nil {
			return err
		}
		params = loaded
	}
	if err := parseParamFlags(params, flags.params); err != nil {
		return err
	}

	format, err := resolveFormat(flags.format, flags.out)
	if err != nil {
		return err
	}
	if format == exporter.FormatXLSX && flags.out == "" && !flags.save {
		return fmt.Errorf("xlsx reports need an output file: use --out or --save")
	}

	s, err := newSession(cmd, opts, flags.stageTimeout)
	if err != nil {
		return err
	}

	report, err := s.catalog.Dispatcher.Dispatch(cmd.Context(), target, params)
	if err != nil {
		return fmt.Errorf("%s: %w", operations.KindOf(err), err)
	}

	switch {
	case flags.out != "":
		path, err := s.files.ExportTo(flags.out, report, format)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "report written to %s\n", path)
	case flags.save:
		path, err := s.files.Export(report, format)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "report written to %s\n", path)
	default:
		if err := exporter.Write(cmd.OutOrStdout(), report, format); err != nil {
			return err
		}
	}

	fmt.Fprintln(cmd.ErrOrStderr(), describeOutcome(report))
	if report.Status != operations.RunSucceeded {
		return fmt.Errorf("run %s %s", report.ID, report.Status)
	}
	return nil
}
