package exporter

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"emprofiler/internal/operations"
)

// Sheet names of the XLSX workbook
const (
	SheetSummary = "Summary"
	SheetStages  = "Stages"
	SheetInputs  = "Inputs"
	SheetResults = "Results"
)

// StageHeaders are the columns of the Stages sheet and the CSV export
var StageHeaders = []string{"stage", "operation", "status", "attempts", "elapsed_ms", "error_kind", "error", "reason"}

// WriteXLSX writes the report as an Excel workbook
func WriteXLSX(w io.Writer, report *operations.RunReport) error {
	if err := checkSealed(report); err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	for _, sheet := range []string{SheetStages, SheetInputs, SheetResults} {
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", sheet, err)
		}
	}

	if err := writeSummary(f, report); err != nil {
		return err
	}
	if err := writeRows(f, SheetStages, toRow(StageHeaders), stageRows(report)); err != nil {
		return err
	}
	fieldHeader := []interface{}{"stage", "field", "value"}
	if err := writeRows(f, SheetInputs, fieldHeader, fieldRows(report, func(s operations.StageReport) map[string]interface{} { return s.Inputs })); err != nil {
		return err
	}
	if err := writeRows(f, SheetResults, fieldHeader, fieldRows(report, func(s operations.StageReport) map[string]interface{} { return s.Result })); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, report *operations.RunReport) error {
	counts := report.Counts()
	errKind, errMsg := errorFields(report.Error)
	rows := [][]interface{}{
		{"run_id", report.ID},
		{"target", report.Target},
		{"pipeline", report.Pipeline},
		{"policy", string(report.Policy)},
		{"status", string(report.Status)},
		{"started_at", report.StartedAt.UTC().Format(time.RFC3339)},
		{"finished_at", report.FinishedAt.UTC().Format(time.RFC3339)},
		{"elapsed_ms", report.Elapsed().Milliseconds()},
		{"succeeded", counts[operations.StageSucceeded]},
		{"failed", counts[operations.StageFailed]},
		{"skipped", counts[operations.StageSkipped]},
		{"error_kind", errKind},
		{"error", errMsg},
	}
	return writeRows(f, SheetSummary, []interface{}{"field", "value"}, rows)
}

func stageRows(report *operations.RunReport) [][]interface{} {
	rows := make([][]interface{}, 0, len(report.Stages))
	for _, s := range report.Stages {
		kind, msg := errorFields(s.Error)
		rows = append(rows, []interface{}{
			s.Name, s.Operation, string(s.Status), s.Attempts,
			s.Elapsed.Milliseconds(), kind, msg, s.Reason,
		})
	}
	return rows
}

func fieldRows(report *operations.RunReport, fields func(operations.StageReport) map[string]interface{}) [][]interface{} {
	var rows [][]interface{}
	for _, s := range report.Stages {
		values := fields(s)
		for _, key := range sortedFields(values) {
			rows = append(rows, []interface{}{s.Name, key, formatValue(values[key])})
		}
	}
	return rows
}

func writeRows(f *excelize.File, sheet string, header []interface{}, rows [][]interface{}) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write %s header: %w", sheet, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := row
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func toRow(values []string) []interface{} {
	row := make([]interface{}, len(values))
	for i, v := range values {
		row[i] = v
	}
	return row
}
