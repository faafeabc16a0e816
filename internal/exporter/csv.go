package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"emprofiler/internal/config"
	"emprofiler/internal/operations"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// WriteCSV writes one row per stage, prefixed with a UTF-8 BOM so Excel
// detects the encoding
func WriteCSV(w io.Writer, report *operations.RunReport) error {
	if err := checkSealed(report); err != nil {
		return err
	}
	if _, err := w.Write(utf8BOM); err != nil {
		return fmt.Errorf("failed to write BOM: %w", err)
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(StageHeaders); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	for i, s := range report.Stages {
		kind, msg := errorFields(s.Error)
		record := []string{
			s.Name,
			s.Operation,
			string(s.Status),
			strconv.Itoa(s.Attempts),
			strconv.FormatInt(s.Elapsed.Milliseconds(), 10),
			kind,
			msg,
			s.Reason,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// FileExporter saves reports under the exports directory
type FileExporter struct {
	paths *config.Paths
}

// NewFileExporter creates a file exporter rooted at paths.ExportsDir
func NewFileExporter(paths *config.Paths) *FileExporter {
	return &FileExporter{paths: paths}
}

// Path returns where a report is saved in the given format
func (e *FileExporter) Path(runID string, format Format) string {
	return filepath.Join(e.paths.ExportsDir, "runs", runID+"."+format.Extension())
}

// Export writes the report and returns the file path
func (e *FileExporter) Export(report *operations.RunReport, format Format) (string, error) {
	if err := checkSealed(report); err != nil {
		return "", err
	}
	return e.ExportTo(e.Path(report.ID, format), report, format)
}

// ExportTo writes the report to an explicit path. Relative paths resolve
// against the base directory.
func (e *FileExporter) ExportTo(path string, report *operations.RunReport, format Format) (string, error) {
	fullPath := e.paths.Resolve(path)

	slog.Info("exporting run report",
		slog.String("run_id", report.ID),
		slog.String("format", string(format)),
		slog.String("full_path", fullPath),
		slog.Int("stage_count", len(report.Stages)))

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	file, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	if err := Write(file, report, format); err != nil {
		file.Close()
		os.Remove(fullPath)
		return "", err
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	return fullPath, nil
}
