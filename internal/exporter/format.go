package exporter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"emprofiler/internal/operations"
)

// Format is an export encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// ErrNotSealed is returned when a report is exported before its run finished
var ErrNotSealed = errors.New("report is not sealed")

// Formats lists the supported formats
var Formats = []Format{FormatJSON, FormatXLSX, FormatCSV}

// ParseFormat parses a format name. An empty name means JSON.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(name))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatXLSX, "excel":
		return FormatXLSX, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("unsupported export format %q", name)
}

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}

// Extension returns the file extension of the format, without the dot
func (f Format) Extension() string {
	return string(f)
}

// Write renders report in the given format
func Write(w io.Writer, report *operations.RunReport, format Format) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, report)
	case FormatXLSX:
		return WriteXLSX(w, report)
	case FormatCSV:
		return WriteCSV(w, report)
	}
	return fmt.Errorf("unsupported export format %q", format)
}

func checkSealed(report *operations.RunReport) error {
	if report == nil {
		return errors.New("report is nil")
	}
	if !report.Sealed() {
		return ErrNotSealed
	}
	return nil
}

// formatValue renders a stage field for a spreadsheet cell. Scalars are
// written as-is; lists and objects as compact JSON.
func formatValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return ""
	case string, bool, int, int64, float64:
		return val
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// formatText renders a value for CSV output
func formatText(v interface{}) string {
	switch val := formatValue(v).(type) {
	case string:
		return val
	case float64:
		return formatFloat(val)
	default:
		return fmt.Sprint(val)
	}
}

// formatFloat drops trailing zeros so integral values print without a fraction
func formatFloat(f float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.6f", f), "0"), ".")
}

func sortedFields(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func errorFields(e *operations.StageError) (string, string) {
	if e == nil {
		return "", ""
	}
	return string(e.Kind), e.Message
}
