package exporter

import (
	"encoding/json"
	"fmt"
	"io"

	"emprofiler/internal/operations"
)

// WriteJSON writes the report as indented JSON
func WriteJSON(w io.Writer, report *operations.RunReport) error {
	if err := checkSealed(report); err != nil {
		return err
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}
