// Package exporter renders sealed run reports for download and archiving.
//
// Three formats are supported:
//
// JSON: the report's own serialized form, indented.
//
// XLSX: a workbook with a Summary sheet, a Stages sheet with one row per
// stage, and Inputs and Results sheets with one row per stage field.
//
// CSV: the Stages sheet as a UTF-8 CSV with a BOM for Excel compatibility.
//
// Example usage:
//
//	format, err := exporter.ParseFormat("xlsx")
//	if err != nil {
//		return err
//	}
//	err = exporter.Write(w, report, format)
//
//	// or save under the exports directory
//	files := exporter.NewFileExporter(paths)
//	path, err := files.Export(report, exporter.FormatJSON)
package exporter
