package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// Dataset defines tabular export content.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
	// Footer is rendered after the rows when set (totals line).
	Footer map[string]string
}

// CSVExporter renders Dataset records into CSV bytes.
type CSVExporter struct {
	bom bool
}

// NewCSVExporter builds a CSV exporter. With bom set, output starts with a UTF-8 byte order mark so spreadsheet tools keep accents.
func NewCSVExporter(bom bool) *CSVExporter {
	return &CSVExporter{bom: bom}
}

// Render produces CSV encoded bytes for the dataset.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	buf := &bytes.Buffer{}
	if e.bom {
		buf.WriteString("\ufeff")
	}
	writer := csv.NewWriter(buf)
	if err := writer.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	rows := data.Rows
	if data.Footer != nil {
		rows = append(rows[:len(rows):len(rows)], data.Footer)
	}
	for _, row := range rows {
		record := make([]string, len(data.Headers))
		for i, header := range data.Headers {
			record[i] = row[header]
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
