// Package export renders resolution history as JSON or CSV.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/jonathan/golden-record/internal/types"
)

// ErrNothingToExport is returned for an empty selection; nothing is written
var ErrNothingToExport = errors.New("nothing to export")

// Format selects the output encoding
type Format string

// Supported formats
const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// CSVHeader is the flattened column layout
var CSVHeader = []string{"ID", "Customer", "Sentiment", "Intent", "Confidence", "Tier"}

// ParseFormat validates a user supplied format name
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatCSV:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown export format %q (want json or csv)", s)
}

// Select returns the whole history, or only the record with the given id when id is set
func Select(history []types.ResolutionRecord, id string) []types.ResolutionRecord {
	if id == "" {
		return history
	}
	for _, rec := range history {
		if rec.ID == id {
			return []types.ResolutionRecord{rec}
		}
	}
	return nil
}

// Write encodes records to w
func Write(w io.Writer, format Format, records []types.ResolutionRecord) error {
	if len(records) == 0 {
		return ErrNothingToExport
	}
	switch format {
	case FormatJSON:
		return writeJSON(w, records)
	case FormatCSV:
		return writeCSV(w, records)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// WriteFile writes records to path. No file is created for an empty selection.
func WriteFile(path string, format Format, records []types.ResolutionRecord) (err error) {
	if len(records) == 0 {
		return ErrNothingToExport
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close export file: %w", cerr)
		}
	}()

	return Write(f, format, records)
}

// Row flattens one record using the best available profile:
// consolidated, then deep, then fast, then the source record's name.
func Row(rec types.ResolutionRecord) []string {
	p := rec.BestProfile()
	if p == nil {
		return []string{rec.ID, rec.Source.SourceRecord.Name, "", "", "", ""}
	}
	return []string{
		rec.ID,
		p.Name,
		string(p.Sentiment),
		p.Intent,
		strconv.FormatFloat(p.Confidence, 'f', -1, 64),
		p.Tier,
	}
}

func writeJSON(w io.Writer, records []types.ResolutionRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

func writeCSV(w io.Writer, records []types.ResolutionRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, rec := range records {
		if err := cw.Write(Row(rec)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// FileName suggests a download name for an export
func FileName(format Format, id string) string {
	if id != "" {
		return fmt.Sprintf("golden-record-%s.%s", id, format)
	}
	return fmt.Sprintf("golden-records.%s", format)
}
