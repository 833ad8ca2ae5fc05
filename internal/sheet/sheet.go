// Package sheet reads recipient tables from CSV, XLSX and Google Sheets
// and writes the result CSV of a dispatch.
package sheet

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/mailmerge/mailmerge/internal/model"
)

// ErrUnsupportedFormat is returned for uploads that are neither CSV nor XLSX
var ErrUnsupportedFormat = errors.New("unsupported file format")

// ErrEmptyTable is returned when the source has no header row
var ErrEmptyTable = errors.New("table has no header row")

// Load parses an uploaded file, choosing the parser by file extension.
func Load(filename string, r io.Reader) (*model.RowSet, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return ReadCSV(r)
	case ".xlsx":
		return ReadXLSX(r)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
}

func fromRecords(records [][]string) (*model.RowSet, error) {
	if len(records) == 0 {
		return nil, ErrEmptyTable
	}
	return model.NewRowSet(records[0], records[1:]), nil
}

var unsafeLabelChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// ExportName returns the deterministic result file name for a run,
// Updated_<label>_<YYYYmmdd_HHMMSS>.csv with unsafe label characters
// replaced by underscores.
func ExportName(label string, at time.Time) string {
	safe := unsafeLabelChars.ReplaceAllString(label, "_")
	return fmt.Sprintf("Updated_%s_%s.csv", safe, at.Format("20060102_150405"))
}
