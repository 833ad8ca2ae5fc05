package sheet

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/mailmerge/mailmerge/internal/model"
)

// GoogleSheetSource reads recipient tables from Google Sheets
type GoogleSheetSource struct {
	service *sheets.Service
}

// NewGoogleSheetSource creates a source on top of an authorized HTTP client.
func NewGoogleSheetSource(ctx context.Context, client *http.Client) (*GoogleSheetSource, error) {
	svc, err := sheets.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("sheets: failed to create service: %w", err)
	}
	return &GoogleSheetSource{service: svc}, nil
}

var spreadsheetURL = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9_-]+)`)

// SpreadsheetID accepts either a bare spreadsheet ID or a sheet URL.
func SpreadsheetID(ref string) string {
	if m := spreadsheetURL.FindStringSubmatch(ref); m != nil {
		return m[1]
	}
	return ref
}

// Load reads the given A1 range (the first sheet when empty) of a
// spreadsheet. The first row is the header.
func (s *GoogleSheetSource) Load(ctx context.Context, spreadsheet, readRange string) (*model.RowSet, error) {
	id := SpreadsheetID(spreadsheet)
	if id == "" {
		return nil, fmt.Errorf("sheets: spreadsheet id is required")
	}
	if readRange == "" {
		meta, err := s.service.Spreadsheets.Get(id).Fields("sheets.properties.title").Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("sheets: failed to get spreadsheet: %w", err)
		}
		if len(meta.Sheets) == 0 || meta.Sheets[0].Properties == nil {
			return nil, ErrEmptyTable
		}
		readRange = meta.Sheets[0].Properties.Title
	}

	resp, err := s.service.Spreadsheets.Values.Get(id, readRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets: failed to read values: %w", err)
	}
	return fromRecords(stringify(resp.Values))
}

func stringify(values [][]interface{}) [][]string {
	out := make([][]string, 0, len(values))
	for _, row := range values {
		rec := make([]string, len(row))
		for i, cell := range row {
			if cell != nil {
				rec[i] = fmt.Sprint(cell)
			}
		}
		out = append(out, rec)
	}
	return out
}
