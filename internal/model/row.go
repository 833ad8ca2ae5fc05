package model

import (
	"fmt"
	"strings"
)

// Status represents the dispatch outcome recorded on a recipient row
type Status string

const (
	StatusPending Status = ""
	StatusSent    Status = "Sent"
	StatusDraft   Status = "Draft"
	StatusSkipped Status = "Skipped"
	StatusError   Status = "Error"
)

// Reserved column names
const (
	ColumnEmail        = "Email"
	ColumnThreadID     = "ThreadId"
	ColumnRfcMessageID = "RfcMessageId"
	ColumnStatus       = "Status"
)

// ReservedColumns are added to every uploaded row set when missing
var ReservedColumns = []string{ColumnThreadID, ColumnRfcMessageID, ColumnStatus}

// Row is a single recipient record keyed by column name
type Row map[string]string

// Get returns the trimmed value of a column, or "" when absent
func (r Row) Get(column string) string {
	return strings.TrimSpace(r[column])
}

// Status returns the row's dispatch status
func (r Row) Status() Status {
	return Status(r.Get(ColumnStatus))
}

// RowSet is the uploaded recipient table with its column order
type RowSet struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// NewRowSet builds a row set from a header and records. Duplicate header
// names get a numeric suffix, short records are padded with empty values
// and the reserved columns are appended when missing.
func NewRowSet(header []string, records [][]string) *RowSet {
	columns := make([]string, 0, len(header))
	seen := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		if n, ok := seen[name]; ok {
			seen[name] = n + 1
			name = fmt.Sprintf("%s.%d", name, n+1)
		} else {
			seen[name] = 0
		}
		columns = append(columns, name)
	}

	set := &RowSet{Columns: columns, Rows: make([]Row, 0, len(records))}
	for _, rec := range records {
		if isBlankRecord(rec) {
			continue
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			if i < len(rec) {
				row[col] = rec[i]
			} else {
				row[col] = ""
			}
		}
		set.Rows = append(set.Rows, row)
	}
	set.EnsureReservedColumns()
	return set
}

func isBlankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// EnsureReservedColumns appends ThreadId, RfcMessageId and Status when the
// table does not have them and fills missing cells with "".
func (s *RowSet) EnsureReservedColumns() {
	for _, col := range ReservedColumns {
		if !s.HasColumn(col) {
			s.Columns = append(s.Columns, col)
		}
	}
	for i := range s.Rows {
		if s.Rows[i] == nil {
			s.Rows[i] = make(Row, len(s.Columns))
		}
		for _, col := range s.Columns {
			if _, ok := s.Rows[i][col]; !ok {
				s.Rows[i][col] = ""
			}
		}
	}
}

// HasColumn reports whether the table has the named column
func (s *RowSet) HasColumn(name string) bool {
	for _, c := range s.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Len returns the number of rows
func (s *RowSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Rows)
}

// PendingIndices returns, in table order, every row whose status is not Sent.
// Draft, Error and Skipped rows are retried; only Sent is sticky.
func (s *RowSet) PendingIndices() []int {
	pending := make([]int, 0, len(s.Rows))
	for i, row := range s.Rows {
		if row.Status() != StatusSent {
			pending = append(pending, i)
		}
	}
	return pending
}

// CountStatus returns how many rows carry the given status
func (s *RowSet) CountStatus(status Status) int {
	n := 0
	for _, row := range s.Rows {
		if row.Status() == status {
			n++
		}
	}
	return n
}

// Records returns the rows as string slices in column order
func (s *RowSet) Records() [][]string {
	out := make([][]string, 0, len(s.Rows))
	for _, row := range s.Rows {
		rec := make([]string, len(s.Columns))
		for i, col := range s.Columns {
			rec[i] = row[col]
		}
		out = append(out, rec)
	}
	return out
}

// Clone returns a deep copy of the row set
func (s *RowSet) Clone() *RowSet {
	if s == nil {
		return nil
	}
	out := &RowSet{
		Columns: append([]string(nil), s.Columns...),
		Rows:    make([]Row, len(s.Rows)),
	}
	for i, row := range s.Rows {
		cp := make(Row, len(row))
		for k, v := range row {
			cp[k] = v
		}
		out.Rows[i] = cp
	}
	return out
}
