package service

import (
	"errors"
	"fmt"

	"github.com/mailmerge/mailmerge/internal/model"
)

var (
	// ErrRowAlreadyMarked is returned when a row already received an outcome in this run
	ErrRowAlreadyMarked = errors.New("row already has an outcome for this run")
	// ErrRowOutOfRange is returned for an index outside the row set
	ErrRowOutOfRange = errors.New("row index out of range")
)

// Tracker records per-row outcomes of a single dispatch onto the working
// row set and accumulates the run summary. A row receives at most one
// outcome per run.
type Tracker struct {
	rows    *model.RowSet
	marked  map[int]model.Status
	sent    int
	drafted int
	skipped []string
	errors  []model.RowError
}

// NewTracker creates a Tracker writing into rows
func NewTracker(rows *model.RowSet) *Tracker {
	return &Tracker{
		rows:    rows,
		marked:  make(map[int]model.Status),
		skipped: []string{},
		errors:  []model.RowError{},
	}
}

func (t *Tracker) claim(row int, status model.Status) (model.Row, error) {
	if row < 0 || row >= t.rows.Len() {
		return nil, fmt.Errorf("%w: %d", ErrRowOutOfRange, row)
	}
	if prev, ok := t.marked[row]; ok {
		return nil, fmt.Errorf("%w: row %d is %s", ErrRowAlreadyMarked, row, prev)
	}
	t.marked[row] = status
	r := t.rows.Rows[row]
	r[model.ColumnStatus] = string(status)
	return r, nil
}

// MarkSkipped records a row without an extractable address. raw is the
// original Email cell value.
func (t *Tracker) MarkSkipped(row int, raw string) error {
	if _, err := t.claim(row, model.StatusSkipped); err != nil {
		return err
	}
	t.skipped = append(t.skipped, raw)
	return nil
}

// MarkSent records a sent message and stores the provider identifiers on
// the row for later follow-ups.
func (t *Tracker) MarkSent(row int, threadID, messageID string) error {
	r, err := t.claim(row, model.StatusSent)
	if err != nil {
		return err
	}
	r[model.ColumnThreadID] = threadID
	r[model.ColumnRfcMessageID] = messageID
	t.sent++
	return nil
}

// MarkDraft records a saved draft
func (t *Tracker) MarkDraft(row int) error {
	if _, err := t.claim(row, model.StatusDraft); err != nil {
		return err
	}
	t.drafted++
	return nil
}

// MarkError records a failed row
func (t *Tracker) MarkError(row int, recipient, errText string) error {
	if _, err := t.claim(row, model.StatusError); err != nil {
		return err
	}
	t.errors = append(t.errors, model.RowError{Row: row, Recipient: recipient, Error: errText})
	return nil
}

// Outcome returns the status recorded for row in this run
func (t *Tracker) Outcome(row int) (model.Status, bool) {
	s, ok := t.marked[row]
	return s, ok
}

// Summary returns the counts collected so far. The slices are copies.
func (t *Tracker) Summary() model.Summary {
	return model.Summary{
		Sent:    t.sent,
		Drafted: t.drafted,
		Skipped: append([]string{}, t.skipped...),
		Errors:  append([]model.RowError{}, t.errors...),
	}
}
