package model

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects what the dispatcher does with each rendered message
type Mode string

const (
	ModeNew      Mode = "new"
	ModeFollowUp Mode = "followup"
	ModeDraft    Mode = "draft"
)

// ParseMode parses a mode name. Accepts a few aliases used by the UI.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "new":
		return ModeNew, nil
	case "followup", "follow-up", "reply":
		return ModeFollowUp, nil
	case "draft", "save-as-draft":
		return ModeDraft, nil
	}
	return "", fmt.Errorf("unknown send mode %q", s)
}

// Capped reports whether the batch size cap applies to the mode.
// Drafts are never capped.
func (m Mode) Capped() bool {
	return m != ModeDraft
}

// RunConfig is the configuration of a single dispatch. It is owned by the
// active run and discarded once the summary is produced.
type RunConfig struct {
	Subject   string        `json:"subject"`
	Body      string        `json:"body"`
	Label     string        `json:"label"`
	Delay     time.Duration `json:"delay"`
	Mode      Mode          `json:"mode"`
	BatchSize int           `json:"batchSize"`
	// Pending holds the row indices selected at dispatch start
	Pending []int `json:"pending,omitempty"`
}

// RowError records a row that failed during dispatch
type RowError struct {
	Row       int    `json:"row"`
	Recipient string `json:"recipient"`
	Error     string `json:"error"`
}

// Summary is the read-only result of a dispatch
type Summary struct {
	RunID      string     `json:"runId"`
	Mode       Mode       `json:"mode"`
	Label      string     `json:"label,omitempty"`
	Sent       int        `json:"sent"`
	Drafted    int        `json:"drafted"`
	Skipped    []string   `json:"skipped"`
	Errors     []RowError `json:"errors"`
	Attempted  int        `json:"attempted"`
	Remaining  int        `json:"remaining"`
	Warnings   []string   `json:"warnings,omitempty"`
	ExportPath string     `json:"exportPath,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt"`
}

// Progress reports how far the current dispatch has got
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Percent returns the progress clamped to [0,100]
func (p Progress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	pct := p.Current * 100 / p.Total
	return min(max(pct, 0), 100)
}

// Marker is the persisted record of a completed run
type Marker struct {
	CompletedAt time.Time `json:"done_time"`
	ExportPath  string    `json:"file"`
}
