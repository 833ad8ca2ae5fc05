package mailmerge

import "time"

// Phase values reported by State.
const (
	PhaseIdle        = "idle"
	PhaseDispatching = "dispatching"
	PhaseCompleted   = "completed"
)

// Send modes accepted by Dispatch.
const (
	ModeNew      = "new"
	ModeFollowUp = "followup"
	ModeDraft    = "draft"
)

// Progress is the position of a running dispatch.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// RunConfig is the effective configuration of a dispatch.
type RunConfig struct {
	Subject   string        `json:"subject"`
	Body      string        `json:"body"`
	Label     string        `json:"label"`
	Delay     time.Duration `json:"delay"`
	Mode      string        `json:"mode"`
	BatchSize int           `json:"batchSize"`
	Pending   []int         `json:"pending,omitempty"`
}

// RowError is a row that failed during a dispatch.
type RowError struct {
	Row       int    `json:"row"`
	Recipient string `json:"recipient"`
	Error     string `json:"error"`
}

// Summary is the result of a finished dispatch.
type Summary struct {
	RunID      string     `json:"runId"`
	Mode       string     `json:"mode"`
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

// Marker records the last completed run.
type Marker struct {
	CompletedAt time.Time `json:"done_time"`
	ExportPath  string    `json:"file"`
}

// State is the session view returned by the server.
type State struct {
	Phase         string     `json:"phase"`
	Rows          int        `json:"rows"`
	Pending       int        `json:"pending"`
	Sent          int        `json:"sent"`
	Progress      Progress   `json:"progress"`
	Run           *RunConfig `json:"run,omitempty"`
	Summary       *Summary   `json:"summary,omitempty"`
	Marker        *Marker    `json:"marker,omitempty"`
	Advisory      string     `json:"advisory,omitempty"`
	LastError     string     `json:"lastError,omitempty"`
	Authenticated bool       `json:"authenticated"`
	Percent       int        `json:"percent"`
}

// Rows is the working recipient table.
type Rows struct {
	Columns []string            `json:"columns"`
	Rows    []map[string]string `json:"rows"`
}

// Preview is the first row rendered with the current templates.
type Preview struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Warning string `json:"warning,omitempty"`
}

// DispatchRequest starts a batch.
type DispatchRequest struct {
	Subject      string  `json:"subject"`
	Body         string  `json:"body"`
	Label        string  `json:"label,omitempty"`
	DelaySeconds float64 `json:"delaySeconds,omitempty"`
	Mode         string  `json:"mode,omitempty"`
}
