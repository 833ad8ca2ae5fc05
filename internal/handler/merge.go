package handler

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mailmerge/mailmerge/internal/model"
	"github.com/mailmerge/mailmerge/internal/service"
	"github.com/mailmerge/mailmerge/internal/sheet"
)

const maxUploadBytes = 10 << 20

// StateResponse is the session view returned to the browser
type StateResponse struct {
	service.Snapshot
	Authenticated bool `json:"authenticated"`
	Percent       int  `json:"percent"`
}

// State returns the current session state
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	snap := h.merge.Snapshot()
	writeJSON(w, http.StatusOK, StateResponse{
		Snapshot:      snap,
		Authenticated: h.account.Authenticated(r.Context()),
		Percent:       snap.Progress.Percent(),
	})
}

// UploadRows accepts a .csv or .xlsx file in the "file" form field
func (h *Handler) UploadRows(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_file", "Upload a .csv or .xlsx file in the \"file\" field")
		return
	}
	defer file.Close()

	rows, err := sheet.Load(header.Filename, file)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.installRows(w, r, rows)
}

// ImportSheetRequest names a Google Sheet to import
type ImportSheetRequest struct {
	Spreadsheet string `json:"spreadsheet"`
	Range       string `json:"range,omitempty"`
}

// ImportSheet loads rows from a Google Sheet of the signed-in account
func (h *Handler) ImportSheet(w http.ResponseWriter, r *http.Request) {
	var req ImportSheetRequest
	if err := readJSON(r, &req); err != nil || strings.TrimSpace(req.Spreadsheet) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "spreadsheet is required")
		return
	}

	client, err := h.account.Client(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	src, err := h.openSheet(r.Context(), client)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	rows, err := src.Load(r.Context(), req.Spreadsheet, req.Range)
	if err != nil {
		if errors.Is(err, sheet.ErrEmptyTable) {
			h.writeServiceError(w, r, err)
			return
		}
		h.log.Warn().Err(err).Str("spreadsheet", req.Spreadsheet).Msg("sheet import failed")
		writeError(w, http.StatusBadGateway, "sheet_unavailable", "Could not read the spreadsheet")
		return
	}
	h.installRows(w, r, rows)
}

func (h *Handler) installRows(w http.ResponseWriter, r *http.Request, rows *model.RowSet) {
	if err := h.merge.LoadRows(r.Context(), rows); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.merge.Snapshot())
}

// GetRows returns the working row set
func (h *Handler) GetRows(w http.ResponseWriter, r *http.Request) {
	rows, err := h.merge.Rows()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// PutRows replaces the working row set with an edited grid
func (h *Handler) PutRows(w http.ResponseWriter, r *http.Request) {
	var rows model.RowSet
	if err := readJSON(r, &rows); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	if len(rows.Columns) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "columns are required")
		return
	}
	if err := h.merge.ReplaceRows(r.Context(), &rows); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.merge.Snapshot())
}

// PreviewRequest carries the templates to preview
type PreviewRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Preview renders the templates against the first row
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	p, err := h.merge.Preview(req.Subject, req.Body)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DispatchRequest starts a batch
type DispatchRequest struct {
	Subject      string  `json:"subject"`
	Body         string  `json:"body"`
	Label        string  `json:"label,omitempty"`
	DelaySeconds float64 `json:"delaySeconds,omitempty"`
	Mode         string  `json:"mode,omitempty"`
}

// Dispatch starts a batch in the background and returns its configuration
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}
	mode, err := model.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_mode", err.Error())
		return
	}

	mb, err := h.account.Mailbox(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	rc, err := h.merge.Start(mb, service.DispatchRequest{
		Subject: req.Subject,
		Body:    req.Body,
		Label:   req.Label,
		Delay:   time.Duration(req.DelaySeconds * float64(time.Second)),
		Mode:    mode,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.log.Info().
		Str("mode", string(rc.Mode)).
		Int("pending", len(rc.Pending)).
		Msg("dispatch accepted")
	writeJSON(w, http.StatusAccepted, rc)
}

// Export downloads the result CSV of the last run, or the current rows
// when no run has completed.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	path, err := h.merge.ExportFile()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
			w.Header().Set("Content-Type", "text/csv")
			http.ServeFile(w, r, path)
			return
		}
	}

	rows, err := h.merge.Rows()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	name := sheet.ExportName(h.cfg.Dispatch.DefaultLabel, time.Now())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Type", "text/csv")
	if err := sheet.WriteCSV(w, rows); err != nil {
		h.log.Error().Err(err).Msg("failed to stream export")
	}
}

// Reset returns the session to idle
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.merge.Reset(); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.merge.Snapshot())
}

// ClearRows forgets the uploaded rows
func (h *Handler) ClearRows(w http.ResponseWriter, r *http.Request) {
	if err := h.merge.ClearRows(r.Context()); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
