package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mailmerge/mailmerge/internal/config"
	"github.com/mailmerge/mailmerge/internal/email"
	"github.com/mailmerge/mailmerge/internal/logger"
	"github.com/mailmerge/mailmerge/internal/model"
	"github.com/mailmerge/mailmerge/internal/render"
	"github.com/mailmerge/mailmerge/internal/repository"
)

// Service errors
var (
	ErrDispatchInProgress = errors.New("a dispatch is already in progress")
	ErrNoRows             = errors.New("no recipient rows loaded")
	ErrNotIdle            = errors.New("rows cannot change until the session is reset")
	ErrNoExport           = errors.New("no export available")
)

// Phase is the state of the merge session
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseDispatching Phase = "dispatching"
	PhaseCompleted   Phase = "completed"
)

// MarkerStore reads, writes and clears the resume marker
type MarkerStore interface {
	MarkerWriter
	CheckAndLoad() (*model.Marker, error)
	Clear() error
}

// DispatchRequest is the user input for a dispatch
type DispatchRequest struct {
	Subject string        `json:"subject"`
	Body    string        `json:"body"`
	Label   string        `json:"label"`
	Delay   time.Duration `json:"delay"`
	Mode    model.Mode    `json:"mode"`
}

// Snapshot is a read-only view of the session
type Snapshot struct {
	Phase     Phase            `json:"phase"`
	Rows      int              `json:"rows"`
	Pending   int              `json:"pending"`
	Sent      int              `json:"sent"`
	Progress  model.Progress   `json:"progress"`
	Run       *model.RunConfig `json:"run,omitempty"`
	Summary   *model.Summary   `json:"summary,omitempty"`
	Marker    *model.Marker    `json:"marker,omitempty"`
	Advisory  string           `json:"advisory,omitempty"`
	LastError string           `json:"lastError,omitempty"`
}

// MergeService owns the session state and moves it through
// Idle → Dispatching → Completed. Reset returns it to Idle.
type MergeService struct {
	mu       sync.Mutex
	phase    Phase
	rows     *model.RowSet
	run      *model.RunConfig
	progress model.Progress
	summary  *model.Summary
	marker   *model.Marker
	lastErr  string

	baseCtx    context.Context
	wg         sync.WaitGroup
	store      repository.RowStore
	markers    MarkerStore
	dispatcher *Dispatcher
	cfg        config.DispatchConfig
	log        *logger.Logger
}

// NewMergeService creates a new MergeService
func NewMergeService(
	store repository.RowStore,
	markers MarkerStore,
	dispatcher *Dispatcher,
	cfg config.DispatchConfig,
	log *logger.Logger,
) *MergeService {
	return &MergeService{
		phase:      PhaseIdle,
		baseCtx:    context.Background(),
		store:      store,
		markers:    markers,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        log.WithComponent("merge"),
	}
}

// Startup restores persisted state. A valid resume marker puts the session
// straight into Completed; otherwise any stored rows are reloaded. ctx also
// bounds background dispatches started with Start.
func (s *MergeService) Startup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.baseCtx = ctx

	rows, err := s.store.Load(ctx)
	switch {
	case err == nil:
		s.rows = rows
	case errors.Is(err, repository.ErrNotFound):
	default:
		return fmt.Errorf("failed to load rows: %w", err)
	}

	marker, err := s.markers.CheckAndLoad()
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		s.log.Debug().Err(err).Msg("no resume marker")
		return nil
	}

	s.phase = PhaseCompleted
	s.marker = marker
	s.log.Info().
		Str("file", marker.ExportPath).
		Time("done_time", marker.CompletedAt).
		Msg("previous run completed")
	return nil
}

// LoadRows installs a freshly uploaded row set
func (s *MergeService) LoadRows(ctx context.Context, rows *model.RowSet) error {
	return s.setRows(ctx, rows, "uploaded")
}

// ReplaceRows installs an edited row set
func (s *MergeService) ReplaceRows(ctx context.Context, rows *model.RowSet) error {
	return s.setRows(ctx, rows, "edited")
}

func (s *MergeService) setRows(ctx context.Context, rows *model.RowSet, how string) error {
	if rows == nil || rows.Len() == 0 {
		return ErrNoRows
	}
	rows.EnsureReservedColumns()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseDispatching {
		return ErrDispatchInProgress
	}
	if s.phase != PhaseIdle {
		return ErrNotIdle
	}
	if err := s.store.Save(ctx, rows); err != nil {
		return fmt.Errorf("failed to store rows: %w", err)
	}
	s.rows = rows
	s.summary = nil
	s.lastErr = ""
	s.log.Info().Int("rows", rows.Len()).Msg("rows " + how)
	return nil
}

// Rows returns a copy of the working row set
func (s *MergeService) Rows() (*model.RowSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows == nil {
		return nil, ErrNoRows
	}
	return s.rows.Clone(), nil
}

// Preview renders the templates against the first row
func (s *MergeService) Preview(subject, body string) (render.Preview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows.Len() == 0 {
		return render.Preview{}, ErrNoRows
	}
	return render.BuildPreview(subject, body, s.rows.Rows[0]), nil
}

// RunConfig validates req and fills in defaults
func (s *MergeService) RunConfig(req DispatchRequest) (model.RunConfig, error) {
	mode, err := model.ParseMode(string(req.Mode))
	if err != nil {
		return model.RunConfig{}, err
	}
	label := strings.TrimSpace(req.Label)
	if label == "" {
		label = s.cfg.DefaultLabel
	}
	delay := req.Delay
	if delay <= 0 {
		delay = s.cfg.DefaultDelay
	}
	delay = min(max(delay, s.cfg.MinDelay), s.cfg.MaxDelay)

	return model.RunConfig{
		Subject:   req.Subject,
		Body:      req.Body,
		Label:     label,
		Delay:     delay,
		Mode:      mode,
		BatchSize: s.cfg.BatchSize,
	}, nil
}

// begin moves Idle → Dispatching and fixes the pending set
func (s *MergeService) begin(req DispatchRequest) (*model.RowSet, model.RunConfig, error) {
	rc, err := s.RunConfig(req)
	if err != nil {
		return nil, rc, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phase {
	case PhaseDispatching:
		return nil, rc, ErrDispatchInProgress
	case PhaseCompleted:
		return nil, rc, ErrNotIdle
	}
	if s.rows.Len() == 0 {
		return nil, rc, ErrNoRows
	}

	rc.Pending = s.rows.PendingIndices()
	s.phase = PhaseDispatching
	s.run = &rc
	s.progress = model.Progress{Total: len(rc.Pending)}
	s.summary = nil
	s.lastErr = ""
	// The dispatcher owns a working copy until finish swaps it back in.
	return s.rows.Clone(), rc, nil
}

// finish records the dispatch result. Interrupted or failed runs return
// to Idle so that the remaining rows can be dispatched again.
func (s *MergeService) finish(rows *model.RowSet, summary *model.Summary, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows = rows
	s.summary = summary
	s.run = nil
	if err != nil {
		s.phase = PhaseIdle
		s.lastErr = err.Error()
		return
	}
	s.phase = PhaseCompleted
	if summary != nil && summary.ExportPath != "" {
		if marker, mErr := s.markers.CheckAndLoad(); mErr == nil {
			s.marker = marker
		}
	}
}

func (s *MergeService) onProgress(p model.Progress) {
	s.mu.Lock()
	s.progress = p
	s.mu.Unlock()
}

// Dispatch runs a batch synchronously. progress may be nil.
func (s *MergeService) Dispatch(ctx context.Context, mb email.Mailbox, req DispatchRequest, progress ProgressFunc) (*model.Summary, error) {
	rows, rc, err := s.begin(req)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, mb, rows, rc, progress)
}

// Start begins a batch in the background and returns once the session is
// Dispatching. Poll Snapshot for progress.
func (s *MergeService) Start(mb email.Mailbox, req DispatchRequest) (model.RunConfig, error) {
	rows, rc, err := s.begin(req)
	if err != nil {
		return rc, err
	}

	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.execute(ctx, mb, rows, rc, nil); err != nil {
			s.log.Error().Err(err).Msg("background dispatch failed")
		}
	}()
	return rc, nil
}

func (s *MergeService) execute(ctx context.Context, mb email.Mailbox, rows *model.RowSet, rc model.RunConfig, progress ProgressFunc) (*model.Summary, error) {
	summary, err := s.dispatcher.Run(ctx, mb, rows, rc, func(p model.Progress) {
		s.onProgress(p)
		if progress != nil {
			progress(p)
		}
	})
	s.finish(rows, summary, err)
	return summary, err
}

// Wait blocks until background dispatches have returned
func (s *MergeService) Wait() {
	s.wg.Wait()
}

// Snapshot returns the current session view
func (s *MergeService) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Phase:     s.phase,
		Progress:  s.progress,
		Summary:   s.summary,
		Marker:    s.marker,
		LastError: s.lastErr,
	}
	if s.run != nil {
		rc := *s.run
		snap.Run = &rc
	}
	if s.rows != nil {
		snap.Rows = s.rows.Len()
		snap.Sent = s.rows.CountStatus(model.StatusSent)
		snap.Pending = snap.Rows - snap.Sent
		if s.cfg.UploadWarnRows > 0 && snap.Rows > s.cfg.UploadWarnRows {
			snap.Advisory = fmt.Sprintf("%d rows uploaded. Only %d are sent per run; dispatch again to continue.", snap.Rows, s.cfg.BatchSize)
		}
	}
	return snap
}

// ClearRows forgets the working row set
func (s *MergeService) ClearRows(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseDispatching {
		return ErrDispatchInProgress
	}
	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	s.rows = nil
	return nil
}

// ExportFile returns the path of the last completed run's export
func (s *MergeService) ExportFile() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.marker != nil {
		return s.marker.ExportPath, nil
	}
	if s.summary != nil && s.summary.ExportPath != "" {
		return s.summary.ExportPath, nil
	}
	return "", ErrNoExport
}

// Reset discards the marker, run configuration and summary and returns to
// Idle. The working rows are kept so that a following dispatch picks up
// the rows that are not Sent yet. Resetting an idle session is a no-op.
func (s *MergeService) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseDispatching {
		return ErrDispatchInProgress
	}
	if err := s.markers.Clear(); err != nil {
		return err
	}
	s.phase = PhaseIdle
	s.run = nil
	s.summary = nil
	s.marker = nil
	s.progress = model.Progress{}
	s.lastErr = ""
	s.log.Info().Msg("session reset")
	return nil
}
