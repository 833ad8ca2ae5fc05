package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mailmerge/mailmerge/internal/config"
	"github.com/mailmerge/mailmerge/internal/email"
	"github.com/mailmerge/mailmerge/internal/logger"
	"github.com/mailmerge/mailmerge/internal/model"
	"github.com/mailmerge/mailmerge/internal/render"
	"github.com/mailmerge/mailmerge/internal/repository"
	"github.com/mailmerge/mailmerge/internal/sheet"
)

// Sleeper blocks for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

// ContextSleep is the production Sleeper
func ContextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// MarkerWriter records a completed run
type MarkerWriter interface {
	Write(exportPath string) (*model.Marker, error)
}

// RunHistory stores completed run summaries
type RunHistory interface {
	Create(ctx context.Context, s *model.Summary) error
}

// Archiver copies an export file to long-term storage
type Archiver interface {
	Upload(ctx context.Context, path string) (string, error)
}

// ProgressFunc receives progress updates during a dispatch
type ProgressFunc func(model.Progress)

// rowOutcome is the result of processing one row
type rowOutcome struct {
	status    model.Status
	recipient string
	threadID  string
	rfcID     string
	messageID string
	err       error
}

// Dispatcher runs a single batch over the working row set
type Dispatcher struct {
	store     repository.RowStore
	markers   MarkerWriter
	history   RunHistory
	archive   Archiver
	cfg       config.DispatchConfig
	exportDir string
	log       *logger.Logger

	sleep   Sleeper
	uniform func(lo, hi float64) float64
	now     func() time.Time
}

// NewDispatcher creates a Dispatcher. history and archive may be nil.
func NewDispatcher(
	store repository.RowStore,
	markers MarkerWriter,
	history RunHistory,
	archive Archiver,
	cfg config.DispatchConfig,
	exportDir string,
	log *logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:     store,
		markers:   markers,
		history:   history,
		archive:   archive,
		cfg:       cfg,
		exportDir: exportDir,
		log:       log.WithComponent("dispatcher"),
		sleep:     ContextSleep,
		uniform:   func(lo, hi float64) float64 { return lo + rand.Float64()*(hi-lo) },
		now:       time.Now,
	}
}

// SetSleeper replaces the blocking pause, used by tests and the CLI dry run
func (d *Dispatcher) SetSleeper(s Sleeper) {
	d.sleep = s
}

// Run processes the pending rows of rows according to rc. rows is mutated
// in place and persisted after every row. The returned error is non-nil
// only when the loop was interrupted or the export could not be written;
// row-level failures are reported in the summary.
func (d *Dispatcher) Run(ctx context.Context, mb email.Mailbox, rows *model.RowSet, rc model.RunConfig, progress ProgressFunc) (*model.Summary, error) {
	if rows.Len() == 0 {
		return nil, ErrNoRows
	}
	if progress == nil {
		progress = func(model.Progress) {}
	}

	runID := uuid.NewString()
	log := d.log.WithRunID(runID)
	startedAt := d.now()
	tracker := NewTracker(rows)
	var warnings []string

	pending := rc.Pending
	if pending == nil {
		pending = rows.PendingIndices()
	}
	total := len(pending)

	labelID := ""
	if rc.Mode == model.ModeNew && rc.Label != "" {
		id, err := email.EnsureLabel(ctx, mb, rc.Label)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("Label %q unavailable, messages will not be labeled: %v", rc.Label, err))
			log.Warn().Err(err).Str("label", rc.Label).Msg("label resolution failed")
		} else {
			labelID = id
		}
	}

	log.Info().
		Str("mode", string(rc.Mode)).
		Int("pending", total).
		Int("batch_size", rc.BatchSize).
		Dur("delay", rc.Delay).
		Msg("dispatch started")

	var (
		attempted int
		processed int
		toLabel   []string
		runErr    error
	)

	for i, idx := range pending {
		if rc.Mode.Capped() && attempted >= rc.BatchSize {
			break
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		progress(model.Progress{Current: i + 1, Total: total})
		row := rows.Rows[idx]
		processed++

		addr, ok := email.ExtractAddress(row.Get(model.ColumnEmail))
		if !ok {
			raw := row[model.ColumnEmail]
			if err := tracker.MarkSkipped(idx, raw); err != nil {
				log.Error().Err(err).Int("row", idx).Msg("failed to record outcome")
			}
			log.RowOutcome(idx, raw, string(model.StatusSkipped), "no email address")
			d.persist(ctx, rows, log)
			continue
		}

		out := d.processRow(ctx, mb, row, addr, rc)
		d.record(tracker, idx, out, log)
		if out.status == model.StatusSent && labelID != "" {
			toLabel = append(toLabel, out.messageID)
		}
		attempted++
		d.persist(ctx, rows, log)

		if err := d.sleep(ctx, d.jitter(rc.Delay)); err != nil {
			// A cancel while pacing after the final row leaves nothing unsent.
			if i < len(pending)-1 && !(rc.Mode.Capped() && attempted >= rc.BatchSize) {
				runErr = err
			}
			break
		}
	}

	summary := tracker.Summary()
	summary.RunID = runID
	summary.Mode = rc.Mode
	summary.Label = rc.Label
	summary.Attempted = attempted
	summary.Remaining = total - processed
	summary.StartedAt = startedAt

	if runErr != nil {
		summary.Warnings = warnings
		summary.FinishedAt = d.now()
		log.Warn().Err(runErr).Int("attempted", attempted).Msg("dispatch interrupted")
		return &summary, runErr
	}

	if rc.Mode != model.ModeDraft {
		// The remote calls below are best-effort and must finish even when
		// the caller has gone away.
		postCtx := context.WithoutCancel(ctx)

		if len(toLabel) > 0 {
			if err := mb.BatchLabel(postCtx, labelID, toLabel); err != nil {
				warnings = append(warnings, fmt.Sprintf("Batch labeling failed: %v", err))
				log.Warn().Err(err).Int("messages", len(toLabel)).Msg("batch labeling failed")
			}
		}

		exportPath := filepath.Join(d.exportDir, sheet.ExportName(rc.Label, d.now()))
		if err := sheet.WriteCSVFile(exportPath, rows); err != nil {
			summary.Warnings = warnings
			summary.FinishedAt = d.now()
			return &summary, fmt.Errorf("failed to export results: %w", err)
		}
		summary.ExportPath = exportPath

		if _, err := d.markers.Write(exportPath); err != nil {
			warnings = append(warnings, fmt.Sprintf("Could not record completion: %v", err))
			log.Error().Err(err).Msg("failed to write resume marker")
		}

		if d.cfg.BackupEmail {
			if err := d.sendBackup(postCtx, mb, exportPath); err != nil {
				warnings = append(warnings, fmt.Sprintf("Backup email failed: %v", err))
				log.Warn().Err(err).Msg("backup email failed")
			}
		}

		if d.archive != nil {
			location, err := d.archive.Upload(postCtx, exportPath)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("Archive upload failed: %v", err))
				log.Warn().Err(err).Msg("archive upload failed")
			} else {
				log.Info().Str("location", location).Msg("export archived")
			}
		}
	}

	summary.Warnings = warnings
	summary.FinishedAt = d.now()

	if d.history != nil {
		if err := d.history.Create(context.WithoutCancel(ctx), &summary); err != nil {
			log.Warn().Err(err).Msg("failed to record run history")
		}
	}

	log.Info().
		Int("sent", summary.Sent).
		Int("drafted", summary.Drafted).
		Int("skipped", len(summary.Skipped)).
		Int("errors", len(summary.Errors)).
		Int("remaining", summary.Remaining).
		Msg("dispatch finished")

	return &summary, nil
}

// processRow renders and delivers one row. It never returns an error;
// failures are carried in the outcome.
func (d *Dispatcher) processRow(ctx context.Context, mb email.Mailbox, row model.Row, addr string, rc model.RunConfig) rowOutcome {
	out := rowOutcome{recipient: addr}

	subject, err := render.Render(rc.Subject, row)
	if err != nil {
		out.status, out.err = model.StatusError, fmt.Errorf("subject: %w", err)
		return out
	}
	body, err := render.Render(rc.Body, row)
	if err != nil {
		out.status, out.err = model.StatusError, fmt.Errorf("body: %w", err)
		return out
	}

	msg := &email.Message{
		To:       addr,
		Subject:  subject,
		HTMLBody: render.ToHTML(body),
	}

	if rc.Mode == model.ModeFollowUp {
		threadID := row.Get(model.ColumnThreadID)
		rfcID := row.Get(model.ColumnRfcMessageID)
		if threadID != "" && rfcID != "" {
			msg.InReplyTo = rfcID
			msg.References = rfcID
			msg.ThreadID = threadID
		}
	}

	if rc.Mode == model.ModeDraft {
		if _, err := mb.CreateDraft(ctx, msg); err != nil {
			out.status, out.err = model.StatusError, err
			return out
		}
		out.status = model.StatusDraft
		return out
	}

	sent, err := mb.Send(ctx, msg)
	if err != nil {
		out.status, out.err = model.StatusError, err
		return out
	}

	out.status = model.StatusSent
	out.messageID = sent.ID
	out.threadID = sent.ThreadID
	out.rfcID = d.lookupMessageID(ctx, mb, sent.ID)
	if out.rfcID == "" {
		out.rfcID = sent.ID
	}
	return out
}

func (d *Dispatcher) record(tracker *Tracker, idx int, out rowOutcome, log *logger.Logger) {
	var (
		err    error
		detail string
	)
	switch out.status {
	case model.StatusSent:
		err = tracker.MarkSent(idx, out.threadID, out.rfcID)
		detail = out.messageID
	case model.StatusDraft:
		err = tracker.MarkDraft(idx)
	default:
		detail = out.err.Error()
		err = tracker.MarkError(idx, out.recipient, detail)
	}
	if err != nil {
		log.Error().Err(err).Int("row", idx).Msg("failed to record outcome")
	}
	log.RowOutcome(idx, out.recipient, string(out.status), detail)
}

// lookupMessageID polls for the RFC 822 Message-ID of a freshly sent
// message. It returns "" when the header never becomes available.
func (d *Dispatcher) lookupMessageID(ctx context.Context, mb email.Mailbox, messageID string) string {
	attempts := max(d.cfg.HeaderLookupAttempts, 1)
	for attempt := 1; attempt <= attempts; attempt++ {
		header, err := mb.MessageIDHeader(ctx, messageID)
		if err == nil && header != "" {
			return header
		}
		if err != nil && !errors.Is(err, email.ErrHeaderNotFound) {
			d.log.Debug().Err(err).Int("attempt", attempt).Msg("message-id lookup failed")
		}
		if attempt == attempts {
			break
		}
		wait := time.Duration(d.uniform(float64(d.cfg.HeaderLookupBackoffMin), float64(d.cfg.HeaderLookupBackoffMax)))
		if err := d.sleep(ctx, wait); err != nil {
			break
		}
	}
	return ""
}

// jitter spreads delay uniformly over [delay*(1-j), delay*(1+j)]
func (d *Dispatcher) jitter(delay time.Duration) time.Duration {
	j := d.cfg.Jitter
	return time.Duration(d.uniform(float64(delay)*(1-j), float64(delay)*(1+j)))
}

func (d *Dispatcher) persist(ctx context.Context, rows *model.RowSet, log *logger.Logger) {
	if err := d.store.Save(context.WithoutCancel(ctx), rows); err != nil {
		log.Error().Err(err).Msg("failed to persist rows")
	}
}

func (d *Dispatcher) sendBackup(ctx context.Context, mb email.Mailbox, exportPath string) error {
	owner, err := mb.ProfileAddress(ctx)
	if err != nil {
		return fmt.Errorf("failed to get account address: %w", err)
	}
	data, err := os.ReadFile(exportPath)
	if err != nil {
		return fmt.Errorf("failed to read export: %w", err)
	}
	if _, err := mb.Send(ctx, email.BackupMessage(owner, exportPath, data, d.now())); err != nil {
		return err
	}
	return nil
}
