package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mailmerge/mailmerge/internal/config"
	"github.com/mailmerge/mailmerge/internal/logger"
	"github.com/mailmerge/mailmerge/internal/model"
	"github.com/mailmerge/mailmerge/internal/repository"
	"github.com/mailmerge/mailmerge/internal/sheet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	mu    sync.Mutex
	calls []time.Duration
	// failAfter makes the n-th call return context.Canceled
	failAfter int
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, d)
	if r.failAfter > 0 && len(r.calls) >= r.failAfter {
		return context.Canceled
	}
	return ctx.Err()
}

type dispatchFixture struct {
	dispatcher *Dispatcher
	store      *repository.FileRowStore
	markers    *repository.MarkerRepository
	exportDir  string
	sleeper    *recordingSleeper
	mailbox    *fakeMailbox
}

func newDispatchFixture(t *testing.T, mutate func(*config.DispatchConfig)) *dispatchFixture {
	t.Helper()
	cfg := config.Default().Dispatch
	cfg.BackupEmail = false
	if mutate != nil {
		mutate(&cfg)
	}

	dir := t.TempDir()
	f := &dispatchFixture{
		store:     repository.NewFileRowStore(filepath.Join(dir, "state")),
		markers:   repository.NewMarkerRepository(filepath.Join(dir, "done.json")),
		exportDir: filepath.Join(dir, "exports"),
		sleeper:   &recordingSleeper{},
		mailbox:   newFakeMailbox(),
	}
	f.dispatcher = NewDispatcher(f.store, f.markers, nil, nil, cfg, f.exportDir, logger.Nop())
	f.dispatcher.SetSleeper(f.sleeper.sleep)
	return f
}

func runConfig(mode model.Mode) model.RunConfig {
	return model.RunConfig{
		Subject:   "Hello {Name}",
		Body:      "**Hi** {Name}",
		Label:     "Mail Merge Sent",
		Delay:     20 * time.Second,
		Mode:      mode,
		BatchSize: 50,
	}
}

func bulkRows(n int) *model.RowSet {
	records := make([][]string, n)
	for i := range records {
		records[i] = []string{fmt.Sprintf("User%d", i), fmt.Sprintf("user%d@example.com", i)}
	}
	return model.NewRowSet([]string{"Name", "Email"}, records)
}

func TestDispatcher_SendsAndSkips(t *testing.T) {
	f := newDispatchFixture(t, nil)
	rows := model.NewRowSet([]string{"Name", "Email"}, [][]string{
		{"Ada", "ada@example.com"},
		{"Bob", ""},
		{"Cy", "Cy Young <cy@example.com>"},
	})

	var progress []model.Progress
	summary, err := f.dispatcher.Run(context.Background(), f.mailbox, rows, runConfig(model.ModeNew), func(p model.Progress) {
		progress = append(progress, p)
	})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Sent)
	assert.Equal(t, []string{""}, summary.Skipped)
	assert.Empty(t, summary.Errors)
	assert.Equal(t, 2, summary.Attempted)
	assert.Equal(t, 0, summary.Remaining)
	assert.Equal(t, []string{"ada@example.com", "cy@example.com"}, f.mailbox.sentTo())
	assert.Equal(t, "Hello Ada", f.mailbox.sent[0].Subject)
	assert.Contains(t, f.mailbox.sent[0].HTMLBody, "<b>Hi</b> Ada")
	assert.Len(t, progress, 3)
	assert.Equal(t, model.Progress{Current: 3, Total: 3}, progress[2])

	// sleeps only after attempted rows, within ±10% of the delay
	require.Len(t, f.sleeper.calls, 2)
	for _, d := range f.sleeper.calls {
		assert.GreaterOrEqual(t, d, 18*time.Second)
		assert.LessOrEqual(t, d, 22*time.Second)
	}

	// export holds every row
	require.NotEmpty(t, summary.ExportPath)
	assert.Equal(t, f.exportDir, filepath.Dir(summary.ExportPath))
	assert.Regexp(t, `^Updated_Mail_Merge_Sent_\d{8}_\d{6}\.csv$`, filepath.Base(summary.ExportPath))
	file, err := os.Open(summary.ExportPath)
	require.NoError(t, err)
	defer file.Close()
	exported, err := sheet.ReadCSV(file)
	require.NoError(t, err)
	require.Equal(t, 3, exported.Len())
	assert.Equal(t, model.StatusSent, exported.Rows[0].Status())
	assert.Equal(t, model.StatusSkipped, exported.Rows[1].Status())
	assert.Equal(t, model.StatusSent, exported.Rows[2].Status())
	assert.Equal(t, "<m1@mail.example.com>", exported.Rows[0][model.ColumnRfcMessageID])
	assert.Equal(t, "tm1", exported.Rows[0][model.ColumnThreadID])

	// marker points at the export
	marker, err := f.markers.CheckAndLoad()
	require.NoError(t, err)
	assert.Equal(t, summary.ExportPath, marker.ExportPath)

	// one batch label call covering both messages
	require.Len(t, f.mailbox.labels, 1)
	assert.ElementsMatch(t, []string{"m1", "m2"}, f.mailbox.labeled[f.mailbox.labels[0].ID])
}

func TestDispatcher_BatchCap(t *testing.T) {
	f := newDispatchFixture(t, nil)
	rows := bulkRows(60)

	first, err := f.dispatcher.Run(context.Background(), f.mailbox, rows, runConfig(model.ModeNew), nil)
	require.NoError(t, err)
	assert.Equal(t, 50, first.Sent)
	assert.Equal(t, 10, first.Remaining)
	assert.Equal(t, 50, rows.CountStatus(model.StatusSent))
	assert.Equal(t, 10, rows.CountStatus(model.StatusPending))
	for _, row := range rows.Rows[50:] {
		assert.Equal(t, model.StatusPending, row.Status())
	}

	second, err := f.dispatcher.Run(context.Background(), f.mailbox, rows, runConfig(model.ModeNew), nil)
	require.NoError(t, err)
	assert.Equal(t, 10, second.Sent)
	assert.Equal(t, 0, second.Remaining)
	assert.Equal(t, 60, rows.CountStatus(model.StatusSent))
	assert.Len(t, f.mailbox.sentTo(), 60)
}

func TestDispatcher_CapIgnoresSkips(t *testing.T) {
	f := newDispatchFixture(t, nil)
	rows := model.NewRowSet([]string{"Name", "Email"}, [][]string{
		{"A", "bad"}, {"B", "b@example.com"}, {"C", "bad"}, {"D", "d@example.com"}, {"E", "e@example.com"},
	})
	rc := runConfig(model.ModeNew)
	rc.BatchSize = 2

	summary, err := f.dispatcher.Run(context.Background(), f.mailbox, rows, rc, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Sent)
	assert.Len(t, summary.Skipped, 2)
	assert.Equal(t, 1, summary.Remaining)
	assert.Equal(t, model.StatusPending, rows.Rows[4].Status())
}

func TestDispatcher_DraftIsUncapped(t *testing.T) {
	f := newDispatchFixture(t, nil)
	rows := bulkRows(60)

	summary, err := f.dispatcher.Run(context.Background(), f.mailbox, rows, runConfig(model.ModeDraft), nil)
	require.NoError(t, err)
	assert.Equal(t, 60, summary.Drafted)
	assert.Zero(t, summary.Sent)
	assert.Len(t, f.mailbox.drafts, 60)
	assert.Empty(t, f.mailbox.sent)
	assert.Equal(t, 60, rows.CountStatus(model.StatusDraft))

	// drafts produce no export, marker or labels
	assert.Empty(t, summary.ExportPath)
	_, err = f.markers.CheckAndLoad()
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Empty(t, f.mailbox.labels)
	assert.Len(t, f.sleeper.calls, 60)
}

func TestDispatcher_FollowUp(t *testing.T) {
	f := newDispatchFixture(t, nil)
	rows := model.NewRowSet(
		[]string{"Name", "Email", "ThreadId", "RfcMessageId"},
		[][]string{
			{"Ada", "ada@example.com", "", ""},
			{"Bob", "bob@example.com", "thread-9", "<orig@mail.example.com>"},
			{"Cy", "cy@example.com", "thread-7", ""},
		},
	)

	summary, err := f.dispatcher.Run(context.Background(), f.mailbox, rows, runConfig(model.ModeFollowUp), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Sent)
	require.Len(t, f.mailbox.sent, 3)

	fresh := f.mailbox.sent[0]
	assert.Empty(t, fresh.ThreadID)
	assert.Empty(t, fresh.InReplyTo)

	reply := f.mailbox.sent[1]
	assert.Equal(t, "thread-9", reply.ThreadID)
	assert.Equal(t, "<orig@mail.example.com>", reply.InReplyTo)
	assert.Equal(t, "<orig@mail.example.com>", reply.References)
	assert.Equal(t, "thread-9", rows.Rows[1][model.ColumnThreadID])

	// a thread without a prior message id is not enough to reply
	assert.Empty(t, f.mailbox.sent[2].ThreadID)

	// follow-ups are not labeled
	assert.Empty(t, f.mailbox.labels)
}

func TestDispatcher_RowErrorsContinue(t *testing.T) {
	f := newDispatchFixture(t, nil)
	f.mailbox.failTo["bob@example.com"] = errors.New("quota exceeded")
	rows := model.NewRowSet([]string{"Name", "Email"}, [][]string{
		{"Ada", "ada@example.com"},
		{"Bob", "bob@example.com"},
		{"Cy", "cy@example.com"},
	})
	rc := runConfig(model.ModeNew)
	rc.Subject = "Hello {Name} from {Company}"
	rc.Body = "plain"

	summary, err := f.dispatcher.Run(context.Background(), f.mailbox, rows, rc, nil)
	require.NoError(t, err)

	// every row fails rendering; none is sent
	assert.Zero(t, summary.Sent)
	require.Len(t, summary.Errors, 3)
	assert.Contains(t, summary.Errors[0].Error, "Company")
	assert.Equal(t, 3, rows.CountStatus(model.StatusError))
	assert.Len(t, f.sleeper.calls, 3)

	rc = runConfig(model.ModeNew)
	summary, err = f.dispatcher.Run(context.Background(), f.mailbox, rows, rc, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Sent)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, "bob@example.com", summary.Errors[0].Recipient)
	assert.Equal(t, "quota exceeded", summary.Errors[0].Error)
	assert.Equal(t, model.StatusError, rows.Rows[1].Status())
}

func TestDispatcher_MessageIDFallback(t *testing.T) {
	f := newDispatchFixture(t, nil)
	f.mailbox.hideHeaders = true
	rows := model.NewRowSet([]string{"Name", "Email"}, [][]string{{"Ada", "ada@example.com"}})

	_, err := f.dispatcher.Run(context.Background(), f.mailbox, rows, runConfig(model.ModeNew), nil)
	require.NoError(t, err)

	assert.Equal(t, 6, f.mailbox.lookups)
	assert.Equal(t, "m1", rows.Rows[0][model.ColumnRfcMessageID])

	// five backoffs between six lookups, then the inter-row delay
	require.Len(t, f.sleeper.calls, 6)
	for _, d := range f.sleeper.calls[:5] {
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 2*time.Second)
	}
}

func TestDispatcher_LabelFailureIsNonFatal(t *testing.T) {
	f := newDispatchFixture(t, nil)
	f.mailbox.labelErr = errors.New("labels unavailable")
	rows := bulkRows(2)

	summary, err := f.dispatcher.Run(context.Background(), f.mailbox, rows, runConfig(model.ModeNew), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Sent)
	assert.Equal(t, 2, rows.CountStatus(model.StatusSent))
	require.Len(t, summary.Warnings, 1)
	assert.Contains(t, summary.Warnings[0], "Batch labeling failed")
	assert.NotEmpty(t, summary.ExportPath)
}

func TestDispatcher_BackupEmail(t *testing.T) {
	f := newDispatchFixture(t, func(c *config.DispatchConfig) { c.BackupEmail = true })
	rows := bulkRows(1)

	summary, err := f.dispatcher.Run(context.Background(), f.mailbox, rows, runConfig(model.ModeNew), nil)
	require.NoError(t, err)
	require.Len(t, f.mailbox.sent, 2)

	backup := f.mailbox.sent[1]
	assert.Equal(t, "me@example.com", backup.To)
	assert.Contains(t, backup.Subject, "Mail Merge Backup CSV")
	require.Len(t, backup.Attachments, 1)
	assert.Equal(t, filepath.Base(summary.ExportPath), backup.Attachments[0].Filename)
	assert.Contains(t, string(backup.Attachments[0].Data), "user0@example.com")
}

func TestDispatcher_BackupFailureIsNonFatal(t *testing.T) {
	f := newDispatchFixture(t, func(c *config.DispatchConfig) { c.BackupEmail = true })
	f.mailbox.owner = ""

	summary, err := f.dispatcher.Run(context.Background(), f.mailbox, bulkRows(1), runConfig(model.ModeNew), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	require.Len(t, summary.Warnings, 1)
	assert.Contains(t, summary.Warnings[0], "Backup email failed")
}

func TestDispatcher_InterruptedRunPersistsProgress(t *testing.T) {
	f := newDispatchFixture(t, nil)
	f.sleeper.failAfter = 2
	rows := bulkRows(5)

	summary, err := f.dispatcher.Run(context.Background(), f.mailbox, rows, runConfig(model.ModeNew), nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, summary.Sent)
	assert.Empty(t, summary.ExportPath)

	stored, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stored.CountStatus(model.StatusSent))
	assert.Equal(t, []int{2, 3, 4}, stored.PendingIndices())

	_, err = f.markers.CheckAndLoad()
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDispatcher_CancelDuringFinalPauseStillCompletes(t *testing.T) {
	tests := []struct {
		name      string
		rows      int
		mode      model.Mode
		batchSize int
	}{
		{"after last pending row", 3, model.ModeNew, 50},
		{"after batch cap reached", 5, model.ModeNew, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDispatchFixture(t, nil)
			f.sleeper.failAfter = 3
			rc := runConfig(tt.mode)
			rc.BatchSize = tt.batchSize

			summary, err := f.dispatcher.Run(context.Background(), f.mailbox, bulkRows(tt.rows), rc, nil)
			require.NoError(t, err)
			assert.Equal(t, 3, summary.Sent)
			require.NotEmpty(t, summary.ExportPath)
			assert.FileExists(t, summary.ExportPath)

			marker, err := f.markers.CheckAndLoad()
			require.NoError(t, err)
			assert.NotEmpty(t, marker)
		})
	}
}

func TestDispatcher_NoRows(t *testing.T) {
	f := newDispatchFixture(t, nil)
	_, err := f.dispatcher.Run(context.Background(), f.mailbox, &model.RowSet{}, runConfig(model.ModeNew), nil)
	assert.ErrorIs(t, err, ErrNoRows)
}
