package service

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/mailmerge/mailmerge/internal/config"
	"github.com/mailmerge/mailmerge/internal/logger"
	"github.com/mailmerge/mailmerge/internal/model"
	"github.com/mailmerge/mailmerge/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mergeFixture struct {
	*dispatchFixture
	svc *MergeService
}

func newMergeFixture(t *testing.T) *mergeFixture {
	t.Helper()
	f := newDispatchFixture(t, nil)
	cfg := config.Default().Dispatch
	svc := NewMergeService(f.store, f.markers, f.dispatcher, cfg, logger.Nop())
	require.NoError(t, svc.Startup(context.Background()))
	return &mergeFixture{dispatchFixture: f, svc: svc}
}

func newRequest(mode model.Mode) DispatchRequest {
	return DispatchRequest{Subject: "Hello {Name}", Body: "Hi {Name}", Mode: mode}
}

func TestMergeService_Lifecycle(t *testing.T) {
	f := newMergeFixture(t)
	ctx := context.Background()

	assert.Equal(t, PhaseIdle, f.svc.Snapshot().Phase)
	_, err := f.svc.Dispatch(ctx, f.mailbox, newRequest(model.ModeNew), nil)
	require.ErrorIs(t, err, ErrNoRows)

	require.NoError(t, f.svc.LoadRows(ctx, bulkRows(60)))
	snap := f.svc.Snapshot()
	assert.Equal(t, 60, snap.Rows)
	assert.Equal(t, 60, snap.Pending)

	summary, err := f.svc.Dispatch(ctx, f.mailbox, newRequest(model.ModeNew), nil)
	require.NoError(t, err)
	assert.Equal(t, 50, summary.Sent)

	snap = f.svc.Snapshot()
	assert.Equal(t, PhaseCompleted, snap.Phase)
	assert.Equal(t, 50, snap.Sent)
	assert.Equal(t, 10, snap.Pending)
	require.NotNil(t, snap.Marker)
	assert.Equal(t, summary.ExportPath, snap.Marker.ExportPath)
	assert.Equal(t, model.Progress{Current: 50, Total: 60}, snap.Progress)

	path, err := f.svc.ExportFile()
	require.NoError(t, err)
	assert.Equal(t, summary.ExportPath, path)

	// completed is terminal until reset
	_, err = f.svc.Dispatch(ctx, f.mailbox, newRequest(model.ModeNew), nil)
	require.ErrorIs(t, err, ErrNotIdle)
	require.ErrorIs(t, f.svc.LoadRows(ctx, bulkRows(1)), ErrNotIdle)

	require.NoError(t, f.svc.Reset())
	summary, err = f.svc.Dispatch(ctx, f.mailbox, newRequest(model.ModeNew), nil)
	require.NoError(t, err)
	assert.Equal(t, 10, summary.Sent)
	assert.Len(t, f.mailbox.sentTo(), 60)
}

func TestMergeService_StartupWithMarker(t *testing.T) {
	f := newMergeFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.LoadRows(ctx, bulkRows(2)))
	_, err := f.svc.Dispatch(ctx, f.mailbox, newRequest(model.ModeNew), nil)
	require.NoError(t, err)

	restarted := NewMergeService(f.store, f.markers, f.dispatcher, config.Default().Dispatch, logger.Nop())
	require.NoError(t, restarted.Startup(ctx))
	snap := restarted.Snapshot()
	assert.Equal(t, PhaseCompleted, snap.Phase)
	require.NotNil(t, snap.Marker)
	assert.Equal(t, 2, snap.Sent)

	// deleting the export makes the marker count as absent
	require.NoError(t, os.Remove(snap.Marker.ExportPath))
	again := NewMergeService(f.store, f.markers, f.dispatcher, config.Default().Dispatch, logger.Nop())
	require.NoError(t, again.Startup(ctx))
	assert.Equal(t, PhaseIdle, again.Snapshot().Phase)
	assert.Nil(t, again.Snapshot().Marker)
}

func TestMergeService_ResetIsIdempotent(t *testing.T) {
	f := newMergeFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.LoadRows(ctx, bulkRows(3)))
	_, err := f.svc.Dispatch(ctx, f.mailbox, newRequest(model.ModeNew), nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.Reset())
	first := f.svc.Snapshot()
	require.NoError(t, f.svc.Reset())
	second := f.svc.Snapshot()

	assert.Equal(t, first, second)
	assert.Equal(t, PhaseIdle, second.Phase)
	assert.Nil(t, second.Summary)
	assert.Nil(t, second.Marker)
	assert.Nil(t, second.Run)
	assert.Equal(t, model.Progress{}, second.Progress)

	_, err = f.markers.CheckAndLoad()
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = f.svc.ExportFile()
	assert.ErrorIs(t, err, ErrNoExport)

	// a fresh process over the same state looks the same
	fresh := NewMergeService(f.store, f.markers, f.dispatcher, config.Default().Dispatch, logger.Nop())
	require.NoError(t, fresh.Startup(ctx))
	assert.Equal(t, second, fresh.Snapshot())
}

func TestMergeService_RejectsConcurrentDispatch(t *testing.T) {
	f := newMergeFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.LoadRows(ctx, bulkRows(2)))

	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	f.dispatcher.SetSleeper(func(ctx context.Context, _ time.Duration) error {
		entered <- struct{}{}
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	_, err := f.svc.Start(f.mailbox, newRequest(model.ModeNew))
	require.NoError(t, err)
	<-entered

	assert.Equal(t, PhaseDispatching, f.svc.Snapshot().Phase)
	_, err = f.svc.Dispatch(ctx, f.mailbox, newRequest(model.ModeNew), nil)
	assert.ErrorIs(t, err, ErrDispatchInProgress)
	_, err = f.svc.Start(f.mailbox, newRequest(model.ModeNew))
	assert.ErrorIs(t, err, ErrDispatchInProgress)
	assert.ErrorIs(t, f.svc.Reset(), ErrDispatchInProgress)
	assert.ErrorIs(t, f.svc.ReplaceRows(ctx, bulkRows(1)), ErrDispatchInProgress)

	close(release)
	f.svc.Wait()
	snap := f.svc.Snapshot()
	assert.Equal(t, PhaseCompleted, snap.Phase)
	require.NotNil(t, snap.Summary)
	assert.Equal(t, 2, snap.Summary.Sent)
}

func TestMergeService_CancelledStartupReturnsToIdle(t *testing.T) {
	f := newDispatchFixture(t, nil)
	svc := NewMergeService(f.store, f.markers, f.dispatcher, config.Default().Dispatch, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Startup(ctx))
	require.NoError(t, svc.LoadRows(ctx, bulkRows(3)))

	f.dispatcher.SetSleeper(func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	})
	_, err := svc.Start(f.mailbox, newRequest(model.ModeNew))
	require.NoError(t, err)
	svc.Wait()

	snap := svc.Snapshot()
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.NotEmpty(t, snap.LastError)
	assert.Equal(t, 1, snap.Sent)
	assert.Equal(t, 2, snap.Pending)
}

func TestMergeService_RunConfig(t *testing.T) {
	f := newMergeFixture(t)

	rc, err := f.svc.RunConfig(DispatchRequest{Mode: "reply", Delay: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, model.ModeFollowUp, rc.Mode)
	assert.Equal(t, 20*time.Second, rc.Delay)
	assert.Equal(t, "Mail Merge Sent", rc.Label)
	assert.Equal(t, 50, rc.BatchSize)

	rc, err = f.svc.RunConfig(DispatchRequest{Delay: 10 * time.Minute, Label: " Custom "})
	require.NoError(t, err)
	assert.Equal(t, model.ModeNew, rc.Mode)
	assert.Equal(t, 75*time.Second, rc.Delay)
	assert.Equal(t, "Custom", rc.Label)

	rc, err = f.svc.RunConfig(DispatchRequest{})
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, rc.Delay)

	_, err = f.svc.RunConfig(DispatchRequest{Mode: "broadcast"})
	assert.Error(t, err)
}

func TestMergeService_Preview(t *testing.T) {
	f := newMergeFixture(t)
	ctx := context.Background()

	_, err := f.svc.Preview("Hi {Name}", "Body")
	require.ErrorIs(t, err, ErrNoRows)

	require.NoError(t, f.svc.LoadRows(ctx, bulkRows(2)))
	p, err := f.svc.Preview("Hi {Name}", "**Bold** {Name}")
	require.NoError(t, err)
	assert.Equal(t, "Hi User0", p.Subject)
	assert.Contains(t, p.HTML, "<b>Bold</b> User0")
	assert.Empty(t, p.Warning)

	p, err = f.svc.Preview("Hi {Missing}", "Body")
	require.NoError(t, err)
	assert.Equal(t, "Hi {Missing}", p.Subject)
	assert.Contains(t, p.Warning, "Missing")
}

func TestMergeService_UploadAdvisory(t *testing.T) {
	f := newMergeFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.LoadRows(ctx, bulkRows(80)))
	assert.Empty(t, f.svc.Snapshot().Advisory)

	require.NoError(t, f.svc.ReplaceRows(ctx, bulkRows(81)))
	assert.Contains(t, f.svc.Snapshot().Advisory, "81 rows")
}

func TestMergeService_ClearRows(t *testing.T) {
	f := newMergeFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.LoadRows(ctx, bulkRows(2)))
	require.NoError(t, f.svc.ClearRows(ctx))

	_, err := f.svc.Rows()
	assert.ErrorIs(t, err, ErrNoRows)
	_, err = f.store.Load(ctx)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
