package service

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readersync/internal/client/readwise"
	"readersync/internal/models"
)

func record(id string, extra string) json.RawMessage {
	body := fmt.Sprintf(`{"id":%q,"category":"article","created_at":"2024-01-01T00:00:00Z","reading_progress":0.25`, id)
	if extra != "" {
		body += "," + extra
	}
	return json.RawMessage(body + "}")
}

func page(next string, records ...json.RawMessage) readwise.Page {
	return readwise.Page{Count: len(records), NextPageCursor: next, Results: records}
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestSyncFullModeWhenNoCheckpoint(t *testing.T) {
	repo := newStubRepo()
	fetcher := &stubFetcher{pages: []readwise.Page{
		page("c2", record("a", ""), record("b", "")),
		page("c3", record("c", "")),
		page("", record("d", "")),
	}}
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := &DocumentSyncService{Store: repo, Source: fetcher, Now: fixedClock(started)}

	res, err := svc.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, ModeFull, res.Mode)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 4, res.Upserted)
	assert.Zero(t, res.Failed)
	assert.NotEmpty(t, res.RunID)

	require.Len(t, fetcher.calls, 3)
	assert.Equal(t, []string{"", "c2", "c3"}, []string{fetcher.calls[0].cursor, fetcher.calls[1].cursor, fetcher.calls[2].cursor})
	for _, call := range fetcher.calls {
		assert.Nil(t, call.updatedAfter)
	}

	cp := repo.checkpoint()
	require.NotNil(t, cp)
	assert.True(t, cp.Equal(started))
	assert.Equal(t, 1, repo.saves)
	require.NotNil(t, repo.state.LastRunID)
	assert.Equal(t, res.RunID, *repo.state.LastRunID)

	var stats RunStats
	require.NoError(t, json.Unmarshal(repo.state.StatsJSON, &stats))
	assert.Equal(t, RunStats{Mode: ModeFull, Pages: 3, Upserted: 4}, stats)
}

func TestSyncIncrementalUsesCheckpoint(t *testing.T) {
	repo := newStubRepo()
	repo.docs["old"] = models.Document{ID: "old"}
	prev := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	repo.state = &models.SyncState{ID: models.CheckpointID, LastSyncAt: &prev}

	fetcher := &stubFetcher{pages: []readwise.Page{page("", record("a", ""))}}
	started := prev.Add(48 * time.Hour)
	svc := &DocumentSyncService{Store: repo, Source: fetcher, Now: fixedClock(started)}

	res, err := svc.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, ModeIncremental, res.Mode)
	require.NotNil(t, res.UpdatedAfter)
	assert.True(t, res.UpdatedAfter.Equal(prev))

	require.Len(t, fetcher.calls, 1)
	require.NotNil(t, fetcher.calls[0].updatedAfter)
	assert.True(t, fetcher.calls[0].updatedAfter.Equal(prev))

	cp := repo.checkpoint()
	require.NotNil(t, cp)
	assert.True(t, cp.After(prev))
}

func TestSyncEmptyStoreForcesFullMode(t *testing.T) {
	repo := newStubRepo()
	prev := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	repo.state = &models.SyncState{ID: models.CheckpointID, LastSyncAt: &prev}

	fetcher := &stubFetcher{pages: []readwise.Page{page("")}}
	svc := &DocumentSyncService{Store: repo, Source: fetcher}

	res, err := svc.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, ModeFull, res.Mode)
	require.Len(t, fetcher.calls, 1)
	assert.Nil(t, fetcher.calls[0].updatedAfter)
}

func TestSyncFullSyncFlagIgnoresCheckpoint(t *testing.T) {
	repo := newStubRepo()
	repo.docs["old"] = models.Document{ID: "old"}
	prev := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	repo.state = &models.SyncState{ID: models.CheckpointID, LastSyncAt: &prev}
	repo.stateErr = errors.New("must not be read")

	fetcher := &stubFetcher{pages: []readwise.Page{page("")}}
	svc := &DocumentSyncService{Store: repo, Source: fetcher}

	res, err := svc.Sync(context.Background(), SyncOptions{FullSync: true})
	require.NoError(t, err)
	assert.Equal(t, ModeFull, res.Mode)
	assert.Nil(t, fetcher.calls[0].updatedAfter)
}

func TestSyncPartialFailureStillCommits(t *testing.T) {
	repo := newStubRepo()
	repo.upsertErr["b"] = errors.New("check constraint violated")
	fetcher := &stubFetcher{pages: []readwise.Page{
		page("", record("a", ""), record("b", ""), record("c", `"reading_progress":1.7`), record("d", "")),
	}}
	svc := &DocumentSyncService{Store: repo, Source: fetcher}

	res, err := svc.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 2, res.Upserted)
	assert.Equal(t, 2, res.Failed)
	assert.NotNil(t, repo.checkpoint())

	_, storedA := repo.docs["a"]
	_, storedC := repo.docs["c"]
	assert.True(t, storedA)
	assert.False(t, storedC)
}

func TestSyncCountsWarnings(t *testing.T) {
	repo := newStubRepo()
	fetcher := &stubFetcher{pages: []readwise.Page{
		page("", json.RawMessage(`{"id":"w","category":"pdf","created_at":"2024-01-01T00:00:00Z","published_date":"someday"}`)),
	}}
	svc := &DocumentSyncService{Store: repo, Source: fetcher}

	res, err := svc.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Upserted)
	assert.Equal(t, 2, res.Warnings)
	assert.Nil(t, repo.docs["w"].PublishedDate)
}

func TestSyncAbortLeavesCheckpoint(t *testing.T) {
	repo := newStubRepo()
	repo.docs["old"] = models.Document{ID: "old"}
	prev := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	repo.state = &models.SyncState{ID: models.CheckpointID, LastSyncAt: &prev}

	fatal := &readwise.APIError{Status: 401, Body: "unauthorized"}
	fetcher := &stubFetcher{
		pages: []readwise.Page{page("c2", record("a", ""))},
		errs:  map[int]error{1: fatal},
	}
	svc := &DocumentSyncService{Store: repo, Source: fetcher}

	res, err := svc.Sync(context.Background(), SyncOptions{})
	require.Error(t, err)

	var apiErr *readwise.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, StateAborted, res.State)
	assert.Equal(t, 1, res.Upserted)
	assert.Zero(t, repo.saves)
	assert.True(t, repo.checkpoint().Equal(prev))

	last, ok := svc.LastResult()
	require.True(t, ok)
	assert.Equal(t, StateAborted, last.State)
	assert.NotEmpty(t, last.Error)
}

func TestSyncCheckpointLoadFailureAborts(t *testing.T) {
	repo := newStubRepo()
	repo.stateErr = errors.New("connection refused")
	fetcher := &stubFetcher{}
	svc := &DocumentSyncService{Store: repo, Source: fetcher}

	res, err := svc.Sync(context.Background(), SyncOptions{})
	var cpErr *CheckpointError
	require.True(t, errors.As(err, &cpErr))
	assert.Equal(t, "load", cpErr.Op)
	assert.Equal(t, StateAborted, res.State)
	assert.Empty(t, fetcher.calls)
}

func TestSyncCheckpointSaveFailureAborts(t *testing.T) {
	repo := newStubRepo()
	repo.saveErr = errors.New("disk full")
	fetcher := &stubFetcher{pages: []readwise.Page{page("", record("a", ""))}}
	svc := &DocumentSyncService{Store: repo, Source: fetcher}

	res, err := svc.Sync(context.Background(), SyncOptions{})
	var cpErr *CheckpointError
	require.True(t, errors.As(err, &cpErr))
	assert.Equal(t, "save", cpErr.Op)
	assert.Equal(t, StateAborted, res.State)
	assert.Equal(t, 1, res.Upserted)
}

func TestSyncCancelledMidRun(t *testing.T) {
	repo := newStubRepo()
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &stubFetcher{
		pages: []readwise.Page{page("c2", record("a", "")), page("", record("b", ""))},
		onCall: func(n int) {
			if n == 0 {
				cancel()
			}
		},
	}
	svc := &DocumentSyncService{Store: repo, Source: fetcher}

	res, err := svc.Sync(ctx, SyncOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateAborted, res.State)
	assert.Len(t, fetcher.calls, 1)
	assert.Nil(t, repo.checkpoint())
}

func TestSyncStalledCursorAborts(t *testing.T) {
	repo := newStubRepo()
	fetcher := &stubFetcher{pages: []readwise.Page{page("same"), page("same")}}
	svc := &DocumentSyncService{Store: repo, Source: fetcher}

	_, err := svc.Sync(context.Background(), SyncOptions{})
	assert.ErrorIs(t, err, ErrCursorStalled)
	assert.Zero(t, repo.saves)
}

func TestSyncRejectsOverlappingRun(t *testing.T) {
	repo := newStubRepo()
	svc := &DocumentSyncService{Store: repo}

	var inner error
	fetcher := &stubFetcher{
		pages: []readwise.Page{page("")},
		onCall: func(int) {
			assert.True(t, svc.Running())
			_, inner = svc.Sync(context.Background(), SyncOptions{})
		},
	}
	svc.Source = fetcher

	_, err := svc.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrRunInProgress)
	assert.False(t, svc.Running())
}

func TestSyncRerunIsIdempotent(t *testing.T) {
	repo := newStubRepo()
	pages := []readwise.Page{page("", record("a", `"title":"One"`), record("b", `"title":"Two"`))}
	svc := &DocumentSyncService{Store: repo, Source: &stubFetcher{pages: pages}}

	_, err := svc.Sync(context.Background(), SyncOptions{FullSync: true})
	require.NoError(t, err)
	first := map[string]models.Document{}
	for k, v := range repo.docs {
		first[k] = v
	}

	svc.Source = &stubFetcher{pages: pages}
	_, err = svc.Sync(context.Background(), SyncOptions{FullSync: true})
	require.NoError(t, err)
	assert.Equal(t, first, repo.docs)
}

func TestSyncNextRunStartsFromCommittedStart(t *testing.T) {
	repo := newStubRepo()
	first := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := &DocumentSyncService{
		Store:  repo,
		Source: &stubFetcher{pages: []readwise.Page{page("", record("a", ""))}},
		Now:    fixedClock(first),
	}
	_, err := svc.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)

	next := &stubFetcher{pages: []readwise.Page{page("")}}
	svc.Source = next
	svc.Now = fixedClock(first.Add(time.Hour))
	res, err := svc.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)

	assert.Equal(t, ModeIncremental, res.Mode)
	require.Len(t, next.calls, 1)
	require.NotNil(t, next.calls[0].updatedAfter)
	assert.True(t, next.calls[0].updatedAfter.Equal(first))
}

func TestSyncMalformedRecordIsSkipped(t *testing.T) {
	repo := newStubRepo()
	fetcher := &stubFetcher{pages: []readwise.Page{
		page("", record("a", ""), json.RawMessage(`{"id":"broken","category":"article","created_at":"yesterday"}`), record("c", "")),
	}}
	svc := &DocumentSyncService{Store: repo, Source: fetcher}

	res, err := svc.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 2, res.Upserted)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, repo.docs, 2)
	assert.NotNil(t, repo.checkpoint())
}

type recordedWaits struct {
	waits []time.Duration
}

func (r *recordedWaits) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return nil
}

func TestSyncStoreTimeoutAbortsWithoutCheckpoint(t *testing.T) {
	repo := newStubRepo()
	repo.upsertErr["b"] = context.DeadlineExceeded
	fetcher := &stubFetcher{pages: []readwise.Page{
		page("", record("a", ""), record("b", ""), record("c", "")),
	}}
	waits := &recordedWaits{}
	svc := &DocumentSyncService{
		Store:      repo,
		Source:     fetcher,
		StoreRetry: StoreRetry{MaxAttempts: 3, BackoffMin: time.Second, BackoffMax: time.Minute},
		sleep:      waits.sleep,
	}

	res, err := svc.Sync(context.Background(), SyncOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateAborted, res.State)
	assert.Zero(t, repo.saves)
	assert.Nil(t, repo.checkpoint())

	assert.Equal(t, 3, repo.upsertCalls["b"])
	assert.Zero(t, repo.upsertCalls["c"])
	require.Len(t, waits.waits, 2)
	assert.GreaterOrEqual(t, waits.waits[0], time.Second)
	assert.GreaterOrEqual(t, waits.waits[1], 2*time.Second)
}

func TestSyncTransientStoreErrorIsRetried(t *testing.T) {
	repo := newStubRepo()
	repo.upsertErrs["b"] = []error{driver.ErrBadConn, fmt.Errorf("exec: %w", context.DeadlineExceeded)}
	fetcher := &stubFetcher{pages: []readwise.Page{
		page("", record("a", ""), record("b", "")),
	}}
	waits := &recordedWaits{}
	svc := &DocumentSyncService{Store: repo, Source: fetcher, sleep: waits.sleep}

	res, err := svc.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, 2, res.Upserted)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 3, repo.upsertCalls["b"])
	assert.Len(t, waits.waits, 2)
	assert.Equal(t, 1, repo.saves)
}

func TestSyncFullSyncChecksCheckpointBeforeFetching(t *testing.T) {
	repo := newStubRepo()
	repo.stateErr = errors.New("connection refused")
	fetcher := &stubFetcher{}
	svc := &DocumentSyncService{Store: repo, Source: fetcher}

	res, err := svc.Sync(context.Background(), SyncOptions{FullSync: true})
	var cpErr *CheckpointError
	require.True(t, errors.As(err, &cpErr))
	assert.Equal(t, "load", cpErr.Op)
	assert.Equal(t, StateAborted, res.State)
	assert.Empty(t, fetcher.calls)
}
