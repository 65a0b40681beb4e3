package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"readersync/internal/client/readwise"
	"readersync/internal/repository"
)

// PageFetcher is the part of the Readwise client the sync loop depends on.
type PageFetcher interface {
	FetchPage(ctx context.Context, cursor string, updatedAfter *time.Time) (readwise.Page, error)
}

type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

type State string

const (
	StateNotStarted      State = "not_started"
	StateDeterminingMode State = "determining_mode"
	StateFetching        State = "fetching"
	StateCommitting      State = "committing"
	StateDone            State = "done"
	StateAborted         State = "aborted"
)

type SyncOptions struct {
	FullSync bool
}

type Result struct {
	RunID        string     `json:"run_id"`
	Mode         Mode       `json:"mode,omitempty"`
	State        State      `json:"state"`
	UpdatedAfter *time.Time `json:"updated_after,omitempty"`
	Pages        int        `json:"pages"`
	Upserted     int        `json:"upserted"`
	Failed       int        `json:"failed"`
	Warnings     int        `json:"warnings"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   time.Time  `json:"finished_at,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// DocumentSyncService mirrors the Reader document list into the store. Runs
// are strictly sequential; a second concurrent Sync gets ErrRunInProgress.
type DocumentSyncService struct {
	Store  repository.DocumentRepository
	Source PageFetcher
	Logger *zap.Logger
	Now    func() time.Time
	// StoreRetry bounds retries of document writes that fail transiently.
	StoreRetry StoreRetry

	running atomic.Bool
	sleep   func(ctx context.Context, d time.Duration) error

	mu   sync.RWMutex
	last *Result
}

func (s *DocumentSyncService) Sync(ctx context.Context, opts SyncOptions) (Result, error) {
	if s.Store == nil {
		return Result{}, fmt.Errorf("store is nil")
	}
	if s.Source == nil {
		return Result{}, fmt.Errorf("source is nil")
	}
	if !s.running.CompareAndSwap(false, true) {
		return Result{}, ErrRunInProgress
	}
	defer s.running.Store(false)

	run := &syncRun{
		svc:        s,
		checkpoint: &CheckpointStore{Store: s.Store},
		result: Result{
			RunID: uuid.NewString(),
			State: StateNotStarted,
		},
	}
	run.logger = s.logger().With(zap.String("run_id", run.result.RunID))
	run.sink = &DocumentSink{
		Store:  s.Store,
		Retry:  s.StoreRetry,
		Logger: run.logger,
		sleep:  s.sleep,
	}

	err := run.execute(ctx, opts)
	run.result.FinishedAt = s.now()
	if err != nil {
		run.result.State = StateAborted
		run.result.Error = err.Error()
		run.logger.Error("sync aborted",
			zap.String("mode", string(run.result.Mode)),
			zap.Int("pages", run.result.Pages),
			zap.Int("upserted", run.result.Upserted),
			zap.Int("failed", run.result.Failed),
			zap.Error(err),
		)
	} else {
		run.logger.Info("sync done",
			zap.String("mode", string(run.result.Mode)),
			zap.Int("pages", run.result.Pages),
			zap.Int("upserted", run.result.Upserted),
			zap.Int("failed", run.result.Failed),
			zap.Duration("elapsed", run.result.FinishedAt.Sub(run.result.StartedAt)),
		)
	}
	s.setLast(run.result)
	return run.result, err
}

// LastResult returns the outcome of the most recent finished run.
func (s *DocumentSyncService) LastResult() (Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return Result{}, false
	}
	return *s.last, true
}

func (s *DocumentSyncService) Running() bool {
	return s.running.Load()
}

func (s *DocumentSyncService) setLast(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &r
}

func (s *DocumentSyncService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *DocumentSyncService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

type syncRun struct {
	svc        *DocumentSyncService
	checkpoint *CheckpointStore
	sink       *DocumentSink
	logger     *zap.Logger
	result     Result
}

func (r *syncRun) execute(ctx context.Context, opts SyncOptions) error {
	// Captured before the first fetch so documents changed during the run are
	// picked up again by the next incremental pass.
	startedAt := r.svc.now()
	r.result.StartedAt = startedAt

	r.result.State = StateDeterminingMode
	updatedAfter, err := r.determineMode(ctx, opts)
	if err != nil {
		return err
	}
	r.result.UpdatedAfter = updatedAfter

	r.result.State = StateFetching
	if err := r.fetchAll(ctx, updatedAfter); err != nil {
		return err
	}

	r.result.State = StateCommitting
	stats := RunStats{
		Mode:     r.result.Mode,
		Pages:    r.result.Pages,
		Upserted: r.result.Upserted,
		Failed:   r.result.Failed,
	}
	if err := r.checkpoint.Save(ctx, startedAt, r.result.RunID, stats); err != nil {
		return err
	}
	r.logger.Info("checkpoint saved", zap.Time("last_sync_at", startedAt))
	r.result.State = StateDone
	return nil
}

func (r *syncRun) determineMode(ctx context.Context, opts SyncOptions) (*time.Time, error) {
	if opts.FullSync {
		// Value discarded; an unreachable checkpoint store fails before fetching.
		if _, err := r.checkpoint.Load(ctx); err != nil {
			return nil, err
		}
		r.result.Mode = ModeFull
		r.logger.Info("full sync requested, ignoring checkpoint")
		return nil, nil
	}

	checkpoint, err := r.checkpoint.Load(ctx)
	if err != nil {
		return nil, err
	}
	total, err := r.svc.Store.CountDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}

	switch {
	case checkpoint == nil:
		r.result.Mode = ModeFull
		r.logger.Info("no checkpoint found, performing full sync")
		return nil, nil
	case total == 0:
		r.result.Mode = ModeFull
		r.logger.Info("document table is empty, performing full sync", zap.Time("checkpoint", *checkpoint))
		return nil, nil
	default:
		r.result.Mode = ModeIncremental
		r.logger.Info("resuming from checkpoint", zap.Time("updated_after", *checkpoint))
		return checkpoint, nil
	}
}

func (r *syncRun) fetchAll(ctx context.Context, updatedAfter *time.Time) error {
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := r.svc.Source.FetchPage(ctx, cursor, updatedAfter)
		if err != nil {
			return fmt.Errorf("fetch page %d: %w", r.result.Pages+1, err)
		}
		r.result.Pages++
		r.logger.Info("page fetched",
			zap.Int("page", r.result.Pages),
			zap.Int("results", len(page.Results)),
			zap.Int("remaining", page.Count),
		)

		failed, err := r.storePage(ctx, page)
		if err != nil {
			return fmt.Errorf("store page %d: %w", r.result.Pages, err)
		}
		if failed > 0 {
			r.logger.Warn("documents failed on this page",
				zap.Int("page", r.result.Pages),
				zap.Int("failed", failed),
			)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if !page.HasNext() {
			return nil
		}
		if page.NextPageCursor == cursor {
			return fmt.Errorf("%w: %q", ErrCursorStalled, cursor)
		}
		cursor = page.NextPageCursor
	}
}

// storePage normalizes and writes each record, returning how many failed.
// Any error that is not a *RecordError stops the page and aborts the run.
func (r *syncRun) storePage(ctx context.Context, page readwise.Page) (int, error) {
	failed := 0
	for _, raw := range page.Results {
		err := r.storeRecord(ctx, raw)
		if err == nil {
			r.result.Upserted++
			continue
		}
		var recErr *RecordError
		if !errors.As(err, &recErr) {
			return failed, err
		}
		failed++
		r.result.Failed++
		r.logger.Error("document not synced",
			zap.String("document_id", recErr.ID),
			zap.String("field", recErr.Field),
			zap.Error(err),
		)
	}
	return failed, nil
}

func (r *syncRun) storeRecord(ctx context.Context, raw json.RawMessage) error {
	normalized, err := Normalize(raw)
	if err != nil {
		return err
	}
	doc := normalized.Document
	for _, w := range normalized.Warnings {
		r.result.Warnings++
		r.logger.Warn("document field defaulted",
			zap.String("document_id", doc.ID),
			zap.String("field", w.Field),
			zap.String("kind", w.Kind),
			zap.String("raw", w.Raw),
		)
	}
	if err := r.sink.Upsert(ctx, &doc); err != nil {
		return err
	}
	r.logger.Debug("document synced", zap.String("document_id", doc.ID), zap.String("title", doc.Title))
	return nil
}
