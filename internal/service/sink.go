package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"readersync/internal/models"
	"readersync/internal/repository"
	"readersync/internal/retry"
)

// DocumentSink writes normalized documents one at a time. Row level failures
// come back as *RecordError. Transient store failures are retried and, once
// the attempts run out, returned as ErrStoreUnavailable.
type DocumentSink struct {
	Store  repository.DocumentRepository
	Retry  StoreRetry
	Logger *zap.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration
}

func (s *DocumentSink) Upsert(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return &RecordError{Err: errors.New("nil document")}
	}
	if err := validateDocument(doc); err != nil {
		return err
	}
	if s == nil || s.Store == nil {
		return &RecordError{ID: doc.ID, Err: errors.New("store is nil")}
	}

	policy := s.Retry.withDefaults()
	delay := policy.BackoffMin
	for attempt := 1; ; attempt++ {
		err := s.Store.UpsertDocument(ctx, doc)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !transientStoreError(err) {
			return &RecordError{ID: doc.ID, Err: fmt.Errorf("upsert: %w", err)}
		}
		if attempt >= policy.MaxAttempts {
			return fmt.Errorf("%w: document %s after %d attempts: %w", ErrStoreUnavailable, doc.ID, attempt, err)
		}
		wait := delay + s.jitterFor(delay)
		s.logger().Warn("document upsert failed, retrying",
			zap.String("document_id", doc.ID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		if err := s.sleepFor(ctx, wait); err != nil {
			return err
		}
		delay = retry.Next(delay, policy.BackoffMax)
	}
}

func (s *DocumentSink) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *DocumentSink) sleepFor(ctx context.Context, d time.Duration) error {
	if s.sleep != nil {
		return s.sleep(ctx, d)
	}
	return retry.Sleep(ctx, d)
}

func (s *DocumentSink) jitterFor(d time.Duration) time.Duration {
	if s.jitter != nil {
		return s.jitter(d)
	}
	return retry.HalfJitter(d)
}

func validateDocument(doc *models.Document) error {
	invalid := func(field, format string, args ...any) error {
		return &RecordError{ID: doc.ID, Field: field, Err: fmt.Errorf(format, args...)}
	}
	switch {
	case strings.TrimSpace(doc.ID) == "":
		return invalid("id", "empty")
	case strings.TrimSpace(doc.Title) == "":
		return invalid("title", "empty")
	case !doc.Category.Valid():
		return invalid("category", "unknown value %q", doc.Category)
	case !doc.Location.Valid():
		return invalid("location", "unknown value %q", doc.Location)
	case math.IsNaN(doc.ReadingProgress) || doc.ReadingProgress < 0 || doc.ReadingProgress > 1:
		return invalid("reading_progress", "%v outside [0, 1]", doc.ReadingProgress)
	case doc.WordCount < 0:
		return invalid("word_count", "negative: %d", doc.WordCount)
	case doc.CreatedAt.IsZero():
		return invalid("created_at", "missing")
	}
	return nil
}
