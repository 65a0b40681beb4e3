package gormrepository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"readersync/internal/models"
)

const defaultTimeout = 30 * time.Second

type Store struct {
	db      *gorm.DB
	timeout time.Duration
}

// New returns a Store whose calls are each bounded by timeout.
func New(db *gorm.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Store{db: db, timeout: timeout}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) UpsertDocument(ctx context.Context, doc *models.Document) error {
	if s == nil || s.db == nil {
		return errors.New("store is not configured")
	}
	if doc == nil {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(models.DocumentColumns),
	}).Create(doc).Error
}

func (s *Store) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not configured")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc models.Document
	err := s.db.WithContext(ctx).First(&doc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Store) CountDocuments(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not configured")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Document{}).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) GetSyncState(ctx context.Context) (*models.SyncState, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not configured")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var state models.SyncState
	err := s.db.WithContext(ctx).First(&state, "id = ?", models.CheckpointID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *Store) SaveSyncState(ctx context.Context, state *models.SyncState) error {
	if s == nil || s.db == nil {
		return errors.New("store is not configured")
	}
	if state == nil {
		return nil
	}
	state.ID = models.CheckpointID
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"last_sync_at",
				"last_run_id",
				"stats_json",
			}),
		}).Create(state).Error
	})
}
