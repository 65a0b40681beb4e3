package repository

import (
	"context"

	"readersync/internal/models"
)

// DocumentRepository is the persistence surface the sync engine needs.
type DocumentRepository interface {
	// UpsertDocument inserts doc or fully replaces the row with the same id,
	// in a single statement.
	UpsertDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	CountDocuments(ctx context.Context) (int64, error)

	// GetSyncState returns nil without error when the checkpoint row is missing.
	GetSyncState(ctx context.Context) (*models.SyncState, error)
	SaveSyncState(ctx context.Context, state *models.SyncState) error
}
