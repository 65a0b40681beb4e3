package db

import (
	"readersync/internal/models"
)

// AutoMigrate creates the documents and sync_state tables and seeds the
// checkpoint row. Production schemas are normally managed out of band; this
// is enabled with db.auto_migrate and always used by tests.
func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil {
		return nil
	}

	if err := db.Gorm.AutoMigrate(
		&models.Document{},
		&models.SyncState{},
	); err != nil {
		return err
	}

	seed := models.SyncState{ID: models.CheckpointID}
	return db.Gorm.Where(models.SyncState{ID: models.CheckpointID}).FirstOrCreate(&seed).Error
}
