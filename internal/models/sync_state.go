package models

import (
	"time"

	"gorm.io/datatypes"
)

// CheckpointID is the primary key of the only sync_state row.
const CheckpointID = 1

type SyncState struct {
	ID         int            `gorm:"primaryKey;autoIncrement:false;check:chk_sync_state_singleton,id = 1"`
	LastSyncAt *time.Time     `gorm:"comment:start time of the last completed sync"`
	LastRunID  *string        `gorm:"type:text;comment:run that wrote the checkpoint"`
	StatsJSON  datatypes.JSON `gorm:"comment:stats of the committing run"`
}

func (SyncState) TableName() string {
	return "sync_state"
}
