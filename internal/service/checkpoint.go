package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"

	"readersync/internal/models"
	"readersync/internal/repository"
)

// RunStats is the informational summary stored next to the checkpoint.
type RunStats struct {
	Mode     Mode `json:"mode"`
	Pages    int  `json:"pages"`
	Upserted int  `json:"upserted"`
	Failed   int  `json:"failed"`
}

type CheckpointStore struct {
	Store repository.DocumentRepository
}

// Load returns the last committed sync start time, or nil when none exists.
func (c *CheckpointStore) Load(ctx context.Context) (*time.Time, error) {
	if c == nil || c.Store == nil {
		return nil, &CheckpointError{Op: "load", Err: errors.New("store is nil")}
	}
	state, err := c.Store.GetSyncState(ctx)
	if err != nil {
		return nil, &CheckpointError{Op: "load", Err: err}
	}
	if state == nil || state.LastSyncAt == nil {
		return nil, nil
	}
	ts := state.LastSyncAt.UTC()
	return &ts, nil
}

func (c *CheckpointStore) Save(ctx context.Context, startedAt time.Time, runID string, stats RunStats) error {
	if c == nil || c.Store == nil {
		return &CheckpointError{Op: "save", Err: errors.New("store is nil")}
	}
	payload, err := json.Marshal(stats)
	if err != nil {
		return &CheckpointError{Op: "save", Err: err}
	}
	ts := startedAt.UTC()
	state := &models.SyncState{
		ID:         models.CheckpointID,
		LastSyncAt: &ts,
		StatsJSON:  datatypes.JSON(payload),
	}
	if runID != "" {
		state.LastRunID = &runID
	}
	if err := c.Store.SaveSyncState(ctx, state); err != nil {
		return &CheckpointError{Op: "save", Err: err}
	}
	return nil
}
