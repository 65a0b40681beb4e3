package service

import (
	"errors"
	"fmt"
)

// ErrRunInProgress is returned when a sync is requested while another one holds the guard.
var ErrRunInProgress = errors.New("sync already in progress")

// ErrCursorStalled is returned when the remote returns the cursor it was just given.
var ErrCursorStalled = errors.New("page cursor did not advance")

// RecordError describes a single document that could not be normalized or
// written. It is counted and skipped; it never aborts a run.
type RecordError struct {
	ID    string
	Field string
	Err   error
}

func (e *RecordError) Error() string {
	id := e.ID
	if id == "" {
		id = "<unknown>"
	}
	if e.Field != "" {
		return fmt.Sprintf("document %s: %s: %v", id, e.Field, e.Err)
	}
	return fmt.Sprintf("document %s: %v", id, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// CheckpointError wraps a failure to read or write the sync checkpoint.
type CheckpointError struct {
	Op  string
	Err error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s: %v", e.Op, e.Err)
}

func (e *CheckpointError) Unwrap() error {
	return e.Err
}
