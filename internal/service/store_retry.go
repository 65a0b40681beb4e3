package service

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrStoreUnavailable is returned once a document write kept failing with a
// transient store error. It aborts the run so the checkpoint does not advance
// past documents that were never written.
var ErrStoreUnavailable = errors.New("document store unavailable")

// StoreRetry bounds the retries of a single document write.
type StoreRetry struct {
	MaxAttempts int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
}

func (p StoreRetry) withDefaults() StoreRetry {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BackoffMin <= 0 {
		p.BackoffMin = 200 * time.Millisecond
	}
	if p.BackoffMax <= 0 {
		p.BackoffMax = 5 * time.Second
	}
	if p.BackoffMax < p.BackoffMin {
		p.BackoffMax = p.BackoffMin
	}
	return p
}

// transientStoreError reports failures of the connection or the statement
// deadline rather than of the row itself.
func transientStoreError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"): // connection exception
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01": // serialization failure, deadlock
			return true
		case pgErr.Code == "53300", pgErr.Code == "57P01", pgErr.Code == "57014": // too many connections, admin shutdown, query canceled
			return true
		}
	}
	return false
}
