package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the settings a sync run cannot start without.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Readwise.Token) == "" {
		errs = append(errs, errors.New("readwise token is required (readwise.token or RS_READWISE_TOKEN)"))
	}
	if strings.TrimSpace(c.DB.DSN) == "" {
		errs = append(errs, errors.New("db dsn is required (db.dsn or RS_DB_DSN)"))
	}
	if c.Readwise.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("readwise.max_attempts must be at least 1, got %d", c.Readwise.MaxAttempts))
	}
	if c.Readwise.BackoffMin <= 0 || c.Readwise.BackoffMax < c.Readwise.BackoffMin {
		errs = append(errs, fmt.Errorf("readwise backoff window invalid: min=%s max=%s", c.Readwise.BackoffMin, c.Readwise.BackoffMax))
	}
	if c.DB.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("db.retry_attempts must be at least 1, got %d", c.DB.RetryAttempts))
	}
	if c.Cron.Enabled && strings.TrimSpace(c.Cron.Sync) == "" {
		errs = append(errs, errors.New("cron.sync must be set when cron is enabled"))
	}
	return errors.Join(errs...)
}
