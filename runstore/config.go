// Package runstore optionally persists run summaries to Postgres, so a
// fleet of backtests can be queried and compared after the fact. It is
// entirely optional: a nil *Store is a valid no-op collaborator and
// cmd/backtest only constructs one when a DSN is configured.
package runstore

import (
	"errors"
	"time"
)

var (
	// ErrInvalidDSN is returned when the DSN is empty or invalid.
	ErrInvalidDSN = errors.New("runstore: invalid or empty DSN")
	// ErrMigrationFailed is returned when migrations fail to apply.
	ErrMigrationFailed = errors.New("runstore: migration failed")
)

// Config holds database connection configuration.
type Config struct {
	DSN string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
		RetryAttempts:   3,
		RetryDelay:      1 * time.Second,
	}
}

// Validate checks the configuration, filling in defaults for anything left
// zero, and rejects an empty DSN outright.
func (c *Config) Validate() error {
	if c.DSN == "" {
		return ErrInvalidDSN
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		c.MaxIdleConns = c.MaxOpenConns
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = 1 * time.Minute
	}
	if c.RetryAttempts < 0 {
		c.RetryAttempts = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 1 * time.Second
	}
	return nil
}
