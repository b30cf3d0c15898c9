package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hazyhaar/carousel/capture/internal/slicer"
)

// Schema for the preferences table.
const Schema = `
CREATE TABLE IF NOT EXISTS preferences (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

const (
	keyAspectRatio       = "aspectRatio"
	keyCapturePercentage = "capturePercentage"
)

var ErrInvalidPreferences = errors.New("config: invalid preferences")

// Preferences are the user's remembered capture choices.
type Preferences struct {
	AspectRatio       string `json:"aspect_ratio"`
	CapturePercentage int    `json:"capture_percentage"`
}

// DefaultPreferences is what a fresh install offers.
func DefaultPreferences() Preferences {
	return Preferences{AspectRatio: "1:1", CapturePercentage: 100}
}

// Validate checks the ratio parses and the percentage is in 1..100.
func (p Preferences) Validate() error {
	if _, err := slicer.ParseAspectRatio(p.AspectRatio); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPreferences, err)
	}
	if p.CapturePercentage < 1 || p.CapturePercentage > 100 {
		return fmt.Errorf("%w: capture percentage %d", ErrInvalidPreferences, p.CapturePercentage)
	}
	return nil
}

// PrefStore persists Preferences as key/value rows.
type PrefStore struct {
	db *sql.DB
}

// NewPrefStore ensures the schema exists on db.
func NewPrefStore(ctx context.Context, db *sql.DB) (*PrefStore, error) {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("config: preferences schema: %w", err)
	}
	return &PrefStore{db: db}, nil
}

// Load returns the stored preferences. Missing or unreadable values fall
// back to their defaults.
func (s *PrefStore) Load(ctx context.Context) (Preferences, error) {
	p := DefaultPreferences()

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM preferences WHERE key IN (?, ?)`,
		keyAspectRatio, keyCapturePercentage)
	if err != nil {
		return p, fmt.Errorf("config: load preferences: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return DefaultPreferences(), fmt.Errorf("config: scan preference: %w", err)
		}
		switch k {
		case keyAspectRatio:
			if _, err := slicer.ParseAspectRatio(v); err == nil {
				p.AspectRatio = v
			}
		case keyCapturePercentage:
			if n, err := strconv.Atoi(v); err == nil && n >= 1 && n <= 100 {
				p.CapturePercentage = n
			}
		}
	}
	return p, rows.Err()
}

// Save validates and upserts p.
func (s *PrefStore) Save(ctx context.Context, p Preferences) error {
	if err := p.Validate(); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	return runTx(ctx, s.db, func(tx *sql.Tx) error {
		const upsert = `INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
		if _, err := tx.ExecContext(ctx, upsert, keyAspectRatio, p.AspectRatio, now); err != nil {
			return fmt.Errorf("config: save %s: %w", keyAspectRatio, err)
		}
		if _, err := tx.ExecContext(ctx, upsert, keyCapturePercentage, strconv.Itoa(p.CapturePercentage), now); err != nil {
			return fmt.Errorf("config: save %s: %w", keyCapturePercentage, err)
		}
		return nil
	})
}
