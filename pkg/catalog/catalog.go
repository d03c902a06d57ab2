// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package catalog keeps an SQLite index of capture sessions.
package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// ErrSessionNotFound is returned when no session has the requested ID
var ErrSessionNotFound = errors.New("capture session not found")

// schema.sql creates the capture_sessions table.
//
//go:embed schema.sql
var schemaSQL string

// Session is one capture file and its counters. EndedAt is zero while the
// session is still open.
type Session struct {
	ID        string
	Path      string
	Shell     string
	Snooper   string
	StartedAt time.Time
	EndedAt   time.Time
	Records   uint64
	Invalid   uint64
	Dropped   uint64
}

// Open reports whether the session has not been ended
func (s Session) Open() bool {
	return s.EndedAt.IsZero()
}

// Duration returns the session length, measured to now when still open
func (s Session) Duration() time.Duration {
	if s.Open() {
		return time.Since(s.StartedAt)
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Catalog is the session database
type Catalog struct {
	db  *sql.DB
	log *logrus.Entry
}

// Open opens or creates the database at path and applies the schema
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply catalog schema: %w", err)
	}

	c := &Catalog{db: db, log: logrus.WithField("component", "catalog")}
	c.log.WithField("path", path).Debug("catalog opened")
	return c, nil
}

// Close closes the database
func (c *Catalog) Close() error {
	return c.db.Close()
}

// StartSession inserts a new open session
func (c *Catalog) StartSession(ctx context.Context, s Session) error {
	query := `
		INSERT INTO capture_sessions (id, file_path, shell_endpoint, snooper_endpoint, started_at)
		VALUES (?, ?, ?, ?, ?)
	`
	if _, err := c.db.ExecContext(ctx, query, s.ID, s.Path, s.Shell, s.Snooper, s.StartedAt.UnixNano()); err != nil {
		return fmt.Errorf("start session %s: %w", s.ID, err)
	}
	return nil
}

// EndSession stores the end time and final counters of a session
func (c *Catalog) EndSession(ctx context.Context, s Session) error {
	query := `
		UPDATE capture_sessions
		SET ended_at = ?, records = ?, invalid_records = ?, dropped_records = ?
		WHERE id = ?
	`
	result, err := c.db.ExecContext(ctx, query, s.EndedAt.UnixNano(), s.Records, s.Invalid, s.Dropped, s.ID)
	if err != nil {
		return fmt.Errorf("end session %s: %w", s.ID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("end session %s: %w", s.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, s.ID)
	}
	return nil
}

const selectSessions = `
	SELECT id, file_path, shell_endpoint, snooper_endpoint, started_at, ended_at,
	       records, invalid_records, dropped_records
	FROM capture_sessions
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		s       Session
		started int64
		ended   sql.NullInt64
	)
	err := row.Scan(&s.ID, &s.Path, &s.Shell, &s.Snooper, &started, &ended, &s.Records, &s.Invalid, &s.Dropped)
	if err != nil {
		return Session{}, err
	}
	s.StartedAt = time.Unix(0, started)
	if ended.Valid {
		s.EndedAt = time.Unix(0, ended.Int64)
	}
	return s, nil
}

// ListSessions returns the most recent sessions, newest first. limit <= 0
// returns all sessions.
func (c *Catalog) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	query := selectSessions + ` ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Session returns one session by ID
func (c *Catalog) Session(ctx context.Context, id string) (Session, error) {
	s, err := scanSession(c.db.QueryRowContext(ctx, selectSessions+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session %s: %w", id, err)
	}
	return s, nil
}
