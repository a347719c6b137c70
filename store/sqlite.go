// Copyright 2026 The Swallow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store keeps the request log: one row per job, with its status
// and progress, in a SQLite database.  The table layout matches the one
// PyWPS uses, so existing tooling can read it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cedadev/swallow"
)

// Status codes stored in the status column.  Code 3 (paused) is never
// written.
const (
	StatusAccepted  = 1
	StatusStarted   = 2
	StatusSucceeded = 4
	StatusFailed    = 5
)

var ErrNotFound = errors.New("request not found")

// StatusName is the job status a stored status code stands for.
func StatusName(code int) string {
	switch code {
	case StatusAccepted:
		return string(swallow.StatusAccepted)
	case StatusStarted:
		return string(swallow.StatusStarted)
	case StatusSucceeded:
		return string(swallow.StatusSucceeded)
	case StatusFailed:
		return string(swallow.StatusFailed)
	}
	return "unknown"
}

// Request is a row of the request log.
type Request struct {
	UUID        string
	Pid         int
	Operation   string
	Version     string
	TimeStart   time.Time
	TimeEnd     time.Time
	Identifier  string
	Message     string
	PercentDone float64
	Status      int
}

// StatusCode maps a job status onto the stored status code.  Dismissed
// jobs are stored as failed.
func StatusCode(s swallow.Status) int {
	switch s {
	case swallow.StatusAccepted:
		return StatusAccepted
	case swallow.StatusStarted:
		return StatusStarted
	case swallow.StatusSucceeded:
		return StatusSucceeded
	}
	return StatusFailed
}

// SQLiteStore implements swallow.JobStore using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	pid int
	mu  sync.RWMutex
}

// Open opens or creates the request log.  Use ":memory:" for an
// in-memory database.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// every connection would get its own database
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{db: db, pid: os.Getpid()}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS swallow_requests (
		uuid VARCHAR(255) NOT NULL PRIMARY KEY,
		pid INTEGER NOT NULL,
		operation VARCHAR(30) NOT NULL,
		version VARCHAR(5) NOT NULL,
		time_start INTEGER NOT NULL,
		time_end INTEGER,
		identifier VARCHAR(255) NOT NULL,
		message TEXT,
		percent_done REAL,
		status INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_requests_time_start ON swallow_requests(time_start);
	CREATE INDEX IF NOT EXISTS idx_requests_status ON swallow_requests(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func unixNano(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}

// Insert adds a new request.
func (s *SQLiteStore) Insert(ctx context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO swallow_requests (uuid, pid, operation, version,
			time_start, time_end, identifier, message, percent_done, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UUID, r.Pid, r.Operation, r.Version, r.TimeStart.UnixNano(),
		unixNano(r.TimeEnd), r.Identifier, r.Message, r.PercentDone,
		r.Status,
	)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

// Update changes the progress of a request.
func (s *SQLiteStore) Update(ctx context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE swallow_requests SET time_end = ?, message = ?,
			percent_done = ?, status = ? WHERE uuid = ?`,
		unixNano(r.TimeEnd), r.Message, r.PercentDone, r.Status, r.UUID,
	)
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Record stores the state of a job, inserting it when first seen.
func (s *SQLiteStore) Record(ctx context.Context, info *swallow.JobInfo) error {
	r := &Request{
		UUID:        info.ID,
		Pid:         s.pid,
		Operation:   "execute",
		Version:     "1.0.0",
		TimeStart:   info.Created,
		TimeEnd:     info.Finished,
		Identifier:  info.Process,
		Message:     info.Message,
		PercentDone: float64(info.Percent),
		Status:      StatusCode(info.Status),
	}
	err := s.Update(ctx, r)
	if errors.Is(err, ErrNotFound) {
		return s.Insert(ctx, r)
	}
	return err
}

const columns = `uuid, pid, operation, version, time_start, time_end,
	identifier, message, percent_done, status`

func scanRequest(sc interface{ Scan(...interface{}) error }) (*Request, error) {
	var r Request
	var start int64
	var end sql.NullInt64
	var msg sql.NullString
	var pct sql.NullFloat64
	var status sql.NullInt64
	if err := sc.Scan(&r.UUID, &r.Pid, &r.Operation, &r.Version, &start,
		&end, &r.Identifier, &msg, &pct, &status); err != nil {
		return nil, err
	}
	r.TimeStart = time.Unix(0, start)
	if end.Valid {
		r.TimeEnd = time.Unix(0, end.Int64)
	}
	r.Message = msg.String
	r.PercentDone = pct.Float64
	r.Status = int(status.Int64)
	return &r, nil
}

// Get returns a single request.
func (s *SQLiteStore) Get(ctx context.Context, uuid string) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+columns+" FROM swallow_requests WHERE uuid = ?", uuid)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query request: %w", err)
	}
	return r, nil
}

// List returns the most recent requests, newest first.  A limit of zero
// or less returns all of them.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+columns+" FROM swallow_requests ORDER BY time_start DESC LIMIT ?",
		limit)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	var rv []*Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		rv = append(rv, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return rv, nil
}

// DeleteBefore removes finished requests that ended before t.
func (s *SQLiteStore) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM swallow_requests WHERE time_end IS NOT NULL
			AND time_end < ? AND status IN (?, ?)`,
		t.UnixNano(), StatusSucceeded, StatusFailed)
	if err != nil {
		return 0, fmt.Errorf("delete requests: %w", err)
	}
	return res.RowsAffected()
}

// RecoverStale marks requests that were left running by an earlier
// instance as failed.  It is called once at startup, before any job of
// this instance exists.
func (s *SQLiteStore) RecoverStale(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE swallow_requests SET status = ?, time_end = ?,
			message = 'Process interrupted by a restart of the service'
		WHERE status IN (?, ?) AND pid != ?`,
		StatusFailed, time.Now().UnixNano(), StatusAccepted,
		StatusStarted, s.pid)
	if err != nil {
		return 0, fmt.Errorf("recover requests: %w", err)
	}
	return res.RowsAffected()
}
