package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Session is one run of the control loop.
type Session struct {
	ID         string
	StartedAt  time.Time
	EndedAt    time.Time
	Cycles     uint64
	ExitReason string
}

// CalibrationPair is a stereo pair stored for offline calibration.
type CalibrationPair struct {
	ID        string
	SessionID string
	Index     int
	LeftPath  string
	RightPath string
	Width     int
	Height    int
	TakenAt   time.Time
}

func (db *DB) StartSession(ctx context.Context, id string, startedAt time.Time) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, started_unix_nanos) VALUES (?, ?)`,
		id, startedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("start session %s: %w", id, err)
	}
	return nil
}

func (db *DB) EndSession(ctx context.Context, id string, endedAt time.Time, cycles uint64, reason string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE sessions SET ended_unix_nanos = ?, cycles = ?, exit_reason = ? WHERE session_id = ?`,
		endedAt.UnixNano(), int64(cycles), reason, id)
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("end session %s: %w", id, ErrNotFound)
	}
	return nil
}

func (db *DB) GetSession(ctx context.Context, id string) (Session, error) {
	var (
		s       Session
		started int64
		ended   sql.NullInt64
		cycles  int64
	)
	err := db.QueryRowContext(ctx,
		`SELECT session_id, started_unix_nanos, ended_unix_nanos, cycles, exit_reason
		 FROM sessions WHERE session_id = ?`, id).
		Scan(&s.ID, &started, &ended, &cycles, &s.ExitReason)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Session{}, err
	}
	s.StartedAt = time.Unix(0, started)
	if ended.Valid {
		s.EndedAt = time.Unix(0, ended.Int64)
	}
	s.Cycles = uint64(cycles)
	return s, nil
}

// RecordCalibrationPair inserts p, assigning an ID when p.ID is empty.
func (db *DB) RecordCalibrationPair(ctx context.Context, p *CalibrationPair) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.TakenAt.IsZero() {
		p.TakenAt = time.Now()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO calibration_pairs (
			pair_id, session_id, pair_index, left_path, right_path, width, height, taken_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SessionID, p.Index, p.LeftPath, p.RightPath, p.Width, p.Height, p.TakenAt.UnixNano())
	if err != nil {
		return fmt.Errorf("record calibration pair %d: %w", p.Index, err)
	}
	return nil
}

// CalibrationPairs lists the pairs of one session in index order, or of
// every session when sessionID is empty.
func (db *DB) CalibrationPairs(ctx context.Context, sessionID string) ([]CalibrationPair, error) {
	query := `SELECT pair_id, session_id, pair_index, left_path, right_path, width, height, taken_unix_nanos
		FROM calibration_pairs`
	var args []any
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY taken_unix_nanos, pair_index`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []CalibrationPair
	for rows.Next() {
		var (
			p     CalibrationPair
			taken int64
		)
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Index, &p.LeftPath, &p.RightPath, &p.Width, &p.Height, &taken); err != nil {
			return nil, err
		}
		p.TakenAt = time.Unix(0, taken)
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pairs, nil
}
