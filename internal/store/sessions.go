package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Session is one period of active monitoring.
type Session struct {
	ID            string     `json:"id"`
	Variant       string     `json:"variant"`
	StartedAt     time.Time  `json:"started_at"`
	StoppedAt     *time.Time `json:"stopped_at,omitempty"`
	Detections    int        `json:"detections"`
	DroppedFrames int        `json:"dropped_frames"`
}

// SessionRepository records monitoring sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Start records the beginning of a session and returns it.
func (r *SessionRepository) Start(variant string, at time.Time) (*Session, error) {
	sess := &Session{
		ID:        uuid.New().String(),
		Variant:   variant,
		StartedAt: at.UTC(),
	}

	_, err := r.db.Exec(
		`INSERT INTO monitor_sessions (id, variant, started_at) VALUES (?, ?, ?)`,
		sess.ID, sess.Variant, sess.StartedAt,
	)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Stop closes a session with its final counters.
func (r *SessionRepository) Stop(id string, at time.Time, detections, dropped int) error {
	result, err := r.db.Exec(
		`UPDATE monitor_sessions SET stopped_at = ?, detections = ?, dropped_frames = ?
		 WHERE id = ?`,
		at.UTC(), detections, dropped, id,
	)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves a session by ID.
func (r *SessionRepository) Get(id string) (*Session, error) {
	row := r.db.QueryRow(
		`SELECT id, variant, started_at, stopped_at, detections, dropped_frames
		 FROM monitor_sessions WHERE id = ?`,
		id,
	)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

// List returns the most recent sessions first. A non-positive limit returns
// all of them.
func (r *SessionRepository) List(limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.Query(
		`SELECT id, variant, started_at, stopped_at, detections, dropped_frames
		 FROM monitor_sessions ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	sess := &Session{}
	var stopped sql.NullTime

	if err := row.Scan(&sess.ID, &sess.Variant, &sess.StartedAt, &stopped, &sess.Detections, &sess.DroppedFrames); err != nil {
		return nil, err
	}
	if stopped.Valid {
		t := stopped.Time
		sess.StoppedAt = &t
	}
	return sess, nil
}
