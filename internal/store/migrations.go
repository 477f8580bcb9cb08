package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Settings table - preferences as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		// Monitor sessions table - one row per start/stop of monitoring
		`CREATE TABLE IF NOT EXISTS monitor_sessions (
			id TEXT PRIMARY KEY,
			variant TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			stopped_at DATETIME,
			detections INTEGER NOT NULL DEFAULT 0,
			dropped_frames INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE INDEX IF NOT EXISTS idx_monitor_sessions_started_at ON monitor_sessions(started_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
