package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := New(filepath.Join(t.TempDir(), FileName))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewStore_CreatesDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
		t.Fatal("database file should not exist before creating store")
	}

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file should exist after creating store")
	}
	if s.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", s.Path(), dbPath)
	}
}

func TestNewStore_RunsMigrations(t *testing.T) {
	s := newTestStore(t)

	for _, table := range []string{"settings", "monitor_sessions"} {
		var name string
		err := s.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q should exist after migrations: %v", table, err)
		}
	}

	var idx string
	err := s.DB().QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name=?",
		"idx_monitor_sessions_started_at",
	).Scan(&idx)
	if err != nil {
		t.Errorf("index should exist after migrations: %v", err)
	}
}

func TestNewStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Preferences().Save(Preferences{Variant: "224", ThresholdPercent: 60}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = New(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	p, err := s.Preferences().Get()
	if err != nil {
		t.Fatal(err)
	}
	if p.Variant != "224" || p.ThresholdPercent != 60 {
		t.Errorf("preferences after reopen = %+v", p)
	}
}

func TestStore_Close(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("close should not return error: %v", err)
	}

	if _, err := s.DB().Exec("SELECT 1"); err == nil {
		t.Error("DB operations should fail after close")
	}
}

func TestPreferences_Defaults(t *testing.T) {
	s := newTestStore(t)

	p, err := s.Preferences().Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	want := Preferences{Variant: "512", ThresholdPercent: 75, Muted: false, Autostart: true}
	if p != want {
		t.Errorf("Get() = %+v, want %+v", p, want)
	}
}

func TestPreferences_SaveGet(t *testing.T) {
	s := newTestStore(t)
	repo := s.Preferences()

	want := Preferences{Variant: "384", ThresholdPercent: 82.5, Muted: true, Autostart: false}
	if err := repo.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := repo.Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != want {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}

	// Saving again updates in place.
	want.Muted = false
	if err := repo.Save(want); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}
	if got, _ := repo.Get(); got != want {
		t.Errorf("Get() after update = %+v, want %+v", got, want)
	}

	var n int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM settings").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("settings rows = %d, want 4", n)
	}
}

func TestPreferences_BadValuesKeepDefaults(t *testing.T) {
	s := newTestStore(t)

	_, err := s.DB().Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?), (?, ?), (?, ?)`,
		KeyConfidenceThreshold, "lots",
		KeyMuteAlerts, "maybe",
		"unrelated", "x",
	)
	if err != nil {
		t.Fatal(err)
	}

	p, err := s.Preferences().Get()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if p != DefaultPreferences() {
		t.Errorf("Get() = %+v, want defaults", p)
	}
}

func TestPreferences_WithDefaults(t *testing.T) {
	s := newTestStore(t)

	d := DefaultPreferences()
	d.Variant = "224"
	p, err := s.Preferences().WithDefaults(d).Get()
	if err != nil {
		t.Fatal(err)
	}
	if p.Variant != "224" {
		t.Errorf("Variant = %q, want configured default 224", p.Variant)
	}

	if err := s.Preferences().Save(DefaultPreferences()); err != nil {
		t.Fatal(err)
	}
	if err := s.Preferences().Reset(); err != nil {
		t.Fatal(err)
	}
	if p, _ := s.Preferences().WithDefaults(d).Get(); p.Variant != "224" {
		t.Errorf("Variant after Reset = %q, want 224", p.Variant)
	}
}

func TestSessions_StartStopList(t *testing.T) {
	s := newTestStore(t)
	repo := s.Sessions()

	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	first, err := repo.Start("512", base)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := repo.Stop(first.ID, base.Add(time.Hour), 4, 17); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	second, err := repo.Start("224", base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	got, err := repo.Get(first.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Detections != 4 || got.DroppedFrames != 17 {
		t.Errorf("counters = %d/%d, want 4/17", got.Detections, got.DroppedFrames)
	}
	if got.StoppedAt == nil || !got.StoppedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("StoppedAt = %v", got.StoppedAt)
	}
	if !got.StartedAt.Equal(base) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, base)
	}

	sessions, err := repo.List(0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("List() returned %d sessions, want 2", len(sessions))
	}
	if sessions[0].ID != second.ID {
		t.Error("expected most recent session first")
	}
	if sessions[0].StoppedAt != nil {
		t.Error("expected open session to have no stop time")
	}

	limited, err := repo.List(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("List(1) returned %d sessions", len(limited))
	}
}

func TestSessions_NotFound(t *testing.T) {
	repo := newTestStore(t).Sessions()

	if _, err := repo.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if err := repo.Stop("missing", time.Now(), 0, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("Stop() error = %v, want ErrNotFound", err)
	}
}
