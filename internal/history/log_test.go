package history

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ayusman/nailwatch/internal/logging"
)

func openTestLog(t *testing.T, path string) *Log {
	t.Helper()
	l := Open(path, logging.Discard())
	t.Cleanup(func() { l.Close() })
	return l
}

func flush(t *testing.T, l *Log) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return l.Flush(ctx)
}

func TestLog_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	l := openTestLog(t, path)

	base := time.Date(2025, 3, 1, 9, 30, 0, 123456789, time.UTC)
	var want []time.Time
	for i := 0; i < 10; i++ {
		ts := base.Add(time.Duration(i) * 17 * time.Minute)
		want = append(want, ts)
		l.Append(ts)
	}

	if err := flush(t, l); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	reloaded := openTestLog(t, path)
	got := reloaded.Load()

	if len(got) != len(want) {
		t.Fatalf("loaded %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("entry %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLog_ClearThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	l := openTestLog(t, path)

	l.Append(time.Now())
	l.Append(time.Now())
	l.Clear()

	if l.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", l.Len())
	}
	if err := flush(t, l); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if got := openTestLog(t, path).Load(); len(got) != 0 {
		t.Errorf("Load() after Clear = %v, want empty", got)
	}
}

func TestLog_LoadMissingOrCorrupt(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content *string
	}{
		{"missing", nil},
		{"not json", strPtr("{{{")},
		{"object", strPtr(`{"a":1}`)},
		{"bad entry", strPtr(`["yesterday"]`)},
		{"empty file", strPtr("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			if tt.content != nil {
				if err := os.WriteFile(path, []byte(*tt.content), 0644); err != nil {
					t.Fatal(err)
				}
			}

			l := openTestLog(t, path)

			if got := l.Load(); len(got) != 0 {
				t.Errorf("Load() = %v, want empty", got)
			}
			if l.Len() != 0 {
				t.Errorf("Len() = %d, want 0", l.Len())
			}
		})
	}
}

func TestLog_LoadLegacyNumeric(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	// 2025-01-01T00:00:00Z and 90 minutes later, in seconds since 2001.
	content := `[757382400, 757387800.5, "2025-01-02T08:00:00Z"]`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	got := openTestLog(t, path).Load()

	want := []time.Time{
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 1, 1, 30, 0, 500000000, time.UTC),
		time.Date(2025, 1, 2, 8, 0, 0, 0, time.UTC),
	}
	if len(got) != len(want) {
		t.Fatalf("loaded %d entries, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("entry %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLog_WriteFailureReported(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	l := openTestLog(t, filepath.Join(blocker, FileName))
	ts := time.Now()
	l.Append(ts)

	select {
	case err := <-l.Results():
		if err == nil {
			t.Fatal("expected write error on Results")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no result delivered")
	}

	if err := flush(t, l); err == nil {
		t.Error("expected Flush to return the write error")
	}

	// The in-memory log keeps the entry.
	if last, ok := l.Last(); !ok || !last.Equal(ts) {
		t.Errorf("Last() = %v, %v; want %v", last, ok, ts)
	}
}

func TestLog_ResultsOnSuccess(t *testing.T) {
	l := openTestLog(t, filepath.Join(t.TempDir(), FileName))
	l.Append(time.Now())

	select {
	case err := <-l.Results():
		if err != nil {
			t.Errorf("unexpected write error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no result delivered")
	}
}

func TestLog_CloseWritesPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	l := Open(path, logging.Discard())
	l.Append(time.Now())

	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if got := openTestLog(t, path).Load(); len(got) != 1 {
		t.Errorf("Load() = %d entries, want 1", len(got))
	}
}

func TestLog_Since(t *testing.T) {
	l := openTestLog(t, filepath.Join(t.TempDir(), FileName))
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		l.Append(base.Add(time.Duration(i) * time.Hour))
	}

	if got := l.Since(base.Add(2 * time.Hour)); len(got) != 3 {
		t.Errorf("Since() = %d entries, want 3", len(got))
	}
}

func strPtr(s string) *string { return &s }
