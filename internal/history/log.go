// Package history keeps the detection log: an append-only list of detection
// timestamps persisted as a JSON array.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// FileName is the log's file name inside the data directory.
const FileName = "nailbite_stats.json"

// referenceEpoch is the zero point of the numeric timestamps written by
// earlier versions of the app.
var referenceEpoch = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

// Log holds detection timestamps in memory and writes them to disk in the
// background. The in-memory list is authoritative; a failed write is logged,
// reported on Results, and never rolled back.
type Log struct {
	path string
	log  logrus.FieldLogger

	mu      sync.RWMutex
	entries []time.Time

	dirty   chan struct{}
	flushCh chan chan error
	results chan error
	done    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once
	lastErr   error
}

// Open creates a Log backed by path and starts its writer. Call Load to read
// existing entries.
func Open(path string, log logrus.FieldLogger) *Log {
	if log == nil {
		log = logrus.StandardLogger()
	}

	l := &Log{
		path:    path,
		log:     log.WithField("component", "history"),
		dirty:   make(chan struct{}, 1),
		flushCh: make(chan chan error),
		results: make(chan error, 16),
		done:    make(chan struct{}),
	}

	l.wg.Add(1)
	go l.writer()

	return l
}

// Path returns the backing file.
func (l *Log) Path() string {
	return l.path
}

// Load replaces the in-memory entries with the file contents and returns
// them. A missing or unreadable file yields an empty log.
func (l *Log) Load() []time.Time {
	entries, err := readFile(l.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			l.log.WithError(err).Warn("detection log unreadable, starting empty")
		}
		entries = nil
	}

	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()

	l.log.WithField("count", len(entries)).Debug("detection log loaded")
	return append([]time.Time(nil), entries...)
}

// Append records a detection and schedules a write.
func (l *Log) Append(ts time.Time) {
	l.mu.Lock()
	l.entries = append(l.entries, ts.Round(0))
	l.mu.Unlock()

	l.markDirty()
}

// Clear removes every entry and schedules a write.
func (l *Log) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()

	l.markDirty()
}

// All returns a copy of the entries in append order.
func (l *Log) All() []time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]time.Time(nil), l.entries...)
}

// Since returns the entries at or after t.
func (l *Log) Since(t time.Time) []time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []time.Time
	for _, e := range l.entries {
		if !e.Before(t) {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Last returns the newest entry.
func (l *Log) Last() (time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return time.Time{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Results delivers the outcome of every write, nil on success. Outcomes are
// dropped when nobody is reading and the buffer is full.
func (l *Log) Results() <-chan error {
	return l.results
}

// Flush waits until every change made before the call is written and returns
// the outcome of the last write.
func (l *Log) Flush(ctx context.Context) error {
	reply := make(chan error, 1)

	select {
	case l.flushCh <- reply:
	case <-l.done:
		return l.lastWriteErr()
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close writes any pending change and stops the writer.
func (l *Log) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
	return l.lastWriteErr()
}

func (l *Log) markDirty() {
	select {
	case l.dirty <- struct{}{}:
	default:
	}
}

func (l *Log) writer() {
	defer l.wg.Done()

	for {
		select {
		case <-l.dirty:
			l.persist()
		case reply := <-l.flushCh:
			select {
			case <-l.dirty:
				l.persist()
			default:
			}
			reply <- l.lastWriteErr()
		case <-l.done:
			select {
			case <-l.dirty:
				l.persist()
			default:
			}
			return
		}
	}
}

func (l *Log) persist() {
	entries := l.All()

	err := writeFile(l.path, entries)
	if err != nil {
		l.log.WithError(err).WithField("path", l.path).Warn("failed to save detection log")
	}

	l.mu.Lock()
	l.lastErr = err
	l.mu.Unlock()

	select {
	case l.results <- err:
	default:
	}
}

func (l *Log) lastWriteErr() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastErr
}

func readFile(path string) ([]time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	entries := make([]time.Time, 0, len(raw))
	for i, msg := range raw {
		ts, err := decodeTimestamp(msg)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		entries = append(entries, ts)
	}
	return entries, nil
}

// decodeTimestamp accepts an RFC 3339 string or a number of seconds since
// 2001-01-01 UTC.
func decodeTimestamp(msg json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		return time.Parse(time.RFC3339Nano, s)
	}

	var secs float64
	if err := json.Unmarshal(msg, &secs); err != nil {
		return time.Time{}, fmt.Errorf("unsupported timestamp %s", string(msg))
	}
	whole, frac := math.Modf(secs)
	return referenceEpoch.
		Add(time.Duration(whole) * time.Second).
		Add(time.Duration(math.Round(frac * float64(time.Second)))), nil
}

// writeFile replaces path atomically.
func writeFile(path string, entries []time.Time) error {
	out := make([]string, len(entries))
	for i, ts := range entries {
		out[i] = ts.Format(time.RFC3339Nano)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode detection log: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// sorted returns a sorted copy of entries.
func sorted(entries []time.Time) []time.Time {
	out := append([]time.Time(nil), entries...)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
