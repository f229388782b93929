package janitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type recordingObserver struct {
	files int
	bytes int64
}

func (r *recordingObserver) ObserveStorageTotals(files int, bytes int64) {
	r.files, r.bytes = files, bytes
}

func writeEntry(t *testing.T, base, name string, size int, atime time.Time) string {
	t.Helper()
	path := filepath.Join(base, name[0:1], name[1:2], name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, atime, atime); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSweepReportsTotals(t *testing.T) {
	base := t.TempDir()
	now := time.Now()
	writeEntry(t, base, "aa111", 100, now)
	writeEntry(t, base, "bb222", 250, now)

	obs := &recordingObserver{}
	j := New(base, time.Minute, 0, 0, nil, obs)
	j.Sweep()

	if obs.files != 2 || obs.bytes != 350 {
		t.Fatalf("totals = %d files, %d bytes; want 2, 350", obs.files, obs.bytes)
	}
}

func TestSweepEvictsOldestFirstUntilUnderMaxSize(t *testing.T) {
	base := t.TempDir()
	now := time.Now()
	oldest := writeEntry(t, base, "aa111", 400, now.Add(-3*time.Hour))
	middle := writeEntry(t, base, "bb222", 400, now.Add(-2*time.Hour))
	newest := writeEntry(t, base, "cc333", 400, now.Add(-1*time.Hour))

	j := New(base, time.Minute, 500, 0, nil, nil)
	j.Sweep()

	if _, err := os.Stat(oldest); !os.IsNotExist(err) {
		t.Error("oldest entry should be evicted first")
	}
	if _, err := os.Stat(middle); !os.IsNotExist(err) {
		t.Error("middle entry should be evicted to get under the bound")
	}
	if _, err := os.Stat(newest); err != nil {
		t.Error("newest entry must survive once total <= max size")
	}
}

func TestSweepEvictsByAgeRegardlessOfSize(t *testing.T) {
	base := t.TempDir()
	now := time.Now()
	ancient := writeEntry(t, base, "aa111", 10, now.Add(-48*time.Hour))
	fresh := writeEntry(t, base, "bb222", 10, now)

	j := New(base, time.Minute, 0, 24*time.Hour, nil, nil)
	j.Sweep()

	if _, err := os.Stat(ancient); !os.IsNotExist(err) {
		t.Error("entry older than max age must be deleted")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh entry must survive the age sweep")
	}
}

func TestSweepToleratesVanishingFiles(t *testing.T) {
	base := t.TempDir()
	now := time.Now()
	victim := writeEntry(t, base, "aa111", 600, now.Add(-time.Hour))

	j := New(base, time.Minute, 100, 0, nil, nil)
	// A concurrent purge removes the file between collect and evict.
	entries := j.collect()
	os.Remove(victim)
	j.evictBySize(entries, 600)
}

func TestRunExitsWhenDisabled(t *testing.T) {
	// No base configured: Run must return immediately rather than tick.
	j := New("", time.Millisecond, 0, 0, nil, nil)
	done := make(chan struct{})
	go func() {
		j.Run(t.Context())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return for an unconfigured janitor")
	}
}
