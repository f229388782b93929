// Package janitor implements the background sweeper that bounds the
// preview store's size and age: it walks the store tree on an interval,
// reports totals, and evicts entries oldest-access-first.
package janitor

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Observer receives totals from each sweep pass, for metrics reporting.
type Observer interface {
	ObserveStorageTotals(files int, bytes int64)
}

const maxRemovalsPerPass = 100

// Janitor periodically sweeps Base, evicting files beyond MaxSize (oldest
// atime first) and beyond MaxAge.
type Janitor struct {
	Base     string
	Interval time.Duration
	MaxSize  int64 // 0 = unbounded
	MaxAge   time.Duration
	Logger   *slog.Logger
	Observer Observer
}

func New(base string, interval time.Duration, maxSize int64, maxAge time.Duration, logger *slog.Logger, obs Observer) *Janitor {
	return &Janitor{
		Base: base, Interval: interval, MaxSize: maxSize, MaxAge: maxAge,
		Logger: logger, Observer: obs,
	}
}

// Run blocks, sweeping every Interval until ctx is canceled.
func (j *Janitor) Run(ctx context.Context) {
	if j.Base == "" || j.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}

type entry struct {
	path  string
	atime time.Time
	size  int64
}

// Sweep runs one pass: collect, report, then evict by size and by age.
// Resilient to files disappearing mid-walk (a concurrent store eviction or
// stale-entry purge racing this pass is expected, not an error).
func (j *Janitor) Sweep() {
	entries := j.collect()

	var total int64
	for _, e := range entries {
		total += e.size
	}
	if j.Observer != nil {
		j.Observer.ObserveStorageTotals(len(entries), total)
	}

	removed := 0
	if j.MaxSize > 0 && total > j.MaxSize {
		removed += j.evictBySize(entries, total)
	}
	if j.MaxAge > 0 {
		j.evictByAge(entries)
	}
	if removed > 0 && j.Logger != nil {
		j.Logger.Debug("janitor sweep evicted entries", "count", removed)
	}
}

func (j *Janitor) collect() []entry {
	var entries []entry
	_ = filepath.WalkDir(j.Base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // tolerate races: skip, keep walking
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil // file vanished between readdir and stat
		}
		entries = append(entries, entry{
			path:  path,
			atime: atimeOf(info),
			size:  info.Size(),
		})
		return nil
	})
	return entries
}

// evictBySize deletes files oldest-atime-first until total size falls at
// or under MaxSize, bounded to maxRemovalsPerPass so a single pass never
// stalls on a very oversized store.
func (j *Janitor) evictBySize(entries []entry, total int64) int {
	sorted := make([]entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, k int) bool { return sorted[i].atime.Before(sorted[k].atime) })

	removed := 0
	for _, e := range sorted {
		if total <= j.MaxSize || removed >= maxRemovalsPerPass {
			break
		}
		if err := os.Remove(e.path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			continue
		}
		total -= e.size
		removed++
	}
	return removed
}

// evictByAge deletes any file whose atime is older than now - MaxAge,
// regardless of total size and unbounded by the per-size removal cap.
func (j *Janitor) evictByAge(entries []entry) {
	cutoff := time.Now().Add(-j.MaxAge)
	for _, e := range entries {
		if e.atime.Before(cutoff) {
			_ = os.Remove(e.path)
		}
	}
}
