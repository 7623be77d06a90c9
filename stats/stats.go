// Package stats tracks ingestion activity counters.
//
// An Accumulator is created once per ingestion run and referenced from
// pipeline records. Reset folds the per-commit slice into the running
// total, so commit messages report the work of one commit while the
// end-of-run summary reports everything.
package stats

import (
	"fmt"
	"strings"
)

// Counters holds activity counts for one slice of a run.
type Counters struct {
	Sections     int
	Discovered   int
	Fetched      int
	FetchedBytes int64
	AddedToStore int // content handed to the annex backend
	AddedToIndex int // paths staged directly in git
	Skipped      int
	Overwritten  int
	Removed      int
	Renamed      int
	Merges       int
	VersionsSeen int
}

// Add folds other into c.
func (c *Counters) Add(other Counters) {
	c.Sections += other.Sections
	c.Discovered += other.Discovered
	c.Fetched += other.Fetched
	c.FetchedBytes += other.FetchedBytes
	c.AddedToStore += other.AddedToStore
	c.AddedToIndex += other.AddedToIndex
	c.Skipped += other.Skipped
	c.Overwritten += other.Overwritten
	c.Removed += other.Removed
	c.Renamed += other.Renamed
	c.Merges += other.Merges
	c.VersionsSeen += other.VersionsSeen
}

// Zero reports whether nothing was counted.
func (c Counters) Zero() bool {
	return c == Counters{}
}

// Summary renders the human-readable line embedded in commit messages,
// e.g. "2 sections, 14 urls, 5 downloads (1.2 MB), 5 annex updates,
// 1 git update, 9 skipped".
func (c Counters) Summary() string {
	var parts []string
	add := func(n int, singular, plural string) {
		if n == 0 {
			return
		}
		name := plural
		if n == 1 {
			name = singular
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, name))
	}
	add(c.Sections, "section", "sections")
	add(c.Discovered, "url", "urls")
	if c.Fetched > 0 {
		parts = append(parts, fmt.Sprintf("%d downloads (%s)", c.Fetched, humanBytes(c.FetchedBytes)))
	}
	add(c.AddedToStore, "annex update", "annex updates")
	add(c.AddedToIndex, "git update", "git updates")
	add(c.Skipped, "skipped", "skipped")
	add(c.Overwritten, "overwritten", "overwritten")
	add(c.Removed, "removed", "removed")
	add(c.Renamed, "renamed", "renamed")
	add(c.Merges, "merge", "merges")
	add(c.VersionsSeen, "version", "versions")
	if len(parts) == 0 {
		return "no activity"
	}
	return strings.Join(parts, ", ")
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

// Accumulator combines a per-commit slice with a run total. It is a
// process-local, single-writer structure; runs are single-threaded by
// design, so no locking is required.
type Accumulator struct {
	// Current is the slice since the last Reset (one commit's worth).
	Current Counters
	total   Counters
}

// New returns an empty accumulator.
func New() *Accumulator {
	return &Accumulator{}
}

// Reset folds the current slice into the total and clears it.
func (a *Accumulator) Reset() {
	a.total.Add(a.Current)
	a.Current = Counters{}
}

// Total returns the aggregate including the live slice.
func (a *Accumulator) Total() Counters {
	t := a.total
	t.Add(a.Current)
	return t
}

// Merge combines another accumulator into this one.
func (a *Accumulator) Merge(other *Accumulator) {
	a.Current.Add(other.Current)
	a.total.Add(other.total)
}
