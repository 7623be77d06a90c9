// Package status implements the per-item change-detection ledger.
//
// A status record is a lightweight, comparable fingerprint of a remote
// item (size, modification time, filename) used purely for change
// detection, never for content verification. The database stores the
// last-seen record per local relative path and is scoped to exactly one
// content-store branch: switching branches invalidates the instance and
// a fresh one is opened lazily for the new branch.
package status

import "time"

// Record is a comparable snapshot of a remote item.
type Record struct {
	Size     int64
	MTime    time.Time
	Filename string
}

// Equal reports whether two records describe the same remote state.
// Modification times are compared at integer-second resolution; remote
// headers rarely carry sub-second precision and filesystems differ in
// how much of it they keep.
func (r Record) Equal(other Record) bool {
	return r.Size == other.Size &&
		r.Filename == other.Filename &&
		sameSecond(r.MTime, other.MTime)
}

func sameSecond(a, b time.Time) bool {
	if a.IsZero() != b.IsZero() {
		return false
	}
	return a.Unix() == b.Unix()
}

// Known reports whether the record carries any information at all.
func (r Record) Known() bool {
	return r.Size >= 0 || !r.MTime.IsZero() || r.Filename != ""
}
