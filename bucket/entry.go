// Package bucket converts time-ordered listings of versioned object
// stores into resumable sequences of ingestion actions.
package bucket

import (
	"net/url"
	"sort"
	"time"
)

// Entry is one element of a bucket listing: an object version, a delete
// marker, or a pseudo-directory prefix from a delimiter listing.
type Entry struct {
	Key            string
	VersionID      string // "" or "null" for implicit versions
	LastModified   time.Time
	Size           int64
	ETag           string
	IsLatest       bool
	IsDeleteMarker bool
	IsPrefix       bool
}

// HasRealVersionID reports whether the entry carries an explicit
// version id rather than the null/implicit one of unversioned buckets.
func (e Entry) HasRealVersionID() bool {
	return e.VersionID != "" && e.VersionID != "null"
}

// Less is the stable total order over listing entries: last-modified
// time first, ties broken by key, then the is-latest flag, then
// presence of a real version id, with delete markers sorting after
// regular entries. Identical input always orders identically.
func Less(a, b Entry) bool {
	if !a.LastModified.Equal(b.LastModified) {
		return a.LastModified.Before(b.LastModified)
	}
	if a.Key != b.Key {
		return a.Key < b.Key
	}
	if a.IsLatest != b.IsLatest {
		return !a.IsLatest
	}
	if a.HasRealVersionID() != b.HasRealVersionID() {
		return !a.HasRealVersionID()
	}
	if a.IsDeleteMarker != b.IsDeleteMarker {
		return !a.IsDeleteMarker
	}
	return false
}

// Sort orders entries in place under Less.
func Sort(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return Less(entries[i], entries[j])
	})
}

// ObjectURL returns the HTTPS URL for an entry in a bucket, carrying
// the version id when the entry has a real one.
func ObjectURL(bucket string, e Entry) string {
	u := url.URL{
		Scheme: "https",
		Host:   bucket + ".s3.amazonaws.com",
		Path:   "/" + e.Key,
	}
	if e.HasRealVersionID() {
		u.RawQuery = url.Values{"versionId": {e.VersionID}}.Encode()
	}
	return u.String()
}
