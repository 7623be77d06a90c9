package bucket

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/meridian-data/quarry/errors"
)

// Checkpoint is the last fully-processed listing position. A crawl
// resumed from a checkpoint skips everything at or before it.
type Checkpoint struct {
	LastModified time.Time `json:"last_modified"`
	Key          string    `json:"key"`
	VersionID    string    `json:"version_id"`
}

// IsZero reports whether no checkpoint was ever recorded.
func (c Checkpoint) IsZero() bool {
	return c.LastModified.IsZero() && c.Key == "" && c.VersionID == ""
}

// FromEntry builds the checkpoint triplet for a processed entry.
func FromEntry(e Entry) Checkpoint {
	return Checkpoint{LastModified: e.LastModified, Key: e.Key, VersionID: e.VersionID}
}

// covers reports whether an ordered listing entry is at or before the
// checkpoint: strictly earlier entries, and the entry exactly matching
// the triplet, are covered and must be skipped on resume.
func (c Checkpoint) covers(e Entry) bool {
	if e.LastModified.Before(c.LastModified) {
		return true
	}
	if !e.LastModified.Equal(c.LastModified) {
		return false
	}
	if e.Key != c.Key {
		return e.Key < c.Key
	}
	return e.VersionID == c.VersionID
}

// Resume drops the portion of an ordered listing covered by the
// checkpoint, returning the suffix processing should continue with.
func Resume(entries []Entry, c Checkpoint) []Entry {
	if c.IsZero() {
		return entries
	}
	out := entries[:0:0]
	for _, e := range entries {
		if !c.covers(e) {
			out = append(out, e)
		}
	}
	return out
}

func checkpointPath(dir, context string) string {
	if context == "" {
		context = "default"
	}
	name := strings.NewReplacer("/", "_", ":", "_").Replace(context)
	return filepath.Join(dir, "checkpoint-"+name+".json")
}

// LoadCheckpoint reads the persisted checkpoint for a crawl context
// under dir (typically the store's state directory). A missing file
// yields a zero checkpoint.
func LoadCheckpoint(dir, context string) (Checkpoint, error) {
	raw, err := os.ReadFile(checkpointPath(dir, context))
	if os.IsNotExist(err) {
		return Checkpoint{}, nil
	}
	if err != nil {
		return Checkpoint{}, errors.Wrap(err, "read checkpoint")
	}
	var c Checkpoint
	if err := json.Unmarshal(raw, &c); err != nil {
		return Checkpoint{}, errors.Wrap(err, "parse checkpoint")
	}
	return c, nil
}

// Save persists the checkpoint atomically so a crash mid-run resumes
// at the last completed batch.
func (c Checkpoint) Save(dir, context string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create checkpoint directory")
	}
	raw, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal checkpoint")
	}
	path := checkpointPath(dir, context)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(raw, '\n'), 0o644); err != nil {
		return errors.Wrap(err, "write checkpoint")
	}
	return errors.Wrap(os.Rename(tmp, path), "rename checkpoint into place")
}
