// Package ledger persists the monotonic record of processed logical
// versions and the full version→item mapping ever seen.
//
// The ledger is stored as a tracked JSON file inside the content store
// worktree, so it travels with the history it describes. Entries are
// append-only: once a version's item set is recorded it is never removed,
// only extended.
package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	goversion "github.com/hashicorp/go-version"

	"github.com/meridian-data/quarry/errors"
)

// SchemaVersion is the current on-disk schema.
const SchemaVersion = 1

// DirName is the worktree directory holding ledger files.
const DirName = ".quarry"

// VersionItems maps logical path → incoming path → ingestion entry.
type VersionItems map[string]map[string]string

// versionRecord is one ordered element of the persisted versions list.
type versionRecord struct {
	Version string       `json:"version"`
	Items   VersionItems `json:"items"`
}

// Ledger is the persisted version ledger for one branch-name context.
type Ledger struct {
	schemaVersion int
	current       string
	versions      []versionRecord
	index         map[string]int // version → position in versions
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		schemaVersion: SchemaVersion,
		index:         make(map[string]int),
	}
}

// FilePath returns the ledger file location for a branch-name context
// under the given worktree root.
func FilePath(root, context string) string {
	if context == "" {
		context = "incoming"
	}
	name := strings.NewReplacer("/", "_", ":", "_").Replace(context)
	return filepath.Join(root, DirName, "versions-"+name+".json")
}

// Load reads a ledger file; a missing file yields a fresh ledger.
func Load(path string) (*Ledger, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read ledger %s", path)
	}

	var doc struct {
		SchemaVersion int             `json:"schema_version"`
		Version       *string         `json:"version"`
		Versions      []versionRecord `json:"versions"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrapf(err, "parse ledger %s", path)
	}
	if doc.SchemaVersion > SchemaVersion {
		return nil, errors.Newf("ledger %s has schema %d, this build understands up to %d",
			path, doc.SchemaVersion, SchemaVersion)
	}

	l := New()
	if doc.Version != nil {
		l.current = *doc.Version
	}
	for _, v := range doc.Versions {
		l.versions = append(l.versions, v)
		l.index[v.Version] = len(l.versions) - 1
	}
	return l, nil
}

// Save writes the ledger atomically (write-then-rename).
func (l *Ledger) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create ledger directory")
	}

	var current *string
	if l.current != "" {
		current = &l.current
	}
	doc := struct {
		SchemaVersion int             `json:"schema_version"`
		Version       *string         `json:"version"`
		Versions      []versionRecord `json:"versions"`
	}{
		SchemaVersion: l.schemaVersion,
		Version:       current,
		Versions:      l.versions,
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal ledger")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(raw, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "write ledger %s", tmp)
	}
	return errors.Wrapf(os.Rename(tmp, path), "rename ledger into place")
}

// Current returns the last version considered fully committed, or "".
func (l *Ledger) Current() string {
	return l.current
}

// SetCurrent advances the checkpoint. Once set it is monotonically
// non-decreasing under the ledger's version ordering.
func (l *Ledger) SetCurrent(v string) error {
	if l.current != "" && Compare(v, l.current) < 0 {
		return errors.Wrapf(errors.ErrVersionRegression,
			"cannot move current version back from %q to %q", l.current, v)
	}
	l.current = v
	return nil
}

// Record appends an ingestion entry for (version, logicalPath,
// incomingPath). Recording an identical entry again is a no-op
// (idempotent append); a different entry under the same key is a fatal
// conflict with no automatic resolution policy.
func (l *Ledger) Record(version, logicalPath, incomingPath, entry string) error {
	i, ok := l.index[version]
	if !ok {
		l.versions = append(l.versions, versionRecord{
			Version: version,
			Items:   make(VersionItems),
		})
		i = len(l.versions) - 1
		l.index[version] = i
	}
	items := l.versions[i].Items
	byIncoming, ok := items[logicalPath]
	if !ok {
		byIncoming = make(map[string]string)
		items[logicalPath] = byIncoming
	}
	if prev, ok := byIncoming[incomingPath]; ok && prev != entry {
		return errors.Wrapf(errors.ErrVersionConflict,
			"version %q path %q already maps %q to %q, refusing %q",
			version, logicalPath, incomingPath, prev, entry)
	}
	byIncoming[incomingPath] = entry
	return nil
}

// Items returns the recorded item mapping for a version, or nil.
func (l *Ledger) Items(version string) VersionItems {
	if i, ok := l.index[version]; ok {
		return l.versions[i].Items
	}
	return nil
}

// Versions returns all recorded versions in insertion order.
func (l *Ledger) Versions() []string {
	out := make([]string, len(l.versions))
	for i, v := range l.versions {
		out[i] = v.Version
	}
	return out
}

// Has reports whether a version was ever recorded.
func (l *Ledger) Has(version string) bool {
	_, ok := l.index[version]
	return ok
}

// Compare orders two version tokens. Dotted-numeric ordering via
// go-version when both parse; otherwise a deterministic lexicographic
// fallback so arbitrary tags still sort stably.
func Compare(a, b string) int {
	va, errA := goversion.NewVersion(a)
	vb, errB := goversion.NewVersion(b)
	if errA == nil && errB == nil {
		return va.Compare(vb)
	}
	return strings.Compare(a, b)
}
