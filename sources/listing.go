package sources

import (
	"context"

	"github.com/meridian-data/quarry/bucket"
	"github.com/meridian-data/quarry/logger"
	"github.com/meridian-data/quarry/pipeline"
)

// VersionLister is the listing surface Listing consumes; bucket.Lister
// implements it.
type VersionLister interface {
	ListVersions(ctx context.Context, prefix string) ([]bucket.Entry, error)
	Bucket() string
	URLFor(e bucket.Entry) string
}

// Listing wraps a bucket lister and reconciler as a source node: one
// run lists the bucket, plans the ingestion actions, and emits one
// record per action for downstream nodes to execute.
type Listing struct {
	Lister     VersionLister
	Reconciler *bucket.Reconciler
	// Prefix narrows the listing; the record's "prefix" field overrides
	// it when present.
	Prefix string
	// Checkpoint resumes a previous crawl.
	Checkpoint bucket.Checkpoint
}

// Run implements pipeline.Node.
func (l *Listing) Run(ctx context.Context, in pipeline.Record) pipeline.Stream {
	prefix := l.Prefix
	if p := in.String("prefix"); p != "" {
		prefix = p
	}

	entries, err := l.Lister.ListVersions(ctx, prefix)
	if err != nil {
		return pipeline.Fail(err)
	}
	actions, _, err := l.Reconciler.Plan(entries, l.Checkpoint)
	if err != nil {
		return pipeline.Fail(err)
	}
	logger.Infow("Planned bucket crawl",
		"bucket", l.Lister.Bucket(), "prefix", prefix,
		"entries", len(entries), "actions", len(actions))

	out := make([]pipeline.Record, 0, len(actions))
	for _, a := range actions {
		rec := in.Clone()
		rec.Set("action", string(a.Type))
		if a.Type == bucket.ActionCommit {
			// The executor persists this once the commit has landed.
			rec.Set("checkpoint", a.Checkpoint)
			out = append(out, rec)
			continue
		}
		rec.Set("path", a.Entry.Key)
		if a.Type == bucket.ActionAnnex {
			rec.Set("url", l.Lister.URLFor(a.Entry))
			rec.Set("version_id", a.Entry.VersionID)
			rec.Set("size", a.Entry.Size)
			if !a.Entry.LastModified.IsZero() {
				rec.Set("last_modified", a.Entry.LastModified)
			}
		}
		out = append(out, rec)
	}
	return pipeline.Emit(out...)
}
