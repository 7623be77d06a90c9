package sources

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/meridian-data/quarry/errors"
	"github.com/meridian-data/quarry/fetch"
	"github.com/meridian-data/quarry/logger"
	"github.com/meridian-data/quarry/pipeline"
	"github.com/meridian-data/quarry/stats"
)

// ManifestEntry is one line of a checksum manifest.
type ManifestEntry struct {
	Digest   string
	Algo     string // md5, sha1, sha256, sha512; inferred from digest width
	Filename string
}

// digest widths as produced by md5sum and the shaNsum family.
var algoByWidth = map[int]string{
	32:  "md5",
	40:  "sha1",
	64:  "sha256",
	128: "sha512",
}

var manifestLine = regexp.MustCompile(`^([0-9a-fA-F]+)[ \t]+\*?(.+)$`)

// ParseManifest reads "<hex>  <filename>" lines as written by the
// coreutils checksum tools. Blank lines and comments are skipped; a
// line that looks like a manifest entry but has an unknown digest width
// is an error.
func ParseManifest(r io.Reader) ([]ManifestEntry, error) {
	var out []ManifestEntry
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		m := manifestLine.FindStringSubmatch(text)
		if m == nil {
			return nil, errors.Newf("manifest line %d is not a checksum entry: %q", line, text)
		}
		algo, ok := algoByWidth[len(m[1])]
		if !ok {
			return nil, errors.Newf("manifest line %d has unrecognized digest width %d", line, len(m[1]))
		}
		out = append(out, ManifestEntry{
			Digest:   strings.ToLower(m[1]),
			Algo:     algo,
			Filename: strings.TrimSpace(m[2]),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read manifest")
	}
	return out, nil
}

// Manifest fetches a checksum manifest and emits one candidate record
// per entry, with the file URL resolved relative to the manifest URL.
type Manifest struct {
	client *fetch.Client

	// Stats, when set, counts each parsed manifest as a section and each
	// emitted entry as a discovery.
	Stats *stats.Accumulator
}

// NewManifest builds a manifest source.
func NewManifest(client *fetch.Client) *Manifest {
	return &Manifest{client: client}
}

// Run implements pipeline.Node.
func (m *Manifest) Run(ctx context.Context, in pipeline.Record) pipeline.Stream {
	manifestURL := in.String("url")
	if manifestURL == "" {
		logger.Warnw("Manifest source record has no url field")
		return pipeline.Empty()
	}

	entries, err := m.load(ctx, manifestURL)
	if err != nil {
		logger.Warnw("Failed to load manifest", "url", manifestURL, "error", err)
		return pipeline.Empty()
	}

	base, err := url.Parse(manifestURL)
	if err != nil {
		return pipeline.Empty()
	}

	out := make([]pipeline.Record, 0, len(entries))
	for _, e := range entries {
		ref, err := url.Parse(e.Filename)
		if err != nil {
			logger.Warnw("Skipping manifest entry with unusable filename",
				"filename", e.Filename, "error", err)
			continue
		}
		rec := in.Clone()
		rec.Set("url", base.ResolveReference(ref).String())
		rec.Set("filename", e.Filename)
		rec.Set("digest", e.Digest)
		rec.Set("digest_type", e.Algo)
		out = append(out, rec)
	}
	if m.Stats != nil {
		m.Stats.Current.Sections++
		m.Stats.Current.Discovered += len(out)
	}
	return pipeline.Emit(out...)
}

func (m *Manifest) load(ctx context.Context, manifestURL string) ([]ManifestEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build manifest request")
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("fetch manifest %s: HTTP %d", manifestURL, resp.StatusCode)
	}
	return ParseManifest(resp.Body)
}
