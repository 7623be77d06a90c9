// Package archive expands downloaded archives into a repository
// worktree so their members can be ingested as individual items.
package archive

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	getter "github.com/hashicorp/go-getter"

	"github.com/meridian-data/quarry/errors"
	"github.com/meridian-data/quarry/logger"
)

// dirFormats are archive types that expand to a directory tree rather
// than a single file.
var dirFormats = map[string]bool{
	"zip": true, "tar": true,
	"tar.gz": true, "tgz": true,
	"tar.bz2": true, "tbz2": true,
	"tar.xz": true, "txz": true,
	"tar.zst": true,
}

// DetectFormat returns the decompressor key for a filename, or "" when
// the name does not look like a supported archive. The longest matching
// extension wins so "x.tar.gz" is not mistaken for plain gzip.
func DetectFormat(name string) string {
	name = strings.ToLower(filepath.Base(name))
	best := ""
	for ext := range getter.Decompressors {
		if strings.HasSuffix(name, "."+ext) && len(ext) > len(best) {
			best = ext
		}
	}
	return best
}

// Options controls archive expansion.
type Options struct {
	// StripTopDir removes the single shared leading directory most
	// tarballs wrap their content in.
	StripTopDir bool
	// Exclude drops members whose archive-relative path matches any of
	// the patterns.
	Exclude []*regexp.Regexp
	// Overwrite replaces existing files at the destination; otherwise
	// collisions are errors.
	Overwrite bool
}

// CompileExcludes turns regex strings into Options.Exclude patterns.
func CompileExcludes(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "bad exclude pattern %q", p)
		}
		out = append(out, re)
	}
	return out, nil
}

// Expand extracts the archive at src into destDir and returns the
// destDir-relative paths it added, sorted. Single-file compressed
// formats (plain .gz and friends) yield one member named after the
// archive without its compression suffix.
func Expand(src, destDir string, opts Options) ([]string, error) {
	format := DetectFormat(src)
	if format == "" {
		return nil, errors.Newf("unsupported archive format: %s", filepath.Base(src))
	}
	dec, ok := getter.Decompressors[format]
	if !ok {
		return nil, errors.Newf("no decompressor for %s", format)
	}

	tmp, err := os.MkdirTemp("", "quarry-expand-*")
	if err != nil {
		return nil, errors.Wrap(err, "create extraction directory")
	}
	defer os.RemoveAll(tmp)

	if dirFormats[format] {
		if err := dec.Decompress(tmp, src, true, 0o022); err != nil {
			return nil, errors.Wrapf(err, "extract %s", filepath.Base(src))
		}
	} else {
		member := strings.TrimSuffix(filepath.Base(src), "."+format)
		if err := dec.Decompress(filepath.Join(tmp, member), src, false, 0o022); err != nil {
			return nil, errors.Wrapf(err, "decompress %s", filepath.Base(src))
		}
	}

	members, err := collectMembers(tmp)
	if err != nil {
		return nil, err
	}
	if opts.StripTopDir {
		members = stripTopDir(members)
	}

	var added []string
	for _, m := range members {
		if excluded(m.rel, opts.Exclude) {
			logger.Debugw("Excluding archive member", "path", m.rel)
			continue
		}
		dst := filepath.Join(destDir, filepath.FromSlash(m.rel))
		if !opts.Overwrite {
			if _, err := os.Stat(dst); err == nil {
				return nil, errors.Newf("refusing to overwrite existing %s", m.rel)
			}
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, errors.Wrapf(err, "create directory for %s", m.rel)
		}
		if err := moveFile(m.abs, dst); err != nil {
			return nil, errors.Wrapf(err, "place %s", m.rel)
		}
		added = append(added, m.rel)
	}
	sort.Strings(added)
	return added, nil
}

type member struct {
	abs string
	rel string // slash-separated, relative to the archive root
}

func collectMembers(root string) ([]member, error) {
	var out []member
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		out = append(out, member{abs: p, rel: filepath.ToSlash(rel)})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "walk extracted archive")
	}
	return out, nil
}

// stripTopDir removes the first path component when every member
// shares it.
func stripTopDir(members []member) []member {
	if len(members) == 0 {
		return members
	}
	top, _, found := strings.Cut(members[0].rel, "/")
	if !found {
		return members
	}
	for _, m := range members {
		if !strings.HasPrefix(m.rel, top+"/") {
			return members
		}
	}
	out := make([]member, len(members))
	for i, m := range members {
		out[i] = member{abs: m.abs, rel: strings.TrimPrefix(m.rel, top+"/")}
	}
	return out
}

func excluded(rel string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(rel) {
			return true
		}
	}
	return false
}

// moveFile renames when possible and falls back to a copy across
// filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
