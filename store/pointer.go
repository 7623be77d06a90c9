package store

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/meridian-data/quarry/errors"
)

// IngestMode selects how content enters the store.
type IngestMode string

const (
	// ModeFull downloads content before adding it.
	ModeFull IngestMode = "full"
	// ModeFast registers a reference with the remote's reported size,
	// without downloading.
	ModeFast IngestMode = "fast"
	// ModeRelaxed registers a bare URL reference; the remote state is
	// trusted and never re-verified.
	ModeRelaxed IngestMode = "relaxed"
)

// ParseMode validates a mode string.
func ParseMode(s string) (IngestMode, error) {
	switch IngestMode(s) {
	case ModeFull, ModeFast, ModeRelaxed:
		return IngestMode(s), nil
	case "":
		return ModeFull, nil
	}
	return "", errors.Newf("unknown ingestion mode %q (want full, fast, or relaxed)", s)
}

const pointerHeader = "quarry-pointer: v1"

// AddURL places a URL-sourced item into the store at path (relative to
// the worktree root). In full mode the content must already be
// materialized at path and is staged as-is. In fast and relaxed modes a
// pointer file recording the source URL (and size, when known) is staged
// instead; a registered special remote materializes it later.
func (r *Repo) AddURL(path, url string, mode IngestMode, size int64) error {
	switch mode {
	case ModeFull:
		return r.Add(path)
	case ModeFast, ModeRelaxed:
		abs := filepath.Join(r.path, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return errors.Wrapf(err, "create directory for %s", path)
		}
		var b strings.Builder
		b.WriteString(pointerHeader + "\n")
		b.WriteString("url: " + url + "\n")
		if mode == ModeFast && size >= 0 {
			b.WriteString("size: " + strconv.FormatInt(size, 10) + "\n")
		}
		if err := os.WriteFile(abs, []byte(b.String()), 0o644); err != nil {
			return errors.Wrapf(err, "write pointer %s", path)
		}
		return r.Add(path)
	}
	return errors.Newf("unknown ingestion mode %q", mode)
}

// Pointer describes a parsed pointer file.
type Pointer struct {
	URL  string
	Size int64 // -1 when unknown
}

// ReadPointer parses a pointer file at path, returning ok=false for
// regular content.
func (r *Repo) ReadPointer(path string) (Pointer, bool, error) {
	f, err := os.Open(filepath.Join(r.path, filepath.FromSlash(path)))
	if err != nil {
		return Pointer{}, false, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() || sc.Text() != pointerHeader {
		return Pointer{}, false, nil
	}
	p := Pointer{Size: -1}
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "url: "):
			p.URL = strings.TrimPrefix(line, "url: ")
		case strings.HasPrefix(line, "size: "):
			n, err := strconv.ParseInt(strings.TrimPrefix(line, "size: "), 10, 64)
			if err != nil {
				return Pointer{}, false, errors.Wrapf(err, "parse pointer size in %s", path)
			}
			p.Size = n
		}
	}
	if p.URL == "" {
		return Pointer{}, false, errors.Newf("pointer %s has no url", path)
	}
	return p, true, nil
}

// EnableSpecialRemote records a pluggable storage backend in the
// repository config under [quarry-remote "name"], so content transfer
// for pointer files can be delegated to it.
func (r *Repo) EnableSpecialRemote(name string, options map[string]string) error {
	cfg, err := r.repo.Config()
	if err != nil {
		return errors.Wrap(err, "read repository config")
	}
	sub := cfg.Raw.Section("quarry-remote").Subsection(name)
	for k, v := range options {
		sub.SetOption(k, v)
	}
	sub.SetOption("enabled", "true")
	return errors.Wrapf(r.repo.Storer.SetConfig(cfg), "enable special remote %s", name)
}

// SpecialRemoteOptions returns the recorded options for a special
// remote, or nil when it was never enabled.
func (r *Repo) SpecialRemoteOptions(name string) (map[string]string, error) {
	cfg, err := r.repo.Config()
	if err != nil {
		return nil, errors.Wrap(err, "read repository config")
	}
	sec := cfg.Raw.Section("quarry-remote")
	if !sec.HasSubsection(name) {
		return nil, nil
	}
	out := make(map[string]string)
	for _, o := range sec.Subsection(name).Options {
		out[o.Key] = o.Value
	}
	return out, nil
}
