package fetch

import (
	"context"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	getter "github.com/hashicorp/go-getter"
	"golang.org/x/time/rate"

	"github.com/meridian-data/quarry/errors"
	"github.com/meridian-data/quarry/logger"
)

// Status describes what a remote reported about a URL without the body
// being transferred.
type Status struct {
	URL      string
	Size     int64 // -1 when the remote did not report a length
	MTime    time.Time
	Filename string
}

// Downloader issues status probes and transfers content, applying a
// shared rate limit and bounded retries across both.
type Downloader struct {
	client   *Client
	limiter  *rate.Limiter
	attempts int
	backoff  time.Duration
}

// DownloaderOptions configures a Downloader.
type DownloaderOptions struct {
	RequestsPerSecond float64       // 0 disables rate limiting
	Attempts          int           // default 3
	Backoff           time.Duration // default 1s, doubles per retry
}

// NewDownloader builds a Downloader on top of a guarded client.
func NewDownloader(client *Client, opts DownloaderOptions) *Downloader {
	d := &Downloader{
		client:   client,
		attempts: opts.Attempts,
		backoff:  opts.Backoff,
	}
	if d.attempts <= 0 {
		d.attempts = 3
	}
	if d.backoff <= 0 {
		d.backoff = time.Second
	}
	if opts.RequestsPerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return d
}

// GetStatus probes a URL with a HEAD request and reports size, mtime
// and remote filename. Size is -1 when unreported.
func (d *Downloader) GetStatus(ctx context.Context, rawURL string) (Status, error) {
	st := Status{URL: rawURL, Size: -1}

	err := d.withRetries(ctx, "status "+rawURL, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
		if err != nil {
			return errors.Wrap(err, "build status request")
		}
		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := errors.Wrapf(errors.ErrDownload, "status %s: HTTP %d", rawURL, resp.StatusCode)
			if retriableStatus(resp.StatusCode) {
				return err
			}
			return permanent(err)
		}

		st.Size = resp.ContentLength
		if lm := resp.Header.Get("Last-Modified"); lm != "" {
			if t, err := http.ParseTime(lm); err == nil {
				st.MTime = t
			}
		}
		st.Filename = filenameFor(resp, rawURL)
		return nil
	})
	return st, err
}

// Download fetches a URL into dest, returning the number of bytes
// written. Transfer is delegated to go-getter so checksums and archive
// URLs keep working; the guarded client's transport still applies.
func (d *Downloader) Download(ctx context.Context, rawURL, dest string) (int64, error) {
	if _, err := d.client.ValidateURL(rawURL); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, errors.Wrapf(err, "create directory for %s", dest)
	}

	hg := &getter.HttpGetter{Client: d.client.Client, Netrc: true}
	err := d.withRetries(ctx, "download "+rawURL, func() error {
		gc := &getter.Client{
			Ctx:  ctx,
			Src:  rawURL,
			Dst:  dest,
			Mode: getter.ClientModeFile,
			Getters: map[string]getter.Getter{
				"http":  hg,
				"https": hg,
			},
		}
		return gc.Get()
	})
	if err != nil {
		return 0, errors.Wrapf(err, "download %s", rawURL)
	}

	fi, err := os.Stat(dest)
	if err != nil {
		return 0, errors.Wrapf(err, "stat downloaded %s", dest)
	}
	return fi.Size(), nil
}

// withRetries runs op up to the configured attempt count, waiting for
// the rate limiter before each try and backing off between failures.
func (d *Downloader) withRetries(ctx context.Context, what string, op func() error) error {
	var last error
	wait := d.backoff
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return errors.Wrap(err, "rate limit wait")
			}
		}
		err := op()
		if err == nil {
			return nil
		}
		var p permanentError
		if errors.As(err, &p) {
			return p.err
		}
		last = err
		if attempt < d.attempts {
			logger.Debugw("Retrying after failure",
				"op", what, "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			wait *= 2
		}
	}
	return errors.Wrapf(last, "%s: giving up after %d attempts", what, d.attempts)
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

func permanent(err error) error { return permanentError{err: err} }

func retriableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// filenameFor derives the remote filename, preferring a
// Content-Disposition header over the URL path.
func filenameFor(resp *http.Response, rawURL string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := params["filename"]; name != "" {
				return path.Base(name)
			}
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "/" && base != "." {
			return base
		}
	}
	return ""
}
