// Package sources provides the discovery nodes that feed ingestion
// pipelines: web page link extraction, checksum manifests, and
// object-store listings.
package sources

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/meridian-data/quarry/errors"
	"github.com/meridian-data/quarry/fetch"
	"github.com/meridian-data/quarry/logger"
	"github.com/meridian-data/quarry/pipeline"
	"github.com/meridian-data/quarry/stats"
)

// PagesOptions configures link extraction.
type PagesOptions struct {
	// Include keeps only links whose resolved URL matches; empty keeps
	// everything.
	Include string
	// Exclude drops links whose resolved URL matches.
	Exclude string
	// Stats, when set, counts each parsed page as a section and each
	// emitted link as a discovery.
	Stats *stats.Accumulator
}

// Pages fetches an HTML page and emits one record per extracted link,
// resolved against the page URL. A URL already emitted during this
// crawl is not emitted again; Reset drops that cache between runs.
type Pages struct {
	client  *fetch.Client
	include *regexp.Regexp
	exclude *regexp.Regexp
	stats   *stats.Accumulator
	seen    map[string]bool
}

// NewPages builds a page-crawl source. Malformed patterns are
// definition errors.
func NewPages(client *fetch.Client, opts PagesOptions) (*Pages, error) {
	p := &Pages{client: client, stats: opts.Stats, seen: make(map[string]bool)}
	var err error
	if opts.Include != "" {
		if p.include, err = regexp.Compile(opts.Include); err != nil {
			return nil, errors.Wrap(err, "include pattern")
		}
	}
	if opts.Exclude != "" {
		if p.exclude, err = regexp.Compile(opts.Exclude); err != nil {
			return nil, errors.Wrap(err, "exclude pattern")
		}
	}
	return p, nil
}

// Reset drops the seen-URL cache.
func (p *Pages) Reset() {
	p.seen = make(map[string]bool)
}

// Run implements pipeline.Node: fetch the record's url field and emit
// one record per new matching link.
func (p *Pages) Run(ctx context.Context, in pipeline.Record) pipeline.Stream {
	pageURL := in.String("url")
	if pageURL == "" {
		logger.Warnw("Page source record has no url field")
		return pipeline.Empty()
	}

	links, err := p.extract(ctx, pageURL)
	if err != nil {
		// Per-item failure: log and produce nothing for this page.
		logger.Warnw("Failed to extract links", "url", pageURL, "error", err)
		return pipeline.Empty()
	}

	var out []pipeline.Record
	for _, l := range links {
		if p.seen[l.href] {
			continue
		}
		p.seen[l.href] = true
		rec := in.Clone()
		rec.Set("url", l.href)
		if l.text != "" {
			rec.Set("link_text", l.text)
		}
		out = append(out, rec)
	}
	if p.stats != nil {
		p.stats.Current.Sections++
		p.stats.Current.Discovered += len(out)
	}
	logger.Debugw("Extracted links", "page", pageURL, "total", len(links), "new", len(out))
	return pipeline.Emit(out...)
}

type link struct {
	href string
	text string
}

func (p *Pages) extract(ctx context.Context, pageURL string) ([]link, error) {
	base, err := p.client.ValidateURL(pageURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build page request")
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("fetch page %s: HTTP %d", pageURL, resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "parse page")
	}

	var links []link
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if href, ok := attr(n, "href"); ok {
				if resolved := p.resolve(base, href); resolved != "" {
					links = append(links, link{href: resolved, text: strings.TrimSpace(nodeText(n))})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

// resolve turns an href into an absolute URL and applies the
// include/exclude filters. Fragments and non-http(s) schemes yield "".
func (p *Pages) resolve(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	s := abs.String()
	if p.include != nil && !p.include.MatchString(s) {
		return ""
	}
	if p.exclude != nil && p.exclude.MatchString(s) {
		return ""
	}
	return s
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
