package fetch

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/meridian-data/quarry/errors"
)

// Client wraps http.Client with SSRF protection. Crawl targets are
// user-supplied URLs, so redirects and DNS answers pointing at private
// address space are refused unless explicitly allowed.
type Client struct {
	*http.Client
	allowedSchemes []string
	blockPrivate   bool
	maxRedirects   int
}

// ClientOptions customizes the protection applied by NewClient.
type ClientOptions struct {
	AllowedSchemes []string // default: http, https
	MaxRedirects   *int     // default: 10
	BlockPrivate   *bool    // default: true
}

// NewClient creates a guarded HTTP client.
func NewClient(timeout time.Duration, opts ClientOptions) *Client {
	c := &Client{
		Client:         &http.Client{Timeout: timeout},
		allowedSchemes: []string{"http", "https"},
		blockPrivate:   true,
		maxRedirects:   10,
	}
	if opts.AllowedSchemes != nil {
		c.allowedSchemes = opts.AllowedSchemes
	}
	if opts.MaxRedirects != nil {
		c.maxRedirects = *opts.MaxRedirects
	}
	if opts.BlockPrivate != nil {
		c.blockPrivate = *opts.BlockPrivate
	}

	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= c.maxRedirects {
			return errors.Newf("stopped after %d redirects", c.maxRedirects)
		}
		if err := c.validateURL(req.URL); err != nil {
			return errors.Wrap(err, "redirect blocked")
		}
		return nil
	}

	if c.blockPrivate {
		dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
		c.Transport = &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				host, _, err := net.SplitHostPort(addr)
				if err != nil {
					return nil, errors.Wrap(err, "invalid address")
				}
				ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
				if err != nil {
					return nil, errors.Wrapf(err, "failed to resolve host %q", host)
				}
				// Re-check resolved addresses so DNS rebinding cannot
				// route a vetted hostname into private space.
				for _, ip := range ips {
					if blockedIP(ip) {
						return nil, errors.Newf("private IP address blocked: %s", ip)
					}
				}
				return dialer.DialContext(ctx, network, addr)
			},
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}

	return c
}

func (c *Client) validateURL(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	allowed := false
	for _, s := range c.allowedSchemes {
		if scheme == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.Newf("scheme %q not allowed (allowed: %v)", scheme, c.allowedSchemes)
	}

	// http://evil.com@localhost/ style confusion.
	if u.User != nil {
		return errors.New("URL carries userinfo")
	}

	hostname := u.Hostname()
	if hostname == "" {
		return errors.New("URL missing hostname")
	}

	if c.blockPrivate {
		if isLocalhost(hostname) {
			return errors.New("localhost access blocked")
		}
		if ip := net.ParseIP(hostname); ip != nil && blockedIP(ip) {
			return errors.Newf("private IP address blocked: %s", hostname)
		}
	}
	return nil
}

// ValidateURL validates a URL string before creating a request.
func (c *Client) ValidateURL(urlStr string) (*url.URL, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if err := c.validateURL(u); err != nil {
		return nil, err
	}
	return u, nil
}

// Do executes an HTTP request after validating the target.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.validateURL(req.URL); err != nil {
		return nil, errors.Wrap(err, "request blocked")
	}
	return c.Client.Do(req)
}

// Get fetches a URL after validating it.
func (c *Client) Get(urlStr string) (*http.Response, error) {
	if _, err := c.ValidateURL(urlStr); err != nil {
		return nil, err
	}
	return c.Client.Get(urlStr)
}

// blockedIP reports whether an address falls in private or special-use
// ranges that crawl traffic must not reach.
func blockedIP(ip net.IP) bool {
	return ip.IsPrivate() ||
		ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified()
}

func isLocalhost(hostname string) bool {
	hostname = strings.ToLower(hostname)
	return hostname == "localhost" ||
		hostname == "localhost.localdomain" ||
		strings.HasSuffix(hostname, ".localhost")
}

// WrapClient wraps an existing http.Client without private-address
// blocking. Only for tests that talk to httptest servers on loopback.
func WrapClient(client *http.Client) *Client {
	return &Client{
		Client:         client,
		allowedSchemes: []string{"http", "https"},
		blockPrivate:   false,
		maxRedirects:   10,
	}
}
