// Package crawler discovers the pages of documentation sites and extracts
// their text.
package crawler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds every page fetch.
const DefaultTimeout = 10 * time.Second

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 5 << 20

const userAgent = "Mozilla/5.0 (compatible; openipc-ragbot/1.0)"

// Crawler fetches pages over HTTP. It is safe for concurrent use.
type Crawler struct {
	client  *http.Client
	limiter *rate.Limiter
}

// Option configures a Crawler.
type Option func(*Crawler)

// WithTimeout sets the per-fetch timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Crawler) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithRateLimit caps fetches per second. Zero or less means unlimited.
func WithRateLimit(perSecond float64) Option {
	return func(c *Crawler) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithHTTPClient replaces the HTTP client. The client's timeout is kept.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Crawler) {
		if client != nil {
			c.client = client
		}
	}
}

// New creates a crawler.
func New(opts ...Option) *Crawler {
	c := &Crawler{
		client:  &http.Client{Timeout: DefaultTimeout},
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result is the outcome of a discovery.
type Result struct {
	// Pages lists every reachable page in discovery order.
	Pages []string
	// DeadEnds maps pages that could not be fetched to the failure reason.
	DeadEnds map[string]string
}

type pending struct {
	url  string
	host string // host of the seed this page was reached from
}

// Discover walks every page reachable from the seeds without leaving each
// seed's host. Links are resolved against the page URL and stripped of query
// and fragment. Each page is fetched once no matter how many seeds or links
// lead to it. Fetch failures are recorded as dead ends and do not stop the
// walk.
func (c *Crawler) Discover(ctx context.Context, seeds []string) *Result {
	res := &Result{DeadEnds: make(map[string]string)}
	visited := make(map[string]bool)
	var queue []pending

	for _, seed := range seeds {
		u, err := Normalize(seed, nil)
		if err != nil {
			slog.Warn("invalid seed url", "url", seed, "error", err)
			res.DeadEnds[seed] = err.Error()
			continue
		}
		queue = append(queue, pending{url: u.String(), host: u.Host})
	}

	for len(queue) > 0 {
		if ctx.Err() != nil {
			break
		}
		next := queue[0]
		queue = queue[1:]
		if visited[next.url] {
			continue
		}
		visited[next.url] = true

		slog.Debug("discovering", "url", next.url)
		final, links, err := c.links(ctx, next.url)
		if err != nil {
			slog.Warn("could not discover links", "url", next.url, "error", err)
			res.DeadEnds[next.url] = err.Error()
			continue
		}
		// a redirect lands the page under its final url
		if final != next.url {
			if visited[final] {
				continue
			}
			visited[final] = true
		}
		res.Pages = append(res.Pages, final)

		for _, link := range links {
			if !strings.EqualFold(link.Host, next.host) {
				continue
			}
			if s := link.String(); !visited[s] {
				queue = append(queue, pending{url: s, host: next.host})
			}
		}
	}
	return res
}

// links fetches a page and returns the normalized url it was served from
// after redirects, and its normalized outgoing links resolved against that
// url. Non-HTML pages have no links.
func (c *Crawler) links(ctx context.Context, pageURL string) (string, []*url.URL, error) {
	body, contentType, base, err := c.fetch(ctx, pageURL)
	if err != nil {
		return "", nil, err
	}
	final := pageURL
	if u, err := Normalize(base.String(), nil); err == nil {
		final = u.String()
	}
	if !isHTML(contentType) {
		return final, nil, nil
	}

	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return "", nil, fmt.Errorf("parse html: %w", err)
	}

	var out []*url.URL
	for _, href := range extractHrefs(doc) {
		u, err := Normalize(href, base)
		if err != nil {
			continue
		}
		out = append(out, u)
	}
	return final, out, nil
}

// FetchText downloads a page and returns its readable text.
func (c *Crawler) FetchText(ctx context.Context, pageURL string) (string, error) {
	body, contentType, _, err := c.fetch(ctx, pageURL)
	if err != nil {
		return "", err
	}
	switch {
	case isHTML(contentType):
		return ExtractText(string(body))
	case strings.HasPrefix(contentType, "text/"):
		return string(body), nil
	default:
		return "", fmt.Errorf("unsupported content type %q", contentType)
	}
}

// fetch returns the body, the content type and the url the response came
// from after redirects.
func (c *Crawler) fetch(ctx context.Context, pageURL string) ([]byte, string, *url.URL, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.8")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", nil, fmt.Errorf("read body: %w", err)
	}
	final := req.URL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL
	}
	return body, strings.ToLower(resp.Header.Get("Content-Type")), final, nil
}

// Normalize resolves ref against base (when non-nil) and strips the query and
// fragment. Only http and https URLs are accepted.
func Normalize(ref string, base *url.URL) (*url.URL, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("empty url")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host")
	}
	u.Fragment = ""
	u.RawFragment = ""
	u.RawQuery = ""
	u.ForceQuery = false
	return u, nil
}

func isHTML(contentType string) bool {
	return contentType == "" ||
		strings.Contains(contentType, "text/html") ||
		strings.Contains(contentType, "application/xhtml+xml")
}

func extractHrefs(doc *html.Node) []string {
	var hrefs []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key == "href" && a.Val != "" {
					hrefs = append(hrefs, a.Val)
				}
			}
		}
		for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(doc)
	return hrefs
}
