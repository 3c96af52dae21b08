// Package fetch downloads the Europe PMC open-access dump archives and the
// PMC-ids dataset.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds one archive transfer; dumps are a few hundred MB.
	DefaultTimeout = 30 * time.Minute

	// DefaultRateLimit is the request rate used against the mirrors.
	DefaultRateLimit = 2.0

	// ArchiveSuffix marks dump archive links in the listing.
	ArchiveSuffix = "xml.gz"

	userAgent = "pmcrefs (+https://github.com/matsen/pmcrefs)"
)

// Client is a rate-limited HTTP client with a bounded retry policy.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      RetryPolicy
	logger     *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit sets the allowed requests per second; zero disables limiting.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithRetry sets the retry policy for downloads.
func WithRetry(p RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retry = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a new download client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), 1),
		retry:      DefaultRetryPolicy,
		logger:     zap.NewNop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// get issues a rate-limited GET and returns the response for a 2xx status.
func (c *Client) get(ctx context.Context, rawURL string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		httpErr := &HTTPError{StatusCode: resp.StatusCode, URL: rawURL}
		if resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %w", ErrNotFound, httpErr)
		}
		return nil, httpErr
	}
	return resp, nil
}

// ListDumps returns the absolute URLs of the dump archives linked from the
// listing page, in page order without duplicates.
func (c *Client) ListDumps(ctx context.Context, listingURL string) ([]string, error) {
	base, err := url.Parse(listingURL)
	if err != nil {
		return nil, fmt.Errorf("parsing listing URL: %w", err)
	}

	var links []string
	err = c.retry.Do(ctx, func(attempt int) error {
		resp, err := c.get(ctx, listingURL)
		if err != nil {
			c.logger.Warn("listing dumps failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		defer resp.Body.Close()

		links, err = parseListing(resp.Body, base)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, ErrNoLinks
	}
	return links, nil
}

// parseListing extracts archive links from an HTML directory listing.
func parseListing(r io.Reader, base *url.URL) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing listing: %w", err)
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if !strings.Contains(href, ArchiveSuffix) {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if seen[abs] {
			return
		}
		seen[abs] = true
		links = append(links, abs)
	})
	return links, nil
}

// FileName returns the local file name for a remote URL.
func FileName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(rawURL)
}

// Download fetches rawURL to dest with the client's retry policy. The body is
// written to dest.part and renamed into place once complete.
func (c *Client) Download(ctx context.Context, rawURL, dest string) error {
	return c.retry.Do(ctx, func(attempt int) error {
		err := c.downloadOnce(ctx, rawURL, dest)
		if err != nil {
			c.logger.Warn("download failed",
				zap.String("url", rawURL), zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
}

func (c *Client) downloadOnce(ctx context.Context, rawURL, dest string) error {
	resp, err := c.get(ctx, rawURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	part := dest + ".part"
	f, err := os.Create(part)
	if err != nil {
		return fmt.Errorf("creating %s: %w", part, err)
	}

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		f.Close()
		os.Remove(part)
		return fmt.Errorf("reading body: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(part)
		return fmt.Errorf("closing %s: %w", part, err)
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		os.Remove(part)
		return fmt.Errorf("short body: got %d of %d bytes", n, resp.ContentLength)
	}

	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return fmt.Errorf("installing %s: %w", dest, err)
	}
	return nil
}
