// Package imagesearch scrapes an image-search results page for candidate
// image URLs and fetches image bytes.
package imagesearch

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultBaseURL   = "https://www.bing.com"
	defaultUserAgent = "Mozilla/5.0 (compatible; SlotIngest/1.0)"
	maxPageBytes     = 4 << 20
	defaultMaxImage  = 5 << 20
)

// Client searches for images and downloads them.
type Client interface {
	Search(ctx context.Context, query string) ([]string, error)
	FetchImage(ctx context.Context, imageURL string) (*Image, error)
}

// Image is a downloaded image.
type Image struct {
	URL      string
	MimeType string
	Data     []byte
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the search host.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithMaxImageBytes caps downloaded image size.
func WithMaxImageBytes(n int64) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.maxImage = n
		}
	}
}

type httpClient struct {
	baseURL   string
	userAgent string
	maxImage  int64
	http      *http.Client
}

// NewClient creates an image search client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:   defaultBaseURL,
		userAgent: defaultUserAgent,
		maxImage:  defaultMaxImage,
		http:      &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Search returns candidate image URLs for query in page order.
func (c *httpClient) Search(ctx context.Context, query string) ([]string, error) {
	u := c.baseURL + "/images/search?" + url.Values{"q": {query}}.Encode()

	body, _, err := c.get(ctx, u, maxPageBytes)
	if err != nil {
		return nil, eris.Wrap(err, "imagesearch: search")
	}
	return ExtractCandidates(string(body)), nil
}

// FetchImage downloads imageURL. The response must be image/* and no
// larger than the configured cap.
func (c *httpClient) FetchImage(ctx context.Context, imageURL string) (*Image, error) {
	body, contentType, err := c.get(ctx, imageURL, c.maxImage)
	if err != nil {
		return nil, eris.Wrap(err, "imagesearch: fetch image")
	}

	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mt, "image/") {
		// Some hosts omit the header; fall back to sniffing.
		mt = http.DetectContentType(body)
		if !strings.HasPrefix(mt, "image/") {
			return nil, eris.Errorf("imagesearch: fetch image: not an image (%s)", mt)
		}
	}
	return &Image{URL: imageURL, MimeType: mt, Data: body}, nil
}

func (c *httpClient) get(ctx context.Context, rawURL string, limit int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", eris.Wrap(err, "send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, "", eris.Errorf("unexpected status %d from %s", resp.StatusCode, req.URL.Host)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", eris.Wrap(err, "read response")
	}
	if int64(len(body)) > limit {
		return nil, "", eris.Errorf("response exceeds %d bytes", limit)
	}
	return body, resp.Header.Get("Content-Type"), nil
}
