package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/errors"
)

// PageFetcher retrieves a document and reports its content type
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (body, contentType string, err error)
}

type httpFetcher struct {
	client    *http.Client
	userAgent string
}

func (f *httpFetcher) Fetch(ctx context.Context, url string) (string, string, error) {
	data, ct, err := fetchBytes(ctx, f.client, url, f.userAgent)
	return string(data), ct, err
}

func fetchBytes(ctx context.Context, client *http.Client, url, userAgent string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", errors.Wrap(errors.KindIngestFetch, err, "invalid URL")
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", errors.Wrap(errors.KindIngestFetch, err, "failed to fetch "+url)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", errors.Newf(errors.KindIngestFetch, "fetching %s returned HTTP %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload))
	if err != nil {
		return nil, "", errors.Wrap(errors.KindIngestFetch, err, "failed to read "+url)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// BrowserFetcher renders pages in headless Chrome so that script-built
// content is present in the returned HTML.
type BrowserFetcher struct {
	timeout   time.Duration
	userAgent string
}

// NewBrowserFetcher creates a chromedp-backed fetcher
func NewBrowserFetcher(timeout time.Duration, userAgent string) *BrowserFetcher {
	return &BrowserFetcher{timeout: timeout, userAgent: userAgent}
}

// Fetch navigates to url and returns the rendered document
func (b *BrowserFetcher) Fetch(ctx context.Context, url string) (string, string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
	)
	if b.userAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.userAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	browserCtx, cancelTimeout := context.WithTimeout(browserCtx, b.timeout)
	defer cancelTimeout()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", "", errors.Wrap(errors.KindIngestFetch, err, fmt.Sprintf("browser failed to load %s", url))
	}
	return html, "text/html", nil
}
