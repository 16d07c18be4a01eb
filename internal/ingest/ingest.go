// Package ingest turns a source reference (a URL, a video link, a PDF, a
// local file or raw text) into a normalised plain-text brief.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/config"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/errors"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/infrastructure"
)

// SourceKind records how a reference was interpreted
type SourceKind string

const (
	KindVideo SourceKind = "video"
	KindPDF   SourceKind = "pdf"
	KindHTML  SourceKind = "html"
	KindFile  SourceKind = "file"
	KindText  SourceKind = "text"
)

// maxDownload bounds any fetched document
const maxDownload = 32 << 20

// Brief is the normalised source text of a run
type Brief struct {
	SourceRef string     `json:"source_ref"`
	Kind      SourceKind `json:"kind"`
	Text      string     `json:"-"`
	Chars     int        `json:"chars"`
	Truncated bool       `json:"truncated"`
}

// Render prefixes the text with an attribution header; this is brief.txt
func (b Brief) Render() string {
	return fmt.Sprintf("# source: %s\n# kind: %s\n\n%s\n", b.SourceRef, b.Kind, b.Text)
}

// Options configures an Ingestor
type Options struct {
	MaxChars          int
	MinChars          int
	FetchTimeout      time.Duration
	UseBrowser        bool
	TranscriptCommand string
	UserAgent         string
}

// OptionsFromConfig extracts ingest options
func OptionsFromConfig(cfg config.IngestConfig) Options {
	return Options{
		MaxChars:          cfg.MaxBriefChars,
		MinChars:          cfg.MinBriefChars,
		FetchTimeout:      cfg.FetchTimeout,
		UseBrowser:        cfg.UseBrowser,
		TranscriptCommand: cfg.TranscriptCommand,
		UserAgent:         cfg.UserAgent,
	}
}

// Ingestor resolves references. It performs no LLM calls.
type Ingestor struct {
	opts        Options
	client      *http.Client
	pages       PageFetcher
	transcripts TranscriptSource
	logger      *slog.Logger
}

// Option customises an Ingestor
type Option func(*Ingestor)

// WithHTTPClient replaces the HTTP client used for documents
func WithHTTPClient(c *http.Client) Option {
	return func(i *Ingestor) { i.client = c }
}

// WithPageFetcher replaces the HTML page fetcher
func WithPageFetcher(f PageFetcher) Option {
	return func(i *Ingestor) { i.pages = f }
}

// WithTranscriptSource replaces the video transcript source
func WithTranscriptSource(s TranscriptSource) Option {
	return func(i *Ingestor) { i.transcripts = s }
}

// New creates an Ingestor
func New(opts Options, logger *slog.Logger, options ...Option) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = 40000
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	i := &Ingestor{
		opts:   opts,
		client: &http.Client{Timeout: opts.FetchTimeout},
		logger: infrastructure.WithComponent(logger, "ingest"),
	}
	for _, o := range options {
		o(i)
	}
	if i.pages == nil {
		if opts.UseBrowser {
			i.pages = NewBrowserFetcher(opts.FetchTimeout, opts.UserAgent)
		} else {
			i.pages = &httpFetcher{client: i.client, userAgent: opts.UserAgent}
		}
	}
	if i.transcripts == nil {
		i.transcripts = NewCommandTranscripts(opts.TranscriptCommand)
	}
	return i
}

// Ingest resolves ref into a Brief. Every failure carries an ingest-* kind.
func (i *Ingestor) Ingest(ctx context.Context, ref string) (Brief, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Brief{}, errors.Newf(errors.KindIngestEmpty, "empty source reference")
	}

	kind, text, err := i.resolve(ctx, ref)
	if err != nil {
		return Brief{}, err
	}

	normalized, truncated := Normalize(text, i.opts.MaxChars)
	n := len([]rune(normalized))
	if n == 0 {
		return Brief{}, errors.Newf(errors.KindIngestEmpty, "%s source produced no text", kind)
	}
	if n < i.opts.MinChars {
		return Brief{}, errors.Newf(errors.KindIngestTooShort, "%s source produced %d characters, need at least %d", kind, n, i.opts.MinChars)
	}

	i.logger.InfoContext(ctx, "Source ingested",
		slog.String("source_ref", ref),
		slog.String("kind", string(kind)),
		slog.Int("chars", n),
		slog.Bool("truncated", truncated))

	return Brief{SourceRef: ref, Kind: kind, Text: normalized, Chars: n, Truncated: truncated}, nil
}

func (i *Ingestor) resolve(ctx context.Context, ref string) (SourceKind, string, error) {
	if u, ok := parseURL(ref); ok {
		if u.Scheme == "file" {
			return i.readLocal(u.Path)
		}
		if IsVideoURL(u) {
			text, err := i.transcripts.Transcript(ctx, ref)
			return KindVideo, text, err
		}
		return i.fetchDocument(ctx, u)
	}
	if looksLikePath(ref) {
		if info, err := os.Stat(ref); err == nil && info.Mode().IsRegular() {
			return i.readLocal(ref)
		}
	}
	return KindText, ref, nil
}

func parseURL(ref string) (*url.URL, bool) {
	if strings.ContainsAny(ref, " \n\t") {
		return nil, false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return nil, false
	}
	switch u.Scheme {
	case "http", "https":
		return u, u.Host != ""
	case "file":
		return u, u.Path != ""
	}
	return nil, false
}

func looksLikePath(ref string) bool {
	return !strings.ContainsAny(ref, "\n") && len(ref) < 4096
}

// IsVideoURL reports whether u points at a video whose transcript is the source
func IsVideoURL(u *url.URL) bool {
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	switch host {
	case "youtu.be":
		return len(u.Path) > 1
	case "youtube.com", "music.youtube.com":
		return u.Path == "/watch" && u.Query().Get("v") != "" ||
			strings.HasPrefix(u.Path, "/shorts/") || strings.HasPrefix(u.Path, "/live/")
	}
	return false
}

func (i *Ingestor) readLocal(path string) (SourceKind, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return KindFile, "", errors.Wrap(errors.KindIngestFetch, err, "failed to read "+path)
	}
	if len(data) == 0 {
		return KindFile, "", errors.Newf(errors.KindIngestEmpty, "%s is empty", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		text, err := ExtractPDF(data)
		return KindPDF, text, err
	case ".html", ".htm":
		return KindHTML, HTMLToText(string(data)), nil
	}
	return KindFile, string(data), nil
}

func (i *Ingestor) fetchDocument(ctx context.Context, u *url.URL) (SourceKind, string, error) {
	if strings.HasSuffix(strings.ToLower(u.Path), ".pdf") {
		data, _, err := i.download(ctx, u.String())
		if err != nil {
			return KindPDF, "", err
		}
		text, err := ExtractPDF(data)
		return KindPDF, text, err
	}

	html, contentType, err := i.pages.Fetch(ctx, u.String())
	if err != nil {
		return KindHTML, "", err
	}
	if strings.HasPrefix(contentType, "application/pdf") {
		text, err := ExtractPDF([]byte(html))
		return KindPDF, text, err
	}
	if strings.HasPrefix(contentType, "text/plain") {
		return KindFile, html, nil
	}
	return KindHTML, HTMLToText(html), nil
}

func (i *Ingestor) download(ctx context.Context, rawURL string) ([]byte, string, error) {
	return fetchBytes(ctx, i.client, rawURL, i.opts.UserAgent)
}
