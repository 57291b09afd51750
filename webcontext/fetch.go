// Package webcontext fetches a brand website and reduces it to a compact
// markdown digest the enhancer can use for creative tasks.
package webcontext

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	readability "github.com/go-shiori/go-readability"
)

// maxBodyBytes caps how much HTML is read from the site.
const maxBodyBytes = 2 << 20 // 2MB

// defaultMaxChars caps the digest handed to the enhancer.
const defaultMaxChars = 6000

var excessiveLinesRe = regexp.MustCompile(`\n{3,}`)

// Fetcher retrieves and condenses brand-website content.
type Fetcher struct {
	httpClient *http.Client
	converter  *md.Converter
	maxChars   int
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithMaxChars caps the digest length in characters.
func WithMaxChars(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxChars = n
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) {
		f.httpClient = c
	}
}

// NewFetcher creates a Fetcher with the given request timeout.
func NewFetcher(timeout time.Duration, opts ...Option) *Fetcher {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	f := &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		converter:  converter,
		maxChars:   defaultMaxChars,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads rawURL, extracts the readable article content, and returns
// it as truncated markdown headed by the page title.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse brand website URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported brand website scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/html")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch brand website: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("brand website returned status %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxBodyBytes)
	article, err := readability.FromReader(body, u)
	if err != nil {
		return "", fmt.Errorf("extract readable content: %w", err)
	}

	markdown, err := f.converter.ConvertString(article.Content)
	if err != nil {
		return "", fmt.Errorf("convert content to markdown: %w", err)
	}

	digest := cleanMarkdown(markdown)
	if article.Title != "" {
		digest = "# " + article.Title + "\n\n" + digest
	}
	return truncate(digest, f.maxChars), nil
}

// cleanMarkdown collapses excessive blank lines and trims edges.
func cleanMarkdown(content string) string {
	content = excessiveLinesRe.ReplaceAllString(content, "\n\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// truncate cuts at a rune boundary and marks the cut.
func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return strings.TrimSpace(string(runes[:maxChars])) + "\n…"
}
