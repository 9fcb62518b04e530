package oracle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
)

// WebConfig configures a WebSearcher.
type WebConfig struct {
	// Endpoint is the search URL; "{query}" is replaced with the escaped
	// query.
	Endpoint string

	// ResultSelector matches one element per search hit.
	ResultSelector string
	// LinkSelector, TitleSelector and SnippetSelector are relative to a hit.
	LinkSelector    string
	TitleSelector   string
	SnippetSelector string

	// FetchPages is how many top hits to download and convert to text.
	FetchPages int

	// RequestsPerSecond limits outbound requests. Zero disables limiting.
	RequestsPerSecond float64

	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// DefaultWebConfig targets the DuckDuckGo HTML endpoint.
func DefaultWebConfig() WebConfig {
	return WebConfig{
		Endpoint:          "https://html.duckduckgo.com/html/?q={query}",
		ResultSelector:    ".result",
		LinkSelector:      "a.result__a",
		TitleSelector:     "a.result__a",
		SnippetSelector:   ".result__snippet",
		FetchPages:        3,
		RequestsPerSecond: 1,
		Timeout:           10 * time.Second,
		MaxBytes:          2 << 20,
		UserAgent:         "guesstimate/1.0",
	}
}

// WebSearcher scrapes a search results page and optionally fetches the top
// hits as markdown text.
type WebSearcher struct {
	config  WebConfig
	client  *http.Client
	limiter *rate.Limiter
	conv    *md.Converter
	logger  *slog.Logger
}

// NewWebSearcher creates a searcher.
func NewWebSearcher(cfg WebConfig) *WebSearcher {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultWebConfig().MaxBytes
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &WebSearcher{
		config:  cfg,
		client:  client,
		limiter: limiter,
		conv:    md.NewConverter("", true, nil),
		logger:  logger,
	}
}

// Search implements Searcher.
func (w *WebSearcher) Search(ctx context.Context, query string, limit int) ([]Document, error) {
	endpoint := strings.ReplaceAll(w.config.Endpoint, "{query}", url.QueryEscape(query))
	page, err := w.fetch(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}

	base, _ := url.Parse(endpoint)
	var docs []Document
	doc.Find(w.config.ResultSelector).EachWithBreak(func(i int, s *goquery.Selection) bool {
		if limit > 0 && len(docs) >= limit {
			return false
		}
		href, _ := s.Find(w.config.LinkSelector).First().Attr("href")
		d := Document{
			URL:     resolveLink(base, href),
			Title:   strings.TrimSpace(s.Find(w.config.TitleSelector).First().Text()),
			Snippet: strings.Join(strings.Fields(s.Find(w.config.SnippetSelector).Text()), " "),
			Rank:    len(docs) + 1,
		}
		if d.Title == "" && d.Snippet == "" {
			return true
		}
		docs = append(docs, d)
		return true
	})

	for i := range docs {
		if i >= w.config.FetchPages || docs[i].URL == "" {
			break
		}
		text, err := w.page(ctx, docs[i].URL)
		if err != nil {
			if ctx.Err() != nil {
				return docs, nil
			}
			w.logger.Debug("skipping page", "url", docs[i].URL, "error", err)
			continue
		}
		docs[i].Text = text
	}
	return docs, nil
}

// page downloads a URL and converts its body to markdown.
func (w *WebSearcher) page(ctx context.Context, link string) (string, error) {
	html, err := w.fetch(ctx, link)
	if err != nil {
		return "", err
	}
	text, err := w.conv.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("convert %s: %w", link, err)
	}
	return text, nil
}

func (w *WebSearcher) fetch(ctx context.Context, link string) (string, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", err
	}
	if w.config.UserAgent != "" {
		req.Header.Set("User-Agent", w.config.UserAgent)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: status %d", link, resp.StatusCode)
	}

	body, err := charset.NewReader(io.LimitReader(resp.Body, w.config.MaxBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", link, err)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// resolveLink makes href absolute and unwraps redirect links of the form
// /l/?uddg=<target>.
func resolveLink(base *url.URL, href string) string {
	if href == "" {
		return ""
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return u.String()
}
