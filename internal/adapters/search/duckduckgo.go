// Package search — веб-поиск через HTML-выдачу DuckDuckGo.
package search

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"

	"grok-bot/internal/domain"
	"grok-bot/internal/infra/metrics"
	"grok-bot/internal/infra/retry"
)

// NoResults — маркер пустой выдачи. На него опирается дайджест.
const NoResults = "No results found."

// FailedPrefix начинает текст ошибки поиска.
const FailedPrefix = "Search failed:"

const (
	defaultBaseURL   = "https://html.duckduckgo.com/html/"
	defaultUserAgent = "Mozilla/5.0 (compatible; grok-bot/1.0)"
	maxBodyBytes     = 2 * 1024 * 1024
)

// Result описывает один результат выдачи.
type Result struct {
	Title string
	Body  string
	Href  string
}

// DuckDuckGo реализует domain.Searcher.
type DuckDuckGo struct {
	baseURL string
	client  *http.Client
	policy  retry.Policy
	log     zerolog.Logger
}

var _ domain.Searcher = (*DuckDuckGo)(nil)

// NewDuckDuckGo создаёт клиента поиска.
func NewDuckDuckGo(baseURL string, timeout time.Duration, policy retry.Policy, logger zerolog.Logger) *DuckDuckGo {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if policy.Retryable == nil {
		policy.Retryable = isTransient
	}
	return &DuckDuckGo{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		policy:  policy,
		log:     logger,
	}
}

// Search возвращает отформатированную выдачу, NoResults или текст с FailedPrefix.
func (d *DuckDuckGo) Search(ctx context.Context, query string, count int) string {
	if count <= 0 {
		count = 5
	}
	results, err := d.Fetch(ctx, query, count)
	if err != nil {
		d.log.Error().Err(err).Str("query", query).Msg("search: запрос не удался")
		return FailedPrefix + " " + err.Error()
	}
	return Format(results)
}

// Fetch выполняет запрос с повторами и разбирает выдачу.
func (d *DuckDuckGo) Fetch(ctx context.Context, query string, count int) ([]Result, error) {
	var results []Result
	err := retry.Do(ctx, d.log, "search.duckduckgo", d.policy, func(ctx context.Context) error {
		body, err := d.get(ctx, query)
		if err != nil {
			return err
		}
		parsed, err := Parse(body, count)
		if err != nil {
			return retry.Permanent(err)
		}
		results = parsed
		return nil
	})
	return results, err
}

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("unexpected status %d", e.code) }

func (d *DuckDuckGo) get(ctx context.Context, query string) (body []byte, err error) {
	start := time.Now()
	defer func() { metrics.ObserveNetworkRequest("search", "duckduckgo", "html", start, err) }()

	u, err := url.Parse(d.baseURL)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("invalid base url: %w", err))
	}
	qs := u.Query()
	qs.Set("q", query)
	u.RawQuery = qs.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 32*1024))
		return nil, &statusError{code: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

func isTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code == http.StatusRequestTimeout || se.code == 202 || se.code >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Format собирает выдачу в markdown-список или возвращает NoResults.
func Format(results []Result) string {
	if len(results) == 0 {
		return NoResults
	}
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, fmt.Sprintf("- **%s**\n  %s\n  <%s>", r.Title, r.Body, r.Href))
	}
	return strings.Join(parts, "\n\n")
}

// Parse вытаскивает результаты из HTML-выдачи DuckDuckGo.
// Заголовок берётся из a.result__a, описание из ближайшего .result__snippet того же блока.
func Parse(body []byte, limit int) ([]Result, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var out []Result
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n == nil || len(out) >= limit {
			return
		}
		if n.Type == html.ElementNode && hasClass(n, "result") && !hasClass(n, "result--ad") {
			if r, ok := parseBlock(n); ok {
				out = append(out, r)
			}
			return
		}
		for c := n.FirstChild; c != nil && len(out) < limit; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out, nil
}

func parseBlock(block *html.Node) (Result, bool) {
	var r Result
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result__a") && r.Href == "":
				r.Href = normalizeURL(attr(n, "href"))
				r.Title = textContent(n)
			case hasClass(n, "result__snippet") && r.Body == "":
				r.Body = textContent(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(block)
	return r, r.Href != "" && r.Title != ""
}

func normalizeURL(href string) string {
	href = strings.TrimSpace(href)
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if u.Path == "/l/" {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

func hasClass(n *html.Node, want string) bool {
	for _, part := range strings.Fields(attr(n, "class")) {
		if part == want {
			return true
		}
	}
	return false
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(x *html.Node) {
		if x.Type == html.TextNode {
			b.WriteString(x.Data)
		}
		for c := x.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
