package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/mwidz/offerlens/internal/model"
)

const (
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxBodyBytes     = 4 << 20
)

// blockedMarkers are phrases that identify an error or challenge page served
// with status 200. Such pages must never be stored as offer content.
var blockedMarkers = []string{
	"access denied",
	"captcha",
	"request blocked",
	"rate limit exceeded",
	"page not found",
	"strona nie została znaleziona",
}

// HTTPFetcher downloads offer pages and parses them into structured details.
// A shared Limiter keeps per-host request spacing polite.
type HTTPFetcher struct {
	client    *http.Client
	limiter   *Limiter
	logger    *slog.Logger
	userAgent string
}

// NewHTTPFetcher creates a fetcher. limiter may be nil to disable spacing.
func NewHTTPFetcher(client *http.Client, limiter *Limiter, logger *slog.Logger) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{
		client:    client,
		limiter:   limiter,
		logger:    logger,
		userAgent: defaultUserAgent,
	}
}

// Fetch downloads rawURL and returns its parsed detail. Non-2xx responses
// come back as *model.HTTPError so callers can tell retryable failures apart.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*model.JobDetail, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, u.Host); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,pl;q=0.8")

	started := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &model.HTTPError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", rawURL, err)
	}

	if marker := findBlockedMarker(body); marker != "" {
		return nil, fmt.Errorf("fetch %s: page looks blocked (%q)", rawURL, marker)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: parse html: %w", rawURL, err)
	}

	detail, err := Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	if f.logger != nil {
		f.logger.Debug("fetched offer page",
			"url", rawURL,
			"title", detail.Title,
			"bytes", len(body),
			"took", time.Since(started).Round(time.Millisecond),
		)
	}
	return detail, nil
}

func findBlockedMarker(body []byte) string {
	lower := strings.ToLower(string(body))
	for _, marker := range blockedMarkers {
		if strings.Contains(lower, marker) {
			return marker
		}
	}
	return ""
}

// parseRetryAfter parses the Retry-After header value into a duration.
// Supports seconds format (e.g. "120"). Returns zero if absent or unparseable.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
