// Package playstore fetches app metadata and user reviews from the Google
// Play web frontend.
package playstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/feedlens/feedlens/internal/logging"
	"github.com/feedlens/feedlens/pkg/feedlens"
)

const (
	detailsURL = "https://play.google.com/store/apps/details"
	batchURL   = "https://play.google.com/_/PlayStoreUi/data/batchexecute"
)

// AppInfo is the store listing metadata for an app.
type AppInfo struct {
	Package   string
	Title     string
	Developer string
	Score     string
	Installs  string
}

// Client scrapes the Play Store with request rate limiting.
type Client struct {
	HTTPClient *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a client. ratePerSec <= 0 disables the limiter.
func NewClient(ratePerSec float64) *Client {
	c := &Client{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	if ratePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}
	return c
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// AppInfo scrapes the store listing page for an app.
func (c *Client) AppInfo(ctx context.Context, pkg string) (AppInfo, error) {
	if err := c.wait(ctx); err != nil {
		return AppInfo{}, err
	}

	u := fmt.Sprintf("%s?id=%s&hl=en", detailsURL, url.QueryEscape(pkg))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return AppInfo{}, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return AppInfo{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return AppInfo{}, fmt.Errorf("app info %s: status %d", pkg, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return AppInfo{}, fmt.Errorf("parse listing %s: %w", pkg, err)
	}

	info := AppInfo{Package: pkg}
	info.Title = strings.TrimSpace(doc.Find("h1[itemprop=name]").First().Text())
	info.Developer = strings.TrimSpace(doc.Find("a[href*='/store/apps/dev']").First().Text())
	doc.Find("div[itemprop=starRating]").Each(func(_ int, s *goquery.Selection) {
		if info.Score == "" {
			info.Score = strings.TrimSpace(s.Find("div").First().Text())
		}
	})
	if info.Title == "" {
		return AppInfo{}, fmt.Errorf("app info %s: listing has no title", pkg)
	}
	return info, nil
}

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// reviewRE pulls review tuples out of the batchexecute envelope. The
// endpoint returns nested JSON arrays inside a JSON string; rather than
// model the whole undocumented structure we extract the stable fields:
// the gp:-prefixed review id, the review text, the star rating, and the
// unix-seconds timestamp of the review.
var reviewRE = regexp.MustCompile(`\[\\?"(gp:[\w-]{10,})\\?",\[\\?"([^"\\]+)\\?"\],(\d),\[(\d{9,11})`)

// Reviews fetches up to max reviews for an app, newest first, paginating
// through the internal reviews endpoint. Each review carries its actual
// posting date, so daily batches reflect when users wrote them, not when
// the scrape ran. A non-empty since date (YYYY-MM-DD) drops older reviews
// and stops paginating once a page reaches past it.
func (c *Client) Reviews(ctx context.Context, pkg string, max int, since string) ([]feedlens.Review, error) {
	if max <= 0 {
		max = 200
	}

	var out []feedlens.Review
	token := ""
	for len(out) < max {
		if err := c.wait(ctx); err != nil {
			return out, err
		}

		page, next, err := c.reviewPage(ctx, pkg, token)
		if err != nil {
			return out, err
		}
		kept, past := filterSince(page, since)
		out = append(out, kept...)

		logging.Debug("review page fetched", "package", pkg, "got", len(page), "kept", len(kept), "total", len(out))
		if past || next == "" || len(page) == 0 {
			break
		}
		token = next
	}

	if len(out) > max {
		out = out[:max]
	}
	return out, nil
}

// filterSince drops reviews dated before since and reports whether any
// were, which tells the pager the newest-first stream has run past the
// cutoff. An empty since keeps everything.
func filterSince(reviews []feedlens.Review, since string) ([]feedlens.Review, bool) {
	if since == "" {
		return reviews, false
	}
	kept := make([]feedlens.Review, 0, len(reviews))
	past := false
	for _, r := range reviews {
		if r.Date < since {
			past = true
			continue
		}
		kept = append(kept, r)
	}
	return kept, past
}

func (c *Client) reviewPage(ctx context.Context, pkg, token string) ([]feedlens.Review, string, error) {
	body := reviewsRPC(pkg, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, batchURL, strings.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("reviews %s: status %d", pkg, resp.StatusCode)
	}

	return parseReviewEnvelope(resp.Body)
}

func reviewsRPC(pkg, token string) string {
	inner := fmt.Sprintf(`[null,null,[2,null,[40,null,%s],null,[]],["%s",7]]`,
		tokenLiteral(token), pkg)
	rpc := fmt.Sprintf(`[[["UsvDTd","%s",null,"generic"]]]`,
		strings.ReplaceAll(inner, `"`, `\"`))
	return "f.req=" + url.QueryEscape(rpc)
}

func tokenLiteral(token string) string {
	if token == "" {
		return "null"
	}
	return fmt.Sprintf(`[\"%s\"]`, token)
}

// GroupByDate buckets reviews into daily batches keyed by YYYY-MM-DD and
// returns the sorted list of dates.
func GroupByDate(reviews []feedlens.Review) (map[string][]feedlens.Review, []string) {
	byDate := make(map[string][]feedlens.Review)
	for _, r := range reviews {
		byDate[r.Date] = append(byDate[r.Date], r)
	}
	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return byDate, dates
}

// tokenRE finds the pagination token for the next review page. Tokens are
// long C-prefixed base64-ish strings; the last one in the envelope is the
// continuation cursor.
var tokenRE = regexp.MustCompile(`\\?"(C[\w+/=-]{15,})\\?"`)

func parseReviewEnvelope(r io.Reader) ([]feedlens.Review, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", err
	}

	payload := string(data)
	// The anti-hijacking prefix and the wrapping array come before the
	// actual JSON string payload.
	if idx := strings.Index(payload, "\n"); idx >= 0 {
		payload = payload[idx:]
	}

	var reviews []feedlens.Review
	for _, m := range reviewRE.FindAllStringSubmatch(payload, -1) {
		id, text := m[1], m[2]
		var unescaped string
		if err := json.Unmarshal([]byte(`"`+text+`"`), &unescaped); err != nil {
			unescaped = text
		}
		rating, _ := strconv.Atoi(m[3])
		secs, err := strconv.ParseInt(m[4], 10, 64)
		if err != nil {
			continue
		}
		reviews = append(reviews, feedlens.Review{
			ID:     id,
			Text:   unescaped,
			Rating: rating,
			Date:   time.Unix(secs, 0).UTC().Format("2006-01-02"),
		})
	}

	next := ""
	if ms := tokenRE.FindAllStringSubmatch(payload, -1); len(ms) > 0 {
		next = ms[len(ms)-1][1]
	}
	return reviews, next, nil
}
