package playstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/feedlens/feedlens/pkg/feedlens"
)

func TestAppInfoParsesListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != "com.example.shop" {
			t.Errorf("id = %q", r.URL.Query().Get("id"))
		}
		w.Write([]byte(`<html><body>
			<h1 itemprop="name"><span>Example Shop</span></h1>
			<a href="/store/apps/dev?id=123">Example Inc.</a>
			<div itemprop="starRating"><div>4.3</div></div>
		</body></html>`))
	}))
	defer srv.Close()

	c := NewClient(0)
	c.HTTPClient = srv.Client()

	// Point the client at the test server by rewriting the request host.
	c.HTTPClient.Transport = rewriteHost(srv.URL, c.HTTPClient.Transport)

	info, err := c.AppInfo(context.Background(), "com.example.shop")
	if err != nil {
		t.Fatalf("AppInfo: %v", err)
	}
	if info.Title != "Example Shop" {
		t.Errorf("Title = %q", info.Title)
	}
	if info.Developer != "Example Inc." {
		t.Errorf("Developer = %q", info.Developer)
	}
	if info.Score != "4.3" {
		t.Errorf("Score = %q", info.Score)
	}
}

func TestAppInfoRejectsMissingListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(0)
	c.HTTPClient = srv.Client()
	c.HTTPClient.Transport = rewriteHost(srv.URL, c.HTTPClient.Transport)

	if _, err := c.AppInfo(context.Background(), "com.example.gone"); err == nil {
		t.Error("AppInfo succeeded for a missing listing")
	}
}

func TestParseReviewEnvelope(t *testing.T) {
	payload := `)]}'

[["wrb.fr","UsvDTd","[[[\"gp:AOqpTOEabcdefghijklmnop\",[\"App crashes on startup\"],5,[1717243200]]],[\"CpkBCpYBwJDKoYHvzZLbuAE=\"]]"]]`

	reviews, next, err := parseReviewEnvelope(strings.NewReader(payload))
	if err != nil {
		t.Fatalf("parseReviewEnvelope: %v", err)
	}
	if len(reviews) != 1 {
		t.Fatalf("reviews = %d, want 1", len(reviews))
	}
	if reviews[0].ID != "gp:AOqpTOEabcdefghijklmnop" {
		t.Errorf("id = %q", reviews[0].ID)
	}
	if reviews[0].Text != "App crashes on startup" {
		t.Errorf("text = %q", reviews[0].Text)
	}
	if reviews[0].Rating != 5 {
		t.Errorf("rating = %d, want 5", reviews[0].Rating)
	}
	if reviews[0].Date != "2024-06-01" {
		t.Errorf("date = %q, want 2024-06-01", reviews[0].Date)
	}
	if next != "CpkBCpYBwJDKoYHvzZLbuAE=" {
		t.Errorf("next token = %q", next)
	}
}

func TestFilterSince(t *testing.T) {
	reviews := []feedlens.Review{
		{ID: "r1", Date: "2024-06-03"},
		{ID: "r2", Date: "2024-06-02"},
		{ID: "r3", Date: "2024-05-30"},
	}

	kept, past := filterSince(reviews, "2024-06-01")
	if !past {
		t.Error("past = false, want true once a review predates the cutoff")
	}
	if len(kept) != 2 || kept[0].ID != "r1" || kept[1].ID != "r2" {
		t.Errorf("kept = %v, want r1 and r2", kept)
	}

	kept, past = filterSince(reviews, "")
	if past || len(kept) != 3 {
		t.Errorf("empty cutoff: kept = %d, past = %v, want all 3 and false", len(kept), past)
	}
}

func TestGroupByDate(t *testing.T) {
	reviews := []feedlens.Review{
		{ID: "r1", Date: "2024-06-02"},
		{ID: "r2", Date: "2024-06-01"},
		{ID: "r3", Date: "2024-06-02"},
	}

	byDate, dates := GroupByDate(reviews)
	if len(dates) != 2 || dates[0] != "2024-06-01" || dates[1] != "2024-06-02" {
		t.Errorf("dates = %v, want ascending", dates)
	}
	if len(byDate["2024-06-02"]) != 2 {
		t.Errorf("2024-06-02 batch = %d, want 2", len(byDate["2024-06-02"]))
	}
}

// rewriteHost redirects every outgoing request to the test server.
type hostRewriter struct {
	target string
	next   http.RoundTripper
}

func rewriteHost(target string, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return hostRewriter{target: strings.TrimPrefix(target, "http://"), next: next}
}

func (h hostRewriter) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = h.target
	return h.next.RoundTrip(req)
}
