package provider

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"mlsync/models"
)

func portalDoc(t *testing.T, name string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(loadFixture(t, name)))
	if err != nil {
		t.Fatalf("parse fixture %s: %v", name, err)
	}
	return doc
}

func TestParseListingCards(t *testing.T) {
	page := parseListingCards(portalDoc(t, "portal_index.html"), nil)

	if len(page.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(page.Records))
	}

	rec := page.Records[0]
	if v, _ := rec.Lookup("mls"); v != "P3001" {
		t.Fatalf("unexpected mls %v", v)
	}
	if v, _ := rec.Lookup("status"); v != "For Sale" {
		t.Fatalf("unexpected status %v", v)
	}
	if v, _ := rec.Lookup("price"); v != "$645,000" {
		t.Fatalf("unexpected price %v", v)
	}
	if v, _ := rec.Lookup("sqft"); v != "2,450" {
		t.Fatalf("unexpected sqft %v", v)
	}
	if v, _ := rec.Lookup("description"); v != "Corner lot with a finished basement." {
		t.Fatalf("unexpected description %v", v)
	}

	// Second card has no summary paragraph.
	if _, ok := page.Records[1].Lookup("description"); ok {
		t.Fatalf("expected no description on second card")
	}
}

func TestParseListingCards_SinceFilter(t *testing.T) {
	since := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	page := parseListingCards(portalDoc(t, "portal_index.html"), &since)

	if len(page.Records) != 1 {
		t.Fatalf("expected 1 record after filter, got %d", len(page.Records))
	}
	if v, _ := page.Records[0].Lookup("mls"); v != "P3001" {
		t.Fatalf("expected P3001 to survive, got %v", v)
	}
}

func TestPortalAdapter_FetchPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/listings" {
			w.Write(loadFixture(t, "portal_index.html"))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := &models.ProviderConfig{ID: "portal", BaseURL: srv.URL}
	adapter := NewPortalAdapter(cfg, srv.Client())

	page, err := adapter.FetchPage(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(page.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(page.Records))
	}
	if page.NextCursor != "2" {
		t.Fatalf("expected next page cursor 2, got %q", page.NextCursor)
	}
}

func TestPortalAdapter_FetchMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/listings/P3001" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`<html><body>
			<img class="gallery-photo" data-full="https://cdn.portal.example.com/p3001_1.jpg" src="/thumb1.jpg">
			<img class="gallery-photo" src="/photos/p3001_2.jpg">
		</body></html>`))
	}))
	defer srv.Close()

	cfg := &models.ProviderConfig{ID: "portal", BaseURL: srv.URL}
	adapter := NewPortalAdapter(cfg, srv.Client())

	refs, err := adapter.FetchMedia(context.Background(), "P3001")
	if err != nil {
		t.Fatalf("fetch media failed: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 refs, got %d", len(refs))
	}
	if refs[0].URL != "https://cdn.portal.example.com/p3001_1.jpg" {
		t.Fatalf("expected data-full to win, got %s", refs[0].URL)
	}
	if refs[1].URL != srv.URL+"/photos/p3001_2.jpg" {
		t.Fatalf("expected relative src made absolute, got %s", refs[1].URL)
	}

	refs, err = adapter.FetchMedia(context.Background(), "MISSING")
	if err != nil {
		t.Fatalf("404 should not error: %v", err)
	}
	if refs != nil {
		t.Fatalf("expected nil refs for missing listing")
	}
}
