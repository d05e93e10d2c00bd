package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"mlsync/models"
)

// PortalAdapter scrapes a public listing portal that exposes no API: a
// paged index of listing cards plus a detail page with a photo gallery.
// The portal cannot filter server-side, so incremental scope is applied
// client-side against each card's modified timestamp.
type PortalAdapter struct {
	cfg       *models.ProviderConfig
	client    *http.Client
	connected bool
}

func NewPortalAdapter(cfg *models.ProviderConfig, client *http.Client) *PortalAdapter {
	return &PortalAdapter{cfg: cfg, client: client}
}

func (a *PortalAdapter) ID() string {
	return a.cfg.ID
}

func (a *PortalAdapter) Connect(ctx context.Context) error {
	if a.connected {
		return nil
	}

	resp, err := a.get(ctx, a.cfg.BaseURL)
	if err != nil {
		return &ConnectivityError{Provider: a.cfg.ID, Err: err}
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &AuthenticationError{Provider: a.cfg.ID, Detail: fmt.Sprintf("portal returned %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return &ConnectivityError{Provider: a.cfg.ID, Err: fmt.Errorf("portal returned %d", resp.StatusCode)}
	}

	a.connected = true
	return nil
}

func (a *PortalAdapter) FetchPage(ctx context.Context, since *time.Time, cursor string) (*Page, error) {
	pageNum := 1
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, fmt.Errorf("bad cursor %q: %w", cursor, err)
		}
		pageNum = n
	}

	resp, err := a.get(ctx, fmt.Sprintf("%s/listings?page=%d", a.cfg.BaseURL, pageNum))
	if err != nil {
		return nil, &ConnectivityError{Provider: a.cfg.ID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ConnectivityError{Provider: a.cfg.ID, Err: fmt.Errorf("listings page returned %d", resp.StatusCode)}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse listings page: %w", err)
	}

	page := parseListingCards(doc, since)
	if doc.Find("a.next-page").Length() > 0 {
		page.NextCursor = strconv.Itoa(pageNum + 1)
	}
	return page, nil
}

// parseListingCards extracts provider records from the index markup. Cards
// older than since are dropped here because the portal cannot filter.
func parseListingCards(doc *goquery.Document, since *time.Time) *Page {
	page := &Page{}

	doc.Find("div.listing-card").Each(func(_ int, card *goquery.Selection) {
		fields := map[string]interface{}{}

		if id, ok := card.Attr("data-mls"); ok {
			fields["mls"] = id
		}
		if status, ok := card.Attr("data-status"); ok {
			fields["status"] = status
		}
		if modified, ok := card.Attr("data-modified"); ok {
			fields["modified_at"] = modified
			if since != nil {
				if ts, err := time.Parse(time.RFC3339, modified); err == nil && ts.Before(*since) {
					return
				}
			}
		}

		for sel, key := range map[string]string{
			"span.price":   "price",
			"span.address": "address",
			"span.city":    "city",
			"span.state":   "state",
			"span.zip":     "zip",
			"span.beds":    "beds",
			"span.baths":   "baths",
			"span.sqft":    "sqft",
			"span.type":    "property_type",
			"p.summary":    "description",
		} {
			if text := strings.TrimSpace(card.Find(sel).First().Text()); text != "" {
				fields[key] = text
			}
		}

		raw, _ := json.Marshal(fields)
		page.Records = append(page.Records, Record{Fields: fields, Raw: raw})
	})

	return page
}

func (a *PortalAdapter) FetchMedia(ctx context.Context, externalID string) ([]MediaRef, error) {
	resp, err := a.get(ctx, a.cfg.BaseURL+"/listings/"+url.PathEscape(externalID))
	if err != nil {
		return nil, &ConnectivityError{Provider: a.cfg.ID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ConnectivityError{Provider: a.cfg.ID, Err: fmt.Errorf("detail page returned %d", resp.StatusCode)}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse detail page: %w", err)
	}

	var refs []MediaRef
	doc.Find("img.gallery-photo").Each(func(i int, img *goquery.Selection) {
		src, ok := img.Attr("data-full")
		if !ok {
			src, ok = img.Attr("src")
		}
		if !ok || src == "" {
			return
		}
		refs = append(refs, MediaRef{URL: a.absoluteURL(src), Position: i})
	})
	return refs, nil
}

func (a *PortalAdapter) absoluteURL(src string) string {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return src
	}
	return strings.TrimSuffix(a.cfg.BaseURL, "/") + "/" + strings.TrimPrefix(src, "/")
}

func (a *PortalAdapter) HealthCheck(ctx context.Context) Health {
	h := Health{CheckedAt: time.Now()}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := a.get(ctx, a.cfg.BaseURL)
	if err != nil {
		h.Detail = err.Error()
		return h
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		h.OK = true
	} else {
		h.Detail = fmt.Sprintf("portal returned %d", resp.StatusCode)
	}
	return h
}

func (a *PortalAdapter) Disconnect() error {
	a.connected = false
	return nil
}

func (a *PortalAdapter) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	return a.client.Do(req)
}
