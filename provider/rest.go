package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"mlsync/models"
)

// RESTAdapter speaks a JSON listing API with cursor pagination. Credentials
// ride in an X-API-Key header.
type RESTAdapter struct {
	cfg       *models.ProviderConfig
	client    *http.Client
	pageSize  int
	connected bool
}

func NewRESTAdapter(cfg *models.ProviderConfig, client *http.Client) *RESTAdapter {
	return &RESTAdapter{
		cfg:      cfg,
		client:   client,
		pageSize: cfg.EffectiveBatchSize(200),
	}
}

func (a *RESTAdapter) ID() string {
	return a.cfg.ID
}

func (a *RESTAdapter) Connect(ctx context.Context) error {
	if a.connected {
		return nil
	}

	resp, err := a.get(ctx, "/v1/ping", nil)
	if err != nil {
		return &ConnectivityError{Provider: a.cfg.ID, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		a.connected = true
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthenticationError{Provider: a.cfg.ID, Detail: fmt.Sprintf("ping returned %d", resp.StatusCode)}
	default:
		return &ConnectivityError{Provider: a.cfg.ID, Err: fmt.Errorf("ping returned %d", resp.StatusCode)}
	}
}

func (a *RESTAdapter) FetchPage(ctx context.Context, since *time.Time, cursor string) (*Page, error) {
	params := url.Values{}
	params.Set("limit", fmt.Sprintf("%d", a.pageSize))
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if since != nil {
		params.Set("updated_since", since.UTC().Format(time.RFC3339))
	}

	resp, err := a.get(ctx, "/v1/listings", params)
	if err != nil {
		return nil, &ConnectivityError{Provider: a.cfg.ID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &AuthenticationError{Provider: a.cfg.ID, Detail: fmt.Sprintf("listings returned %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ConnectivityError{Provider: a.cfg.ID, Err: fmt.Errorf("listings returned %d: %s", resp.StatusCode, body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectivityError{Provider: a.cfg.ID, Err: err}
	}

	return parseListingsPage(body)
}

// parseListingsPage decodes a listings response into provider records,
// keeping each record's raw JSON alongside the field tree.
func parseListingsPage(body []byte) (*Page, error) {
	var envelope struct {
		Listings   []json.RawMessage `json:"listings"`
		NextCursor string            `json:"next_cursor"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode listings: %w", err)
	}

	page := &Page{NextCursor: envelope.NextCursor}
	for _, raw := range envelope.Listings {
		var fields map[string]interface{}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("decode listing: %w", err)
		}
		page.Records = append(page.Records, Record{Fields: fields, Raw: raw})
	}
	return page, nil
}

func (a *RESTAdapter) FetchMedia(ctx context.Context, externalID string) ([]MediaRef, error) {
	resp, err := a.get(ctx, "/v1/listings/"+url.PathEscape(externalID)+"/photos", nil)
	if err != nil {
		return nil, &ConnectivityError{Provider: a.cfg.ID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ConnectivityError{Provider: a.cfg.ID, Err: fmt.Errorf("photos returned %d", resp.StatusCode)}
	}

	var envelope struct {
		Photos []MediaRef `json:"photos"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode photos: %w", err)
	}
	return envelope.Photos, nil
}

func (a *RESTAdapter) HealthCheck(ctx context.Context) Health {
	h := Health{CheckedAt: time.Now()}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := a.get(ctx, "/v1/ping", nil)
	if err != nil {
		h.Detail = err.Error()
		return h
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		h.OK = true
	} else {
		h.Detail = fmt.Sprintf("ping returned %d", resp.StatusCode)
	}
	return h
}

func (a *RESTAdapter) Disconnect() error {
	a.connected = false
	return nil
}

func (a *RESTAdapter) get(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	u := a.cfg.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", a.cfg.APIKey)
	}

	return a.client.Do(req)
}
