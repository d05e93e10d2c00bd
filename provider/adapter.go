package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"mlsync/httputil"
	"mlsync/models"
)

// Record is one provider-native listing before mapping: the decoded field
// tree plus the raw payload kept for auditing.
type Record struct {
	Fields map[string]interface{}
	Raw    json.RawMessage
}

// Lookup resolves a dot-separated path ("Property.Address.City") into the
// field tree.
func (r Record) Lookup(path string) (interface{}, bool) {
	var cur interface{} = r.Fields
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Page is one page of changed records. An empty NextCursor means the
// sequence is exhausted; otherwise the caller passes it back to resume.
type Page struct {
	Records    []Record
	NextCursor string
}

// MediaRef points at one remote image for a listing.
type MediaRef struct {
	URL      string `json:"url"`
	Position int    `json:"position"`
}

// Health is the result of a liveness probe. HealthCheck never returns an
// error; failures are reported in the value.
type Health struct {
	OK        bool      `json:"ok"`
	Detail    string    `json:"detail"`
	CheckedAt time.Time `json:"checked_at"`
}

// Adapter hides one provider's protocol, auth, and query dialect behind a
// uniform contract. The orchestrator holds no provider-specific branching.
type Adapter interface {
	ID() string

	// Connect establishes or validates credentials. Idempotent: calling it
	// again while connected is a no-op. Returns *AuthenticationError on bad
	// credentials, *ConnectivityError when the provider is unreachable.
	Connect(ctx context.Context) error

	// FetchPage returns records modified at or after since (nil = full
	// extraction), resuming from cursor (empty = start).
	FetchPage(ctx context.Context, since *time.Time, cursor string) (*Page, error)

	// FetchMedia returns the media references for one listing, kept off the
	// main fetch path so record sync stays fast.
	FetchMedia(ctx context.Context, externalID string) ([]MediaRef, error)

	HealthCheck(ctx context.Context) Health

	// Disconnect releases connection state; safe even if never connected.
	Disconnect() error
}

// New builds the adapter for a provider config.
func New(cfg *models.ProviderConfig, clients *httputil.Clients) (Adapter, error) {
	switch cfg.Protocol {
	case models.ProtocolREST:
		return NewRESTAdapter(cfg, clients.Provider), nil
	case models.ProtocolRETS:
		return NewRETSAdapter(cfg, clients.Provider), nil
	case models.ProtocolPortal:
		return NewPortalAdapter(cfg, clients.Provider), nil
	case models.ProtocolFixture:
		return NewFixtureAdapter(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider protocol: %q", cfg.Protocol)
	}
}
