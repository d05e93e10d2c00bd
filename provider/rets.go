package provider

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"mlsync/models"
)

// RETS reply codes that signal credential problems.
const (
	retsReplyAuthRequired = 20036
	retsReplyAuthDenied   = 20037
	retsReplyNoRecords    = 20201
)

// RETSAdapter talks to a RETS-style server: login transaction, DMQL search
// with COMPACT-DECODED payloads, offset-driven pagination.
type RETSAdapter struct {
	cfg       *models.ProviderConfig
	client    *http.Client
	pageSize  int
	connected bool
	sessionID string
}

func NewRETSAdapter(cfg *models.ProviderConfig, client *http.Client) *RETSAdapter {
	return &RETSAdapter{
		cfg:      cfg,
		client:   client,
		pageSize: cfg.EffectiveBatchSize(500),
	}
}

func (a *RETSAdapter) ID() string {
	return a.cfg.ID
}

func (a *RETSAdapter) Connect(ctx context.Context) error {
	if a.connected {
		return nil
	}

	resp, err := a.do(ctx, "/login", nil)
	if err != nil {
		return &ConnectivityError{Provider: a.cfg.ID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return &AuthenticationError{Provider: a.cfg.ID, Detail: "login rejected"}
	}
	if resp.StatusCode != http.StatusOK {
		return &ConnectivityError{Provider: a.cfg.ID, Err: fmt.Errorf("login returned %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ConnectivityError{Provider: a.cfg.ID, Err: err}
	}

	reply, err := parseRETSReply(body)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if reply.Code == retsReplyAuthRequired || reply.Code == retsReplyAuthDenied {
		return &AuthenticationError{Provider: a.cfg.ID, Detail: reply.Text}
	}
	if reply.Code != 0 {
		return &ConnectivityError{Provider: a.cfg.ID, Err: fmt.Errorf("login reply %d: %s", reply.Code, reply.Text)}
	}

	a.sessionID = resp.Header.Get("RETS-Session-ID")
	a.connected = true
	return nil
}

func (a *RETSAdapter) FetchPage(ctx context.Context, since *time.Time, cursor string) (*Page, error) {
	offset := 1 // RETS offsets are 1-based
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, fmt.Errorf("bad cursor %q: %w", cursor, err)
		}
		offset = n
	}

	query := "(ListingKey=*)"
	if since != nil {
		query = fmt.Sprintf("(ModificationTimestamp=%s+)", since.UTC().Format("2006-01-02T15:04:05"))
	}

	params := url.Values{}
	params.Set("SearchType", "Property")
	params.Set("Class", "Residential")
	params.Set("QueryType", "DMQL2")
	params.Set("Query", query)
	params.Set("Format", "COMPACT-DECODED")
	params.Set("StandardNames", "1")
	params.Set("Limit", strconv.Itoa(a.pageSize))
	params.Set("Offset", strconv.Itoa(offset))

	body, err := a.search(ctx, params)
	if err != nil {
		return nil, err
	}

	result, err := parseCompactResult(body)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	page := &Page{}
	for _, row := range result.Rows {
		fields := make(map[string]interface{}, len(result.Columns))
		for i, col := range result.Columns {
			if i < len(row) {
				fields[col] = row[i]
			}
		}
		raw, _ := json.Marshal(fields)
		page.Records = append(page.Records, Record{Fields: fields, Raw: raw})
	}

	// MAXROWS means the server truncated at Limit; resume past this page.
	if result.MaxRows {
		page.NextCursor = strconv.Itoa(offset + len(result.Rows))
	}

	return page, nil
}

func (a *RETSAdapter) FetchMedia(ctx context.Context, externalID string) ([]MediaRef, error) {
	params := url.Values{}
	params.Set("SearchType", "Media")
	params.Set("Class", "Photo")
	params.Set("QueryType", "DMQL2")
	params.Set("Query", fmt.Sprintf("(ListingKey=%s)", externalID))
	params.Set("Format", "COMPACT-DECODED")
	params.Set("StandardNames", "1")

	body, err := a.search(ctx, params)
	if err != nil {
		return nil, err
	}

	result, err := parseCompactResult(body)
	if err != nil {
		return nil, fmt.Errorf("media search: %w", err)
	}

	urlIdx, orderIdx := -1, -1
	for i, col := range result.Columns {
		switch col {
		case "MediaURL":
			urlIdx = i
		case "MediaOrder":
			orderIdx = i
		}
	}
	if urlIdx < 0 {
		return nil, nil
	}

	var refs []MediaRef
	for i, row := range result.Rows {
		if urlIdx >= len(row) || row[urlIdx] == "" {
			continue
		}
		ref := MediaRef{URL: row[urlIdx], Position: i}
		if orderIdx >= 0 && orderIdx < len(row) {
			if n, err := strconv.Atoi(row[orderIdx]); err == nil {
				ref.Position = n
			}
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (a *RETSAdapter) HealthCheck(ctx context.Context) Health {
	h := Health{CheckedAt: time.Now()}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resp, err := a.do(ctx, "/login", nil)
	if err != nil {
		h.Detail = err.Error()
		return h
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		h.OK = true
	} else {
		h.Detail = fmt.Sprintf("login returned %d", resp.StatusCode)
	}
	return h
}

func (a *RETSAdapter) Disconnect() error {
	if !a.connected {
		return nil
	}
	// Best effort; the session expires server-side regardless.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if resp, err := a.do(ctx, "/logout", nil); err == nil {
		resp.Body.Close()
	}
	a.connected = false
	a.sessionID = ""
	return nil
}

func (a *RETSAdapter) search(ctx context.Context, params url.Values) ([]byte, error) {
	resp, err := a.do(ctx, "/search", params)
	if err != nil {
		return nil, &ConnectivityError{Provider: a.cfg.ID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &AuthenticationError{Provider: a.cfg.ID, Detail: "session rejected"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ConnectivityError{Provider: a.cfg.ID, Err: fmt.Errorf("search returned %d", resp.StatusCode)}
	}

	return io.ReadAll(resp.Body)
}

func (a *RETSAdapter) do(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	u := a.cfg.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(a.cfg.Username, a.cfg.Password)
	req.Header.Set("RETS-Version", "RETS/1.7.2")
	req.Header.Set("User-Agent", "mlsync/1.0")
	if a.sessionID != "" {
		req.Header.Set("RETS-Session-ID", a.sessionID)
	}

	return a.client.Do(req)
}

type retsReply struct {
	Code int
	Text string
}

func parseRETSReply(body []byte) (*retsReply, error) {
	var envelope struct {
		XMLName   xml.Name `xml:"RETS"`
		ReplyCode string   `xml:"ReplyCode,attr"`
		ReplyText string   `xml:"ReplyText,attr"`
	}
	if err := xml.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	code, err := strconv.Atoi(envelope.ReplyCode)
	if err != nil {
		return nil, fmt.Errorf("bad reply code %q", envelope.ReplyCode)
	}
	return &retsReply{Code: code, Text: envelope.ReplyText}, nil
}

// compactResult is a decoded COMPACT payload: one COLUMNS element naming
// the fields, repeated DATA elements carrying delimited rows, and an
// optional MAXROWS marker meaning the server truncated at the limit.
type compactResult struct {
	Columns []string
	Rows    [][]string
	MaxRows bool
}

func parseCompactResult(body []byte) (*compactResult, error) {
	reply, err := parseRETSReply(body)
	if err != nil {
		return nil, err
	}
	if reply.Code == retsReplyNoRecords {
		return &compactResult{}, nil
	}
	if reply.Code != 0 {
		return nil, fmt.Errorf("reply %d: %s", reply.Code, reply.Text)
	}

	delimiter := "\t"
	result := &compactResult{}

	decoder := xml.NewDecoder(strings.NewReader(string(body)))
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode compact: %w", err)
		}

		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "DELIMITER":
			for _, attr := range start.Attr {
				if attr.Name.Local == "value" {
					// Delimiter is given as a hex character code.
					if n, err := strconv.ParseInt(attr.Value, 16, 32); err == nil && n > 0 {
						delimiter = string(rune(n))
					}
				}
			}
		case "COLUMNS":
			var text string
			if err := decoder.DecodeElement(&text, &start); err != nil {
				return nil, fmt.Errorf("decode columns: %w", err)
			}
			result.Columns = splitCompact(text, delimiter)
		case "DATA":
			var text string
			if err := decoder.DecodeElement(&text, &start); err != nil {
				return nil, fmt.Errorf("decode data: %w", err)
			}
			result.Rows = append(result.Rows, splitCompact(text, delimiter))
		case "MAXROWS":
			result.MaxRows = true
		}
	}

	return result, nil
}

// splitCompact splits a COMPACT line. Fields are wrapped in leading and
// trailing delimiters, so the outer empties are trimmed.
func splitCompact(line, delimiter string) []string {
	parts := strings.Split(line, delimiter)
	if len(parts) > 0 && parts[0] == "" {
		parts = parts[1:]
	}
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}
