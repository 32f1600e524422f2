package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

// Client talks to the search service over HTTP. A client with an empty base
// URL is a no-op: Upsert succeeds without doing anything and Query returns
// no hits, so the rest of the daemon never needs to care whether search is
// configured.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient returns a search client. Pass an empty baseURL to disable search.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// Enabled reports whether a search service is configured.
func (c *Client) Enabled() bool { return c.baseURL != "" }

type document struct {
	RemoteTicketID int64  `json:"remote_ticket_id"`
	Title          string `json:"title"`
	TextType       string `json:"text_type"`
	Text           string `json:"text"`
}

type upsertPayload struct {
	RemoteTicketID int64      `json:"remote_ticket_id"`
	Documents      []document `json:"documents"`
}

// Upsert deletes every document for the record's remote ticket and inserts a
// fresh projection. Records without a remote ticket are skipped.
func (c *Client) Upsert(ctx context.Context, rec *protocol.TicketRecord) error {
	if !c.Enabled() || !rec.HasRemote() {
		return nil
	}

	payload := upsertPayload{RemoteTicketID: rec.RemoteTicketID}
	add := func(textType, text string) {
		if text == "" {
			return
		}
		payload.Documents = append(payload.Documents, document{
			RemoteTicketID: rec.RemoteTicketID,
			Title:          rec.Title,
			TextType:       textType,
			Text:           text,
		})
	}
	add("title", rec.Title)
	add("description", rec.Description)
	for _, u := range rec.Ledger {
		add("comment", u.Comment)
	}
	if len(payload.Documents) == 0 {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("search: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.baseURL+"/index/tickets/"+strconv.FormatInt(rec.RemoteTicketID, 10),
		bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("search: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("search: upsert: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("search: upsert: status %d for ticket %d", resp.StatusCode, rec.RemoteTicketID)
	}
	return nil
}

// Query runs a similarity search. Disabled clients return no hits.
func (c *Client) Query(ctx context.Context, query string, limit int) ([]Hit, error) {
	if !c.Enabled() || query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/search/tickets?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("search: new request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: query: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("search: query: status %d: %s", resp.StatusCode, body)
	}

	var out struct {
		Hits []Hit `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("search: decode: %w", err)
	}
	return out.Hits, nil
}
