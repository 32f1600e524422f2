package tracker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opsdesk-io/opsdesk/pkg/protocol"
)

const apiVersion = "7.0"

// AzureClient implements Client against the Azure Boards work-item REST API.
type AzureClient struct {
	client       *http.Client
	baseURL      string // https://dev.azure.com
	organization string
	project      string
	token        string // personal access token
}

// AzureOption configures an AzureClient.
type AzureOption func(*AzureClient)

// WithAzureBaseURL overrides the API base URL (used in tests).
func WithAzureBaseURL(url string) AzureOption {
	return func(c *AzureClient) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithAzureHTTPClient sets a custom HTTP client.
func WithAzureHTTPClient(hc *http.Client) AzureOption {
	return func(c *AzureClient) { c.client = hc }
}

// NewAzure creates a work-item client for one organization/project.
func NewAzure(organization, project, token string, opts ...AzureOption) *AzureClient {
	c := &AzureClient{
		client:       &http.Client{Timeout: 30 * time.Second},
		baseURL:      "https://dev.azure.com",
		organization: organization,
		project:      project,
		token:        token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type patchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

func (c *AzureClient) Create(ctx context.Context, title, description string, attachments []protocol.Attachment) (*protocol.RemoteTicket, error) {
	if len(attachments) > 0 {
		var names []string
		for _, a := range attachments {
			names = append(names, a.Filename)
		}
		description += "\n\nAttachments: " + strings.Join(names, ", ")
	}

	ops := []patchOp{
		{Op: "add", Path: "/fields/System.Title", Value: title},
		{Op: "add", Path: "/fields/System.Description", Value: description},
	}

	url := fmt.Sprintf("%s/%s/%s/_apis/wit/workitems/$Task?api-version=%s",
		c.baseURL, c.organization, c.project, apiVersion)

	var resp struct {
		ID    int64 `json:"id"`
		Links struct {
			HTML struct {
				Href string `json:"href"`
			} `json:"html"`
		} `json:"_links"`
	}
	if err := c.do(ctx, http.MethodPost, url, "application/json-patch+json", ops, &resp); err != nil {
		return nil, fmt.Errorf("tracker: create: %w", err)
	}
	return &protocol.RemoteTicket{ID: resp.ID, URL: resp.Links.HTML.Href, Title: title}, nil
}

func (c *AzureClient) Update(ctx context.Context, remoteID int64, status, comment string) error {
	ops := []patchOp{
		{Op: "add", Path: "/fields/System.State", Value: status},
		{Op: "add", Path: "/fields/System.History", Value: comment},
	}
	url := fmt.Sprintf("%s/%s/%s/_apis/wit/workitems/%d?api-version=%s",
		c.baseURL, c.organization, c.project, remoteID, apiVersion)
	if err := c.do(ctx, http.MethodPatch, url, "application/json-patch+json", ops, nil); err != nil {
		return fmt.Errorf("tracker: update %d: %w", remoteID, err)
	}
	return nil
}

func (c *AzureClient) Revisions(ctx context.Context, remoteID int64) ([]protocol.Revision, error) {
	url := fmt.Sprintf("%s/%s/%s/_apis/wit/workItems/%d/updates?api-version=%s",
		c.baseURL, c.organization, c.project, remoteID, apiVersion)

	var resp struct {
		Value []struct {
			Rev    int `json:"rev"`
			Fields map[string]struct {
				NewValue any `json:"newValue"`
			} `json:"fields"`
		} `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, url, "", nil, &resp); err != nil {
		return nil, fmt.Errorf("tracker: revisions %d: %w", remoteID, err)
	}

	var revs []protocol.Revision
	for _, u := range resp.Value {
		if u.Rev == 0 {
			continue
		}
		rev := protocol.Revision{ID: u.Rev}
		if f, ok := u.Fields["System.State"]; ok {
			rev.Status, _ = f.NewValue.(string)
		}
		if f, ok := u.Fields["System.History"]; ok {
			rev.Comment, _ = f.NewValue.(string)
		}
		revs = append(revs, rev)
	}
	return revs, nil
}

func (c *AzureClient) ListAll(ctx context.Context) ([]protocol.RemoteTicket, error) {
	wiqlURL := fmt.Sprintf("%s/%s/%s/_apis/wit/wiql?api-version=%s",
		c.baseURL, c.organization, c.project, apiVersion)
	query := map[string]string{
		"query": "SELECT [System.Id] FROM WorkItems WHERE [System.TeamProject] = @project ORDER BY [System.Id]",
	}

	var wiqlResp struct {
		WorkItems []struct {
			ID int64 `json:"id"`
		} `json:"workItems"`
	}
	if err := c.do(ctx, http.MethodPost, wiqlURL, "application/json", query, &wiqlResp); err != nil {
		return nil, fmt.Errorf("tracker: wiql: %w", err)
	}
	if len(wiqlResp.WorkItems) == 0 {
		return nil, nil
	}

	var ids []string
	for _, wi := range wiqlResp.WorkItems {
		ids = append(ids, fmt.Sprintf("%d", wi.ID))
	}
	itemsURL := fmt.Sprintf("%s/%s/%s/_apis/wit/workitems?ids=%s&api-version=%s",
		c.baseURL, c.organization, c.project, strings.Join(ids, ","), apiVersion)

	var itemsResp struct {
		Value []struct {
			ID     int64          `json:"id"`
			Fields map[string]any `json:"fields"`
		} `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, itemsURL, "", nil, &itemsResp); err != nil {
		return nil, fmt.Errorf("tracker: list items: %w", err)
	}

	var tickets []protocol.RemoteTicket
	for _, item := range itemsResp.Value {
		t := protocol.RemoteTicket{ID: item.ID}
		if v, ok := item.Fields["System.Title"].(string); ok {
			t.Title = v
		}
		if v, ok := item.Fields["System.State"].(string); ok {
			t.Status = v
		}
		if v, ok := item.Fields["System.CreatedDate"].(string); ok {
			t.CreatedAt, _ = time.Parse(time.RFC3339, v)
		}
		if v, ok := item.Fields["System.ChangedDate"].(string); ok {
			t.UpdatedAt, _ = time.Parse(time.RFC3339, v)
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

func (c *AzureClient) do(ctx context.Context, method, url, contentType string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	// PAT auth: empty username, token as password.
	req.Header.Set("Authorization", "Basic "+
		base64.StdEncoding.EncodeToString([]byte(":"+c.token)))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
