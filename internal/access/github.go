package access

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// GitHubController implements Controller against the GitHub collaborator
// REST API.
type GitHubController struct {
	client  *http.Client
	baseURL string
	owner   string
	token   string
}

// GitHubOption configures a GitHubController.
type GitHubOption func(*GitHubController)

// WithGitHubBaseURL overrides the API base URL (used in tests and for
// GitHub Enterprise).
func WithGitHubBaseURL(url string) GitHubOption {
	return func(c *GitHubController) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithGitHubHTTPClient sets a custom HTTP client.
func WithGitHubHTTPClient(hc *http.Client) GitHubOption {
	return func(c *GitHubController) { c.client = hc }
}

// NewGitHub creates a controller for repositories under one owner.
func NewGitHub(owner, token string, opts ...GitHubOption) *GitHubController {
	c := &GitHubController{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: "https://api.github.com",
		owner:   owner,
		token:   token,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// permission maps the classifier's access levels onto GitHub's.
func permission(level string) string {
	switch level {
	case "write":
		return "push"
	case "admin":
		return "admin"
	default:
		return "pull"
	}
}

func (c *GitHubController) Grant(ctx context.Context, repository, principal, level string) (string, error) {
	if repository == "" || principal == "" {
		return "", fmt.Errorf("access: grant: repository and principal are required")
	}

	url := fmt.Sprintf("%s/repos/%s/%s/collaborators/%s", c.baseURL, c.owner, repository, principal)
	body, _ := json.Marshal(map[string]string{"permission": permission(level)})

	status, respBody, err := c.do(ctx, http.MethodPut, url, body)
	if err != nil {
		return "", fmt.Errorf("access: grant: %w", err)
	}
	switch status {
	case http.StatusCreated:
		return fmt.Sprintf("Invited %s to %s with %s access", principal, repository, level), nil
	case http.StatusNoContent:
		return fmt.Sprintf("Granted %s access to %s for %s", level, repository, principal), nil
	default:
		return "", fmt.Errorf("access: grant: api error (status %d): %s", status, respBody)
	}
}

func (c *GitHubController) Revoke(ctx context.Context, repository, principal string) (string, error) {
	if repository == "" || principal == "" {
		return "", fmt.Errorf("access: revoke: repository and principal are required")
	}

	url := fmt.Sprintf("%s/repos/%s/%s/collaborators/%s", c.baseURL, c.owner, repository, principal)
	status, respBody, err := c.do(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return "", fmt.Errorf("access: revoke: %w", err)
	}
	if status != http.StatusNoContent {
		return "", fmt.Errorf("access: revoke: api error (status %d): %s", status, respBody)
	}
	return fmt.Sprintf("Revoked access to %s for %s", repository, principal), nil
}

func (c *GitHubController) do(ctx context.Context, method, url string, body []byte) (int, string, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(respBody), nil
}
