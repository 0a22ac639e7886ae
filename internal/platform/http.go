package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPClient talks to a board/agent platform over its JSON REST surface.
// Endpoints, relative to the base URL:
//
//	GET  /projects/{project}/issues/{number}          -> IssueSnapshot
//	PUT  /projects/{project}/issues/{number}/assignee {"identity": ...}
//	PUT  /projects/{project}/issues/{number}/status   {"column": ...}
//	POST /projects/{project}/issues/{number}/comments {"body": ...}
//
// Responses with 5xx or 429 status are classified transient, 4xx
// permanent. The assignee and status endpoints are PUTs so repeating a
// half-applied transition is safe.
type HTTPClient struct {
	base   *url.URL
	token  string
	client *http.Client
}

// HTTPClientOption configures an HTTPClient.
type HTTPClientOption func(*HTTPClient)

// WithHTTPDoer replaces the underlying *http.Client, e.g. for tests.
func WithHTTPDoer(c *http.Client) HTTPClientOption {
	return func(h *HTTPClient) { h.client = c }
}

// NewHTTPClient creates a platform client for the given base URL. The
// token, when non-empty, is sent as a bearer credential on every request.
func NewHTTPClient(baseURL, token string, opts ...HTTPClientOption) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse platform base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("platform base URL %q: scheme and host required", baseURL)
	}

	h := &HTTPClient{
		base:   u,
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// GetIssueState reads the current snapshot for an issue.
func (h *HTTPClient) GetIssueState(ctx context.Context, projectID string, issueNumber int) (*IssueSnapshot, error) {
	op := "get_issue_state"
	var snap IssueSnapshot
	if err := h.do(ctx, op, http.MethodGet, h.issuePath(projectID, issueNumber, ""), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SetAssignee replaces the issue's assignee.
func (h *HTTPClient) SetAssignee(ctx context.Context, projectID string, issueNumber int, identity string) error {
	body := map[string]string{"identity": identity}
	return h.do(ctx, "set_assignee", http.MethodPut, h.issuePath(projectID, issueNumber, "assignee"), body, nil)
}

// MoveStatus moves the board item into the named column.
func (h *HTTPClient) MoveStatus(ctx context.Context, projectID string, issueNumber int, columnName string) error {
	body := map[string]string{"column": columnName}
	return h.do(ctx, "move_status", http.MethodPut, h.issuePath(projectID, issueNumber, "status"), body, nil)
}

// AddComment posts a comment on the issue.
func (h *HTTPClient) AddComment(ctx context.Context, projectID string, issueNumber int, text string) error {
	body := map[string]string{"body": text}
	return h.do(ctx, "add_comment", http.MethodPost, h.issuePath(projectID, issueNumber, "comments"), body, nil)
}

func (h *HTTPClient) issuePath(projectID string, issueNumber int, tail string) string {
	p := fmt.Sprintf("/projects/%s/issues/%d", url.PathEscape(projectID), issueNumber)
	if tail != "" {
		p += "/" + tail
	}
	return p
}

// do performs one request and decodes the response into out when non-nil.
func (h *HTTPClient) do(ctx context.Context, op, method, path string, body, out any) error {
	u := *h.base
	u.Path, _ = url.JoinPath(h.base.Path, path)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return Permanent(op, fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return Permanent(op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return Transient(op, err)
	}
	defer resp.Body.Close()

	if err := classify(op, resp); err != nil {
		return err
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return Transient(op, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

// classify maps a non-2xx response to a platform error kind.
func classify(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return Transient(op, err)
	}
	return Permanent(op, err)
}
