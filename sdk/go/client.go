package stillpointsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Stillpoint HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Content represents the API content model (partial).
type Content struct {
	ID              string         `json:"id"`
	Kind            string         `json:"kind"`
	DisplayName     string         `json:"display_name"`
	Payload         map[string]any `json:"payload"`
	FocusIDs        []string       `json:"focus_ids,omitempty"`
	MediaName       string         `json:"media_name,omitempty"`
	LifecycleStatus string         `json:"lifecycle_status"`
	IsDraft         bool           `json:"is_draft"`
	ParentRef       *string        `json:"parent_ref,omitempty"`
	CreatedBy       string         `json:"created_by"`
	CreatedOn       string         `json:"created_on"`
	UpdatedOn       string         `json:"updated_on"`
}

// Comment is one entry of an approval trail.
type Comment struct {
	Text         *string `json:"text"`
	AuthorID     string  `json:"author_id"`
	TS           string  `json:"ts"`
	StatusAtTime string  `json:"status_at_time"`
}

// Approval is the ledger record of a content entity.
type Approval struct {
	Status   string    `json:"status"`
	Comments []Comment `json:"comments"`
}

// ContentView is a content entity with its approval record and pending shadow.
type ContentView struct {
	Content  Content  `json:"content"`
	Approval Approval `json:"approval"`
	Shadow   *Content `json:"shadow,omitempty"`
}

// EditResult reports whether an edit was applied in place or staged as a shadow draft.
type EditResult struct {
	Outcome string   `json:"outcome"`
	Content *Content `json:"content,omitempty"`
}

// ApproveResult reports an approval.
type ApproveResult struct {
	Outcome  string  `json:"outcome"`
	Content  Content `json:"content"`
	Promoted bool    `json:"promoted"`
	ShadowID string  `json:"shadow_id,omitempty"`
}

// ContentPage is one page of a listing.
type ContentPage struct {
	Items []Content `json:"items"`
	Total int       `json:"total"`
	Page  int       `json:"page"`
	Limit int       `json:"limit"`
}

// ListOptions narrows a listing. Zero values are omitted.
type ListOptions struct {
	Query   string
	FocusID string
	Status  string
	Sort    string
	Order   string
	Page    int
	Limit   int
}

// EditOptions carries the optional fields of an edit.
type EditOptions struct {
	LifecycleStatus string
	AssertedStatus  string
	Comment         string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateContent creates content of the given kind.
func (c *Client) CreateContent(ctx context.Context, kind string, payload map[string]any) (Content, error) {
	var resp Content
	err := c.do(ctx, http.MethodPost, c.contentPath(kind), map[string]any{"payload": payload}, &resp)
	return resp, err
}

// GetContent fetches content with its approval record.
func (c *Client) GetContent(ctx context.Context, kind, id string) (ContentView, error) {
	var resp ContentView
	err := c.do(ctx, http.MethodGet, c.contentPath(kind, id), nil, &resp)
	return resp, err
}

// EditContent edits content. Set AssertedStatus to "approved" when revising published content.
func (c *Client) EditContent(ctx context.Context, kind, id string, payload map[string]any, opts EditOptions) (EditResult, error) {
	body := map[string]any{"payload": payload}
	if opts.LifecycleStatus != "" {
		body["lifecycle_status"] = opts.LifecycleStatus
	}
	if opts.AssertedStatus != "" {
		body["asserted_status"] = opts.AssertedStatus
	}
	if opts.Comment != "" {
		body["comment"] = opts.Comment
	}
	var resp EditResult
	err := c.do(ctx, http.MethodPatch, c.contentPath(kind, id), body, &resp)
	return resp, err
}

// ListContent lists published content of a kind.
func (c *Client) ListContent(ctx context.Context, kind string, opts ListOptions) (ContentPage, error) {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("q", opts.Query)
	set("focus_id", opts.FocusID)
	set("status", opts.Status)
	set("sort", opts.Sort)
	set("order", opts.Order)
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	endpoint := c.contentPath(kind)
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp ContentPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Approve publishes a draft or promotes a shadow draft.
func (c *Client) Approve(ctx context.Context, kind, id, comment string) (ApproveResult, error) {
	body := map[string]any{}
	if comment != "" {
		body["comment"] = comment
	}
	var resp ApproveResult
	err := c.do(ctx, http.MethodPost, c.contentPath(kind, id, "approve"), body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) contentPath(kind string, rest ...string) string {
	parts := []string{strings.Trim(c.BasePath, "/"), "content", url.PathEscape(kind)}
	for _, p := range rest {
		parts = append(parts, url.PathEscape(p))
	}
	return strings.Join(parts, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
