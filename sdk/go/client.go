package hourlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Hourline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Solicitation is the API model of a purchased package of hours.
type Solicitation struct {
	ID          string  `json:"id"`
	ClientID    string  `json:"client_id"`
	TierID      *string `json:"tier_id,omitempty"`
	HoursTotal  float64 `json:"hours_total"`
	CostPerHour float64 `json:"cost_per_hour"`
	Discount    float64 `json:"discount"`
	State       string  `json:"state"`
	Notes       string  `json:"notes,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`
}

// Assignment allocates hours of a solicitation to a member.
type Assignment struct {
	ID             string  `json:"id"`
	SolicitationID string  `json:"solicitation_id"`
	MemberID       string  `json:"member_id"`
	HoursAllocated float64 `json:"hours_allocated"`
	State          string  `json:"state"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

// ProgressEntry is one avance in an assignment's log.
type ProgressEntry struct {
	ID            int64   `json:"id"`
	AssignmentID  string  `json:"assignment_id"`
	AuthorType    string  `json:"author_type"`
	AuthorID      string  `json:"author_id"`
	Content       string  `json:"content"`
	HoursReported float64 `json:"hours_reported"`
	CreatedAt     string  `json:"created_at"`
}

// Bid is a member's offer on a project.
type Bid struct {
	ID                string  `json:"id"`
	ProjectID         string  `json:"project_id"`
	MemberID          string  `json:"member_id"`
	Amount            float64 `json:"amount"`
	Message           string  `json:"message,omitempty"`
	State             string  `json:"state"`
	ConfirmedByMember bool    `json:"confirmed_by_member"`
	ConfirmedAt       *string `json:"confirmed_at,omitempty"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         string  `json:"updated_at"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedSolicitations wraps list responses with cursors.
type PaginatedSolicitations struct {
	Items      []Solicitation `json:"items"`
	NextCursor string         `json:"next_cursor"`
}

// CreatePurchase opens a solicitation.
func (c *Client) CreatePurchase(ctx context.Context, tierID string, hours, costPerHour float64) (Solicitation, error) {
	body := map[string]any{
		"tier_id":       tierID,
		"hours":         hours,
		"cost_per_hour": costPerHour,
	}
	var resp Solicitation
	err := c.do(ctx, http.MethodPost, "v0/purchases", body, &resp)
	return resp, err
}

// Solicitations lists solicitations visible to the caller.
func (c *Client) Solicitations(ctx context.Context, state, cursor string, limit int) (PaginatedSolicitations, error) {
	endpoint := "v0/solicitations"
	q := url.Values{}
	if state != "" {
		q.Set("state", state)
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedSolicitations
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Transition moves a solicitation to the target state.
func (c *Client) Transition(ctx context.Context, solicitationID, state string) (Solicitation, error) {
	var resp Solicitation
	endpoint := fmt.Sprintf("v0/solicitations/%s/transition", url.PathEscape(solicitationID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"state": state}, &resp)
	return resp, err
}

// AppendProgress writes one avance against an assignment.
func (c *Client) AppendProgress(ctx context.Context, assignmentID, content string, hours float64) (ProgressEntry, error) {
	body := map[string]any{"content": content, "hours": hours}
	var resp ProgressEntry
	endpoint := fmt.Sprintf("v0/assignments/%s/progress", url.PathEscape(assignmentID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Progress lists an assignment's avances in narrative order.
func (c *Client) Progress(ctx context.Context, assignmentID string) ([]ProgressEntry, error) {
	var resp []ProgressEntry
	endpoint := fmt.Sprintf("v0/assignments/%s/progress", url.PathEscape(assignmentID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// PlaceBid offers on a project.
func (c *Client) PlaceBid(ctx context.Context, projectID string, amount float64, message string) (Bid, error) {
	body := map[string]any{"amount": amount, "message": message}
	var resp Bid
	endpoint := fmt.Sprintf("v0/projects/%s/bids", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ConfirmBid acknowledges an accepted bid. The server returns 409 with code
// already_confirmed on a repeat.
func (c *Client) ConfirmBid(ctx context.Context, bidID string) (Bid, error) {
	var resp Bid
	endpoint := fmt.Sprintf("v0/bids/%s/confirm", url.PathEscape(bidID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
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

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
