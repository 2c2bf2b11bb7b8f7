package khatasdk

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

// Client is a minimal Khata HTTP API client. Amounts travel as decimal strings.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Goal represents the API goal model (partial).
type Goal struct {
	ID                string  `json:"id"`
	Title             string  `json:"title"`
	MetricType        string  `json:"metric_type"`
	TargetAmount      string  `json:"target_amount"`
	CurrentAmount     string  `json:"current_amount"`
	Status            string  `json:"status"`
	StartTrackingDate string  `json:"start_tracking_date"`
	Deadline          *string `json:"deadline,omitempty"`
	IsRecurring       bool    `json:"is_recurring"`
}

// CreateGoalInput holds the fields accepted by CreateGoal.
type CreateGoalInput struct {
	Title        string  `json:"title"`
	MetricType   string  `json:"metric_type"`
	TargetAmount string  `json:"target_amount"`
	StartDate    *string `json:"start_tracking_date,omitempty"`
	Deadline     *string `json:"deadline,omitempty"`
	ProductID    *string `json:"product_id,omitempty"`
	IsRecurring  bool    `json:"is_recurring,omitempty"`
}

// Allocation is one goal's share of the waterfall.
type Allocation struct {
	GoalID          string `json:"goal_id"`
	Title           string `json:"title"`
	AllocatedAmount string `json:"allocated_amount"`
	RemainingNeeded string `json:"remaining_needed"`
	DaysLeft        int    `json:"days_left"`
	DailyRunRate    string `json:"daily_run_rate"`
	IsFullyFunded   bool   `json:"is_fully_funded"`
	Message         string `json:"message"`
}

type Plan struct {
	Pool        string       `json:"pool"`
	Unallocated string       `json:"unallocated"`
	Allocations []Allocation `json:"allocations"`
}

// LedgerEntry is one parsed line of a party's ledger.
type LedgerEntry struct {
	RecordID string `json:"record_id"`
	Entry    struct {
		At      string `json:"at"`
		Kind    string `json:"kind"`
		Amount  string `json:"amount"`
		Balance string `json:"balance"`
		Legacy  bool   `json:"legacy,omitempty"`
	} `json:"entry"`
}

type Ledger struct {
	PartyID   string        `json:"party_id"`
	PartyKind string        `json:"party_kind"`
	Balance   string        `json:"balance"`
	Status    string        `json:"status"`
	Total     int           `json:"total_entries"`
	Offset    int           `json:"offset"`
	Entries   []LedgerEntry `json:"entries"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Retriable reports whether the request lost a race on a ledger record and
// can be sent again.
func (e *APIError) Retriable() bool {
	return e.StatusCode == http.StatusConflict
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateGoal creates a goal.
func (c *Client) CreateGoal(ctx context.Context, in CreateGoalInput) (Goal, error) {
	var resp Goal
	err := c.do(ctx, http.MethodPost, "goals", in, &resp)
	return resp, err
}

// Goals lists goals, optionally filtered by status.
func (c *Client) Goals(ctx context.Context, status string) ([]Goal, error) {
	endpoint := "goals"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Items []Goal `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// AddProgress adds amount to a manual goal. With set it replaces the progress instead.
func (c *Client) AddProgress(ctx context.Context, goalID, amount string, set bool) (Goal, error) {
	mode := "add"
	if set {
		mode = "set"
	}
	var resp Goal
	endpoint := fmt.Sprintf("goals/%s/progress", url.PathEscape(goalID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]string{"amount": amount, "mode": mode}, &resp)
	return resp, err
}

// Say applies a plain-language goal instruction such as "add 500 to scooter".
func (c *Client) Say(ctx context.Context, text string) (Goal, error) {
	var resp Goal
	err := c.do(ctx, http.MethodPost, "goals/intents", map[string]string{"text": text}, &resp)
	return resp, err
}

// Waterfall returns the current profit allocation across active goals.
func (c *Client) Waterfall(ctx context.Context) (Plan, error) {
	var resp Plan
	err := c.do(ctx, http.MethodGet, "waterfall", nil, &resp)
	return resp, err
}

// Ledger fetches a party's visible entries and balance.
func (c *Client) Ledger(ctx context.Context, partyID string) (Ledger, error) {
	var resp Ledger
	err := c.do(ctx, http.MethodGet, partyPath(partyID, "ledger"), nil, &resp)
	return resp, err
}

// AddLedgerEntry books an entry of the given kind (due, payment, credit_sale, open).
func (c *Client) AddLedgerEntry(ctx context.Context, partyID, kind, amount string) (Ledger, error) {
	var resp Ledger
	body := map[string]string{"kind": kind, "amount": amount}
	err := c.do(ctx, http.MethodPost, partyPath(partyID, "ledger/entries"), body, &resp)
	return resp, err
}

// EditLatestEntry changes the amount of the party's latest entry.
func (c *Client) EditLatestEntry(ctx context.Context, partyID, amount string) (Ledger, error) {
	var resp Ledger
	err := c.do(ctx, http.MethodPut, partyPath(partyID, "ledger/entries/latest"), map[string]string{"amount": amount}, &resp)
	return resp, err
}

// DeleteLedgerEntries removes entries by their position in the visible window.
func (c *Client) DeleteLedgerEntries(ctx context.Context, partyID string, indexes ...int) (Ledger, error) {
	var resp Ledger
	err := c.do(ctx, http.MethodPost, partyPath(partyID, "ledger/deletions"), map[string]any{"indexes": indexes}, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
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
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func partyPath(partyID, p string) string {
	return fmt.Sprintf("parties/%s/%s", url.PathEscape(partyID), p)
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
