package rfpflowsdk

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

// Client is a minimal Rfpflow HTTP API client.
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

// Project represents the API project model.
type Project struct {
	ID               string         `json:"id"`
	ClientName       string         `json:"client_name"`
	SalesRepEmail    string         `json:"sales_rep_email"`
	ProjectLeadEmail string         `json:"project_lead_email,omitempty"`
	Status           string         `json:"status"`
	Deadline         string         `json:"deadline,omitempty"`
	LastEmailAt      string         `json:"last_email_at,omitempty"`
	Data             map[string]any `json:"data,omitempty"`
	CreatedAt        string         `json:"created_at"`
	UpdatedAt        string         `json:"updated_at"`
}

// Validation represents a validation request.
type Validation struct {
	ID                 string `json:"id"`
	ProjectID          string `json:"project_id"`
	ResourceIdentifier string `json:"resource_identifier"`
	Question           string `json:"validation_question"`
	Status             string `json:"status"`
	ResponseText       string `json:"response_text,omitempty"`
	SentAt             string `json:"sent_at"`
	RespondedAt        string `json:"responded_at,omitempty"`
	TimeoutAt          string `json:"timeout_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// StatusSummary is the per-project status rollup.
type StatusSummary struct {
	ProjectID          string         `json:"project_id"`
	ClientName         string         `json:"client_name"`
	Status             string         `json:"status"`
	ValidationCounts   map[string]int `json:"validation_counts"`
	PendingValidations int            `json:"pending_validations"`
}

// KnowledgeItem represents one knowledge corpus entry.
type KnowledgeItem struct {
	ID       string         `json:"id"`
	Type     string         `json:"knowledge_type"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RouteResult reports how an inbound message was classified.
type RouteResult struct {
	Kind      string `json:"kind"`
	ProjectID string `json:"project_id,omitempty"`
	Resource  string `json:"resource_identifier,omitempty"`
}

// TickReport summarizes one tracking sweep.
type TickReport struct {
	RanAt              string         `json:"ran_at"`
	ExpiredValidations int            `json:"expired_validations"`
	Intents            []any          `json:"intents,omitempty"`
	ProjectsByStatus   map[string]int `json:"projects_by_status,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProject opens a new project in brief_writing.
func (c *Client) CreateProject(ctx context.Context, clientName, salesRepEmail string, extra map[string]any) (Project, error) {
	body := map[string]any{
		"client_name":     clientName,
		"sales_rep_email": salesRepEmail,
	}
	for k, v := range extra {
		body[k] = v
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", body, &resp)
	return resp, err
}

// Projects lists projects; active only unless all is set.
func (c *Client) Projects(ctx context.Context, all bool) ([]Project, error) {
	endpoint := "v0/projects"
	if all {
		endpoint += "?all=true"
	}
	var resp []Project
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Project fetches one project by id.
func (c *Client) Project(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "v0/projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateProject applies a partial field update.
func (c *Client) UpdateProject(ctx context.Context, id string, fields map[string]any) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodPatch, "v0/projects/"+url.PathEscape(id), map[string]any{"fields": fields}, &resp)
	return resp, err
}

// SetStatus moves a project to the given status.
func (c *Client) SetStatus(ctx context.Context, id, status string) (Project, error) {
	var resp Project
	endpoint := fmt.Sprintf("v0/projects/%s/status", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// StatusSummary returns the project status rollup.
func (c *Client) StatusSummary(ctx context.Context, id string) (StatusSummary, error) {
	var resp StatusSummary
	endpoint := fmt.Sprintf("v0/projects/%s/status", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RecordDecision marks a submitted project won or lost.
func (c *Client) RecordDecision(ctx context.Context, id string, won bool) (Project, error) {
	var resp Project
	endpoint := fmt.Sprintf("v0/projects/%s/decision", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"won": won}, &resp)
	return resp, err
}

// RequestValidation emails a validation question to the resource and
// records the pending request. timeoutHours of zero uses the server's
// configured default.
func (c *Client) RequestValidation(ctx context.Context, projectID, resource, question string, timeoutHours int) (Validation, error) {
	body := map[string]any{
		"resource_identifier": resource,
		"validation_question": question,
	}
	if timeoutHours > 0 {
		body["timeout_hours"] = timeoutHours
	}
	var resp Validation
	endpoint := fmt.Sprintf("v0/projects/%s/validations", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Validations lists validation requests for a project.
func (c *Client) Validations(ctx context.Context, projectID string, pendingOnly bool) ([]Validation, error) {
	endpoint := fmt.Sprintf("v0/projects/%s/validations", url.PathEscape(projectID))
	if pendingOnly {
		endpoint += "?pending=true"
	}
	var resp []Validation
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RespondValidation records a human response for the pending request on a
// resource.
func (c *Client) RespondValidation(ctx context.Context, projectID, resource, responseText string) error {
	body := map[string]any{
		"resource_identifier": resource,
		"response_text":       responseText,
	}
	endpoint := fmt.Sprintf("v0/projects/%s/validations/respond", url.PathEscape(projectID))
	return c.do(ctx, http.MethodPost, endpoint, body, nil)
}

// Validation fetches a validation request by id.
func (c *Client) Validation(ctx context.Context, id string) (Validation, error) {
	var resp Validation
	err := c.do(ctx, http.MethodGet, "v0/validations/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// RouteInbound submits one inbound email for routing.
func (c *Client) RouteInbound(ctx context.Context, from, subject, body, threadID string) (RouteResult, error) {
	payload := map[string]any{
		"from":    from,
		"subject": subject,
		"body":    body,
	}
	if threadID != "" {
		payload["thread_id"] = threadID
	}
	var resp RouteResult
	err := c.do(ctx, http.MethodPost, "v0/inbox", payload, &resp)
	return resp, err
}

// CapabilityDone reports a capability result and advances the project.
func (c *Client) CapabilityDone(ctx context.Context, capability, projectID string, success bool, detail string) (Project, error) {
	body := map[string]any{
		"project_id": projectID,
		"success":    success,
		"detail":     detail,
	}
	var resp Project
	endpoint := fmt.Sprintf("v0/capabilities/%s/done", url.PathEscape(capability))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// RunTracking triggers one staleness sweep.
func (c *Client) RunTracking(ctx context.Context) (TickReport, error) {
	var resp TickReport
	err := c.do(ctx, http.MethodPost, "v0/tracking/run", map[string]any{}, &resp)
	return resp, err
}

// AddKnowledge inserts or updates a knowledge corpus entry.
func (c *Client) AddKnowledge(ctx context.Context, knowledgeType, content string, metadata map[string]any) (KnowledgeItem, error) {
	body := map[string]any{
		"knowledge_type": knowledgeType,
		"content":        content,
		"metadata":       metadata,
	}
	var resp KnowledgeItem
	err := c.do(ctx, http.MethodPost, "v0/knowledge", body, &resp)
	return resp, err
}

// SearchKnowledge queries the corpus.
func (c *Client) SearchKnowledge(ctx context.Context, query, knowledgeType string, limit int) ([]KnowledgeItem, error) {
	body := map[string]any{
		"query": query,
		"limit": limit,
	}
	if knowledgeType != "" {
		body["knowledge_type"] = knowledgeType
	}
	var resp []KnowledgeItem
	err := c.do(ctx, http.MethodPost, "v0/knowledge/search", body, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int, projectID string) ([]Event, error) {
	endpoint := "v0/events"
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if projectID != "" {
		params.Set("project_id", projectID)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Event
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
