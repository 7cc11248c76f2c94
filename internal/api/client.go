package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"resbac/internal/call"
	"resbac/internal/models"
)

const maxBodyBytes = 4 << 20

// Client talks to the incident backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewClient creates a new backend API client.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

type errorBody struct {
	Message string `json:"message"`
}

// do sends a JSON request and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.bearer(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Backend request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("failed to call %s %s: %w: %w", method, path, models.ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read response of %s: %w: %w", path, models.ErrTransientNetwork, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		c.logger.Warn("Backend returned error status",
			zap.String("path", path), zap.Int("status", resp.StatusCode), zap.String("message", eb.Message))
		return &models.APIError{StatusCode: resp.StatusCode, Message: eb.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.logger.Error("Failed to decode backend response", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("failed to decode response of %s: %w: %v", path, models.ErrMalformedResponse, err)
	}
	return nil
}

// GetReport fetches the responder's view of one report.
func (c *Client) GetReport(ctx context.Context, id int64) (*models.IncidentReport, error) {
	var resp struct {
		Success bool            `json:"success"`
		Message string          `json:"message"`
		Report  json.RawMessage `json:"report"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/responder/report/%d", id), nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &models.APIError{StatusCode: http.StatusOK, Message: resp.Message}
	}
	if len(resp.Report) == 0 || string(resp.Report) == "null" {
		return nil, fmt.Errorf("report %d missing from response: %w", id, models.ErrMalformedResponse)
	}
	report, err := models.DecodeReport(resp.Report)
	if err != nil {
		return nil, fmt.Errorf("report %d: %w", id, err)
	}
	return report, nil
}

// UpdateStatus confirms a status change with the server.
func (c *Client) UpdateStatus(ctx context.Context, id int64, status models.IncidentStatus) error {
	body := map[string]string{"status": status.String()}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/responder/report/%d/update-status", id), body, nil)
}

// RequestBackup submits a backup request for the incident.
func (c *Client) RequestBackup(ctx context.Context, id int64, req models.BackupRequest) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/responder/report/%d/request-backup", id), req, nil)
}

// CallStatus polls whether the dispatcher answered the call.
func (c *Client) CallStatus(ctx context.Context, incidentID int64) (call.Poll, error) {
	var resp struct {
		Status models.CallPollStatus   `json:"status"`
		Agora  *models.CallCredentials `json:"agora"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/incidents/%d/status", incidentID), nil, &resp); err != nil {
		return call.Poll{}, err
	}
	switch resp.Status {
	case models.PollCalling, models.PollAccepted, models.PollEnded:
	default:
		return call.Poll{}, fmt.Errorf("unknown call status %q: %w", resp.Status, models.ErrMalformedResponse)
	}
	return call.Poll{Status: resp.Status, Credentials: resp.Agora}, nil
}

// EndCall reports who ended the call.
func (c *Client) EndCall(ctx context.Context, incidentID int64, endedBy string) error {
	body := map[string]string{"endedBy": endedBy}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/incidents/calls/%d/end", incidentID), body, nil)
}

// ResidentReport is a new report filed by a resident.
type ResidentReport struct {
	IncidentTypeID int64               `json:"incident_type_id"`
	ReporterType   models.ReporterRole `json:"reporter_type"`
	Latitude       float64             `json:"latitude"`
	Longitude      float64             `json:"longitude"`
	Landmark       *string             `json:"landmark"`
	Description    *string             `json:"description"`
}

// Submission is the server's answer to a new report. DuplicateOf is set when
// the server merged the report into an existing incident.
type Submission struct {
	Incident    *models.IncidentReport `json:"incident"`
	DuplicateOf *int64                 `json:"duplicate_of"`
	Duplicates  json.RawMessage        `json:"duplicates,omitempty"`
}

func (s Submission) Duplicate() bool { return s.DuplicateOf != nil }

// SubmitReport files a resident report.
func (c *Client) SubmitReport(ctx context.Context, r ResidentReport) (*Submission, error) {
	switch r.ReporterType {
	case models.RoleVictim, models.RoleWitness:
	default:
		return nil, fmt.Errorf("unknown reporter type %q", r.ReporterType)
	}
	var sub Submission
	if err := c.do(ctx, http.MethodPost, "/api/incidents/from-resident", r, &sub); err != nil {
		return nil, err
	}
	if sub.Incident != nil {
		sub.Incident.Normalize()
		if sub.Incident.DuplicateOf == nil {
			sub.Incident.DuplicateOf = sub.DuplicateOf
		}
	}
	c.logger.Info("Report submitted", zap.Bool("duplicate", sub.Duplicate()))
	return &sub, nil
}

// Announcements lists public announcements, newest first.
func (c *Client) Announcements(ctx context.Context) ([]models.Announcement, error) {
	var out []models.Announcement
	if err := c.do(ctx, http.MethodGet, "/api/resident/announcements", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ResidentReports lists the signed-in resident's reports.
func (c *Client) ResidentReports(ctx context.Context) ([]models.IncidentReport, error) {
	var out []models.IncidentReport
	if err := c.do(ctx, http.MethodGet, "/api/resident/reports", nil, &out); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Normalize()
	}
	return out, nil
}

// Notification is a message saved to a user's or a team's inbox.
type Notification struct {
	Message string `json:"message"`
	UserID  *int64 `json:"user_id,omitempty"`
	TeamID  *int64 `json:"team_id,omitempty"`
}

// SaveNotification stores a notification server-side.
func (c *Client) SaveNotification(ctx context.Context, n Notification) error {
	if n.UserID == nil && n.TeamID == nil {
		return fmt.Errorf("notification needs a user or a team")
	}
	return c.do(ctx, http.MethodPost, "/api/notifications", n, nil)
}

// AuthorizeChannel signs a private broker channel subscription.
func (c *Client) AuthorizeChannel(ctx context.Context, socketID, channel string) (string, error) {
	body := map[string]string{"socket_id": socketID, "channel_name": channel}
	var resp struct {
		Auth string `json:"auth"`
	}
	if err := c.do(ctx, http.MethodPost, "/broadcasting/auth", body, &resp); err != nil {
		return "", err
	}
	if resp.Auth == "" {
		return "", fmt.Errorf("empty channel signature: %w", models.ErrMalformedResponse)
	}
	return resp.Auth, nil
}
