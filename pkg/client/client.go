// Package client is a Go client for the msgcenter HTTP API. Failures
// reported by the server come back as *envelope.Error whose text is the
// server's msg.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"msgcenter/internal/directory"
	"msgcenter/internal/envelope"
	"msgcenter/internal/messaging"
	"msgcenter/internal/models"
	"msgcenter/internal/templates"
)

type Client struct {
	baseURL  string
	http     *http.Client
	sourceID string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithSourceID tags every request with the caller's source id.
func WithSourceID(id string) Option {
	return func(c *Client) { c.sourceID = id }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type SendMsgRequest struct {
	models.TargetSpec
	TemplateID   string            `json:"templateID"`
	TemplateData map[string]string `json:"templateData"`
	Priority     models.Priority   `json:"priority,omitempty"`
}

func (c *Client) SendMsg(ctx context.Context, req SendMsgRequest) (*messaging.SendResult, error) {
	var res messaging.SendResult
	if err := c.post(ctx, "/msg/send_msg", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ScheduleMsg sends req at the given time (second precision) and returns
// the schedule id.
func (c *Client) ScheduleMsg(ctx context.Context, req SendMsgRequest, at time.Time) (string, error) {
	body := struct {
		SendMsgRequest
		SendTimestamp int64 `json:"sendTimestamp"`
	}{SendMsgRequest: req, SendTimestamp: at.Unix()}

	var res struct {
		ScheduleID string `json:"schedule_id"`
	}
	if err := c.post(ctx, "/msg/send_msg", body, &res); err != nil {
		return "", err
	}
	return res.ScheduleID, nil
}

func (c *Client) GetMsgRecord(ctx context.Context, msgID string) (*models.MsgRecord, error) {
	var rec models.MsgRecord
	if err := c.get(ctx, "/msg/get_msg_record", url.Values{"msg_id": {msgID}}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) CreateTemplate(ctx context.Context, req templates.CreateTemplateRequest) (*models.Template, error) {
	var t models.Template
	if err := c.post(ctx, "/msg/create_template", req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) GetTemplate(ctx context.Context, templateID string) (*models.Template, error) {
	var t models.Template
	if err := c.get(ctx, "/msg/get_template", url.Values{"template_id": {templateID}}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) CreateUser(ctx context.Context, req directory.CreateUserRequest) (*models.User, error) {
	var u models.User
	if err := c.post(ctx, "/user/create", req, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) GetScheduled(ctx context.Context, scheduleID string) (*models.ScheduledMessage, error) {
	var msg models.ScheduledMessage
	if err := c.get(ctx, "/scheduled/get", url.Values{"schedule_id": {scheduleID}}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) CancelScheduled(ctx context.Context, scheduleID string) (*models.ScheduledMessage, error) {
	var msg models.ScheduledMessage
	body := map[string]string{"schedule_id": scheduleID}
	if err := c.post(ctx, "/scheduled/cancel", body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/api/health", nil, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.sourceID != "" {
		req.Header.Set("X-Source-ID", c.sourceID)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	return envelope.Decode(resp.Body, out)
}
