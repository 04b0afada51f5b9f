package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"TickWatch/internal/domain/models"
	xhttp "TickWatch/pkg/http"
)

// Client talks to the dashboard backend REST API. It implements
// repository.Backend and repository.SettingsStore.
type Client struct {
	baseURL string
	http    *xhttp.Client
}

// Option configures Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *xhttp.Client) Option {
	return func(b *Client) { b.http = c }
}

// New builds a client for baseURL (for example http://localhost:5000/api).
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    xhttp.NewClient(xhttp.WithTimeout(timeout)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL is the API root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) getJSON(ctx context.Context, path string, dest interface{}) error {
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:  xhttp.MethodGet,
		URL:     c.baseURL + path,
		Headers: map[string]string{"Accept": "application/json"},
	}, dest)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	return nil
}

func (c *Client) sendJSON(ctx context.Context, method, path string, payload, dest interface{}) error {
	if payload == nil {
		payload = struct{}{}
	}
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: method,
		URL:    c.baseURL + path,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
		Body: payload,
	}, dest)
	if err != nil {
		return fmt.Errorf("%s %s: %w", strings.ToLower(method), path, err)
	}
	return nil
}

// rejectionMessage returns the backend's explanation when err is an HTTP
// error response that carries one.
func rejectionMessage(err error) (string, bool) {
	var se *xhttp.StatusError
	if !errors.As(err, &se) {
		return "", false
	}
	msg := se.Message()
	return msg, msg != ""
}

func (c *Client) Stats(ctx context.Context) (*models.Stats, error) {
	var s models.Stats
	if err := c.getJSON(ctx, "/stats", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) Markets(ctx context.Context) ([]models.Market, error) {
	var resp models.MarketsResponse
	if err := c.getJSON(ctx, "/markets", &resp); err != nil {
		return nil, err
	}
	return resp.Markets, nil
}

// Subscribe asks the backend to start streaming symbol. An error response
// with a message is returned as a Status "error" response, not an error.
func (c *Client) Subscribe(ctx context.Context, symbol string) (*models.SubscribeResponse, error) {
	var resp models.SubscribeResponse
	err := c.sendJSON(ctx, xhttp.MethodPost, "/subscribe", models.SubscribeRequest{Symbol: symbol}, &resp)
	if err != nil {
		if msg, ok := rejectionMessage(err); ok {
			return &models.SubscribeResponse{Status: models.StatusError, Message: msg}, nil
		}
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Unsubscribe(ctx context.Context) (*models.UnsubscribeResponse, error) {
	var resp models.UnsubscribeResponse
	err := c.sendJSON(ctx, xhttp.MethodPost, "/unsubscribe", nil, &resp)
	if err != nil {
		if msg, ok := rejectionMessage(err); ok {
			return &models.UnsubscribeResponse{Status: models.StatusError, Message: msg}, nil
		}
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SubscriptionStatus(ctx context.Context) (*models.SubscriptionStatus, error) {
	var s models.SubscriptionStatus
	if err := c.getJSON(ctx, "/subscription/status", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) CleanupSubscription(ctx context.Context) (*models.CleanupResponse, error) {
	var resp models.CleanupResponse
	if err := c.sendJSON(ctx, xhttp.MethodPost, "/subscription/cleanup", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Ticks(ctx context.Context) (*models.TicksResponse, error) {
	var resp models.TicksResponse
	if err := c.getJSON(ctx, "/ticks", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Health(ctx context.Context) (*models.HealthResponse, error) {
	var resp models.HealthResponse
	if err := c.getJSON(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func settingPath(key string) string {
	return "/settings/" + url.PathEscape(key)
}

func (c *Client) ListSettings(ctx context.Context) (map[string]json.RawMessage, error) {
	var resp models.SettingsResponse
	if err := c.getJSON(ctx, "/settings", &resp); err != nil {
		return nil, err
	}
	if resp.Settings == nil {
		resp.Settings = map[string]json.RawMessage{}
	}
	return resp.Settings, nil
}

func (c *Client) GetSetting(ctx context.Context, key string) (*models.Setting, error) {
	var s models.Setting
	if err := c.getJSON(ctx, settingPath(key), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) PutSetting(ctx context.Context, key string, value json.RawMessage) (*models.Setting, error) {
	var s models.Setting
	body := map[string]json.RawMessage{"value": value}
	if err := c.sendJSON(ctx, xhttp.MethodPut, settingPath(key), body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) CreateSetting(ctx context.Context, in *models.Setting) (*models.Setting, error) {
	var s models.Setting
	body := models.Setting{Key: in.Key, Value: in.Value, Description: in.Description}
	if err := c.sendJSON(ctx, xhttp.MethodPost, "/settings", body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) DeleteSetting(ctx context.Context, key string) error {
	return c.sendJSON(ctx, xhttp.MethodDelete, settingPath(key), nil, nil)
}
