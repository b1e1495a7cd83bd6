package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"ig-automation/internal/domain"
	"ig-automation/internal/infra/metrics"
)

// Client обращается к сервису-обёртке над приватным API Instagram.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	token      string
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if c.httpClient == nil {
			c.httpClient = &http.Client{}
		}
		c.httpClient.Timeout = timeout
	}
}

// WithToken добавляет Bearer-токен к каждому запросу.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type mediaResponse struct {
	MediaID string `json:"media_id"`
}

func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "http"
	}
	client := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

func accountEndpoint(accountID int64, action string) string {
	return fmt.Sprintf("/api/v1/accounts/%d/%s", accountID, action)
}

func (c *Client) PublishPhoto(ctx context.Context, accountID int64, mediaPath, caption string) (string, error) {
	payload := map[string]any{"path": mediaPath, "caption": caption}
	return c.publish(ctx, "photo", accountID, payload)
}

func (c *Client) PublishCarousel(ctx context.Context, accountID int64, paths []string, caption string) (string, error) {
	if len(paths) == 0 {
		return "", fmt.Errorf("carousel requires at least one media path")
	}
	payload := map[string]any{"paths": paths, "caption": caption}
	return c.publish(ctx, "carousel", accountID, payload)
}

func (c *Client) PublishStory(ctx context.Context, accountID int64, paths []string, caption string, opts domain.StoryOptions) (string, error) {
	if len(paths) == 0 {
		return "", fmt.Errorf("story requires at least one media path")
	}
	payload := map[string]any{"paths": paths, "caption": caption, "options": opts}
	return c.publish(ctx, "story", accountID, payload)
}

func (c *Client) PublishReel(ctx context.Context, accountID int64, mediaPath, caption string, opts domain.ReelOptions) (string, error) {
	payload := map[string]any{"path": mediaPath, "caption": caption, "options": opts}
	return c.publish(ctx, "reel", accountID, payload)
}

func (c *Client) publish(ctx context.Context, kind string, accountID int64, payload any) (string, error) {
	var resp mediaResponse
	if err := c.post(ctx, "publish_"+kind, accountEndpoint(accountID, kind), payload, &resp); err != nil {
		return "", err
	}
	return resp.MediaID, nil
}

// Warm запускает прогрев и возвращает описание выполненных действий.
func (c *Client) Warm(ctx context.Context, accountID int64, duration time.Duration) (string, error) {
	payload := map[string]any{"duration_seconds": int(duration.Seconds())}
	var resp struct {
		Message string `json:"message"`
	}
	if err := c.post(ctx, "warm", accountEndpoint(accountID, "warmup"), payload, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// ValidateBeforeUse сообщает, готов ли аккаунт к работе.
func (c *Client) ValidateBeforeUse(ctx context.Context, accountID int64) (bool, error) {
	var resp struct {
		Valid bool `json:"valid"`
	}
	if err := c.get(ctx, "validate", accountEndpoint(accountID, "validate"), &resp); err != nil {
		return false, err
	}
	return resp.Valid, nil
}

func (c *Client) get(ctx context.Context, operation, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(operation, req, out)
}

func (c *Client) post(ctx context.Context, operation, endpoint string, body any, out any) error {
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	return c.do(operation, req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	resolved := *c.baseURL
	basePath := strings.TrimSuffix(c.baseURL.Path, "/")
	resolved.Path = path.Clean(basePath + endpoint)
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, resolved.String(), buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(operation string, req *http.Request, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveNetworkRequest("publisher", operation, c.baseURL.Host, start, err)
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("instagram api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		data, readErr := io.ReadAll(resp.Body)
		if readErr == nil && len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		return mapAPIError(resp.StatusCode, apiErr)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func mapAPIError(status int, err apiError) error {
	switch err.Code {
	case "account_not_found":
		return domain.ErrNotFound
	case "feedback_required", "rate_limited", "please_wait":
		return domain.Refuse(fmt.Sprintf("Instagram ограничил действия: %s", err.Error))
	case "invalid_request":
		return fmt.Errorf("instagram api invalid request: %s", err.Error)
	case "":
		return fmt.Errorf("instagram api error: status=%d message=%s", status, err.Error)
	default:
		return fmt.Errorf("instagram api error [%s]: %s", err.Code, err.Error)
	}
}

var (
	_ domain.Publisher        = (*Client)(nil)
	_ domain.Warmer           = (*Client)(nil)
	_ domain.AccountValidator = (*Client)(nil)
)
