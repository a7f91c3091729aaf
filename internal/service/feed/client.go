package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/ifuryst/cascade/internal/config"
	"github.com/ifuryst/cascade/internal/retry"
	"github.com/ifuryst/cascade/internal/service/upstream"
)

const serviceName = "feed"

// codeUnauthorized is the envelope code the feed API uses for an expired token.
const codeUnauthorized = 401

type (
	Item struct {
		ID          string   `json:"id"`
		Title       string   `json:"title"`
		Content     string   `json:"content"`
		Summary     string   `json:"summary"`
		Images      []string `json:"images"`
		Author      string   `json:"author"`
		PublishTime int64    `json:"publish_time"`
		URL         string   `json:"url"`
		AccountID   string   `json:"account_id"`
		AccountName string   `json:"account_name"`
	}

	ItemPage struct {
		Items []Item `json:"items"`
		Total int    `json:"total"`
	}

	tokenResponse struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}

	detailResponse struct {
		Content string `json:"content"`
	}
)

// PublishedAt converts the unix publish time, nil when unknown.
func (i Item) PublishedAt() *time.Time {
	if i.PublishTime <= 0 {
		return nil
	}
	t := time.Unix(i.PublishTime, 0)
	return &t
}

// Client talks to the upstream content feed. It owns its access token: the
// token is fetched lazily and refreshed once when a call is rejected.
type Client struct {
	config *config.FeedConfig
	logger *zap.Logger
	client *http.Client
	policy retry.Policy

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

func NewClient(cfg *config.FeedConfig, logger *zap.Logger) *Client {
	return &Client{
		config: cfg,
		logger: logger,
		client: upstream.NewClient(config.Duration(cfg.Timeout, 30*time.Second)),
		policy: retry.NewPolicy(retry.BackoffExponential, 500*time.Millisecond, 5*time.Second, 2),
	}
}

// ListItems returns one page of feed items, optionally filtered by source account.
func (c *Client) ListItems(ctx context.Context, accountID string, page, pageSize int) (*ItemPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(pageSize))
	if accountID != "" {
		query.Set("account_id", accountID)
	}

	var result ItemPage
	if err := c.call(ctx, http.MethodGet, "/articles?"+query.Encode(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetItemDetail returns the full body markup for an item.
func (c *Client) GetItemDetail(ctx context.Context, id string) (string, error) {
	var result detailResponse
	if err := c.call(ctx, http.MethodGet, "/articles/"+url.PathEscape(id), &result); err != nil {
		return "", err
	}
	return result.Content, nil
}

// FullContent returns item's body, fetching the detail when the listing only
// carried a summary. When the detail endpoint has nothing, the source page is
// run through readability as a last resort.
func (c *Client) FullContent(ctx context.Context, item Item) (string, error) {
	if strings.TrimSpace(item.Content) != "" {
		return item.Content, nil
	}

	content, err := c.GetItemDetail(ctx, item.ID)
	if err == nil && strings.TrimSpace(content) != "" {
		return content, nil
	}
	if err != nil {
		c.logger.Warn("Failed to fetch item detail", zap.String("item_id", item.ID), zap.Error(err))
	}

	if item.URL == "" {
		if err != nil {
			return item.Summary, err
		}
		return item.Summary, nil
	}

	text, rerr := c.readable(ctx, item.URL)
	if rerr != nil {
		c.logger.Warn("Readability fallback failed", zap.String("url", item.URL), zap.Error(rerr))
		return item.Summary, nil
	}
	return text, nil
}

func (c *Client) readable(ctx context.Context, rawURL string) (string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return "", fmt.Errorf("invalid URL: %s", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; cascade/1.0)")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return "", fmt.Errorf("parse content: %w", err)
	}
	return strings.TrimSpace(article.TextContent), nil
}

// call performs an authenticated request and unwraps the response envelope
// into out. An authentication rejection invalidates the token and the call
// is repeated exactly once.
func (c *Client) call(ctx context.Context, method, path string, out any) error {
	err := c.callOnce(ctx, method, path, out)
	if errors.Is(err, upstream.ErrUnauthorized) {
		c.logger.Info("Feed token rejected, refreshing")
		c.invalidate()
		err = c.callOnce(ctx, method, path, out)
	}
	return err
}

func (c *Client) callOnce(ctx context.Context, method, path string, out any) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	var env upstream.Envelope
	err = c.policy.Do(ctx, upstream.Retryable, func(ctx context.Context) error {
		req, err := upstream.NewJSONRequest(ctx, method, c.config.BaseURL+path, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return upstream.DoJSON(c.client, serviceName, req, &env)
	})
	if err != nil {
		return err
	}

	return decodeEnvelope(env, out)
}

func decodeEnvelope(env upstream.Envelope, out any) error {
	if env.Code == codeUnauthorized {
		return &upstream.ExternalServiceError{Service: serviceName, Message: env.Message, Err: upstream.ErrUnauthorized}
	}
	if env.Code != 0 {
		return &upstream.ExternalServiceError{Service: serviceName, Message: fmt.Sprintf("code %d: %s", env.Code, env.Message)}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &upstream.ExternalServiceError{Service: serviceName, Message: "invalid data payload", Err: err}
	}
	return nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.expiresAt) {
		return c.accessToken, nil
	}

	body := map[string]string{
		"app_id":     c.config.AppID,
		"app_secret": c.config.AppSecret,
	}
	req, err := upstream.NewJSONRequest(ctx, http.MethodPost, c.config.BaseURL+"/auth/token", body)
	if err != nil {
		return "", err
	}

	var env upstream.Envelope
	if err := upstream.DoJSON(c.client, serviceName, req, &env); err != nil {
		return "", err
	}
	var tok tokenResponse
	if err := decodeEnvelope(env, &tok); err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", &upstream.ExternalServiceError{Service: serviceName, Message: "empty access token"}
	}

	ttl := time.Duration(tok.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	c.accessToken = tok.AccessToken
	// Refresh a minute early so a token never expires mid-request.
	c.expiresAt = time.Now().Add(ttl - time.Minute)

	c.logger.Debug("Feed access token refreshed", zap.Duration("ttl", ttl))
	return c.accessToken, nil
}

func (c *Client) invalidate() {
	c.mu.Lock()
	c.accessToken = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}
