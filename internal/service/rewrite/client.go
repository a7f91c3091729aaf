// Package rewrite talks to the asynchronous AI rewrite API: a job is
// submitted, then polled until it finishes or the overall timeout elapses.
package rewrite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/ifuryst/cascade/internal/config"
	"github.com/ifuryst/cascade/internal/service/upstream"
)

const serviceName = "rewrite"

const (
	jobPending = "pending"
	jobRunning = "running"
	jobDone    = "done"
	jobFailed  = "failed"
)

type (
	submitRequest struct {
		Prompt  string `json:"prompt"`
		Content string `json:"content"`
	}

	submitResponse struct {
		JobID string `json:"job_id"`
	}

	jobResponse struct {
		Status string `json:"status"`
		Result string `json:"result"`
		Error  string `json:"error"`
	}
)

type Client struct {
	config       *config.RewriteConfig
	logger       *zap.Logger
	client       *http.Client
	pollInterval time.Duration
	timeout      time.Duration
}

func NewClient(cfg *config.RewriteConfig, logger *zap.Logger) *Client {
	return &Client{
		config:       cfg,
		logger:       logger,
		client:       upstream.NewClient(30 * time.Second),
		pollInterval: config.Duration(cfg.PollInterval, 3*time.Second),
		timeout:      config.Duration(cfg.Timeout, 3*time.Minute),
	}
}

// Rewrite returns text rewritten by the AI service. It blocks until the job
// completes, fails, or the configured timeout elapses.
func (c *Client) Rewrite(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var submitted submitResponse
	if err := c.call(ctx, http.MethodPost, "/jobs", submitRequest{Prompt: c.config.Prompt, Content: text}, &submitted); err != nil {
		return "", err
	}
	if submitted.JobID == "" {
		return "", &upstream.ExternalServiceError{Service: serviceName, Message: "empty job id"}
	}

	c.logger.Debug("Rewrite job submitted", zap.String("job_id", submitted.JobID))

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", &upstream.ExternalServiceError{
				Service: serviceName,
				Message: fmt.Sprintf("job %s did not finish within %s", submitted.JobID, c.timeout),
				Err:     ctx.Err(),
			}
		case <-ticker.C:
		}

		var job jobResponse
		if err := c.call(ctx, http.MethodGet, "/jobs/"+url.PathEscape(submitted.JobID), nil, &job); err != nil {
			if upstream.Retryable(err) && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				c.logger.Warn("Rewrite poll failed, will retry", zap.String("job_id", submitted.JobID), zap.Error(err))
				continue
			}
			return "", err
		}

		switch job.Status {
		case jobDone:
			return job.Result, nil
		case jobFailed:
			return "", &upstream.ExternalServiceError{Service: serviceName, Message: job.Error}
		case jobPending, jobRunning:
		default:
			c.logger.Warn("Unknown rewrite job status", zap.String("status", job.Status))
		}
	}
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	req, err := upstream.NewJSONRequest(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	var env upstream.Envelope
	if err := upstream.DoJSON(c.client, serviceName, req, &env); err != nil {
		return err
	}
	if env.Code != 0 {
		return &upstream.ExternalServiceError{Service: serviceName, Message: fmt.Sprintf("code %d: %s", env.Code, env.Message)}
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &upstream.ExternalServiceError{Service: serviceName, Message: "invalid data payload", Err: err}
	}
	return nil
}
