// Package upstream holds the HTTP plumbing shared by the feed and rewrite
// clients.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUnauthorized marks responses that require a fresh credential.
var ErrUnauthorized = errors.New("unauthorized")

// ExternalServiceError is returned for any failed call to a third-party API.
type ExternalServiceError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *ExternalServiceError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("%s returned status %d: %s: %v", e.Service, e.StatusCode, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s request failed: %v", e.Service, e.Err)
	default:
		return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.Message)
	}
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// Envelope is the single response shape used by the feed API:
// {"code": 0, "message": "ok", "data": {...}}. A non-zero code is a failure.
type Envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// NewClient returns an http.Client tuned like the other API clients.
func NewClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		IdleConnTimeout:       120 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   10,
		TLSHandshakeTimeout:   20 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
	}
	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}
}

// NewJSONRequest builds a request with body marshalled as JSON (nil for none).
func NewJSONRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// DoJSON executes req and decodes a successful JSON body into out.
func DoJSON(client *http.Client, service string, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return &ExternalServiceError{Service: service, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &ExternalServiceError{Service: service, StatusCode: resp.StatusCode, Message: string(body), Err: ErrUnauthorized}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &ExternalServiceError{Service: service, StatusCode: resp.StatusCode, Message: string(body)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ExternalServiceError{Service: service, StatusCode: resp.StatusCode, Message: "invalid response body", Err: err}
	}
	return nil
}

// Retryable reports whether err is worth another attempt: transport
// failures and 5xx responses.
func Retryable(err error) bool {
	var extErr *ExternalServiceError
	if !errors.As(err, &extErr) {
		return false
	}
	if errors.Is(err, ErrUnauthorized) {
		return false
	}
	return extErr.StatusCode == 0 || extErr.StatusCode >= 500
}
