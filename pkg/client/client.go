// Package client is the HTTP API client used by the playground CLI.
// Credentials are passed explicitly per client; there is no ambient
// token state.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Sathwik-git/linux-playground/pkg/models"
)

// Credentials carries the bearer token for API calls.
type Credentials struct {
	Token string
}

// Client talks to the playground API. Transient network errors are
// retried with exponential backoff, capped at maxRetries.
type Client struct {
	baseURL    string
	creds      Credentials
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
}

// New creates a client for the API at baseURL.
func New(baseURL string, creds Credentials) *Client {
	return &Client{
		baseURL:    baseURL,
		creds:      creds,
		httpClient: &http.Client{Timeout: 6 * time.Minute},
		maxRetries: 3,
		backoff:    time.Second,
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// CreateSession starts a new session and returns its view. The call
// blocks until the instance is reachable or provisioning fails.
func (c *Client) CreateSession(ctx context.Context) (models.SessionView, error) {
	var view models.SessionView
	err := c.do(ctx, http.MethodPost, "/v1/sessions", nil, http.StatusCreated, &view)
	return view, err
}

// TerminateByEndpoint stops the session that owns endpoint. Repeating
// the call for a session already going away succeeds.
func (c *Client) TerminateByEndpoint(ctx context.Context, endpoint string) error {
	body := models.TerminateRequest{Endpoint: endpoint}
	return c.do(ctx, http.MethodDelete, "/v1/sessions", body, http.StatusOK, nil)
}

// GetSession fetches one session by id.
func (c *Client) GetSession(ctx context.Context, id string) (models.Session, error) {
	var sess models.Session
	err := c.do(ctx, http.MethodGet, "/v1/sessions/"+id, nil, http.StatusOK, &sess)
	return sess, err
}

// ListSessions fetches the caller's sessions.
func (c *Client) ListSessions(ctx context.Context) ([]models.Session, error) {
	var sessions []models.Session
	err := c.do(ctx, http.MethodGet, "/v1/sessions", nil, http.StatusOK, &sessions)
	return sessions, err
}

func (c *Client) do(ctx context.Context, method, path string, body any, wantStatus int, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.creds.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.creds.Token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			// Network errors are retried; everything the server
			// answered is not.
			if _, ok := err.(*url.Error); ok && ctx.Err() == nil {
				lastErr = err
				continue
			}
			return err
		}

		return c.handleResponse(resp, wantStatus, out)
	}

	return fmt.Errorf("request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

func (c *Client) handleResponse(resp *http.Response, wantStatus int, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		_ = json.Unmarshal(data, &envelope)
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       envelope.Error.Code,
			Message:    envelope.Error.Message,
		}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
