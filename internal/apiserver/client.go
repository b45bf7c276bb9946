// Package apiserver is the runner's only way to talk to the task service.
//
// Every call carries the client secret, the client id, the instance token
// and a fresh trace id. Connection failures are retried with a fixed delay;
// HTTP error responses and undecodable bodies are returned immediately as
// *APIError.
package apiserver

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

	"github.com/google/uuid"

	"github.com/valksor/go-taskrunner/internal/log"
)

// Default transport settings.
const (
	DefaultTimeout    = 3 * time.Second
	DefaultMaxRetries = 10
	DefaultRetryDelay = 10 * time.Second
	HealthTimeout     = 10 * time.Second
)

// Request headers understood by the task service.
const (
	HeaderClientSecret = "X-Client-Secret"
	HeaderClientID     = "X-Client-ID"
	HeaderInstanceUUID = "X-Instance-UUID"
	HeaderTraceID      = "traceId"
)

// Options configures a Client.
type Options struct {
	BaseURL       string
	Secret        string
	ClientID      int64
	InstanceToken string

	// Timeout bounds a single attempt. Zero means DefaultTimeout.
	Timeout time.Duration
	// Retry overrides DefaultRetryConfig when non-nil.
	Retry *RetryConfig
	// HTTPClient replaces the default client; its Timeout is left as is.
	HTTPClient *http.Client
}

// Client calls the task service.
type Client struct {
	baseURL  string
	secret   string
	clientID int64
	instance string
	http     *http.Client
	retry    RetryConfig
}

// New creates a Client.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	retry := DefaultRetryConfig()
	if opts.Retry != nil {
		retry = *opts.Retry
	}
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		secret:   opts.Secret,
		clientID: opts.ClientID,
		instance: opts.InstanceToken,
		http:     hc,
		retry:    retry,
	}
}

// ClientID returns the logical client this transport authenticates as.
func (c *Client) ClientID() int64 {
	return c.clientID
}

// InstanceToken returns the token sent in X-Instance-UUID.
func (c *Client) InstanceToken() string {
	return c.instance
}

// BaseURL returns the normalized server address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// envelope is the wrapper every task service response uses.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type rawResponse struct {
	status int
	body   []byte
}

// do performs one logical call and decodes envelope.data into out when out
// is non-nil. It reports whether data was present.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) (bool, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("encode %s %s body: %w", method, path, err)
		}
	}

	var resp rawResponse
	onRetry := func(attempt int, err error) {
		log.Warn("api request failed, retrying",
			"method", method, "path", path, "attempt", attempt, "max", c.retry.MaxRetries, log.Err(err))
	}
	err := withRetry(ctx, c.retry, onRetry, func() error {
		r, err := c.attempt(ctx, method, target, payload)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		if shouldRetry(err) {
			return false, &APIError{Message: err.Error(), Err: ErrNetwork}
		}
		return false, err
	}

	var env envelope
	if err := json.Unmarshal(resp.body, &env); err != nil {
		return false, &APIError{
			Status:  resp.status,
			Message: fmt.Sprintf("server returned non-JSON response: %s", truncate(string(resp.body), 200)),
			Err:     ErrProtocol,
		}
	}

	if resp.status >= http.StatusBadRequest {
		msg := env.Message
		if msg == "" {
			msg = "request failed"
		}
		return false, &APIError{Status: resp.status, Message: msg}
	}

	if !hasData(env.Data) {
		return false, nil
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return true, &APIError{
				Status:  resp.status,
				Message: fmt.Sprintf("decode %s %s data: %v", method, path, err),
				Err:     ErrProtocol,
			}
		}
	}
	return true, nil
}

func (c *Client) attempt(ctx context.Context, method, target string, payload []byte) (rawResponse, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return rawResponse{}, fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(req)

	res, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return rawResponse{}, ctx.Err()
		}
		return rawResponse{}, &networkError{err: err}
	}
	defer func() { _ = res.Body.Close() }()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return rawResponse{}, &networkError{err: err}
	}
	return rawResponse{status: res.StatusCode, body: b}, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTraceID, uuid.NewString())
	req.Header.Set(HeaderClientSecret, c.secret)
	req.Header.Set(HeaderClientID, fmt.Sprintf("%d", c.clientID))
	if c.instance != "" {
		req.Header.Set(HeaderInstanceUUID, c.instance)
	}
}

func hasData(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}
	switch string(trimmed) {
	case "null", "{}", "[]", `""`:
		return false
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
