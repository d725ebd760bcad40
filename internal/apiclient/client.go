// Package apiclient talks to the backend REST API on behalf of one session.
//
// Every request carries the session's current access token. A 401 triggers
// the refresh protocol in refresh.go: at most one refresh per session at a
// time, one replay per request, and a logout when the refresh fails.
package apiclient

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
)

// TokenStore is the part of the session store the client needs.
type TokenStore interface {
	Key() string
	AccessToken() string
	RefreshToken() string
	SetTokens(ctx context.Context, accessToken, refreshToken string) error
	Logout(ctx context.Context) error
}

// RefreshOutcome labels what happened when a request hit a 401.
type RefreshOutcome string

const (
	RefreshSucceeded RefreshOutcome = "success"
	RefreshFailed    RefreshOutcome = "failure"
	RefreshJoined    RefreshOutcome = "joined"
	RefreshSkipped   RefreshOutcome = "stale_token"
)

// Hooks observe the client. Any of them may be nil.
type Hooks struct {
	// OnRefresh runs for every 401 recovery. RefreshSucceeded and
	// RefreshFailed are reported only by the request that performed the refresh.
	OnRefresh func(ctx context.Context, sessionKey string, outcome RefreshOutcome)
	// OnLogout runs once when a failed refresh is about to tear the session
	// down, while the store still holds the old state.
	OnLogout func(ctx context.Context, sessionKey string)
	// OnSessionEnded runs on every client whose store was logged out by a
	// failed refresh, its own or a shared one, after the logout.
	OnSessionEnded func(ctx context.Context, sessionKey string)
	// OnResponse runs after every backend round trip.
	OnResponse func(method, path string, status int, elapsed time.Duration)
}

// Config holds connection settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the transport; Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client is an authenticated REST client bound to one session's tokens.
type Client struct {
	baseURL   string
	http      *http.Client
	timeout   time.Duration
	tokens    TokenStore
	refresher *Refresher
	hooks     Hooks
	logger    *zap.Logger

	mu      sync.RWMutex
	headers http.Header
}

// New creates a client. refresher should be shared by every client of the
// process so that requests of the same session share one refresh.
func New(cfg Config, tokens TokenStore, refresher *Refresher, hooks Hooks, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if refresher == nil {
		refresher = NewRefresher()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	headers := make(http.Header)
	headers.Set("Accept", "application/json")
	if t := tokens.AccessToken(); t != "" {
		headers.Set("Authorization", "Bearer "+t)
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		http:      hc,
		timeout:   timeout,
		tokens:    tokens,
		refresher: refresher,
		hooks:     hooks,
		logger:    logger,
		headers:   headers,
	}
}

// SetHeader sets a default header sent with every request.
func (c *Client) SetHeader(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if value == "" {
		c.headers.Del(name)
		return
	}
	c.headers.Set(name, value)
}

// Header returns a default header value.
func (c *Client) Header(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.headers.Get(name)
}

// Tokens returns the store the client reads tokens from.
func (c *Client) Tokens() TokenStore { return c.tokens }

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPatch, path, body, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out)
}

// Do sends one request and decodes the envelope's data into out (when non-nil).
// A 401 is recovered at most once per call, and never for the login endpoint.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	payload, err := encodeBody(body)
	if err != nil {
		return err
	}

	token := c.tokens.AccessToken()
	raw, err := c.send(ctx, method, path, payload, token)
	if err == nil {
		return decodeData(raw, out)
	}
	if !IsUnauthorized(err) || isLoginPath(path) {
		return err
	}

	fresh, rerr := c.recoverToken(ctx, token, err)
	if rerr != nil {
		return rerr
	}
	raw, err = c.send(ctx, method, path, payload, fresh)
	if err != nil {
		return err
	}
	return decodeData(raw, out)
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, token string) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.mu.RLock()
	for k, v := range c.headers {
		req.Header[k] = append([]string(nil), v...)
	}
	c.mu.RUnlock()
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		req.Header.Del("Authorization")
	}

	return c.roundTrip(req, path)
}

func (c *Client) roundTrip(req *http.Request, path string) ([]byte, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(req.Method, path, 0, time.Since(start))
		return nil, fmt.Errorf("%s %s: %w", req.Method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	c.observe(req.Method, path, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("api request",
		zap.String("method", req.Method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeError(resp.StatusCode, req.Method, path, raw)
	}
	return raw, nil
}

func (c *Client) observe(method, path string, status int, elapsed time.Duration) {
	if c.hooks.OnResponse != nil {
		c.hooks.OnResponse(method, path, status, elapsed)
	}
}

// isLoginPath matches the login endpoint, whose 401 means bad credentials.
func isLoginPath(path string) bool {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return strings.HasSuffix(strings.TrimRight(path, "/"), "/auth/login")
}

type envelope struct {
	Success *bool           `json:"success"`
	Code    json.RawMessage `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return raw, nil
}

// decodeData unwraps {success, data} envelopes. Bodies without an envelope
// decode directly into out.
func decodeData(raw []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Success != nil {
		if len(env.Data) == 0 || string(env.Data) == "null" {
			return nil
		}
		raw = env.Data
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(status int, method, path string, raw []byte) error {
	apiErr := &APIError{Status: status, Method: method, Path: path}
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil {
		apiErr.Message = env.Message
		if apiErr.Message == "" {
			apiErr.Message = env.Error
		}
		apiErr.Code = strings.Trim(string(env.Code), `"`)
	}
	return apiErr
}
