package consoletest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/aura-saas/console/internal/apiclient"
	"github.com/aura-saas/console/internal/audit"
	"github.com/aura-saas/console/internal/bootstrap"
	"github.com/aura-saas/console/internal/console"
	"github.com/aura-saas/console/internal/cookies"
	"github.com/aura-saas/console/internal/models"
	"github.com/aura-saas/console/internal/persist"
)

// Harness wires a console factory to a fake backend behind a gin engine.
type Harness struct {
	Backend  *Backend
	Factory  *console.Factory
	Boot     *bootstrap.Bootstrapper
	Sessions *persist.MemoryStore
	Tenants  *persist.MemoryStore
	Engine   *gin.Engine
}

// New builds a harness. Routes registered on Engine run behind the console
// middleware.
func New(t testing.TB, events console.Events) *Harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	b := NewBackend(t)
	boot := bootstrap.New(bootstrap.Options{}, nil)
	h := &Harness{
		Backend:  b,
		Boot:     boot,
		Sessions: persist.NewMemoryStore(),
		Tenants:  persist.NewMemoryStore(),
		Engine:   gin.New(),
	}
	h.Factory = console.NewFactory(console.Config{
		API:              apiclient.Config{BaseURL: b.URL(), Timeout: 5 * time.Second},
		Cookies:          cookies.Options{HTTPOnly: true},
		BootstrapTimeout: 5 * time.Second,
	}, h.Sessions, h.Tenants, boot, events, nil)
	h.Engine.Use(h.Factory.Middleware())
	return h
}

// Browser is a cookie-keeping client of the harness engine.
type Browser struct {
	h       *Harness
	mu      sync.Mutex
	cookies map[string]string
}

// Browser returns a browser with an empty cookie jar.
func (h *Harness) Browser() *Browser {
	return &Browser{h: h, cookies: make(map[string]string)}
}

// Do sends a request; body (when non-nil) is JSON encoded.
func (b *Browser) Do(t testing.TB, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	b.mu.Lock()
	for name, value := range b.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	b.mu.Unlock()

	w := httptest.NewRecorder()
	b.h.Engine.ServeHTTP(w, req)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range w.Result().Cookies() {
		if c.MaxAge < 0 || c.Value == "" {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c.Value
	}
	return w
}

// Cookie returns the decoded value of a cookie the browser holds.
func (b *Browser) Cookie(name string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.cookies[name]
	if !ok {
		return "", false
	}
	v, err := url.QueryUnescape(raw)
	if err != nil {
		return raw, true
	}
	return v, true
}

// SetCookie stores a cookie the way the console would have written it.
func (b *Browser) SetCookie(name, value string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cookies[name] = url.QueryEscape(value)
}

// SignIn logs Ada in against the backend directly and plants the resulting
// session cookies, as if an earlier visit had logged in.
func (b *Browser) SignIn(t testing.TB) {
	t.Helper()
	var out models.LoginResponse
	client := apiclient.New(apiclient.Config{BaseURL: b.h.Backend.URL()}, noTokens{}, nil, apiclient.Hooks{}, nil)
	err := client.Post(context.Background(), "/auth/login", models.Credentials{Email: "ada@example.com", Password: "secret123"}, &out)
	require.NoError(t, err)
	user, err := json.Marshal(out.User)
	require.NoError(t, err)
	b.SetCookie(cookies.AccessToken, out.AccessToken)
	b.SetCookie(cookies.RefreshToken, out.RefreshToken)
	b.SetCookie(cookies.User, string(user))
}

// Envelope decodes a console JSON response.
func Envelope(t testing.TB, w *httptest.ResponseRecorder, data any) (success bool, errMsg string) {
	t.Helper()
	var body struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	if data != nil && len(body.Data) > 0 {
		require.NoError(t, json.Unmarshal(body.Data, data))
	}
	return body.Success, body.Error
}

type noTokens struct{}

func (noTokens) Key() string { return "consoletest" }
func (noTokens) AccessToken() string { return "" }
func (noTokens) RefreshToken() string { return "" }
func (noTokens) SetTokens(context.Context, string, string) error { return nil }
func (noTokens) Logout(context.Context) error { return nil }

// AuditLog is an in-memory audit sink.
type AuditLog struct {
	mu     sync.Mutex
	events []audit.Event
}

func (l *AuditLog) Record(_ context.Context, e audit.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

// Events returns the recorded events in order.
func (l *AuditLog) Events() []audit.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]audit.Event(nil), l.events...)
}

// Actions returns the recorded actions in order.
func (l *AuditLog) Actions() []audit.Action {
	var out []audit.Action
	for _, e := range l.Events() {
		out = append(out, e.Action)
	}
	return out
}
