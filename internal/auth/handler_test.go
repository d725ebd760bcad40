package auth

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-saas/console/internal/audit"
	"github.com/aura-saas/console/internal/console"
	"github.com/aura-saas/console/internal/console/consoletest"
	"github.com/aura-saas/console/internal/cookies"
	"github.com/aura-saas/console/internal/models"
)

func setup(t *testing.T) (*consoletest.Harness, *consoletest.AuditLog) {
	t.Helper()
	h := consoletest.New(t, console.Events{})
	log := &consoletest.AuditLog{}
	handler := NewHandler(h.Boot, log, nil)
	h.Engine.POST("/api/auth/login", handler.Login)
	h.Engine.POST("/api/auth/register", handler.Register)
	h.Engine.POST("/api/auth/logout", handler.Logout)
	h.Engine.GET("/api/session", handler.Session)
	return h, log
}

func TestLoginSignsIn(t *testing.T) {
	h, log := setup(t)
	b := h.Browser()

	w := b.Do(t, http.MethodPost, "/api/auth/login", LoginRequest{Email: "ada@example.com", Password: "secret123", Next: "/members"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var view SessionView
	ok, _ := consoletest.Envelope(t, w, &view)
	require.True(t, ok)
	assert.True(t, view.IsAuthenticated)
	require.NotNil(t, view.User)
	assert.Equal(t, "u1", view.User.ID)
	assert.Equal(t, "/members", view.Next)

	token, ok := b.Cookie(cookies.AccessToken)
	require.True(t, ok)
	assert.Equal(t, h.Backend.AccessToken(), token)
	_, ok = b.Cookie(cookies.SessionID)
	assert.True(t, ok)

	assert.Equal(t, []audit.Action{audit.ActionLogin}, log.Actions())
	assert.Equal(t, "u1", log.Events()[0].UserID)
}

func TestSessionAfterLoginCarriesTenant(t *testing.T) {
	h, _ := setup(t)
	b := h.Browser()
	require.Equal(t, http.StatusOK, b.Do(t, http.MethodPost, "/api/auth/login", LoginRequest{Email: "ada@example.com", Password: "secret123"}).Code)

	w := b.Do(t, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view SessionView
	consoletest.Envelope(t, w, &view)

	assert.True(t, view.IsAuthenticated)
	assert.Len(t, view.Tenant.Organizations, 2)
	require.NotNil(t, view.Tenant.CurrentOrganization)
	assert.Equal(t, "o1", view.Tenant.CurrentOrganization.ID)
	assert.Equal(t, models.RoleOwner, view.Tenant.CurrentRole)
	assert.True(t, view.Access.CanManage)
}

func TestLoginRejectedIsInline(t *testing.T) {
	h, log := setup(t)
	b := h.Browser()

	w := b.Do(t, http.MethodPost, "/api/auth/login", LoginRequest{Email: "ada@example.com", Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	ok, msg := consoletest.Envelope(t, w, nil)
	assert.False(t, ok)
	assert.Equal(t, "Invalid email or password", msg)

	assert.Zero(t, h.Backend.Count("POST /auth/refresh"), "a login 401 never triggers a refresh")
	_, has := b.Cookie(cookies.AccessToken)
	assert.False(t, has)
	assert.Equal(t, []audit.Action{audit.ActionLoginFailed}, log.Actions())

	w = b.Do(t, http.MethodGet, "/api/session", nil)
	var view SessionView
	consoletest.Envelope(t, w, &view)
	assert.False(t, view.IsAuthenticated)
}

func TestLoginValidatesBody(t *testing.T) {
	h, _ := setup(t)
	w := h.Browser().Do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": "not-an-email", "password": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, h.Backend.Requests())
}

func TestRegisterFetchesIdentity(t *testing.T) {
	h, log := setup(t)
	b := h.Browser()

	w := b.Do(t, http.MethodPost, "/api/auth/register", LoginRequest{Email: "new@example.com", Password: "hunter22"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var view SessionView
	consoletest.Envelope(t, w, &view)
	assert.True(t, view.IsAuthenticated)
	require.NotNil(t, view.User)
	assert.Equal(t, "u-new", view.User.ID)
	assert.Equal(t, DefaultNext, view.Next)
	assert.Equal(t, 1, h.Backend.Count("GET /users/me"))
	assert.Equal(t, []audit.Action{audit.ActionRegister}, log.Actions())

	w = b.Do(t, http.MethodGet, "/api/session", nil)
	consoletest.Envelope(t, w, &view)
	assert.Empty(t, view.Tenant.Organizations)
	assert.Nil(t, view.Tenant.CurrentOrganization)
}

func TestRegisterConflict(t *testing.T) {
	h, _ := setup(t)
	w := h.Browser().Do(t, http.MethodPost, "/api/auth/register", LoginRequest{Email: "ada@example.com", Password: "secret123"})
	assert.Equal(t, http.StatusConflict, w.Code)
	_, msg := consoletest.Envelope(t, w, nil)
	assert.Equal(t, "Email already registered", msg)
}

func TestLogoutClearsEverything(t *testing.T) {
	h, log := setup(t)
	b := h.Browser()
	require.Equal(t, http.StatusOK, b.Do(t, http.MethodPost, "/api/auth/login", LoginRequest{Email: "ada@example.com", Password: "secret123"}).Code)
	require.Equal(t, http.StatusOK, b.Do(t, http.MethodGet, "/api/session", nil).Code)

	w := b.Do(t, http.MethodPost, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view SessionView
	consoletest.Envelope(t, w, &view)
	assert.False(t, view.IsAuthenticated)
	assert.Nil(t, view.User)
	assert.Empty(t, view.Tenant.Organizations)
	assert.Equal(t, 1, h.Backend.Count("POST /auth/logout"))

	for _, name := range []string{cookies.AccessToken, cookies.RefreshToken, cookies.User} {
		_, has := b.Cookie(name)
		assert.False(t, has, name)
	}
	_, has := b.Cookie(cookies.SessionID)
	assert.True(t, has, "the console session id outlives a logout")

	w = b.Do(t, http.MethodGet, "/api/session", nil)
	consoletest.Envelope(t, w, &view)
	assert.False(t, view.IsAuthenticated)
	assert.Contains(t, log.Actions(), audit.ActionLogout)
}

func TestLogoutWhenAnonymousSkipsBackend(t *testing.T) {
	h, _ := setup(t)
	w := h.Browser().Do(t, http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, h.Backend.Count("POST /auth/logout"))
}

func TestSafeNext(t *testing.T) {
	cases := map[string]string{
		"":                 DefaultNext,
		"/members":         "/members",
		"/members?tab=all": "/members?tab=all",
		"https://evil.com": DefaultNext,
		"//evil.com":       DefaultNext,
		"/\\evil.com":      DefaultNext,
		"/login":           DefaultNext,
		"/signup?next=/x":  DefaultNext,
	}
	for in, want := range cases {
		assert.Equal(t, want, SafeNext(in), in)
	}
}
