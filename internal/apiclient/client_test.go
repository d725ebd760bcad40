package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-saas/console/internal/cookies"
	"github.com/aura-saas/console/internal/models"
	"github.com/aura-saas/console/internal/persist"
	"github.com/aura-saas/console/internal/session"
)

const membersPath = "/organizations/org-1/members"

type fakeBackend struct {
	refreshes     atomic.Int32
	protectedHits atomic.Int32
	refreshStatus int
	refreshDelay  time.Duration
	alwaysDeny    bool
	// oldTokenBarrier makes old-token requests wait for each other before
	// failing, so that every one of them is sent with the expired token.
	oldTokenBarrier *sync.WaitGroup

	mu          sync.Mutex
	refreshAuth []string
	refreshCook []string
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		b.refreshes.Add(1)
		b.mu.Lock()
		b.refreshAuth = append(b.refreshAuth, r.Header.Get("Authorization"))
		if c, err := r.Cookie(cookies.RefreshToken); err == nil {
			b.refreshCook = append(b.refreshCook, c.Value)
		}
		b.mu.Unlock()
		time.Sleep(b.refreshDelay)
		if b.refreshStatus != 0 && b.refreshStatus != http.StatusOK {
			writeJSON(w, b.refreshStatus, map[string]any{"success": false, "message": "refresh token revoked"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    map[string]string{"accessToken": "access-2", "refreshToken": "refresh-2"},
		})
	})
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "invalid credentials"})
	})
	mux.HandleFunc(membersPath, func(w http.ResponseWriter, r *http.Request) {
		b.protectedHits.Add(1)
		if !b.alwaysDeny && r.Header.Get("Authorization") == "Bearer access-2" {
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"data":    []map[string]any{{"id": "m1", "userId": "u1", "role": "owner", "status": "active"}},
			})
			return
		}
		if b.oldTokenBarrier != nil && r.Header.Get("Authorization") == "Bearer access-1" {
			b.oldTokenBarrier.Done()
			b.oldTokenBarrier.Wait()
		}
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "token expired"})
	})
	mux.HandleFunc("/organizations/missing", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "code": "ORG_NOT_FOUND", "message": "organization not found"})
	})
	return mux
}

type hookCounts struct {
	mu       sync.Mutex
	outcomes map[RefreshOutcome]int
	logouts  int
}

func (h *hookCounts) hooks() Hooks {
	h.outcomes = make(map[RefreshOutcome]int)
	return Hooks{
		OnRefresh: func(_ context.Context, _ string, o RefreshOutcome) {
			h.mu.Lock()
			h.outcomes[o]++
			h.mu.Unlock()
		},
		OnLogout: func(context.Context, string) {
			h.mu.Lock()
			h.logouts++
			h.mu.Unlock()
		},
	}
}

func (h *hookCounts) outcome(o RefreshOutcome) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcomes[o]
}

func newLoggedInStore(t *testing.T) (*session.Store, *cookies.MemoryJar) {
	t.Helper()
	jar := cookies.NewMemoryJar()
	store := session.NewStore("sess-1", persist.NewMemoryStore(), jar, nil, session.Options{})
	require.NoError(t, store.Login(context.Background(), &models.Identity{ID: "u1", Email: "a@example.com"}, "access-1", "refresh-1"))
	return store, jar
}

func TestConcurrentUnauthorizedRequestsShareOneRefresh(t *testing.T) {
	const n = 8
	barrier := &sync.WaitGroup{}
	barrier.Add(n)
	backend := &fakeBackend{refreshDelay: 50 * time.Millisecond, oldTokenBarrier: barrier}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	store, jar := newLoggedInStore(t)
	counts := &hookCounts{}
	client := New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, store, NewRefresher(), counts.hooks(), nil)

	var wg sync.WaitGroup
	errs := make([]error, n)
	results := make([][]models.Membership, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = client.Get(context.Background(), membersPath, &results[i])
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Len(t, results[i], 1)
		assert.Equal(t, models.RoleOwner, results[i][0].Role)
	}
	assert.Equal(t, int32(1), backend.refreshes.Load())
	assert.Equal(t, int32(2*n), backend.protectedHits.Load(), "each request is replayed exactly once")
	assert.Equal(t, 1, counts.outcome(RefreshSucceeded))
	assert.Equal(t, n-1, counts.outcome(RefreshJoined)+counts.outcome(RefreshSkipped))

	assert.Equal(t, "access-2", store.AccessToken())
	assert.Equal(t, "refresh-2", store.RefreshToken())
	assert.Equal(t, "Bearer access-2", client.Header("Authorization"))
	v, ok := jar.Get(cookies.AccessToken)
	require.True(t, ok)
	assert.Equal(t, "access-2", v)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, []string{""}, backend.refreshAuth, "expired access token is never sent to refresh")
	assert.Equal(t, []string{"refresh-1"}, backend.refreshCook)
}

func TestReplayedRequestIsNotRetriedTwice(t *testing.T) {
	backend := &fakeBackend{alwaysDeny: true}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	store, _ := newLoggedInStore(t)
	client := New(Config{BaseURL: srv.URL}, store, NewRefresher(), Hooks{}, nil)

	err := client.Get(context.Background(), membersPath, nil)
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.False(t, errors.Is(err, ErrRefreshFailed))
	assert.Equal(t, int32(1), backend.refreshes.Load())
	assert.Equal(t, int32(2), backend.protectedHits.Load())
	assert.True(t, store.IsAuthenticated())
}

func TestLoginUnauthorizedIsNotRefreshed(t *testing.T) {
	backend := &fakeBackend{}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	store, _ := newLoggedInStore(t)
	client := New(Config{BaseURL: srv.URL}, store, NewRefresher(), Hooks{}, nil)

	err := client.Post(context.Background(), "/auth/login", models.Credentials{Email: "a@example.com", Password: "wrong"}, nil)
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.Equal(t, "invalid credentials", MessageOf(err))
	assert.Equal(t, int32(0), backend.refreshes.Load())
	assert.Equal(t, "access-1", store.AccessToken())
}

func TestRefreshFailureLogsOutOnce(t *testing.T) {
	const n = 5
	barrier := &sync.WaitGroup{}
	barrier.Add(n)
	backend := &fakeBackend{refreshStatus: http.StatusUnauthorized, refreshDelay: 20 * time.Millisecond, oldTokenBarrier: barrier}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	store, jar := newLoggedInStore(t)
	counts := &hookCounts{}
	client := New(Config{BaseURL: srv.URL}, store, NewRefresher(), counts.hooks(), nil)

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = client.Get(context.Background(), membersPath, nil)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRefreshFailed)
	}
	assert.Equal(t, int32(1), backend.refreshes.Load())
	assert.Equal(t, 1, counts.logouts)
	assert.Equal(t, 1, counts.outcome(RefreshFailed))
	assert.False(t, store.IsAuthenticated())
	assert.Empty(t, jar.Names())
	assert.Empty(t, client.Header("Authorization"))
}

func TestStaleTokenRetriesWithoutRefresh(t *testing.T) {
	backend := &fakeBackend{}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	store, _ := newLoggedInStore(t)
	client := New(Config{BaseURL: srv.URL}, store, NewRefresher(), Hooks{}, nil)
	require.NoError(t, store.SetTokens(context.Background(), "access-2", "refresh-2"))

	token, err := client.recoverToken(context.Background(), "access-1", &APIError{Status: http.StatusUnauthorized})
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)
	assert.Equal(t, int32(0), backend.refreshes.Load())
}

func TestRefresherSharedAcrossClients(t *testing.T) {
	const n = 4
	barrier := &sync.WaitGroup{}
	barrier.Add(n)
	backend := &fakeBackend{refreshDelay: 100 * time.Millisecond, oldTokenBarrier: barrier}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	// Each request builds its own store and client over the same durable record.
	durable := persist.NewMemoryStore()
	refresher := NewRefresher()
	stores := make([]*session.Store, n)
	clients := make([]*Client, n)
	for i := range clients {
		stores[i] = session.NewStore("sess-shared", durable, cookies.NewMemoryJar(), nil, session.Options{})
		require.NoError(t, stores[i].Login(context.Background(), &models.Identity{ID: "u1"}, "access-1", "refresh-1"))
		clients[i] = New(Config{BaseURL: srv.URL}, stores[i], refresher, Hooks{}, nil)
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = clients[i].Get(context.Background(), membersPath, nil)
		}(i)
	}
	wg.Wait()

	for i := range clients {
		require.NoError(t, errs[i])
		assert.Equal(t, "access-2", stores[i].AccessToken())
	}
	assert.Equal(t, int32(1), backend.refreshes.Load())
}

// rotatingBackend accepts each refresh token once and only the newest access
// token on protected routes.
type rotatingBackend struct {
	mu        sync.Mutex
	access    string
	refresh   string
	refreshes int
	// release holds /slow until closed, after the expired token was read.
	release chan struct{}
}

func (b *rotatingBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.refreshes++
		c, err := r.Cookie(cookies.RefreshToken)
		if err != nil || c.Value != b.refresh {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "rotated"})
			return
		}
		b.access = fmt.Sprintf("access-%d", b.refreshes+1)
		b.refresh = fmt.Sprintf("refresh-%d", b.refreshes+1)
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    map[string]string{"accessToken": b.access, "refreshToken": b.refresh},
		})
	})
	protected := func(wait bool) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			b.mu.Lock()
			ok := r.Header.Get("Authorization") == "Bearer "+b.access
			b.mu.Unlock()
			if ok {
				writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]string{}})
				return
			}
			if wait {
				<-b.release
			}
			writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "token expired"})
		}
	}
	mux.HandleFunc("/fast", protected(false))
	mux.HandleFunc("/slow", protected(true))
	return mux
}

func TestLaggingRequestAdoptsFinishedRefresh(t *testing.T) {
	backend := &rotatingBackend{access: "access-0", refresh: "refresh-1", release: make(chan struct{})}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	durable := persist.NewMemoryStore()
	refresher := NewRefresher()
	open := func() (*session.Store, *Client) {
		store := session.NewStore("sess-lag", durable, cookies.NewMemoryJar(), nil, session.Options{})
		require.NoError(t, store.Rehydrate(context.Background()))
		require.NoError(t, store.Login(context.Background(), &models.Identity{ID: "u1"}, "access-1", "refresh-1"))
		return store, New(Config{BaseURL: srv.URL}, store, refresher, Hooks{}, nil)
	}
	storeA, clientA := open()
	storeB, clientB := open()

	slowErr := make(chan error, 1)
	go func() { slowErr <- clientB.Get(context.Background(), "/slow", nil) }()

	require.NoError(t, clientA.Get(context.Background(), "/fast", nil))
	assert.Equal(t, "access-2", storeA.AccessToken())

	close(backend.release)
	require.NoError(t, <-slowErr)

	assert.Equal(t, 1, backend.refreshes, "the lagging request reuses the finished refresh")
	assert.True(t, storeB.IsAuthenticated())
	assert.Equal(t, "access-2", storeB.AccessToken())
	assert.Equal(t, "refresh-2", storeB.RefreshToken())
	assert.True(t, durable.Has("sess-lag"))
}

func TestRefresherFollowsRotationChain(t *testing.T) {
	r := NewRefresher()
	r.remember("s", "a1", models.Tokens{AccessToken: "a2", RefreshToken: "r2"})
	r.remember("s", "a2", models.Tokens{AccessToken: "a3", RefreshToken: "r3"})

	got, ok := r.successor("s", "a1")
	require.True(t, ok)
	assert.Equal(t, "a3", got.AccessToken)

	_, ok = r.successor("s", "a3")
	assert.False(t, ok)
	_, ok = r.successor("other", "a1")
	assert.False(t, ok)
}

func TestErrorEnvelopeDecoding(t *testing.T) {
	backend := &fakeBackend{}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	store, _ := newLoggedInStore(t)
	client := New(Config{BaseURL: srv.URL}, store, NewRefresher(), Hooks{}, nil)

	err := client.Get(context.Background(), "/organizations/missing", nil)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "ORG_NOT_FOUND", apiErr.Code)
	assert.Equal(t, "organization not found", apiErr.Message)
	assert.Equal(t, http.MethodGet, apiErr.Method)
}

func TestDecodeDataWithoutEnvelope(t *testing.T) {
	var out map[string]string
	require.NoError(t, decodeData([]byte(`{"name":"acme"}`), &out))
	assert.Equal(t, "acme", out["name"])

	out = nil
	require.NoError(t, decodeData([]byte(`{"success":true,"data":{"name":"beta"}}`), &out))
	assert.Equal(t, "beta", out["name"])
}

func TestIsLoginPath(t *testing.T) {
	assert.True(t, isLoginPath("/auth/login"))
	assert.True(t, isLoginPath("/auth/login?next=/members"))
	assert.False(t, isLoginPath("/auth/logout"))
	assert.False(t, isLoginPath("/users/me"))
}
