package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-saas/console/internal/apiclient"
	"github.com/aura-saas/console/internal/cookies"
	"github.com/aura-saas/console/internal/models"
	"github.com/aura-saas/console/internal/persist"
	"github.com/aura-saas/console/internal/session"
	"github.com/aura-saas/console/internal/tenant"
)

type backend struct {
	meStatus      int
	orgsStatus    int
	refreshStatus int
	orgs          []models.Organization
	roles         map[string]models.Role
	orgHits       atomic.Int32
	roleHits      atomic.Int32
	meHits        atomic.Int32
}

func reply(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]any{"success": status < 300, "data": data}
	if status >= 300 {
		body["message"] = http.StatusText(status)
	}
	_ = json.NewEncoder(w).Encode(body)
}

func (b *backend) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/me", func(w http.ResponseWriter, r *http.Request) {
		b.meHits.Add(1)
		if b.meStatus != 0 {
			reply(w, b.meStatus, nil)
			return
		}
		reply(w, http.StatusOK, models.Identity{ID: "u1", Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace"})
	})
	mux.HandleFunc("/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		if b.refreshStatus != 0 {
			reply(w, b.refreshStatus, nil)
			return
		}
		reply(w, http.StatusOK, models.Tokens{AccessToken: "access-2", RefreshToken: "refresh-2"})
	})
	mux.HandleFunc("/organizations", func(w http.ResponseWriter, r *http.Request) {
		b.orgHits.Add(1)
		if b.orgsStatus != 0 {
			reply(w, b.orgsStatus, nil)
			return
		}
		reply(w, http.StatusOK, b.orgs)
	})
	mux.HandleFunc("/organizations/", func(w http.ResponseWriter, r *http.Request) {
		b.roleHits.Add(1)
		for id, role := range b.roles {
			if r.URL.Path == "/organizations/"+id+"/members/me" {
				reply(w, http.StatusOK, models.Membership{OrganizationID: id, UserID: "u1", Role: role, Status: models.StatusActive})
				return
			}
		}
		reply(w, http.StatusNotFound, nil)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type target struct {
	sess  *session.Store
	ten   *tenant.Store
	api   *apiclient.Client
	guard Guard
}

func (t *target) SessionStore() *session.Store { return t.sess }
func (t *target) TenantStore() *tenant.Store   { return t.ten }
func (t *target) API() *apiclient.Client       { return t.api }
func (t *target) Guard() *Guard                { return &t.guard }

type durable struct {
	sessions *persist.MemoryStore
	tenants  *persist.MemoryStore
}

func newDurable() durable {
	return durable{sessions: persist.NewMemoryStore(), tenants: persist.NewMemoryStore()}
}

func newTarget(srv *httptest.Server, d durable, jar cookies.Jar) *target {
	sess := session.NewStore("key-1", d.sessions, jar, nil, session.Options{})
	ten := tenant.NewStore("key-1", d.tenants, jar, nil)
	api := apiclient.New(apiclient.Config{BaseURL: srv.URL}, sess, apiclient.NewRefresher(), apiclient.Hooks{}, nil)
	return &target{sess: sess, ten: ten, api: api}
}

func cookieJar(t *testing.T, user *models.Identity, org *models.Organization, role string) *cookies.MemoryJar {
	t.Helper()
	jar := cookies.NewMemoryJar()
	jar.Set(cookies.AccessToken, "access-1", cookies.AccessTokenTTL)
	jar.Set(cookies.RefreshToken, "refresh-1", cookies.RefreshTokenTTL)
	if user != nil {
		raw, err := json.Marshal(user)
		require.NoError(t, err)
		jar.Set(cookies.User, string(raw), cookies.UserTTL)
	}
	if org != nil {
		raw, err := json.Marshal(org)
		require.NoError(t, err)
		jar.Set(cookies.CurrentOrganization, string(raw), cookies.TenantTTL)
	}
	if role != "" {
		jar.Set(cookies.CurrentRole, role, cookies.TenantTTL)
	}
	return jar
}

var (
	orgA = models.Organization{ID: "org-a", Name: "Acme", Slug: "acme"}
	orgB = models.Organization{ID: "org-b", Name: "Beta", Slug: "beta"}
)

func TestFromJarDegradesMalformedValues(t *testing.T) {
	jar := cookies.NewMemoryJar()
	jar.Set(cookies.AccessToken, "tok", cookies.AccessTokenTTL)
	jar.Set(cookies.User, "{not json", cookies.UserTTL)
	jar.Set(cookies.CurrentOrganization, `{"name":"no id"}`, cookies.TenantTTL)
	jar.Set(cookies.CurrentRole, "superuser", cookies.TenantTTL)

	snap := FromJar(jar)
	assert.True(t, snap.IsAuthenticated())
	assert.Nil(t, snap.User)
	assert.Nil(t, snap.CurrentOrganization)
	assert.Equal(t, models.RoleNone, snap.CurrentRole)

	pub, err := json.Marshal(snap.Public())
	require.NoError(t, err)
	assert.NotContains(t, string(pub), "tok")
}

func TestRunSeedsOncePerSnapshot(t *testing.T) {
	b := &backend{orgs: []models.Organization{orgA}, roles: map[string]models.Role{"org-a": models.RoleAdmin}}
	srv := b.server(t)
	d := newDurable()
	jar := cookieJar(t, &models.Identity{ID: "u1"}, nil, "")
	tg := newTarget(srv, d, jar)
	boot := New(Options{}, nil)

	snap := FromJar(jar)
	first := boot.Run(context.Background(), tg, snap)
	second := boot.Run(context.Background(), tg, snap)

	assert.True(t, first.Seeded)
	assert.False(t, second.Seeded)
	assert.Equal(t, 1, d.sessions.Loads(), "rehydration loads durable storage once")
	assert.True(t, second.Authenticated)
}

func TestRunDefaultsToFirstOrganizationAndFetchesRole(t *testing.T) {
	b := &backend{
		orgs:  []models.Organization{orgA, orgB, orgA},
		roles: map[string]models.Role{"org-a": models.RoleAdmin, "org-b": models.RoleMember},
	}
	srv := b.server(t)
	d := newDurable()
	jar := cookieJar(t, nil, nil, "")
	tg := newTarget(srv, d, jar)

	res := New(Options{}, nil).Run(context.Background(), tg, FromJar(jar))

	require.True(t, res.Authenticated)
	assert.True(t, res.IdentityRefreshed)
	assert.True(t, res.OrganizationsFetched)
	assert.Equal(t, "org-a", res.CurrentOrganization)
	assert.Equal(t, models.RoleAdmin, res.CurrentRole)

	tc := tg.ten.Snapshot()
	assert.True(t, tc.IsHydrated)
	assert.True(t, tc.CanManage())
	require.Len(t, tc.Organizations, 2, "duplicates collapse")
	assert.Equal(t, "org-a", tc.Organizations[0].ID)
	assert.Equal(t, "org-b", tc.Organizations[1].ID)

	role, ok := jar.Get(cookies.CurrentRole)
	require.True(t, ok)
	assert.Equal(t, "admin", role)
	assert.Equal(t, "Ada", tg.sess.Snapshot().User.FirstName)
}

func TestRunReplacesUnlistedSelection(t *testing.T) {
	b := &backend{orgs: []models.Organization{orgB}, roles: map[string]models.Role{"org-b": models.RoleMember}}
	srv := b.server(t)
	d := newDurable()
	stale := models.Organization{ID: "org-gone", Name: "Gone"}
	jar := cookieJar(t, nil, &stale, "owner")
	tg := newTarget(srv, d, jar)

	res := New(Options{}, nil).Run(context.Background(), tg, FromJar(jar))

	assert.Equal(t, "org-b", res.CurrentOrganization)
	assert.Equal(t, models.RoleMember, res.CurrentRole)
	assert.False(t, tg.ten.CanManage())
}

func TestRunStoredRecordWinsOverCookies(t *testing.T) {
	b := &backend{meStatus: http.StatusInternalServerError, orgs: []models.Organization{orgA}, roles: map[string]models.Role{"org-a": models.RoleOwner}}
	srv := b.server(t)
	d := newDurable()
	require.NoError(t, d.sessions.Save(context.Background(), "key-1", models.AuthSession{
		IsAuthenticated: true,
		User:            &models.Identity{ID: "u1", FirstName: "Stored"},
		AccessToken:     "access-stored",
		RefreshToken:    "refresh-stored",
	}, 0))

	jar := cookieJar(t, &models.Identity{ID: "u1", FirstName: "Cookie"}, nil, "")
	tg := newTarget(srv, d, jar)
	res := New(Options{}, nil).Run(context.Background(), tg, FromJar(jar))

	assert.True(t, res.Authenticated)
	assert.False(t, res.IdentityRefreshed)
	snap := tg.sess.Snapshot()
	assert.Equal(t, "Stored", snap.User.FirstName)
	assert.Equal(t, "access-stored", snap.AccessToken)
}

func TestRunWritesSnapshotThroughWhenNoRecord(t *testing.T) {
	b := &backend{meStatus: http.StatusInternalServerError, orgsStatus: http.StatusInternalServerError}
	srv := b.server(t)
	d := newDurable()
	jar := cookieJar(t, &models.Identity{ID: "u1", FirstName: "Cookie"}, nil, "")
	tg := newTarget(srv, d, jar)

	res := New(Options{}, nil).Run(context.Background(), tg, FromJar(jar))

	assert.True(t, res.Authenticated)
	assert.False(t, res.OrganizationsFetched)
	assert.True(t, d.sessions.Has("key-1"))
	assert.Empty(t, tg.ten.Snapshot().Organizations)
	assert.True(t, tg.ten.IsHydrated(), "hydrated even when degraded")
}

func TestRunLogsOutWhenIdentityRejected(t *testing.T) {
	b := &backend{meStatus: http.StatusUnauthorized, refreshStatus: http.StatusUnauthorized, orgs: []models.Organization{orgA}}
	srv := b.server(t)
	d := newDurable()
	jar := cookieJar(t, &models.Identity{ID: "u1"}, &orgA, "owner")
	tg := newTarget(srv, d, jar)

	res := New(Options{}, nil).Run(context.Background(), tg, FromJar(jar))

	assert.False(t, res.Authenticated)
	assert.False(t, tg.sess.IsAuthenticated())
	assert.False(t, d.sessions.Has("key-1"))
	_, ok := jar.Get(cookies.AccessToken)
	assert.False(t, ok)
	assert.True(t, tg.ten.IsHydrated())

	// The tenant goes with the session.
	assert.Nil(t, tg.ten.Snapshot().CurrentOrganization)
	assert.False(t, d.tenants.Has("key-1"))
	_, ok = jar.Get(cookies.CurrentOrganization)
	assert.False(t, ok)
	_, ok = jar.Get(cookies.CurrentRole)
	assert.False(t, ok)
}

func TestResumeSkipsIdentityFetch(t *testing.T) {
	b := &backend{orgs: []models.Organization{orgA}, roles: map[string]models.Role{"org-a": models.RoleOwner}}
	srv := b.server(t)
	jar := cookieJar(t, &models.Identity{ID: "u1", FirstName: "Cookie"}, nil, "")
	tg := newTarget(srv, newDurable(), jar)

	res := New(Options{}, nil).Resume(context.Background(), tg, FromJar(jar))

	assert.True(t, res.Authenticated)
	assert.False(t, res.IdentityRefreshed)
	assert.Equal(t, "org-a", res.CurrentOrganization)
	assert.Equal(t, int32(0), b.meHits.Load())
	assert.Equal(t, "Cookie", tg.sess.Snapshot().User.FirstName)
}

func TestRunUnauthenticatedSkipsBackend(t *testing.T) {
	b := &backend{}
	srv := b.server(t)
	d := newDurable()
	jar := cookies.NewMemoryJar()
	tg := newTarget(srv, d, jar)

	res := New(Options{}, nil).Run(context.Background(), tg, FromJar(jar))

	assert.False(t, res.Authenticated)
	assert.Equal(t, int32(0), b.orgHits.Load())
	assert.True(t, tg.ten.IsHydrated())
	assert.False(t, tg.ten.CanManage())
}

func TestOrganizationsAreCached(t *testing.T) {
	b := &backend{orgs: []models.Organization{orgA}}
	srv := b.server(t)
	jar := cookieJar(t, nil, nil, "")
	tg := newTarget(srv, newDurable(), jar)
	boot := New(Options{}, nil)

	for i := 0; i < 3; i++ {
		list, err := boot.Organizations(context.Background(), "key-1", tg.api)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	}
	assert.Equal(t, int32(1), b.orgHits.Load())

	boot.ForgetOrganizations("key-1")
	_, err := boot.Organizations(context.Background(), "key-1", tg.api)
	require.NoError(t, err)
	assert.Equal(t, int32(2), b.orgHits.Load())
}

func TestSelectOrganizationWithoutRole(t *testing.T) {
	b := &backend{roles: map[string]models.Role{}}
	srv := b.server(t)
	jar := cookieJar(t, nil, nil, "")
	tg := newTarget(srv, newDurable(), jar)

	role, err := SelectOrganization(context.Background(), tg.ten, tg.api, orgB)
	require.Error(t, err)
	assert.Equal(t, models.RoleNone, role)
	tc := tg.ten.Snapshot()
	require.NotNil(t, tc.CurrentOrganization)
	assert.Equal(t, "org-b", tc.CurrentOrganization.ID)
	_, ok := jar.Get(cookies.CurrentRole)
	assert.False(t, ok)
}
