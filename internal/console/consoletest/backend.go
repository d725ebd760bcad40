// Package consoletest provides a stateful fake of the backend REST API and a
// cookie-keeping browser for exercising console handlers end to end.
package consoletest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aura-saas/console/internal/models"
)

// Backend is an in-memory backend with a single user account.
type Backend struct {
	Server *httptest.Server

	mu          sync.Mutex
	user        models.Identity
	password    string
	orgs        []models.Organization
	members     map[string][]models.Membership
	invitations map[string][]models.Invitation
	access      string
	refresh     string
	seq         int
	refreshes   int
	failRefresh bool
	forced      map[string]int
	requests    []string
}

// NewBackend starts a backend owning "Acme" (o1) with Ada as owner and Bob as
// an active member. Ada signs in with ada@example.com / secret123.
func NewBackend(t testing.TB) *Backend {
	t.Helper()
	now := time.Now().UTC()
	b := &Backend{
		user:     models.Identity{ID: "u1", Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace", CreatedAt: now, UpdatedAt: now},
		password: "secret123",
		orgs: []models.Organization{
			{ID: "o1", Name: "Acme", Slug: "acme", OwnerID: "u1"},
			{ID: "o2", Name: "Globex", Slug: "globex", OwnerID: "u9"},
		},
		members: map[string][]models.Membership{
			"o1": {
				member("o1", "u1", "ada@example.com", models.RoleOwner, models.StatusActive),
				member("o1", "u2", "bob@example.com", models.RoleMember, models.StatusActive),
				member("o1", "u3", "cy@example.com", models.RoleMember, models.StatusInvited),
				member("o1", "u4", "di@example.com", models.RoleMember, models.StatusSuspended),
			},
			"o2": {
				member("o2", "u9", "zed@example.com", models.RoleOwner, models.StatusActive),
				member("o2", "u1", "ada@example.com", models.RoleMember, models.StatusActive),
			},
		},
		invitations: map[string][]models.Invitation{
			"o1": {{ID: "i1", OrganizationID: "o1", InviterID: "u1", Email: "eve@example.com", Role: models.RoleMember, Token: "tok-live", ExpiresAt: now.Add(48 * time.Hour), CreatedAt: now}},
			"o3": {
				{ID: "i2", OrganizationID: "o3", InviterID: "u8", Email: "ada@example.com", Role: models.RoleAdmin, Token: "tok-o3", ExpiresAt: now.Add(time.Hour), CreatedAt: now},
				{ID: "i3", OrganizationID: "o3", InviterID: "u8", Email: "ada@example.com", Role: models.RoleMember, Token: "tok-expired", ExpiresAt: now.Add(-time.Hour), CreatedAt: now.Add(-48 * time.Hour)},
			},
		},
		forced: make(map[string]int),
	}
	b.Server = httptest.NewServer(b.routes())
	t.Cleanup(b.Server.Close)
	return b
}

func member(orgID, userID, email string, role models.Role, status models.MemberStatus) models.Membership {
	return models.Membership{
		ID:             orgID + "-" + userID,
		OrganizationID: orgID,
		UserID:         userID,
		Role:           role,
		Status:         status,
		User:           &models.MemberUser{ID: userID, Email: email},
	}
}

// URL is the backend base URL.
func (b *Backend) URL() string { return b.Server.URL }

// Expire invalidates the current access token; the refresh token stays valid.
func (b *Backend) Expire() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.access = fmt.Sprintf("revoked-%d", b.seq)
}

// FailRefresh makes every refresh attempt fail with 401.
func (b *Backend) FailRefresh() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failRefresh = true
}

// Force makes "METHOD /path" answer with status until cleared with 0.
func (b *Backend) Force(route string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if status == 0 {
		delete(b.forced, route)
		return
	}
	b.forced[route] = status
}

// Refreshes returns how many refresh calls succeeded.
func (b *Backend) Refreshes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshes
}

// Requests returns the "METHOD /path" log.
func (b *Backend) Requests() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.requests...)
}

// Count returns how many times route was requested.
func (b *Backend) Count(route string) int {
	n := 0
	for _, r := range b.Requests() {
		if r == route {
			n++
		}
	}
	return n
}

// Members returns a copy of orgID's memberships.
func (b *Backend) Members(orgID string) []models.Membership {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Membership(nil), b.members[orgID]...)
}

// AccessToken returns the currently valid access token.
func (b *Backend) AccessToken() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.access
}

func reply(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "code": "OK", "message": "ok", "data": data})
}

func fail(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "code": strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_")), "message": message})
}

// issueLocked rotates both tokens.
func (b *Backend) issueLocked() models.Tokens {
	b.seq++
	b.access = fmt.Sprintf("access-%d", b.seq)
	b.refresh = fmt.Sprintf("refresh-%d", b.seq)
	return models.Tokens{AccessToken: b.access, RefreshToken: b.refresh}
}

func (b *Backend) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", b.login)
	mux.HandleFunc("POST /auth/register", b.register)
	mux.HandleFunc("POST /auth/refresh", b.refreshTokens)
	mux.HandleFunc("POST /auth/logout", b.authed(func(w http.ResponseWriter, r *http.Request) {
		b.access, b.refresh = "", ""
		reply(w, http.StatusOK, nil)
	}))
	mux.HandleFunc("GET /users/me", b.authed(func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, b.user)
	}))
	mux.HandleFunc("PATCH /users/me", b.authed(b.updateMe))
	mux.HandleFunc("GET /organizations", b.authed(b.listOrgs))
	mux.HandleFunc("POST /organizations", b.authed(b.createOrg))
	mux.HandleFunc("GET /organizations/{id}/members", b.authed(b.listMembers))
	mux.HandleFunc("GET /organizations/{id}/members/me", b.authed(b.currentMember))
	mux.HandleFunc("PATCH /organizations/{id}/members/{uid}/role", b.authed(b.updateRole))
	mux.HandleFunc("PATCH /organizations/{id}/members/{uid}/status", b.authed(b.updateStatus))
	mux.HandleFunc("DELETE /organizations/{id}/members/{uid}", b.authed(b.removeMember))
	mux.HandleFunc("GET /organizations/{id}/invitations", b.authed(b.listInvitations))
	mux.HandleFunc("POST /organizations/{id}/invitations", b.authed(b.invite))
	mux.HandleFunc("DELETE /organizations/{id}/invitations/{iid}", b.authed(b.revoke))
	mux.HandleFunc("GET /invitations/{token}", b.details)
	mux.HandleFunc("POST /invitations/{token}/accept", b.authed(b.accept))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.Method + " " + r.URL.Path
		b.mu.Lock()
		b.requests = append(b.requests, route)
		status, forced := b.forced[route]
		b.mu.Unlock()
		if forced {
			fail(w, status, "forced failure")
			return
		}
		mux.ServeHTTP(w, r)
	})
}

// authed requires the current access token and runs next under the lock.
func (b *Backend) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if b.access == "" || token != b.access {
			fail(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	}
}

func (b *Backend) login(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	_ = json.NewDecoder(r.Body).Decode(&creds)
	b.mu.Lock()
	defer b.mu.Unlock()
	if creds.Email != b.user.Email || creds.Password != b.password {
		fail(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	tokens := b.issueLocked()
	user := b.user
	reply(w, http.StatusOK, models.LoginResponse{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken, User: &user})
}

func (b *Backend) register(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	_ = json.NewDecoder(r.Body).Decode(&creds)
	b.mu.Lock()
	defer b.mu.Unlock()
	if creds.Email == b.user.Email {
		fail(w, http.StatusConflict, "Email already registered")
		return
	}
	now := time.Now().UTC()
	b.user = models.Identity{ID: "u-new", Email: creds.Email, CreatedAt: now, UpdatedAt: now}
	b.password = creds.Password
	b.orgs = nil
	tokens := b.issueLocked()
	reply(w, http.StatusCreated, models.LoginResponse{AccessToken: tokens.AccessToken, RefreshToken: tokens.RefreshToken})
}

func (b *Backend) refreshTokens(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cookie, err := r.Cookie("refreshToken")
	if b.failRefresh || err != nil || b.refresh == "" || cookie.Value != b.refresh {
		fail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	b.refreshes++
	reply(w, http.StatusOK, b.issueLocked())
}

func (b *Backend) updateMe(w http.ResponseWriter, r *http.Request) {
	var p models.UpdateUserParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		fail(w, http.StatusBadRequest, "Invalid body")
		return
	}
	if p.FirstName != nil {
		b.user.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		b.user.LastName = *p.LastName
	}
	if p.Email != nil {
		b.user.Email = *p.Email
	}
	if p.Age != nil {
		b.user.Age = p.Age
	}
	if p.Gender != nil {
		b.user.Gender = p.Gender
	}
	b.user.UpdatedAt = time.Now().UTC()
	reply(w, http.StatusOK, b.user)
}

func (b *Backend) listOrgs(w http.ResponseWriter, r *http.Request) {
	var out []models.Organization
	for _, o := range b.orgs {
		if b.roleLocked(o.ID) != models.RoleNone {
			out = append(out, o)
		}
	}
	if out == nil {
		out = []models.Organization{}
	}
	reply(w, http.StatusOK, out)
}

func (b *Backend) createOrg(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Name) == "" {
		fail(w, http.StatusBadRequest, "Name is required")
		return
	}
	b.seq++
	org := models.Organization{ID: fmt.Sprintf("org-%d", b.seq), Name: body.Name, Slug: strings.ToLower(body.Name), OwnerID: b.user.ID}
	b.orgs = append(b.orgs, org)
	b.members[org.ID] = []models.Membership{member(org.ID, b.user.ID, b.user.Email, models.RoleOwner, models.StatusActive)}
	reply(w, http.StatusCreated, org)
}

func (b *Backend) roleLocked(orgID string) models.Role {
	for _, m := range b.members[orgID] {
		if m.UserID == b.user.ID && m.Status == models.StatusActive {
			return m.Role
		}
	}
	return models.RoleNone
}

func (b *Backend) requireRole(w http.ResponseWriter, orgID string, manage bool) bool {
	role := b.roleLocked(orgID)
	if role == models.RoleNone {
		fail(w, http.StatusForbidden, "Not a member of this organization")
		return false
	}
	if manage && !role.CanManage() {
		fail(w, http.StatusForbidden, "Insufficient permissions")
		return false
	}
	return true
}

func (b *Backend) listMembers(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !b.requireRole(w, id, false) {
		return
	}
	out := append([]models.Membership{}, b.members[id]...)
	reply(w, http.StatusOK, out)
}

func (b *Backend) currentMember(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, m := range b.members[id] {
		if m.UserID == b.user.ID {
			reply(w, http.StatusOK, m)
			return
		}
	}
	fail(w, http.StatusNotFound, "Membership not found")
}

func (b *Backend) findMemberLocked(orgID, userID string) *models.Membership {
	for i := range b.members[orgID] {
		if b.members[orgID][i].UserID == userID {
			return &b.members[orgID][i]
		}
	}
	return nil
}

func (b *Backend) updateRole(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !b.requireRole(w, id, true) {
		return
	}
	var body struct {
		Role models.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !body.Role.Valid() {
		fail(w, http.StatusBadRequest, "Invalid role")
		return
	}
	m := b.findMemberLocked(id, r.PathValue("uid"))
	if m == nil {
		fail(w, http.StatusNotFound, "Member not found")
		return
	}
	m.Role = body.Role
	reply(w, http.StatusOK, *m)
}

func (b *Backend) updateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !b.requireRole(w, id, true) {
		return
	}
	var body struct {
		Status models.MemberStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		fail(w, http.StatusBadRequest, "Invalid status")
		return
	}
	m := b.findMemberLocked(id, r.PathValue("uid"))
	if m == nil {
		fail(w, http.StatusNotFound, "Member not found")
		return
	}
	m.Status = body.Status
	reply(w, http.StatusOK, *m)
}

func (b *Backend) removeMember(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !b.requireRole(w, id, true) {
		return
	}
	uid := r.PathValue("uid")
	list := b.members[id][:0]
	found := false
	for _, m := range b.members[id] {
		if m.UserID == uid {
			found = true
			continue
		}
		list = append(list, m)
	}
	if !found {
		fail(w, http.StatusNotFound, "Member not found")
		return
	}
	b.members[id] = list
	reply(w, http.StatusOK, nil)
}

func (b *Backend) listInvitations(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !b.requireRole(w, id, false) {
		return
	}
	reply(w, http.StatusOK, append([]models.Invitation{}, b.invitations[id]...))
}

func (b *Backend) invite(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !b.requireRole(w, id, true) {
		return
	}
	var p models.InviteParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.Email == "" {
		fail(w, http.StatusBadRequest, "Email is required")
		return
	}
	for _, inv := range b.invitations[id] {
		if inv.Email == p.Email && inv.AcceptedAt == nil {
			fail(w, http.StatusConflict, "Invitation already pending")
			return
		}
	}
	if p.Role == models.RoleNone {
		p.Role = models.RoleMember
	}
	b.seq++
	now := time.Now().UTC()
	inv := models.Invitation{
		ID:             fmt.Sprintf("inv-%d", b.seq),
		OrganizationID: id,
		InviterID:      b.user.ID,
		Email:          p.Email,
		Role:           p.Role,
		Token:          fmt.Sprintf("tok-%d", b.seq),
		ExpiresAt:      now.Add(7 * 24 * time.Hour),
		CreatedAt:      now,
	}
	b.invitations[id] = append(b.invitations[id], inv)
	reply(w, http.StatusCreated, inv)
}

func (b *Backend) revoke(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !b.requireRole(w, id, true) {
		return
	}
	iid := r.PathValue("iid")
	list := b.invitations[id][:0]
	found := false
	for _, inv := range b.invitations[id] {
		if inv.ID == iid {
			found = true
			continue
		}
		list = append(list, inv)
	}
	if !found {
		fail(w, http.StatusNotFound, "Invitation not found")
		return
	}
	b.invitations[id] = list
	reply(w, http.StatusOK, nil)
}

func (b *Backend) findInvitationLocked(token string) *models.Invitation {
	for orgID := range b.invitations {
		for i := range b.invitations[orgID] {
			if b.invitations[orgID][i].Token == token {
				return &b.invitations[orgID][i]
			}
		}
	}
	return nil
}

// details is public; membership is only reported to a signed-in caller.
func (b *Backend) details(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	signedIn := b.access != "" && strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ") == b.access
	inv := b.findInvitationLocked(r.PathValue("token"))
	if inv == nil {
		fail(w, http.StatusNotFound, "Invitation not found")
		return
	}
	org := models.Organization{ID: inv.OrganizationID, Name: "Initech", Slug: "initech"}
	for _, o := range b.orgs {
		if o.ID == inv.OrganizationID {
			org = o
		}
	}
	reply(w, http.StatusOK, models.InvitationDetails{
		Invitation:       *inv,
		Organization:     org,
		Inviter:          models.Inviter{Name: "Peter Gibbons", Email: "peter@example.com"},
		IsExistingMember: signedIn && b.roleLocked(inv.OrganizationID) != models.RoleNone,
	})
}

func (b *Backend) accept(w http.ResponseWriter, r *http.Request) {
	inv := b.findInvitationLocked(r.PathValue("token"))
	switch {
	case inv == nil:
		fail(w, http.StatusNotFound, "Invitation not found")
		return
	case inv.AcceptedAt != nil:
		fail(w, http.StatusConflict, "Invitation already used")
		return
	case !time.Now().Before(inv.ExpiresAt):
		fail(w, http.StatusGone, "Invitation expired")
		return
	}
	now := time.Now().UTC()
	inv.AcceptedAt = &now
	m := member(inv.OrganizationID, b.user.ID, b.user.Email, inv.Role, models.StatusActive)
	b.members[inv.OrganizationID] = append(b.members[inv.OrganizationID], m)
	known := false
	for _, o := range b.orgs {
		known = known || o.ID == inv.OrganizationID
	}
	if !known {
		b.orgs = append(b.orgs, models.Organization{ID: inv.OrganizationID, Name: "Initech", Slug: "initech"})
	}
	reply(w, http.StatusOK, m)
}
