// Package console builds the per-browser-session context object that bundles
// the session and tenant stores, the API client and the gate.
package console

import (
	"sync"

	"github.com/aura-saas/console/internal/apiclient"
	"github.com/aura-saas/console/internal/bootstrap"
	"github.com/aura-saas/console/internal/cookies"
	"github.com/aura-saas/console/internal/gate"
	"github.com/aura-saas/console/internal/session"
	"github.com/aura-saas/console/internal/tenant"
	"github.com/aura-saas/console/pkg/utils"
)

// Session is one browser session as seen by a single request.
type Session struct {
	id  string
	key string
	jar cookies.Jar

	store  *session.Store
	tenant *tenant.Store
	api    *apiclient.Client
	gate   *gate.Gate
	guard  bootstrap.Guard

	snapshot bootstrap.Snapshot

	readyOnce sync.Once
	ready     chan struct{}
	mu        sync.Mutex
	result    bootstrap.Result
}

// ID is the raw session id carried by the console_sid cookie.
func (s *Session) ID() string { return s.id }

// Key is the hashed id that addresses durable storage.
func (s *Session) Key() string { return s.key }

// Tag is a short, non-secret label for logs and audit records.
func (s *Session) Tag() string { return utils.ShortKey(s.id) }

func (s *Session) Jar() cookies.Jar             { return s.jar }
func (s *Session) SessionStore() *session.Store { return s.store }
func (s *Session) TenantStore() *tenant.Store   { return s.tenant }
func (s *Session) API() *apiclient.Client       { return s.api }
func (s *Session) Gate() *gate.Gate             { return s.gate }
func (s *Session) Guard() *bootstrap.Guard      { return &s.guard }
func (s *Session) Snapshot() bootstrap.Snapshot { return s.snapshot }
func (s *Session) Ready() <-chan struct{}       { return s.ready }
func (s *Session) Access() gate.Access          { return gate.AccessFrom(s.tenant.Snapshot()) }
func (s *Session) IsAuthenticated() bool        { return s.store.IsAuthenticated() }

func (s *Session) CurrentOrganizationID() string {
	tc := s.tenant.Snapshot()
	if tc.CurrentOrganization == nil {
		return ""
	}
	return tc.CurrentOrganization.ID
}

// UserID returns the cached identity's id, or "".
func (s *Session) UserID() string {
	snap := s.store.Snapshot()
	if snap.User == nil {
		return ""
	}
	return snap.User.ID
}

// Result returns the outcome of the last bootstrap.
func (s *Session) Result() bootstrap.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

func (s *Session) finish(res bootstrap.Result) {
	s.mu.Lock()
	s.result = res
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.ready) })
}
