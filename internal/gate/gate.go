// Package gate decides whether protected content may be shown for a session.
package gate

import (
	"context"
	"sync"

	"github.com/aura-saas/console/internal/models"
	"github.com/aura-saas/console/internal/tenant"
)

// State of a gate.
type State int

const (
	Unresolved State = iota
	Authenticated
	Unauthenticated
)

func (s State) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case Unauthenticated:
		return "unauthenticated"
	}
	return "unresolved"
}

// AuthSource is the session store as seen by the gate.
type AuthSource interface {
	Hydrated() <-chan struct{}
	IsAuthenticated() bool
}

// Gate moves from Unresolved to Authenticated or Unauthenticated once the
// session has hydrated. While unresolved nothing may render or redirect.
type Gate struct {
	src        AuthSource
	onRedirect func()

	mu           sync.Mutex
	state        State
	redirectOnce sync.Once
}

// New creates an unresolved gate. onRedirect (optional) runs at most once,
// the first time the gate resolves to Unauthenticated.
func New(src AuthSource, onRedirect func()) *Gate {
	return &Gate{src: src, onRedirect: onRedirect}
}

// State returns the last resolved state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Resolve waits for hydration, or for ctx to end, and returns the new state.
// It may be called repeatedly; authentication is re-read each time.
func (g *Gate) Resolve(ctx context.Context) State {
	hydrated := g.src.Hydrated()
	select {
	case <-hydrated:
	default:
		select {
		case <-hydrated:
		case <-ctx.Done():
			return g.State()
		}
	}

	next := Unauthenticated
	if g.src.IsAuthenticated() {
		next = Authenticated
	}
	g.mu.Lock()
	g.state = next
	g.mu.Unlock()

	if next == Unauthenticated {
		g.redirectOnce.Do(func() {
			if g.onRedirect != nil {
				g.onRedirect()
			}
		})
	}
	return next
}

// Access is what the current role allows.
type Access struct {
	IsHydrated bool        `json:"isHydrated"`
	Role       models.Role `json:"role"`
	CanManage  bool        `json:"canManage"`
}

// AccessFrom derives access from a tenant snapshot. Before hydration nothing
// is granted, so callers must show a loading state rather than a denial.
func AccessFrom(tc tenant.Context) Access {
	return Access{
		IsHydrated: tc.IsHydrated,
		Role:       tc.CurrentRole,
		CanManage:  tc.CanManage(),
	}
}
