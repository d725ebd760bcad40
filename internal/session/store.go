// Package session holds the authentication state of one browser session:
// identity, access and refresh tokens, and the authenticated flag.
//
// State lives in memory, is mirrored into cookies for the server-rendered
// shell, and is persisted durably. Persistence is loaded only when Rehydrate
// is called; until then the store serves whatever the caller seeded it with.
// Once hydrated, a durable record wins over the seeded snapshot.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/aura-saas/console/internal/cookies"
	"github.com/aura-saas/console/internal/models"
	"github.com/aura-saas/console/internal/persist"
)

// Options configures cookie and storage lifetimes.
type Options struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	UserTTL    time.Duration
	Now        func() time.Time
}

func (o Options) withDefaults() Options {
	if o.AccessTTL <= 0 {
		o.AccessTTL = cookies.AccessTokenTTL
	}
	if o.RefreshTTL <= 0 {
		o.RefreshTTL = cookies.RefreshTokenTTL
	}
	if o.UserTTL <= 0 {
		o.UserTTL = cookies.UserTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Patch is a shallow update applied by SetAuth. Nil fields are left untouched.
type Patch struct {
	IsAuthenticated *bool
	User            *models.Identity
	AccessToken     *string
	RefreshToken    *string
}

// Store is the persisted session store for one browser session.
type Store struct {
	key       string
	persister persist.Store
	jar       cookies.Jar
	logger    *zap.Logger
	opts      Options

	mu    sync.RWMutex
	state models.AuthSession
	// explicit is set when Login, Logout, SetTokens or SetUser ran before
	// hydration; such writes beat the durable record.
	explicit bool

	hydrateOnce sync.Once
	hydrated    chan struct{}
	hydrateErr  error
}

// NewStore creates an empty, unhydrated store. key addresses the durable record.
func NewStore(key string, persister persist.Store, jar cookies.Jar, logger *zap.Logger, opts Options) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		key:       key,
		persister: persister,
		jar:       jar,
		logger:    logger,
		opts:      opts.withDefaults(),
		hydrated:  make(chan struct{}),
	}
}

// Key returns the durable record key.
func (s *Store) Key() string { return s.key }

// Snapshot returns a copy of the current session.
func (s *Store) Snapshot() models.AuthSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.state
	if s.state.User != nil {
		u := *s.state.User
		out.User = &u
	}
	return out
}

// AccessToken returns the current access token.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.AccessToken
}

// RefreshToken returns the current refresh token.
func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.RefreshToken
}

// IsAuthenticated reports the authenticated flag.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.IsAuthenticated
}

// Login replaces the whole session and mirrors it into cookies.
func (s *Store) Login(ctx context.Context, user *models.Identity, accessToken, refreshToken string) error {
	s.mu.Lock()
	s.state = models.AuthSession{
		IsAuthenticated: true,
		User:            user,
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
	}
	s.state.Normalize()
	s.markExplicitLocked()
	state := s.state
	s.mu.Unlock()

	s.writeTokenCookies(state.AccessToken, state.RefreshToken)
	s.writeUserCookie(state.User)
	return s.persist(ctx, state)
}

// Logout clears the session, its cookies and its durable record. It is idempotent.
func (s *Store) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.state = models.AuthSession{}
	s.markExplicitLocked()
	s.mu.Unlock()

	s.jar.Remove(cookies.AccessToken)
	s.jar.Remove(cookies.RefreshToken)
	s.jar.Remove(cookies.User)
	if err := s.persister.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// SetUser replaces the cached identity.
func (s *Store) SetUser(ctx context.Context, user *models.Identity) error {
	s.mu.Lock()
	s.state.User = user
	s.markExplicitLocked()
	state := s.state
	s.mu.Unlock()

	s.writeUserCookie(state.User)
	return s.persist(ctx, state)
}

// SetTokens stores rotated tokens and marks the session authenticated
// without touching the cached identity.
func (s *Store) SetTokens(ctx context.Context, accessToken, refreshToken string) error {
	s.mu.Lock()
	s.state.AccessToken = accessToken
	if refreshToken != "" {
		s.state.RefreshToken = refreshToken
	}
	s.state.IsAuthenticated = true
	s.state.Normalize()
	s.markExplicitLocked()
	state := s.state
	s.mu.Unlock()

	s.writeTokenCookies(state.AccessToken, state.RefreshToken)
	return s.persist(ctx, state)
}

// SetAuth shallow-merges p into the session. It is the seeding path used by
// the bootstrapper and does not write cookies; before hydration it does not
// write durable storage either.
func (s *Store) SetAuth(ctx context.Context, p Patch) error {
	s.mu.Lock()
	if p.IsAuthenticated != nil {
		s.state.IsAuthenticated = *p.IsAuthenticated
	}
	if p.User != nil {
		s.state.User = p.User
	}
	if p.AccessToken != nil {
		s.state.AccessToken = *p.AccessToken
	}
	if p.RefreshToken != nil {
		s.state.RefreshToken = *p.RefreshToken
	}
	s.state.Normalize()
	state := s.state
	s.mu.Unlock()

	if !s.HasHydrated() {
		return nil
	}
	return s.persist(ctx, state)
}

func (s *Store) markExplicitLocked() {
	select {
	case <-s.hydrated:
	default:
		s.explicit = true
	}
}

// Rehydrate loads the durable record exactly once. Concurrent callers wait for
// the same load. A missing record keeps the current state and writes it
// through; a failed load keeps the current state and is reported. Either way
// the store counts as hydrated afterwards.
func (s *Store) Rehydrate(ctx context.Context) error {
	s.hydrateOnce.Do(func() {
		defer close(s.hydrated)

		var stored models.AuthSession
		err := s.persister.Load(ctx, s.key, &stored)

		s.mu.Lock()
		switch {
		case err == nil && !s.explicit:
			stored.Normalize()
			s.state = stored
		case err != nil && !errors.Is(err, persist.ErrNotFound):
			s.hydrateErr = fmt.Errorf("load session: %w", err)
		}
		state := s.state
		writeThrough := (err != nil || s.explicit) && s.hydrateErr == nil && !state.Empty()
		s.mu.Unlock()

		if writeThrough {
			if perr := s.persistNow(ctx, state); perr != nil {
				s.logger.Warn("session write-through failed", zap.String("key", s.key), zap.Error(perr))
			}
		}
		if s.hydrateErr != nil {
			s.logger.Warn("session rehydrate failed", zap.String("key", s.key), zap.Error(s.hydrateErr))
		}
	})
	<-s.hydrated
	return s.hydrateErr
}

// Hydrated is closed once Rehydrate has completed.
func (s *Store) Hydrated() <-chan struct{} { return s.hydrated }

// HasHydrated reports whether Rehydrate has completed.
func (s *Store) HasHydrated() bool {
	select {
	case <-s.hydrated:
		return true
	default:
		return false
	}
}

// WaitHydrated blocks until hydration completes or ctx ends.
func (s *Store) WaitHydrated(ctx context.Context) error {
	select {
	case <-s.hydrated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) persist(ctx context.Context, state models.AuthSession) error {
	if !s.HasHydrated() {
		return nil
	}
	return s.persistNow(ctx, state)
}

func (s *Store) persistNow(ctx context.Context, state models.AuthSession) error {
	if err := s.persister.Save(ctx, s.key, state, s.opts.RefreshTTL); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) writeTokenCookies(access, refresh string) {
	if access != "" {
		s.jar.Set(cookies.AccessToken, access, s.accessCookieTTL(access))
	} else {
		s.jar.Remove(cookies.AccessToken)
	}
	if refresh != "" {
		s.jar.Set(cookies.RefreshToken, refresh, s.opts.RefreshTTL)
	}
}

func (s *Store) writeUserCookie(user *models.Identity) {
	if user == nil {
		s.jar.Remove(cookies.User)
		return
	}
	raw, err := json.Marshal(user)
	if err != nil {
		s.logger.Warn("encode user cookie", zap.Error(err))
		return
	}
	s.jar.Set(cookies.User, string(raw), s.opts.UserTTL)
}

// accessCookieTTL caps the cookie lifetime at the token's own exp claim when
// the token is a JWT that carries one.
func (s *Store) accessCookieTTL(token string) time.Duration {
	ttl := s.opts.AccessTTL
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil || claims.ExpiresAt == nil {
		return ttl
	}
	if left := claims.ExpiresAt.Time.Sub(s.opts.Now()); left > 0 && left < ttl {
		return left
	}
	return ttl
}
