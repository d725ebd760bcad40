// Package tenant holds the organizations a user belongs to, the active one,
// and the caller's role in it.
package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/aura-saas/console/internal/cookies"
	"github.com/aura-saas/console/internal/models"
	"github.com/aura-saas/console/internal/persist"
)

// Context is a read-only view of the tenant state.
type Context struct {
	Organizations       []models.Organization `json:"organizations"`
	CurrentOrganization *models.Organization  `json:"currentOrganization"`
	CurrentRole         models.Role           `json:"currentRole"`
	IsHydrated          bool                  `json:"isHydrated"`
}

// CanManage is true only once hydrated and only for owners and admins.
func (c Context) CanManage() bool {
	return c.IsHydrated && c.CurrentRole.CanManage()
}

// Find returns the organization with id, if listed.
func (c Context) Find(id string) (models.Organization, bool) {
	for _, o := range c.Organizations {
		if o.ID == id {
			return o, true
		}
	}
	return models.Organization{}, false
}

// record is what goes to durable storage. IsHydrated is never persisted.
type record struct {
	CurrentOrganization *models.Organization  `json:"currentOrganization"`
	CurrentRole         models.Role           `json:"currentRole"`
	Organizations       []models.Organization `json:"organizations"`
}

// Store is the persisted tenant store for one browser session.
type Store struct {
	key       string
	persister persist.Store
	jar       cookies.Jar
	logger    *zap.Logger

	mu         sync.RWMutex
	orgs       []models.Organization
	index      map[string]int
	current    *models.Organization
	role       models.Role
	isHydrated bool
	explicit   bool

	loadOnce sync.Once
	loaded   chan struct{}
	loadErr  error
}

// NewStore creates an empty store. IsHydrated starts false on every construction.
func NewStore(key string, persister persist.Store, jar cookies.Jar, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		key:       key,
		persister: persister,
		jar:       jar,
		logger:    logger,
		index:     make(map[string]int),
		loaded:    make(chan struct{}),
	}
}

// Snapshot returns a copy of the tenant state.
func (s *Store) Snapshot() Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Context{
		Organizations: append([]models.Organization(nil), s.orgs...),
		CurrentRole:   s.role,
		IsHydrated:    s.isHydrated,
	}
	if s.current != nil {
		c := *s.current
		out.CurrentOrganization = &c
	}
	return out
}

// CanManage derives admin access from the current state.
func (s *Store) CanManage() bool {
	return s.Snapshot().CanManage()
}

// IsHydrated reports whether reconciliation has completed.
func (s *Store) IsHydrated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isHydrated
}

// SetHydrated flips the hydration flag.
func (s *Store) SetHydrated(v bool) {
	s.mu.Lock()
	s.isHydrated = v
	s.mu.Unlock()
}

// SetOrganizations replaces the list. Duplicate ids collapse onto their first
// occurrence; order is otherwise preserved.
func (s *Store) SetOrganizations(ctx context.Context, list []models.Organization) error {
	s.mu.Lock()
	s.orgs = nil
	s.index = make(map[string]int, len(list))
	for _, o := range list {
		s.addLocked(o)
	}
	s.markExplicitLocked()
	rec := s.recordLocked()
	s.mu.Unlock()
	return s.persist(ctx, rec)
}

// AddOrganization appends org, or replaces the entry with the same id in place.
func (s *Store) AddOrganization(ctx context.Context, org models.Organization) error {
	s.mu.Lock()
	s.addLocked(org)
	s.markExplicitLocked()
	rec := s.recordLocked()
	s.mu.Unlock()
	return s.persist(ctx, rec)
}

func (s *Store) addLocked(o models.Organization) {
	if i, ok := s.index[o.ID]; ok {
		s.orgs[i] = o
		return
	}
	s.index[o.ID] = len(s.orgs)
	s.orgs = append(s.orgs, o)
}

// SetCurrentOrganization selects org with the given role (RoleNone when the
// role lookup has not resolved yet). Cookies are written or removed to match.
func (s *Store) SetCurrentOrganization(ctx context.Context, org *models.Organization, role models.Role) error {
	role = models.ParseRole(string(role))

	s.mu.Lock()
	if org != nil {
		c := *org
		s.current = &c
	} else {
		s.current = nil
	}
	s.role = role
	s.markExplicitLocked()
	rec := s.recordLocked()
	s.mu.Unlock()

	s.writeCookies(rec.CurrentOrganization, rec.CurrentRole)
	return s.persist(ctx, rec)
}

// SetRole updates only the role of the current selection.
func (s *Store) SetRole(ctx context.Context, role models.Role) error {
	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()
	return s.SetCurrentOrganization(ctx, current, role)
}

// ClearOrganizations resets everything and removes cookies and the durable record.
func (s *Store) ClearOrganizations(ctx context.Context) error {
	s.mu.Lock()
	s.orgs = nil
	s.index = make(map[string]int)
	s.current = nil
	s.role = models.RoleNone
	s.markExplicitLocked()
	s.mu.Unlock()

	s.jar.Remove(cookies.CurrentOrganization)
	s.jar.Remove(cookies.CurrentRole)
	if err := s.persister.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}
	return nil
}

// SeedSelection applies a selection decoded from cookies without writing
// cookies back or touching durable storage.
func (s *Store) SeedSelection(org *models.Organization, role models.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if org != nil {
		c := *org
		s.current = &c
	}
	s.role = models.ParseRole(string(role))
}

func (s *Store) markExplicitLocked() {
	select {
	case <-s.loaded:
	default:
		s.explicit = true
	}
}

// Rehydrate loads the durable record once. A stored record replaces seeded
// state unless explicit writes happened first. It does not set IsHydrated;
// that happens after reconciliation with the backend.
func (s *Store) Rehydrate(ctx context.Context) error {
	s.loadOnce.Do(func() {
		defer close(s.loaded)

		var rec record
		err := s.persister.Load(ctx, s.key, &rec)
		if err != nil && !errors.Is(err, persist.ErrNotFound) {
			s.loadErr = fmt.Errorf("load tenant: %w", err)
			s.logger.Warn("tenant rehydrate failed", zap.String("key", s.key), zap.Error(err))
			return
		}

		s.mu.Lock()
		if err == nil && !s.explicit {
			s.orgs = nil
			s.index = make(map[string]int, len(rec.Organizations))
			for _, o := range rec.Organizations {
				s.addLocked(o)
			}
			s.current = rec.CurrentOrganization
			s.role = models.ParseRole(string(rec.CurrentRole))
		}
		out := s.recordLocked()
		writeThrough := (err != nil || s.explicit) && (out.CurrentOrganization != nil || len(out.Organizations) > 0)
		s.mu.Unlock()

		if writeThrough {
			if perr := s.persistNow(ctx, out); perr != nil {
				s.logger.Warn("tenant write-through failed", zap.String("key", s.key), zap.Error(perr))
			}
		}
	})
	<-s.loaded
	return s.loadErr
}

// Loaded is closed once Rehydrate has completed.
func (s *Store) Loaded() <-chan struct{} { return s.loaded }

func (s *Store) hasLoaded() bool {
	select {
	case <-s.loaded:
		return true
	default:
		return false
	}
}

func (s *Store) recordLocked() record {
	rec := record{
		CurrentRole:   s.role,
		Organizations: append([]models.Organization(nil), s.orgs...),
	}
	if s.current != nil {
		c := *s.current
		rec.CurrentOrganization = &c
	}
	return rec
}

func (s *Store) persist(ctx context.Context, rec record) error {
	if !s.hasLoaded() {
		return nil
	}
	return s.persistNow(ctx, rec)
}

func (s *Store) persistNow(ctx context.Context, rec record) error {
	if err := s.persister.Save(ctx, s.key, rec, cookies.TenantTTL); err != nil {
		return fmt.Errorf("save tenant: %w", err)
	}
	return nil
}

func (s *Store) writeCookies(org *models.Organization, role models.Role) {
	if org != nil {
		raw, err := json.Marshal(org)
		if err == nil {
			s.jar.Set(cookies.CurrentOrganization, string(raw), cookies.TenantTTL)
		}
	} else {
		s.jar.Remove(cookies.CurrentOrganization)
	}
	if role != models.RoleNone {
		s.jar.Set(cookies.CurrentRole, string(role), cookies.TenantTTL)
	} else {
		s.jar.Remove(cookies.CurrentRole)
	}
}
