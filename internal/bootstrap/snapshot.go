package bootstrap

import (
	"encoding/json"
	"sync"

	"github.com/aura-saas/console/internal/cookies"
	"github.com/aura-saas/console/internal/models"
	"github.com/aura-saas/console/pkg/utils"
)

// Snapshot is the state decoded from request cookies before any store loads.
type Snapshot struct {
	AccessToken         string               `json:"-"`
	RefreshToken        string               `json:"-"`
	User                *models.Identity     `json:"user"`
	CurrentOrganization *models.Organization `json:"currentOrganization"`
	CurrentRole         models.Role          `json:"currentRole"`
}

// FromJar reads the snapshot cookies. Malformed JSON degrades to nil and an
// unknown role to RoleNone.
func FromJar(jar cookies.Jar) Snapshot {
	var s Snapshot
	s.AccessToken, _ = jar.Get(cookies.AccessToken)
	s.RefreshToken, _ = jar.Get(cookies.RefreshToken)

	if raw, ok := jar.Get(cookies.User); ok {
		var u models.Identity
		if err := json.Unmarshal([]byte(raw), &u); err == nil {
			s.User = &u
		}
	}
	if raw, ok := jar.Get(cookies.CurrentOrganization); ok {
		var o models.Organization
		if err := json.Unmarshal([]byte(raw), &o); err == nil && o.ID != "" {
			s.CurrentOrganization = &o
		}
	}
	if raw, ok := jar.Get(cookies.CurrentRole); ok {
		s.CurrentRole = models.ParseRole(raw)
	}
	return s
}

// IsAuthenticated is the pre-hydration guess: an access token cookie exists.
func (s Snapshot) IsAuthenticated() bool { return s.AccessToken != "" }

// Fingerprint identifies the snapshot's contents.
func (s Snapshot) Fingerprint() string {
	raw, _ := json.Marshal(s)
	return utils.HashKey(s.AccessToken, s.RefreshToken, string(raw))
}

// Public is the part of the snapshot safe to embed in a rendered page.
type Public struct {
	IsAuthenticated     bool                 `json:"isAuthenticated"`
	User                *models.Identity     `json:"user"`
	CurrentOrganization *models.Organization `json:"currentOrganization"`
	CurrentRole         models.Role          `json:"currentRole"`
}

func (s Snapshot) Public() Public {
	return Public{
		IsAuthenticated:     s.IsAuthenticated(),
		User:                s.User,
		CurrentOrganization: s.CurrentOrganization,
		CurrentRole:         s.CurrentRole,
	}
}

// Guard remembers which snapshots have already been applied to a target.
type Guard struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// First reports whether fingerprint is seen for the first time.
func (g *Guard) First(fingerprint string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen == nil {
		g.seen = make(map[string]struct{})
	}
	if _, ok := g.seen[fingerprint]; ok {
		return false
	}
	g.seen[fingerprint] = struct{}{}
	return true
}
