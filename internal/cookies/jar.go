// Package cookies mirrors session and tenant state into browser-visible cookies
// so the server-rendered shell can read it before any store has loaded.
package cookies

import (
	"sync"
	"time"
)

// Cookie names shared by the session and tenant stores.
const (
	AccessToken         = "accessToken"
	RefreshToken        = "refreshToken"
	User                = "user"
	CurrentOrganization = "currentOrganization"
	CurrentRole         = "currentRole"
	SessionID           = "console_sid"
)

// Default lifetimes.
const (
	AccessTokenTTL  = 24 * time.Hour
	RefreshTokenTTL = 30 * 24 * time.Hour
	UserTTL         = 7 * 24 * time.Hour
	TenantTTL       = 7 * 24 * time.Hour
	SessionIDTTL    = 30 * 24 * time.Hour
)

// Jar reads and writes named cookies. Implementations handle any escaping
// their transport needs; callers always see raw values.
type Jar interface {
	Get(name string) (string, bool)
	Set(name, value string, ttl time.Duration)
	Remove(name string)
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryJar is an in-process Jar. It is safe for concurrent use.
type MemoryJar struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryJar returns an empty jar.
func NewMemoryJar() *MemoryJar {
	return &MemoryJar{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get returns an unexpired value.
func (j *MemoryJar) Get(name string) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[name]
	if !ok {
		return "", false
	}
	if !e.expiresAt.IsZero() && !j.now().Before(e.expiresAt) {
		delete(j.entries, name)
		return "", false
	}
	return e.value, true
}

// Set stores value until ttl elapses. A non-positive ttl removes the cookie.
func (j *MemoryJar) Set(name, value string, ttl time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if ttl <= 0 {
		delete(j.entries, name)
		return
	}
	j.entries[name] = memoryEntry{value: value, expiresAt: j.now().Add(ttl)}
}

// Remove deletes the cookie.
func (j *MemoryJar) Remove(name string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, name)
}

// Names lists the cookies currently held.
func (j *MemoryJar) Names() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	names := make([]string, 0, len(j.entries))
	for n := range j.entries {
		names = append(names, n)
	}
	return names
}

// TTL returns the remaining lifetime of a cookie, or 0.
func (j *MemoryJar) TTL(name string) time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[name]
	if !ok {
		return 0
	}
	return e.expiresAt.Sub(j.now())
}
