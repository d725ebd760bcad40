package cookies

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Options controls the attributes of cookies written by GinJar.
type Options struct {
	Domain   string
	Secure   bool
	HTTPOnly bool
}

// GinJar reads request cookies and writes Set-Cookie headers on the response.
// gin query-escapes values on write and unescapes them on read.
// Writes made during the request are visible to later Gets on the same jar.
type GinJar struct {
	c       *gin.Context
	opts    Options
	mu      sync.Mutex
	overlay map[string]*string
}

// NewGinJar wraps the gin context of the current request.
func NewGinJar(c *gin.Context, opts Options) *GinJar {
	return &GinJar{c: c, opts: opts, overlay: make(map[string]*string)}
}

// Get returns the value written during this request, or the request cookie.
func (j *GinJar) Get(name string) (string, bool) {
	j.mu.Lock()
	v, ok := j.overlay[name]
	j.mu.Unlock()
	if ok {
		if v == nil {
			return "", false
		}
		return *v, true
	}
	raw, err := j.c.Cookie(name)
	if err != nil || raw == "" {
		return "", false
	}
	return raw, true
}

// Set writes the cookie with the given lifetime.
func (j *GinJar) Set(name, value string, ttl time.Duration) {
	if ttl <= 0 {
		j.Remove(name)
		return
	}
	j.mu.Lock()
	j.overlay[name] = &value
	j.mu.Unlock()
	j.write(name, value, int(ttl/time.Second))
}

// Remove expires the cookie in the browser.
func (j *GinJar) Remove(name string) {
	j.mu.Lock()
	j.overlay[name] = nil
	j.mu.Unlock()
	j.write(name, "", -1)
}

// write sets the cookie attributes. The session id is always HttpOnly.
func (j *GinJar) write(name, value string, maxAge int) {
	httpOnly := j.opts.HTTPOnly || name == SessionID
	j.c.SetSameSite(http.SameSiteLaxMode)
	j.c.SetCookie(name, value, maxAge, "/", j.opts.Domain, j.opts.Secure, httpOnly)
}
