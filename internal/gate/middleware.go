package gate

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aura-saas/console/internal/tenant"
	"github.com/aura-saas/console/pkg/response"
)

// ContextAccess is the gin context key holding the request's Access.
const ContextAccess = "access"

// Source is the per-request state the middleware checks.
type Source interface {
	Gate() *Gate
	TenantStore() *tenant.Store
	// Ready is closed once the request's bootstrap has finished.
	Ready() <-chan struct{}
}

// Lookup finds the Source of the current request.
type Lookup func(c *gin.Context) (Source, bool)

// Options configures the middleware responses.
type Options struct {
	LoginPath  string
	APIPrefix  string
	Wait       time.Duration
	RetryAfter time.Duration
	// Loading renders the placeholder for page requests; nil writes the JSON envelope.
	Loading func(c *gin.Context)
	// Forbidden renders the denial for page requests; nil writes the JSON envelope.
	Forbidden func(c *gin.Context)
}

func (o Options) withDefaults() Options {
	if o.LoginPath == "" {
		o.LoginPath = "/login"
	}
	if o.APIPrefix == "" {
		o.APIPrefix = "/api"
	}
	if o.Wait <= 0 {
		o.Wait = 3 * time.Second
	}
	if o.RetryAfter <= 0 {
		o.RetryAfter = time.Second
	}
	return o
}

func (o Options) isAPI(c *gin.Context) bool {
	return strings.HasPrefix(c.Request.URL.Path, o.APIPrefix+"/") || c.Request.URL.Path == o.APIPrefix
}

// Require lets authenticated sessions through once their bootstrap is done.
// Unauthenticated page requests are redirected to login, API requests get 401.
// While the session is unresolved only a loading placeholder is written.
func Require(lookup Lookup, opts Options) gin.HandlerFunc {
	opts = opts.withDefaults()
	return func(c *gin.Context) {
		src, ok := lookup(c)
		if !ok {
			loading(c, opts)
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), opts.Wait)
		defer cancel()

		select {
		case <-src.Ready():
		case <-ctx.Done():
		}
		switch src.Gate().Resolve(ctx) {
		case Unauthenticated:
			deny(c, opts)
			return
		case Authenticated:
			select {
			case <-src.Ready():
				c.Set(ContextAccess, AccessFrom(src.TenantStore().Snapshot()))
				c.Next()
				return
			default:
			}
		}
		loading(c, opts)
	}
}

// RequireManage must run after Require. Before the tenant is hydrated it shows
// the loading placeholder; once hydrated, non-managers get 403.
func RequireManage(lookup Lookup, opts Options) gin.HandlerFunc {
	opts = opts.withDefaults()
	return func(c *gin.Context) {
		src, ok := lookup(c)
		if !ok {
			loading(c, opts)
			return
		}
		access := AccessFrom(src.TenantStore().Snapshot())
		if !access.IsHydrated {
			loading(c, opts)
			return
		}
		if !access.CanManage {
			if opts.isAPI(c) || opts.Forbidden == nil {
				response.Forbidden(c, "insufficient permissions")
			} else {
				c.Status(http.StatusForbidden)
				opts.Forbidden(c)
			}
			c.Abort()
			return
		}
		c.Set(ContextAccess, access)
		c.Next()
	}
}

// AccessOf returns the Access stored by Require or RequireManage.
func AccessOf(c *gin.Context) Access {
	v, ok := c.Get(ContextAccess)
	if !ok {
		return Access{}
	}
	a, _ := v.(Access)
	return a
}

func loading(c *gin.Context, opts Options) {
	c.Header("Retry-After", strconv.Itoa(int(opts.RetryAfter/time.Second)))
	if opts.isAPI(c) || opts.Loading == nil {
		response.ServiceUnavailable(c, "session is loading")
	} else {
		c.Status(http.StatusServiceUnavailable)
		opts.Loading(c)
	}
	c.Abort()
}

func deny(c *gin.Context, opts Options) {
	if opts.isAPI(c) {
		response.Unauthorized(c, "authentication required")
		c.Abort()
		return
	}
	target := opts.LoginPath + "?next=" + url.QueryEscape(c.Request.URL.RequestURI())
	c.Redirect(http.StatusFound, target)
	c.Abort()
}
