package console

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-saas/console/internal/apiclient"
	"github.com/aura-saas/console/internal/bootstrap"
	"github.com/aura-saas/console/internal/cookies"
	"github.com/aura-saas/console/internal/gate"
	"github.com/aura-saas/console/internal/middleware"
	"github.com/aura-saas/console/internal/persist"
	"github.com/aura-saas/console/internal/session"
	"github.com/aura-saas/console/internal/tenant"
	"github.com/aura-saas/console/pkg/utils"
)

// ContextSession is the gin context key holding the *Session.
const ContextSession = "console_session"

// Events receives session lifecycle events, identified by session tag. Any
// field may be nil.
type Events struct {
	Refresh   func(ctx context.Context, tag, userID string, outcome apiclient.RefreshOutcome)
	Logout    func(ctx context.Context, tag, userID string)
	Redirect  func(tag string)
	Response  func(method, path string, status int, elapsed time.Duration)
	Bootstrap func(ctx context.Context, s *Session, res bootstrap.Result)
}

// Config configures sessions built by a Factory.
type Config struct {
	API              apiclient.Config
	Cookies          cookies.Options
	Session          session.Options
	BootstrapTimeout time.Duration
	// ResumePaths are path prefixes of requests made by a loaded page. They
	// skip the identity fetch of a full page bootstrap.
	ResumePaths []string
}

// DefaultResumePaths covers the JSON API and the notification socket.
var DefaultResumePaths = []string{"/api/", "/ws"}

// Factory builds Sessions. One Factory serves the whole process; it owns the
// shared refresher so that requests of one browser session refresh once.
type Factory struct {
	cfg       Config
	sessions  persist.Store
	tenants   persist.Store
	boot      *bootstrap.Bootstrapper
	refresher *apiclient.Refresher
	events    Events
	logger    *zap.Logger
}

// NewFactory wires the durable stores and the bootstrapper.
func NewFactory(cfg Config, sessions, tenants persist.Store, boot *bootstrap.Bootstrapper, events Events, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BootstrapTimeout <= 0 {
		cfg.BootstrapTimeout = 5 * time.Second
	}
	if cfg.ResumePaths == nil {
		cfg.ResumePaths = DefaultResumePaths
	}
	return &Factory{
		cfg:       cfg,
		sessions:  sessions,
		tenants:   tenants,
		boot:      boot,
		refresher: apiclient.NewRefresher(),
		events:    events,
		logger:    logger,
	}
}

// Bootstrapper returns the shared bootstrapper.
func (f *Factory) Bootstrapper() *bootstrap.Bootstrapper { return f.boot }

// New builds an unhydrated Session for id over jar.
func (f *Factory) New(id string, jar cookies.Jar) *Session {
	key := utils.HashKey(id)
	s := &Session{
		id:       id,
		key:      key,
		jar:      jar,
		snapshot: bootstrap.FromJar(jar),
		ready:    make(chan struct{}),
	}
	s.store = session.NewStore(key, f.sessions, jar, f.logger, f.cfg.Session)
	s.tenant = tenant.NewStore(key, f.tenants, jar, f.logger)
	s.api = apiclient.New(f.cfg.API, s.store, f.refresher, f.hooks(s), f.logger)
	s.gate = gate.New(s.store, func() {
		f.logger.Debug("gate redirecting to login", zap.String("session", s.Tag()))
		if f.events.Redirect != nil {
			f.events.Redirect(s.Tag())
		}
	})
	return s
}

func (f *Factory) hooks(s *Session) apiclient.Hooks {
	return apiclient.Hooks{
		OnRefresh: func(ctx context.Context, _ string, outcome apiclient.RefreshOutcome) {
			if f.events.Refresh != nil {
				f.events.Refresh(ctx, s.Tag(), s.UserID(), outcome)
			}
		},
		OnLogout: func(ctx context.Context, _ string) {
			if f.events.Logout != nil {
				f.events.Logout(ctx, s.Tag(), s.UserID())
			}
		},
		OnSessionEnded: func(ctx context.Context, key string) {
			f.boot.ForgetOrganizations(key)
			if err := s.tenant.ClearOrganizations(ctx); err != nil {
				f.logger.Warn("clear organizations after forced logout", zap.String("session", s.Tag()), zap.Error(err))
			}
		},
		OnResponse: f.events.Response,
	}
}

// Open builds a Session and bootstraps it.
func (f *Factory) Open(ctx context.Context, id string, jar cookies.Jar) *Session {
	s := f.New(id, jar)
	f.Bootstrap(ctx, s)
	return s
}

// Bootstrap runs the full page bootstrap for s, bounded by the configured
// timeout, and marks s ready.
func (f *Factory) Bootstrap(ctx context.Context, s *Session) bootstrap.Result {
	return f.bootstrap(ctx, s, f.boot.Run)
}

func (f *Factory) bootstrap(ctx context.Context, s *Session, run func(context.Context, bootstrap.Target, bootstrap.Snapshot) bootstrap.Result) bootstrap.Result {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.BootstrapTimeout)
	defer cancel()
	res := run(ctx, s, s.snapshot)
	s.finish(res)
	if f.events.Bootstrap != nil {
		f.events.Bootstrap(ctx, s, res)
	}
	return res
}

// Middleware attaches a bootstrapped Session to every request. It issues a
// console_sid cookie when the browser has none.
func (f *Factory) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		jar := cookies.NewGinJar(c, f.cfg.Cookies)
		id, ok := jar.Get(cookies.SessionID)
		if _, err := uuid.Parse(id); !ok || err != nil {
			id = uuid.NewString()
			jar.Set(cookies.SessionID, id, cookies.SessionIDTTL)
		}
		s := f.New(id, jar)
		c.Set(middleware.ContextSessionTag, s.Tag())
		if f.resumes(c.Request.URL.Path) {
			f.bootstrap(c.Request.Context(), s, f.boot.Resume)
		} else {
			f.Bootstrap(c.Request.Context(), s)
		}
		c.Set(ContextSession, s)
		c.Next()
	}
}

func (f *Factory) resumes(path string) bool {
	for _, prefix := range f.cfg.ResumePaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// FromContext returns the request's Session.
func FromContext(c *gin.Context) (*Session, bool) {
	v, ok := c.Get(ContextSession)
	if !ok {
		return nil, false
	}
	s, ok := v.(*Session)
	return s, ok && s != nil
}

// Lookup adapts FromContext for the gate middleware.
func Lookup(c *gin.Context) (gate.Source, bool) {
	s, ok := FromContext(c)
	if !ok {
		return nil, false
	}
	return s, true
}
