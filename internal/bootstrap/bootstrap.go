// Package bootstrap seeds the session and tenant stores from request cookies,
// rehydrates them, and reconciles them with the backend.
package bootstrap

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aura-saas/console/internal/apiclient"
	"github.com/aura-saas/console/internal/models"
	"github.com/aura-saas/console/internal/session"
	"github.com/aura-saas/console/internal/tenant"
	"github.com/aura-saas/console/pkg/utils"
)

// Target is what the bootstrapper operates on: one browser session's stores
// and client, plus its seeding guard.
type Target interface {
	SessionStore() *session.Store
	TenantStore() *tenant.Store
	API() *apiclient.Client
	Guard() *Guard
}

// Result summarises one run.
type Result struct {
	Seeded               bool
	Authenticated        bool
	IdentityRefreshed    bool
	OrganizationsFetched bool
	CurrentOrganization  string
	CurrentRole          models.Role
}

// Options configures the organization list cache.
type Options struct {
	CacheSize int
	CacheTTL  time.Duration
}

// Bootstrapper is shared by all requests.
type Bootstrapper struct {
	logger *zap.Logger
	orgs   *expirable.LRU[string, []models.Organization]
}

// New builds a bootstrapper with an expiring organization list cache keyed by session.
func New(opts Options, logger *zap.Logger) *Bootstrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	return &Bootstrapper{
		logger: logger,
		orgs:   expirable.NewLRU[string, []models.Organization](opts.CacheSize, nil, opts.CacheTTL),
	}
}

// Organizations returns the caller's organizations, served from cache when fresh.
func (b *Bootstrapper) Organizations(ctx context.Context, key string, api *apiclient.Client) ([]models.Organization, error) {
	if list, ok := b.orgs.Get(key); ok {
		return append([]models.Organization(nil), list...), nil
	}
	list, err := api.Organizations(ctx)
	if err != nil {
		return nil, err
	}
	b.orgs.Add(key, list)
	return append([]models.Organization(nil), list...), nil
}

// ForgetOrganizations drops the cached list, e.g. after creating an organization.
func (b *Bootstrapper) ForgetOrganizations(key string) {
	b.orgs.Remove(key)
}

// Run performs the full bootstrap of a page load, including the canonical
// identity fetch. It never fails: every backend error degrades, and the
// tenant store is always marked hydrated at the end.
func (b *Bootstrapper) Run(ctx context.Context, t Target, snap Snapshot) Result {
	return b.run(ctx, t, snap, true)
}

// Resume bootstraps a request made from an already loaded page. It skips the
// identity fetch; the page load that preceded it refreshed the identity.
func (b *Bootstrapper) Resume(ctx context.Context, t Target, snap Snapshot) Result {
	return b.run(ctx, t, snap, false)
}

func (b *Bootstrapper) run(ctx context.Context, t Target, snap Snapshot, identity bool) Result {
	sess, ten, api := t.SessionStore(), t.TenantStore(), t.API()
	log := b.logger.With(zap.String("session", utils.ShortKey(sess.Key())))

	var res Result
	if t.Guard().First(snap.Fingerprint()) {
		b.seed(ctx, sess, ten, snap, log)
		res.Seeded = true
	}

	var g errgroup.Group
	g.Go(func() error { return sess.Rehydrate(ctx) })
	g.Go(func() error { return ten.Rehydrate(ctx) })
	if err := g.Wait(); err != nil {
		log.Warn("rehydrate degraded", zap.Error(err))
	}

	defer ten.SetHydrated(true)

	if !sess.IsAuthenticated() {
		log.Debug("bootstrap finished", zap.Bool("authenticated", false))
		return res
	}

	stored := ten.Snapshot()
	var (
		identityOK bool
		fetched    []models.Organization
		fetchedOK  bool
	)
	var fg errgroup.Group
	if identity {
		fg.Go(func() error {
			identityOK = b.refreshIdentity(ctx, sess, ten, api, log)
			return nil
		})
	}
	if len(stored.Organizations) == 0 {
		fg.Go(func() error {
			list, err := b.Organizations(ctx, sess.Key(), api)
			if err != nil {
				log.Warn("organization fetch failed", zap.Error(err))
				return nil
			}
			fetched, fetchedOK = list, true
			return nil
		})
	}
	_ = fg.Wait()

	res.IdentityRefreshed = identityOK
	res.OrganizationsFetched = fetchedOK
	if !sess.IsAuthenticated() {
		log.Info("session ended during bootstrap")
		return res
	}
	res.Authenticated = true

	if fetchedOK && len(fetched) > 0 {
		if err := ten.SetOrganizations(ctx, fetched); err != nil {
			log.Warn("store organizations", zap.Error(err))
		}
	}
	b.reconcile(ctx, ten, api, log)

	final := ten.Snapshot()
	if final.CurrentOrganization != nil {
		res.CurrentOrganization = final.CurrentOrganization.ID
	}
	res.CurrentRole = final.CurrentRole
	log.Debug("bootstrap finished",
		zap.Bool("authenticated", res.Authenticated),
		zap.Bool("identity_refreshed", res.IdentityRefreshed),
		zap.Bool("organizations_fetched", res.OrganizationsFetched),
		zap.String("organization", res.CurrentOrganization),
	)
	return res
}

func (b *Bootstrapper) seed(ctx context.Context, sess *session.Store, ten *tenant.Store, snap Snapshot, log *zap.Logger) {
	authenticated := snap.IsAuthenticated()
	patch := session.Patch{IsAuthenticated: &authenticated, User: snap.User}
	if snap.AccessToken != "" {
		patch.AccessToken = &snap.AccessToken
	}
	if snap.RefreshToken != "" {
		patch.RefreshToken = &snap.RefreshToken
	}
	if err := sess.SetAuth(ctx, patch); err != nil {
		log.Warn("seed session", zap.Error(err))
	}
	if snap.CurrentOrganization != nil {
		ten.SeedSelection(snap.CurrentOrganization, snap.CurrentRole)
	}
}

// refreshIdentity replaces the cookie identity with the canonical one. An
// authorization failure ends the session and clears the tenant; anything else
// keeps the snapshot.
func (b *Bootstrapper) refreshIdentity(ctx context.Context, sess *session.Store, ten *tenant.Store, api *apiclient.Client, log *zap.Logger) bool {
	me, err := api.Me(ctx)
	switch {
	case err == nil:
		if err := sess.SetUser(ctx, &me); err != nil {
			log.Warn("store identity", zap.Error(err))
		}
		return true
	case errors.Is(err, apiclient.ErrRefreshFailed) || apiclient.IsUnauthorized(err):
		log.Info("identity rejected, logging out", zap.Error(err))
		if err := sess.Logout(ctx); err != nil {
			log.Warn("logout", zap.Error(err))
		}
		b.ForgetOrganizations(sess.Key())
		if err := ten.ClearOrganizations(ctx); err != nil {
			log.Warn("clear organizations", zap.Error(err))
		}
	default:
		log.Warn("identity fetch failed", zap.Error(err))
	}
	return false
}

// reconcile makes sure a listed organization is selected and its role known.
func (b *Bootstrapper) reconcile(ctx context.Context, ten *tenant.Store, api *apiclient.Client, log *zap.Logger) {
	cur := ten.Snapshot()
	if len(cur.Organizations) == 0 {
		return
	}

	var pick models.Organization
	switch {
	case cur.CurrentOrganization == nil:
		pick = cur.Organizations[0]
	default:
		listed, ok := cur.Find(cur.CurrentOrganization.ID)
		switch {
		case !ok:
			pick = cur.Organizations[0]
		case cur.CurrentRole == models.RoleNone:
			pick = listed
		default:
			if listed != *cur.CurrentOrganization {
				if err := ten.SetCurrentOrganization(ctx, &listed, cur.CurrentRole); err != nil {
					log.Warn("store organization", zap.Error(err))
				}
			}
			return
		}
	}

	if _, err := SelectOrganization(ctx, ten, api, pick); err != nil {
		log.Warn("role fetch failed", zap.String("organization", pick.ID), zap.Error(err))
	}
}

// SelectOrganization makes org current and fetches the caller's role in it.
// When the role cannot be fetched the organization is still selected, without a role.
func SelectOrganization(ctx context.Context, ten *tenant.Store, api *apiclient.Client, org models.Organization) (models.Role, error) {
	member, err := api.CurrentMember(ctx, org.ID)
	if err != nil {
		if serr := ten.SetCurrentOrganization(ctx, &org, models.RoleNone); serr != nil {
			return models.RoleNone, errors.Join(err, serr)
		}
		return models.RoleNone, err
	}
	if err := ten.SetCurrentOrganization(ctx, &org, member.Role); err != nil {
		return member.Role, err
	}
	return member.Role, nil
}
