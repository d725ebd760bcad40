package organizations

import (
	"context"
	"errors"
	"fmt"

	"github.com/aura-saas/console/internal/bootstrap"
	"github.com/aura-saas/console/internal/console"
	"github.com/aura-saas/console/internal/models"
)

// ErrNotListed is returned when switching to an organization the caller does
// not belong to.
var ErrNotListed = errors.New("organization is not in your list")

// Repository reads and writes organizations through a session's backend
// client and keeps its tenant store in step.
type Repository struct {
	boot *bootstrap.Bootstrapper
}

// NewRepository creates an organizations repository.
func NewRepository(boot *bootstrap.Bootstrapper) *Repository {
	return &Repository{boot: boot}
}

// List returns the caller's organizations and refreshes the stored list.
func (r *Repository) List(ctx context.Context, s *console.Session) ([]models.Organization, error) {
	list, err := r.boot.Organizations(ctx, s.Key(), s.API())
	if err != nil {
		return nil, err
	}
	if len(list) > 0 {
		if err := s.TenantStore().SetOrganizations(ctx, list); err != nil {
			return list, fmt.Errorf("store organizations: %w", err)
		}
	}
	return list, nil
}

// Create creates an organization, adds it to the list and selects it.
func (r *Repository) Create(ctx context.Context, s *console.Session, name string) (models.Organization, models.Role, error) {
	org, err := s.API().CreateOrganization(ctx, name)
	if err != nil {
		return models.Organization{}, models.RoleNone, err
	}
	r.boot.ForgetOrganizations(s.Key())
	if err := s.TenantStore().AddOrganization(ctx, org); err != nil {
		return org, models.RoleNone, fmt.Errorf("store organization: %w", err)
	}
	role, err := bootstrap.SelectOrganization(ctx, s.TenantStore(), s.API(), org)
	return org, role, err
}

// Switch selects a listed organization and fetches the caller's role in it.
// A failed role fetch still selects the organization, without a role.
func (r *Repository) Switch(ctx context.Context, s *console.Session, id string) (models.Organization, models.Role, error) {
	org, ok := s.TenantStore().Snapshot().Find(id)
	if !ok {
		return models.Organization{}, models.RoleNone, ErrNotListed
	}
	role, err := bootstrap.SelectOrganization(ctx, s.TenantStore(), s.API(), org)
	return org, role, err
}
