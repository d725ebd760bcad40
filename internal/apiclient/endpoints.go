package apiclient

import (
	"context"
	"net/url"

	"github.com/aura-saas/console/internal/models"
)

func orgPath(orgID string, rest ...string) string {
	p := "/organizations/" + url.PathEscape(orgID)
	for _, r := range rest {
		p += "/" + url.PathEscape(r)
	}
	return p
}

// Login exchanges credentials for tokens. A 401 here is never refreshed.
func (c *Client) Login(ctx context.Context, creds models.Credentials) (models.LoginResponse, error) {
	var out models.LoginResponse
	err := c.Post(ctx, "/auth/login", creds, &out)
	return out, err
}

func (c *Client) Register(ctx context.Context, creds models.Credentials) (models.LoginResponse, error) {
	var out models.LoginResponse
	err := c.Post(ctx, "/auth/register", creds, &out)
	return out, err
}

// Logout tells the backend to revoke the refresh token.
func (c *Client) Logout(ctx context.Context) error {
	return c.Post(ctx, "/auth/logout", nil, nil)
}

func (c *Client) Me(ctx context.Context) (models.Identity, error) {
	var out models.Identity
	err := c.Get(ctx, "/users/me", &out)
	return out, err
}

func (c *Client) UpdateMe(ctx context.Context, params models.UpdateUserParams) (models.Identity, error) {
	var out models.Identity
	err := c.Patch(ctx, "/users/me", params, &out)
	return out, err
}

func (c *Client) Organizations(ctx context.Context) ([]models.Organization, error) {
	var out []models.Organization
	err := c.Get(ctx, "/organizations", &out)
	return out, err
}

func (c *Client) CreateOrganization(ctx context.Context, name string) (models.Organization, error) {
	var out models.Organization
	err := c.Post(ctx, "/organizations", map[string]string{"name": name}, &out)
	return out, err
}

func (c *Client) Members(ctx context.Context, orgID string) ([]models.Membership, error) {
	var out []models.Membership
	err := c.Get(ctx, orgPath(orgID, "members"), &out)
	return out, err
}

// CurrentMember returns the caller's own membership, which carries the role.
func (c *Client) CurrentMember(ctx context.Context, orgID string) (models.Membership, error) {
	var out models.Membership
	err := c.Get(ctx, orgPath(orgID, "members", "me"), &out)
	return out, err
}

func (c *Client) UpdateMemberRole(ctx context.Context, orgID, userID string, role models.Role) (models.Membership, error) {
	var out models.Membership
	err := c.Patch(ctx, orgPath(orgID, "members", userID, "role"), map[string]models.Role{"role": role}, &out)
	return out, err
}

func (c *Client) UpdateMemberStatus(ctx context.Context, orgID, userID string, status models.MemberStatus) (models.Membership, error) {
	var out models.Membership
	err := c.Patch(ctx, orgPath(orgID, "members", userID, "status"), map[string]models.MemberStatus{"status": status}, &out)
	return out, err
}

func (c *Client) RemoveMember(ctx context.Context, orgID, userID string) error {
	return c.Delete(ctx, orgPath(orgID, "members", userID), nil)
}

func (c *Client) Invitations(ctx context.Context, orgID string) ([]models.Invitation, error) {
	var out []models.Invitation
	err := c.Get(ctx, orgPath(orgID, "invitations"), &out)
	return out, err
}

func (c *Client) Invite(ctx context.Context, orgID string, params models.InviteParams) (models.Invitation, error) {
	var out models.Invitation
	err := c.Post(ctx, orgPath(orgID, "invitations"), params, &out)
	return out, err
}

func (c *Client) RevokeInvitation(ctx context.Context, orgID, invitationID string) error {
	return c.Delete(ctx, orgPath(orgID, "invitations", invitationID), nil)
}

// InvitationDetails looks an invitation up by its token.
func (c *Client) InvitationDetails(ctx context.Context, token string) (models.InvitationDetails, error) {
	var out models.InvitationDetails
	err := c.Get(ctx, "/invitations/"+url.PathEscape(token), &out)
	return out, err
}

func (c *Client) AcceptInvitation(ctx context.Context, token string) (models.Membership, error) {
	var out models.Membership
	err := c.Post(ctx, "/invitations/"+url.PathEscape(token)+"/accept", nil, &out)
	return out, err
}
