package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleOwner, ParseRole("owner"))
	assert.Equal(t, RoleAdmin, ParseRole(" Admin "))
	assert.Equal(t, RoleMember, ParseRole("member"))
	assert.Equal(t, RoleNone, ParseRole("root"))
	assert.Equal(t, RoleNone, ParseRole(""))
	assert.True(t, RoleOwner.CanManage())
	assert.True(t, RoleAdmin.CanManage())
	assert.False(t, RoleMember.CanManage())
	assert.False(t, RoleNone.CanManage())
}

func TestRoleUnmarshalRejectsUnknown(t *testing.T) {
	var m Membership
	require.NoError(t, json.Unmarshal([]byte(`{"role":"superadmin","status":"active"}`), &m))
	assert.Equal(t, RoleNone, m.Role)

	require.NoError(t, json.Unmarshal([]byte(`{"role":"ADMIN"}`), &m))
	assert.Equal(t, RoleAdmin, m.Role)
}

func TestMemberStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to MemberStatus
		ok       bool
	}{
		{StatusInvited, StatusActive, true},
		{StatusActive, StatusSuspended, true},
		{StatusSuspended, StatusActive, true},
		{StatusActive, StatusLeft, true},
		{StatusSuspended, StatusLeft, true},
		{StatusInvited, StatusSuspended, false},
		{StatusLeft, StatusActive, false},
		{StatusActive, StatusInvited, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestOwnerMembershipIsImmutable(t *testing.T) {
	owner := Membership{Role: RoleOwner, Status: StatusActive}
	assert.ErrorIs(t, owner.CheckRoleChange(RoleMember), ErrOwnerImmutable)
	assert.ErrorIs(t, owner.CheckStatusChange(StatusSuspended), ErrOwnerImmutable)
	assert.ErrorIs(t, owner.CheckRemoval(), ErrOwnerImmutable)

	member := Membership{Role: RoleMember, Status: StatusActive}
	assert.NoError(t, member.CheckRoleChange(RoleAdmin))
	assert.ErrorIs(t, member.CheckRoleChange(RoleOwner), ErrInvalidRole)
	assert.NoError(t, member.CheckRemoval())

	left := Membership{Role: RoleMember, Status: StatusLeft}
	assert.ErrorIs(t, left.CheckRemoval(), ErrInvalidTransition)
}

func TestFilterMembers(t *testing.T) {
	members := []Membership{
		{ID: "1", Status: StatusActive},
		{ID: "2", Status: StatusInvited},
		{ID: "3", Status: StatusSuspended},
		{ID: "4", Status: StatusLeft},
	}
	ids := func(ms []Membership) []string {
		var out []string
		for _, m := range ms {
			out = append(out, m.ID)
		}
		return out
	}
	assert.Equal(t, []string{"1"}, ids(FilterMembers(members, TabActive)))
	assert.Equal(t, []string{"2"}, ids(FilterMembers(members, TabInvited)))
	assert.Equal(t, []string{"3", "4"}, ids(FilterMembers(members, TabOther)))
	assert.Len(t, FilterMembers(members, ""), 4)
}

func TestInvitationExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	inv := Invitation{ExpiresAt: now.Add(2*time.Hour + 5*time.Minute + 3*time.Second)}

	assert.False(t, inv.IsExpired(now))
	assert.True(t, inv.IsUsable(now))
	assert.Equal(t, "2h 5m 3s", inv.CountdownLabel(now))
	assert.Equal(t, "5m 3s", inv.CountdownLabel(now.Add(2*time.Hour)))
	assert.Equal(t, "3s", inv.CountdownLabel(now.Add(2*time.Hour+5*time.Minute)))
	assert.True(t, inv.IsExpired(inv.ExpiresAt))
	assert.Equal(t, "Expired", inv.CountdownLabel(inv.ExpiresAt.Add(time.Second)))

	accepted := now
	inv.AcceptedAt = &accepted
	assert.False(t, inv.IsUsable(now))
}

func TestInvitationDetailsCheckAcceptable(t *testing.T) {
	now := time.Now()
	details := InvitationDetails{Invitation: Invitation{ExpiresAt: now.Add(time.Hour)}}
	assert.NoError(t, details.CheckAcceptable(now))

	details.IsExistingMember = true
	assert.ErrorIs(t, details.CheckAcceptable(now), ErrAlreadyMember)

	details.IsExistingMember = false
	assert.ErrorIs(t, details.CheckAcceptable(now.Add(2*time.Hour)), ErrInvitationExpired)

	used := now
	details.Invitation.AcceptedAt = &used
	assert.ErrorIs(t, details.CheckAcceptable(now), ErrInvitationAccepted)
}

func TestAuthSessionNormalize(t *testing.T) {
	s := AuthSession{IsAuthenticated: true}
	s.Normalize()
	assert.False(t, s.IsAuthenticated)
	assert.True(t, s.Empty())

	s = AuthSession{IsAuthenticated: true, AccessToken: "tok"}
	s.Normalize()
	assert.True(t, s.IsAuthenticated)
}

func TestIdentityDisplay(t *testing.T) {
	var nilUser *Identity
	assert.Equal(t, "User", nilUser.DisplayName())
	assert.Equal(t, "U", nilUser.Initials())

	u := &Identity{FirstName: "ada", LastName: "lovelace", Email: "ada@example.com"}
	assert.Equal(t, "ada lovelace", u.DisplayName())
	assert.Equal(t, "AL", u.Initials())
	assert.Equal(t, "A", (&Identity{Email: "ada@example.com"}).Initials())
}
