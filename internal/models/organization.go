package models

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrOwnerImmutable    = errors.New("owner membership cannot be changed")
	ErrInvalidTransition = errors.New("invalid member status transition")
	ErrInvalidRole       = errors.New("invalid role")
)

// Organization represents a tenant.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Role is the caller's membership role in an organization.
// The zero value RoleNone means "no role known".
type Role string

const (
	RoleNone   Role = ""
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// ParseRole validates s against the closed set of roles. Anything else,
// including the empty string, yields RoleNone.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleOwner:
		return RoleOwner
	case RoleAdmin:
		return RoleAdmin
	case RoleMember:
		return RoleMember
	}
	return RoleNone
}

// AssignableRoles are the roles an admin can grant through the UI.
var AssignableRoles = []Role{RoleAdmin, RoleMember}

// CanManage reports whether the role may administer members and invitations.
func (r Role) CanManage() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r != RoleNone && ParseRole(string(r)) == r
}

// UnmarshalJSON applies ParseRole so unknown strings never leak through.
func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		*r = RoleNone
		return nil
	}
	*r = ParseRole(s)
	return nil
}

// MemberStatus is the lifecycle state of a membership.
type MemberStatus string

const (
	StatusInvited   MemberStatus = "invited"
	StatusActive    MemberStatus = "active"
	StatusSuspended MemberStatus = "suspended"
	StatusLeft      MemberStatus = "left"
)

// ParseMemberStatus returns the status and whether it is known.
func ParseMemberStatus(s string) (MemberStatus, bool) {
	switch st := MemberStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusInvited, StatusActive, StatusSuspended, StatusLeft:
		return st, true
	}
	return "", false
}

var memberTransitions = map[MemberStatus][]MemberStatus{
	StatusInvited:   {StatusActive},
	StatusActive:    {StatusSuspended, StatusLeft},
	StatusSuspended: {StatusActive, StatusLeft},
}

// CanTransition reports whether a membership may move from s to next.
func (s MemberStatus) CanTransition(next MemberStatus) bool {
	for _, allowed := range memberTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// MemberUser is the user summary embedded in a membership.
type MemberUser struct {
	ID        string  `json:"id"`
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Email     string  `json:"email"`
}

// Name returns the member's full name or "-".
func (u *MemberUser) Name() string {
	if u == nil {
		return "-"
	}
	var parts []string
	if u.FirstName != nil && *u.FirstName != "" {
		parts = append(parts, *u.FirstName)
	}
	if u.LastName != nil && *u.LastName != "" {
		parts = append(parts, *u.LastName)
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

// Membership links a user to an organization with a role and status.
type Membership struct {
	ID             string       `json:"id"`
	OrganizationID string       `json:"organizationId"`
	UserID         string       `json:"userId"`
	Role           Role         `json:"role"`
	Status         MemberStatus `json:"status"`
	InvitedAt      time.Time    `json:"invitedAt"`
	JoinedAt       *time.Time   `json:"joinedAt"`
	User           *MemberUser  `json:"user,omitempty"`
}

// IsOwner reports whether this is the organization's owner membership.
func (m Membership) IsOwner() bool {
	return m.Role == RoleOwner
}

// CheckRoleChange validates a role edit from the UI.
func (m Membership) CheckRoleChange(to Role) error {
	if m.IsOwner() {
		return ErrOwnerImmutable
	}
	if to != RoleAdmin && to != RoleMember {
		return ErrInvalidRole
	}
	return nil
}

// CheckStatusChange validates a status edit from the UI.
func (m Membership) CheckStatusChange(to MemberStatus) error {
	if m.IsOwner() {
		return ErrOwnerImmutable
	}
	if !m.Status.CanTransition(to) {
		return ErrInvalidTransition
	}
	return nil
}

// CheckRemoval validates removing the member (active|suspended → left).
func (m Membership) CheckRemoval() error {
	return m.CheckStatusChange(StatusLeft)
}

// StatusTab groups member statuses the way the members screen shows them.
type StatusTab string

const (
	TabActive  StatusTab = "active"
	TabInvited StatusTab = "invited"
	TabOther   StatusTab = "other"
)

// StatusTabs lists the tabs in display order.
var StatusTabs = []StatusTab{TabActive, TabInvited, TabOther}

// Valid reports whether t is a known tab.
func (t StatusTab) Valid() bool {
	return t == TabActive || t == TabInvited || t == TabOther
}

// Includes reports whether a member with status s belongs on the tab.
// An unknown tab includes everything.
func (t StatusTab) Includes(s MemberStatus) bool {
	switch t {
	case TabActive:
		return s == StatusActive
	case TabInvited:
		return s == StatusInvited
	case TabOther:
		return s == StatusSuspended || s == StatusLeft
	}
	return true
}

// FilterMembers returns the members that belong on tab, preserving order.
func FilterMembers(members []Membership, tab StatusTab) []Membership {
	out := make([]Membership, 0, len(members))
	for _, m := range members {
		if tab.Includes(m.Status) {
			out = append(out, m)
		}
	}
	return out
}
