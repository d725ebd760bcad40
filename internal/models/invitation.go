package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvitationExpired  = errors.New("invitation has expired")
	ErrInvitationAccepted = errors.New("invitation has already been used")
	ErrAlreadyMember      = errors.New("already a member of this organization")
)

// Invitation is a time-bounded invite to join an organization.
type Invitation struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organizationId"`
	InviterID      string     `json:"inviterId"`
	Email          string     `json:"email"`
	Role           Role       `json:"role"`
	Token          string     `json:"token"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	AcceptedAt     *time.Time `json:"acceptedAt"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// IsExpired determines whether the invitation has expired.
func (i Invitation) IsExpired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// IsAccepted indicates whether the invitation has already been accepted.
func (i Invitation) IsAccepted() bool {
	return i.AcceptedAt != nil
}

// IsUsable reports whether the invitation can still be accepted.
func (i Invitation) IsUsable(now time.Time) bool {
	return !i.IsAccepted() && !i.IsExpired(now)
}

// Remaining returns the time left before expiry, never negative.
func (i Invitation) Remaining(now time.Time) time.Duration {
	d := i.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// CountdownLabel renders the remaining time as "5h 3m 9s", "3m 9s", "9s" or "Expired".
func (i Invitation) CountdownLabel(now time.Time) string {
	d := i.Remaining(now)
	if d <= 0 {
		return "Expired"
	}
	hours := int(d / time.Hour)
	minutes := int(d/time.Minute) % 60
	seconds := int(d/time.Second) % 60

	var parts []string
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 || hours > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	parts = append(parts, fmt.Sprintf("%ds", seconds))
	return strings.Join(parts, " ")
}

// Inviter is the person who sent an invitation.
type Inviter struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// InvitationDetails is the data behind GET /invitations/:token.
type InvitationDetails struct {
	Invitation       Invitation   `json:"invitation"`
	Organization     Organization `json:"organization"`
	Inviter          Inviter      `json:"inviter"`
	IsExistingMember bool         `json:"isExistingMember"`
}

// CheckAcceptable returns nil when the caller may accept the invitation.
func (d InvitationDetails) CheckAcceptable(now time.Time) error {
	switch {
	case d.IsExistingMember:
		return ErrAlreadyMember
	case d.Invitation.IsAccepted():
		return ErrInvitationAccepted
	case d.Invitation.IsExpired(now):
		return ErrInvitationExpired
	}
	return nil
}

// InviteParams is the body for POST /organizations/:id/invitations.
type InviteParams struct {
	Email string `json:"email" binding:"required,email"`
	Role  Role   `json:"role"`
}
