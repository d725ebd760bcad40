// Package audit records security-relevant session events. Handlers enqueue
// events through a Recorder; the worker drains the queue into Postgres.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Action names an audited event.
type Action string

const (
	ActionLogin              Action = "login"
	ActionLoginFailed        Action = "login_failed"
	ActionRegister           Action = "register"
	ActionLogout             Action = "logout"
	ActionForcedLogout       Action = "forced_logout"
	ActionTokenRefresh       Action = "token_refresh"
	ActionSwitchOrganization Action = "switch_organization"
	ActionCreateOrganization Action = "create_organization"
	ActionMemberRoleChanged  Action = "member_role_changed"
	ActionMemberStatus       Action = "member_status_changed"
	ActionMemberRemoved      Action = "member_removed"
	ActionInvitationSent     Action = "invitation_sent"
	ActionInvitationRevoked  Action = "invitation_revoked"
	ActionInvitationAccepted Action = "invitation_accepted"
	ActionProfileUpdated     Action = "profile_updated"
)

// Event is one audit record.
type Event struct {
	ID             string         `json:"id"`
	Action         Action         `json:"action"`
	SessionTag     string         `json:"session_tag"`
	UserID         string         `json:"user_id,omitempty"`
	OrganizationID string         `json:"organization_id,omitempty"`
	Outcome        string         `json:"outcome,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// Sink accepts audit events. Recording never fails the caller.
type Sink interface {
	Record(ctx context.Context, e Event)
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}

func (e *Event) fill(now time.Time) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = now
	}
}
