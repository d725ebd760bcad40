package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the repository uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository persists audit events.
type Repository struct {
	db DB
}

// NewRepository creates an audit repository.
func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

// Insert stores e. Re-inserting the same event id is a no-op, so a retried
// job cannot duplicate a record.
func (r *Repository) Insert(ctx context.Context, e Event) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	const q = `INSERT INTO audit_events (id, action, session_tag, user_id, organization_id, outcome, metadata, occurred_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8)
		ON CONFLICT (id) DO NOTHING`
	_, err = r.db.Exec(ctx, q, e.ID, string(e.Action), e.SessionTag, e.UserID, e.OrganizationID, e.Outcome, meta, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByUser returns the newest events of userID.
func (r *Repository) ListByUser(ctx context.Context, userID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `SELECT id, action, session_tag, COALESCE(user_id, ''), COALESCE(organization_id, ''),
		COALESCE(outcome, ''), metadata, occurred_at
		FROM audit_events WHERE user_id = $1 ORDER BY occurred_at DESC LIMIT $2`
	rows, err := r.db.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e      Event
			action string
			meta   []byte
		)
		if err := rows.Scan(&e.ID, &action, &e.SessionTag, &e.UserID, &e.OrganizationID, &e.Outcome, &meta, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Action = Action(action)
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &e.Metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes events older than cutoff and returns how many were removed.
func (r *Repository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM audit_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune audit events: %w", err)
	}
	return tag.RowsAffected(), nil
}
