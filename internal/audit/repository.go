package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"plantwatch/internal/alarms/infrastructure/sqlstore"
)

// Repository writes audit logs.
type Repository struct {
	db      *sql.DB
	dialect sqlstore.Dialect
}

// NewRepository constructs an audit repository.
func NewRepository(db *sql.DB, dialect sqlstore.Dialect) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db, dialect: dialect}
}

// Log writes an audit entry.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.PayloadDigest == "" {
		entry.PayloadDigest = DigestJSON(entry.Metadata)
	}
	var metadata any
	if len(entry.Metadata) > 0 {
		metadata = string(entry.Metadata)
	}

	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(`
INSERT INTO audit_logs (
	id, site, actor, role, action, resource_type, resource_id,
	metadata, payload_digest, ip, user_agent, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)`), entry.ID, entry.Site, entry.Actor, entry.Role, entry.Action, entry.ResourceType, entry.ResourceID,
		metadata, entry.PayloadDigest, entry.IP, entry.UserAgent, r.dialect.TimeArg(entry.CreatedAt))
	return err
}

// Count returns the number of audit entries for an action.
func (r *Repository) Count(ctx context.Context, action string) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("audit repo: nil db")
	}
	var n int
	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(`SELECT COUNT(*) FROM audit_logs WHERE action = $1`), action).Scan(&n)
	return n, err
}
