// Package auditlog persists audit entries to SQL through bun.
package auditlog

import (
	"context"
	"time"

	"github.com/MrEthical07/actorauth/internal/audit"
	"github.com/uptrace/bun"
)

// Row is the audit_log_entries table model. Rows are insert-only.
type Row struct {
	bun.BaseModel `bun:"table:audit_log_entries,alias:ale"`

	ID         string            `bun:"id,pk"`
	SessionID  *string           `bun:"session_id"`
	IdentityID *string           `bun:"identity_id"`
	Role       string            `bun:"role,notnull"`
	ActionType string            `bun:"action_type,notnull"`
	Outcome    string            `bun:"outcome,notnull"`
	Context    map[string]string `bun:"context,type:jsonb"`
	CreatedAt  time.Time         `bun:"created_at,notnull"`
}

// Store is an audit sink that appends rows to audit_log_entries.
type Store struct {
	db bun.IDB
}

func NewStore(db bun.IDB) *Store {
	return &Store{db: db}
}

// CreateSchema creates the table and its session lookup index.
func (s *Store) CreateSchema(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*Row)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	_, err := s.db.NewCreateIndex().
		Model((*Row)(nil)).
		Index("audit_log_entries_session_idx").
		Column("session_id", "id").
		IfNotExists().
		Exec(ctx)
	return err
}

// Emit implements audit.Sink.
func (s *Store) Emit(ctx context.Context, entry audit.Entry) error {
	row := &Row{
		ID:         entry.ID,
		SessionID:  nullable(entry.SessionID),
		IdentityID: nullable(entry.IdentityID),
		Role:       entry.Role,
		ActionType: string(entry.ActionType),
		Outcome:    string(entry.Outcome),
		Context:    entry.Context,
		CreatedAt:  entry.CreatedAt.UTC(),
	}
	_, err := s.db.NewInsert().Model(row).Exec(ctx)
	return err
}

// ListBySession returns a session's entries in the order they were written.
func (s *Store) ListBySession(ctx context.Context, sessionID string) ([]audit.Entry, error) {
	return s.list(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("session_id = ?", sessionID)
	})
}

// ListByIdentity returns an identity's entries in the order they were written.
func (s *Store) ListByIdentity(ctx context.Context, identityID string) ([]audit.Entry, error) {
	return s.list(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("identity_id = ?", identityID)
	})
}

func (s *Store) list(ctx context.Context, filter func(*bun.SelectQuery) *bun.SelectQuery) ([]audit.Entry, error) {
	var rows []Row
	// ULIDs sort by creation time.
	if err := filter(s.db.NewSelect().Model(&rows)).Order("id ASC").Scan(ctx); err != nil {
		return nil, err
	}

	out := make([]audit.Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, audit.Entry{
			ID:         row.ID,
			SessionID:  deref(row.SessionID),
			IdentityID: deref(row.IdentityID),
			Role:       row.Role,
			ActionType: audit.ActionType(row.ActionType),
			Outcome:    audit.Outcome(row.Outcome),
			Context:    row.Context,
			CreatedAt:  row.CreatedAt,
		})
	}
	return out, nil
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
