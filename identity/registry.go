// Package identity stores actors and their login credentials in SQL through bun.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"
)

var (
	ErrNotFound  = errors.New("identity not found")
	ErrDuplicate = errors.New("identity already registered")
)

const pgUniqueViolation = "23505"

// Registry is the bun-backed identity and credential store.
type Registry struct {
	db  bun.IDB
	now func() time.Time
}

// NewRegistry wraps db. db may be a *bun.DB or a bun.Tx.
func NewRegistry(db bun.IDB) *Registry {
	return &Registry{db: db, now: time.Now}
}

// CreateSchema creates both tables and the partial unique indexes that keep
// business keys and provider keys unique among non-deleted rows.
func (r *Registry) CreateSchema(ctx context.Context) error {
	models := []interface{}{(*Identity)(nil), (*Credential)(nil)}
	for _, model := range models {
		if _, err := r.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}

	indexes := []struct {
		model   interface{}
		name    string
		columns []string
	}{
		{(*Identity)(nil), "identities_role_business_key_live_uidx", []string{"role", "business_key"}},
		{(*Credential)(nil), "credentials_role_provider_key_live_uidx", []string{"role", "provider", "provider_key"}},
	}
	for _, idx := range indexes {
		_, err := r.db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			Unique().
			IfNotExists().
			Where("deleted_at IS NULL").
			Exec(ctx)
		if err != nil {
			return err
		}
	}

	_, err := r.db.NewCreateIndex().
		Model((*Credential)(nil)).
		Index("credentials_identity_idx").
		Column("identity_id").
		IfNotExists().
		Exec(ctx)
	return err
}

// Register inserts an active identity and its credential in one transaction.
// finalize runs inside the transaction after both rows are written; when it
// fails nothing is committed.
func (r *Registry) Register(ctx context.Context, in NewIdentity, finalize func(ctx context.Context, ident *Identity) error) (*Identity, error) {
	now := r.now().UTC()

	identityID, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	credentialID, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	ident := &Identity{
		ID:          identityID.String(),
		Role:        in.Role,
		BusinessKey: in.BusinessKey,
		DisplayName: in.DisplayName,
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	cred := &Credential{
		ID:          credentialID.String(),
		IdentityID:  ident.ID,
		Role:        in.Role,
		Provider:    in.Provider,
		ProviderKey: in.ProviderKey,
		CreatedAt:   now,
	}
	if in.Provider == ProviderLocal {
		hash := in.SecretHash
		cred.SecretHash = &hash
	}

	err = r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		taken, err := tx.NewSelect().
			Model((*Identity)(nil)).
			Where("role = ?", in.Role).
			Where("business_key = ?", in.BusinessKey).
			Where("deleted_at IS NULL").
			Exists(ctx)
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicate
		}

		taken, err = tx.NewSelect().
			Model((*Credential)(nil)).
			Where("role = ?", in.Role).
			Where("provider = ?", in.Provider).
			Where("provider_key = ?", in.ProviderKey).
			Where("deleted_at IS NULL").
			Exists(ctx)
		if err != nil {
			return err
		}
		if taken {
			return ErrDuplicate
		}

		if _, err := tx.NewInsert().Model(ident).Exec(ctx); err != nil {
			return mapInsertError(err)
		}
		if _, err := tx.NewInsert().Model(cred).Exec(ctx); err != nil {
			return mapInsertError(err)
		}

		if finalize != nil {
			return finalize(ctx, ident)
		}
		return nil
	})
	if err != nil {
		return nil, mapInsertError(err)
	}
	return ident, nil
}

// FindCredential resolves a login key. A live credential wins over one
// retired by soft delete; the retired one is still returned so callers can
// report the owner as inactive rather than unknown.
func (r *Registry) FindCredential(ctx context.Context, role, provider, providerKey string) (*Credential, *Identity, error) {
	cred := new(Credential)
	err := r.db.NewSelect().
		Model(cred).
		Where("role = ?", role).
		Where("provider = ?", provider).
		Where("provider_key = ?", providerKey).
		OrderExpr("CASE WHEN deleted_at IS NULL THEN 0 ELSE 1 END").
		OrderExpr("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	ident, err := r.GetByID(ctx, cred.IdentityID)
	if err != nil {
		return nil, nil, err
	}
	return cred, ident, nil
}

// GetByID loads an identity regardless of its status.
func (r *Registry) GetByID(ctx context.Context, id string) (*Identity, error) {
	ident := new(Identity)
	err := r.db.NewSelect().Model(ident).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return ident, nil
}

// SetStatus switches an identity between active and inactive. Deleted
// identities cannot be reactivated.
func (r *Registry) SetStatus(ctx context.Context, id string, status Status) error {
	if status != StatusActive && status != StatusInactive {
		return fmt.Errorf("identity: unsupported status %q", status)
	}
	res, err := r.db.NewUpdate().
		Model((*Identity)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", r.now().UTC()).
		Where("id = ?", id).
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// SoftDelete marks the identity deleted and retires its credentials so the
// same business key can be registered again.
func (r *Registry) SoftDelete(ctx context.Context, id string) error {
	now := r.now().UTC()
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*Identity)(nil)).
			Set("status = ?", StatusDeleted).
			Set("deleted_at = ?", now).
			Set("updated_at = ?", now).
			Where("id = ?", id).
			Where("deleted_at IS NULL").
			Exec(ctx)
		if err != nil {
			return err
		}
		if err := requireAffected(res); err != nil {
			return err
		}

		_, err = tx.NewUpdate().
			Model((*Credential)(nil)).
			Set("deleted_at = ?", now).
			Where("identity_id = ?", id).
			Where("deleted_at IS NULL").
			Exec(ctx)
		return err
	})
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func mapInsertError(err error) error {
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	// sqlite drivers report constraint failures only through the message.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
