package identity

import (
	"time"

	"github.com/uptrace/bun"
)

// Status is the lifecycle state of an identity.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusDeleted  Status = "deleted"
)

// ProviderLocal tags credentials verified against a stored secret hash.
const ProviderLocal = "local"

// Identity is one actor within a role namespace.
type Identity struct {
	bun.BaseModel `bun:"table:identities,alias:idn"`

	ID          string     `bun:"id,pk" json:"id"`
	Role        string     `bun:"role,notnull" json:"role"`
	BusinessKey string     `bun:"business_key,notnull" json:"business_key"`
	DisplayName string     `bun:"display_name,notnull" json:"display_name"`
	Status      Status     `bun:"status,notnull" json:"status"`
	CreatedAt   time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull" json:"updated_at"`
	DeletedAt   *time.Time `bun:"deleted_at,nullzero" json:"deleted_at,omitempty"`
}

// Active reports whether the identity may hold sessions.
func (i *Identity) Active() bool {
	return i.Status == StatusActive && i.DeletedAt == nil
}

// Credential binds a login key to an identity. SecretHash is nil for SSO
// providers.
type Credential struct {
	bun.BaseModel `bun:"table:credentials,alias:crd"`

	ID          string     `bun:"id,pk"`
	IdentityID  string     `bun:"identity_id,notnull"`
	Role        string     `bun:"role,notnull"`
	Provider    string     `bun:"provider,notnull"`
	ProviderKey string     `bun:"provider_key,notnull"`
	SecretHash  *string    `bun:"secret_hash"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
	DeletedAt   *time.Time `bun:"deleted_at,nullzero"`
}

// NewIdentity is the input to Registry.Register.
type NewIdentity struct {
	Role        string
	BusinessKey string
	DisplayName string
	Provider    string
	ProviderKey string
	SecretHash  string
}
