package models

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/google/uuid"
)

// Credential holds the delegated OAuth grant for one external account.
// There is at most one row per external account id.
type Credential struct {
	ID                uuid.UUID                `db:"id" json:"id"`
	UserID            uuid.UUID                `db:"user_id" json:"user_id"`
	ExternalAccountID string                   `db:"external_account_id" json:"external_account_id"`
	Email             string                   `db:"email" json:"email"`
	DisplayName       string                   `db:"display_name" json:"display_name"`
	AccessToken       string                   `db:"access_token" json:"-"`
	RefreshToken      *string                  `db:"refresh_token" json:"-"`
	ExpiresAt         time.Time                `db:"expires_at" json:"expires_at"`
	Scopes            database.JSONB[[]string] `db:"scopes" json:"scopes"`
	CreatedAt         time.Time                `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time                `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Credential) TableName() string {
	return "credentials"
}

// IsExpired reports whether the access token is expired at the given time.
func (c *Credential) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
