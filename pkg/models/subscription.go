package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription tracks the webhook registered with the external service for
// one form. ErrorCount counts consecutive renewal failures; at three the
// subscription is retired (Active becomes false).
type Subscription struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	FormID             uuid.UUID  `db:"form_id" json:"form_id"`
	ExternalID         string     `db:"external_id" json:"external_id"`
	BaseID             string     `db:"base_id" json:"base_id"`
	TableID            string     `db:"table_id" json:"table_id"`
	MACSecret          string     `db:"mac_secret" json:"-"`
	Cursor             int        `db:"notification_cursor" json:"cursor"`
	Active             bool       `db:"active" json:"active"`
	LastPingAt         time.Time  `db:"last_ping_at" json:"last_ping_at"`
	LastNotificationAt *time.Time `db:"last_notification_at" json:"last_notification_at,omitempty"`
	ExpiresAt          *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	ErrorCount         int        `db:"error_count" json:"error_count"`
	LastError          *string    `db:"last_error" json:"last_error,omitempty"`
	LastErrorAt        *time.Time `db:"last_error_at" json:"last_error_at,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Subscription) TableName() string {
	return "subscriptions"
}
