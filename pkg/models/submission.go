package models

import (
	"time"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/google/uuid"
)

// SubmissionMeta captures where a submission came from.
type SubmissionMeta struct {
	RemoteIP  string `json:"remote_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// SubmissionRecord is the local mirror of one external record created from
// a form submission. DeletedExternally marks records destroyed in the
// external table; the row itself is kept.
type SubmissionRecord struct {
	ID                uuid.UUID                        `db:"id" json:"id"`
	FormID            uuid.UUID                        `db:"form_id" json:"form_id"`
	ExternalRecordID  string                           `db:"external_record_id" json:"external_record_id"`
	Answers           database.JSONB[map[string]any]   `db:"answers" json:"answers"`
	Meta              database.JSONB[SubmissionMeta]   `db:"meta" json:"meta"`
	DeletedExternally bool                             `db:"deleted_externally" json:"deleted_externally"`
	LastSyncedAt      *time.Time                       `db:"last_synced_at" json:"last_synced_at,omitempty"`
	CreatedAt         time.Time                        `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (SubmissionRecord) TableName() string {
	return "submission_records"
}
