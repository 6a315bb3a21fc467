package models

import "time"

// Change operations recorded in the audit log.
const (
	OpInsert = "insert"
	OpUpdate = "update"
)

// FieldChange holds the before and after values of one changed field.
type FieldChange struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

// ChangeRecord is an audit entry written for every document touched by a run
type ChangeRecord struct {
	ID            int64                  `json:"id,omitempty"`
	Entity        string                 `json:"entity"`
	Key           string                 `json:"key"`
	Op            string                 `json:"op"`
	RunTag        string                 `json:"run_tag"`
	ChangedFields []string               `json:"changed_fields"`
	Changes       map[string]FieldChange `json:"changes"`
	CreatedAt     time.Time              `json:"created_at"`
}

// ChangeQuery filters the audit log
type ChangeQuery struct {
	Entity string
	Key    string
	Since  *time.Time
	Limit  int
}
