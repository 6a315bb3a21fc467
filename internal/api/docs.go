package api

import (
	"encoding/json"
	"time"

	_ "github.com/Kamar-Folarin/kashflow-sync/docs"
	"github.com/Kamar-Folarin/kashflow-sync/internal/logstream"
	"github.com/Kamar-Folarin/kashflow-sync/internal/models"
)

// @title KashFlow Sync API
// @version 1.0
// @description Dashboard and control API for the KashFlow replication service
// @host localhost:8080
// @BasePath /api/v1

// ErrorResponse represents an API error
// @Description Error response from the API
// @swagger:model ErrorResponse
type ErrorResponse struct {
	// Error message
	// @example sync already in progress
	Error string `json:"error" example:"Failed to process request"`
	// Start of the run holding the lock, set on 409 responses
	// @example 2024-05-01T09:00:00Z
	StartedAt *time.Time `json:"started_at,omitempty" example:"2024-05-01T09:00:00Z"`
}

// SyncStartedResponse is returned when a manual sync was accepted
// @Description Acknowledgement of a manual sync trigger
// @swagger:model SyncStartedResponse
type SyncStartedResponse struct {
	// @example started
	Status string `json:"status" example:"started"`
}

// SummaryListResponse represents the most recent run summaries
// @Description Run summaries, newest first
// @swagger:model SummaryListResponse
type SummaryListResponse struct {
	Data  []*models.RunSummary `json:"data"`
	Limit int                  `json:"limit" example:"25"`
}

// ChangeListResponse represents audit log entries
// @Description Recorded inserts and updates, newest first
// @swagger:model ChangeListResponse
type ChangeListResponse struct {
	Data  []*models.ChangeRecord `json:"data"`
	Limit int                    `json:"limit" example:"100"`
}

// CursorsResponse groups persisted sync state by entity
// @Description Persisted cursors and markers keyed by entity then field
// @swagger:model CursorsResponse
type CursorsResponse struct {
	// @example {"customers":{"lastPage":3},"invoices":{"lastMaxNumber":10452}}
	Data map[string]map[string]json.RawMessage `json:"data"`
}

// LogListResponse represents buffered log entries
// @Description Recent log entries, oldest first
// @swagger:model LogListResponse
type LogListResponse struct {
	Data  []logstream.Entry `json:"data"`
	Limit int               `json:"limit" example:"200"`
}

// TimersResponse reports the upcoming scheduled events
// @Description Next cron tick and next forced full refresh
// @swagger:model TimersResponse
type TimersResponse struct {
	Now             time.Time  `json:"now" example:"2024-05-01T09:12:00Z"`
	NextCron        *time.Time `json:"next_cron,omitempty" example:"2024-05-01T10:00:00Z"`
	NextFullRefresh *time.Time `json:"next_full_refresh,omitempty" example:"2024-05-02T09:00:00Z"`
	InProgress      bool       `json:"in_progress"`
}
