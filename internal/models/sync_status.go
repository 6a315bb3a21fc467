package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stop reasons reported in EntityOutcome.StoppedReason.
const (
	StopEmptyPage      = "emptyPage"
	StopNoNextPage     = "noNextPage"
	StopWrapped        = "wrapComplete"
	StopReachedOld     = "reachedOld"
	StopUnpaged        = "unpaged"
	StopPartialPage    = "partialPage"
	StopExhaustedTotal = "exhaustedTotal"
	StopCancelled      = "cancelled"
)

// EntityOutcome is the per-entity part of a RunSummary
type EntityOutcome struct {
	Entity        string `json:"entity"`
	Strategy      string `json:"strategy"`
	Pages         int    `json:"pages"`
	Fetched       int    `json:"fetched"`
	Upserted      int    `json:"upserted"`
	Total         int    `json:"total"`
	SoftDeleted   int64  `json:"soft_deleted"`
	StartPage     int    `json:"start_page,omitempty"`
	EndPage       int    `json:"end_page,omitempty"`
	Looped        bool   `json:"looped,omitempty"`
	LastMax       int64  `json:"last_max,omitempty"`
	NewMax        int64  `json:"new_max,omitempty"`
	ReachedOld    bool   `json:"reached_old,omitempty"`
	Unpaged       bool   `json:"unpaged,omitempty"`
	StoppedReason string `json:"stopped_reason,omitempty"`
	Complete      bool   `json:"complete"`
	FullRefresh   bool   `json:"full_refresh"`
	CountMismatch bool   `json:"count_mismatch,omitempty"`
	DBCount       int64  `json:"db_count,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
	Error         string `json:"error,omitempty"`
}

// RunSummary describes one sync execution
type RunSummary struct {
	ID          string          `json:"id"`
	RunTag      string          `json:"run_tag"`
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	DurationMs  int64           `json:"duration_ms"`
	Success     bool            `json:"success"`
	Error       string          `json:"error,omitempty"`
	FullRefresh bool            `json:"full_refresh"`
	Entities    []EntityOutcome `json:"entities"`
}

// String returns the JSON string representation of the summary
func (s *RunSummary) String() string {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal run summary: %v"}`, err)
	}
	return string(data)
}

// SyncStatus is the point-in-time view of the sync engine exposed to the
// dashboard and the metrics exporter.
type SyncStatus struct {
	LastSummary     *RunSummary   `json:"last_summary,omitempty"`
	InProgress      bool          `json:"in_progress"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	CurrentPage     *PageProgress `json:"current_page,omitempty"`
	NextCron        *time.Time    `json:"next_cron,omitempty"`
	NextFullRefresh *time.Time    `json:"next_full_refresh,omitempty"`
	TotalRuns       int64         `json:"total_runs"`
	TotalFailures   int64         `json:"total_failures"`
}
