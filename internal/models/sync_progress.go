package models

import "time"

// Page is the uniform envelope every fetcher returns, whatever shape the
// upstream API used for the response.
type Page struct {
	Items    []Item `json:"items"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	Total    int    `json:"total"`
	HasNext  bool   `json:"has_next"`
	// Unpaged is set when the API ignored paging and returned every record at once.
	Unpaged bool `json:"unpaged"`
}

// PageProgress tracks the apply step of a single fetched page
type PageProgress struct {
	Entity         string    `json:"entity"`
	Page           int       `json:"page"`
	TotalItems     int       `json:"total_items"`
	ProcessedItems int       `json:"processed_items"`
	LastKey        string    `json:"last_key"`
	StartTime      time.Time `json:"start_time"`
	LastUpdateTime time.Time `json:"last_update_time"`
	Errors         []string  `json:"errors,omitempty"`
}
