package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Kamar-Folarin/kashflow-sync/internal/errors"
	"github.com/Kamar-Folarin/kashflow-sync/internal/logstream"
	"github.com/Kamar-Folarin/kashflow-sync/internal/models"
)

// SyncTrigger starts a sync without waiting for it
type SyncTrigger interface {
	Trigger(ctx context.Context) error
}

// StatusProvider exposes the live sync status
type StatusProvider interface {
	Snapshot() models.SyncStatus
}

// HistoryStore is the read side of the store used by the dashboard
type HistoryStore interface {
	ListSummaries(ctx context.Context, limit int) ([]*models.RunSummary, error)
	GetSummary(ctx context.Context, id string) (*models.RunSummary, error)
	ListChanges(ctx context.Context, q models.ChangeQuery) ([]*models.ChangeRecord, error)
	ListState(ctx context.Context) (map[string]json.RawMessage, error)
}

// LogSource provides buffered and live log entries
type LogSource interface {
	Recent(limit int) []logstream.Entry
	Subscribe(buffer int) (<-chan logstream.Entry, func())
}

type Handler struct {
	// ctx outlives requests; manual syncs run under it.
	ctx    context.Context
	sync   SyncTrigger
	status StatusProvider
	store  HistoryStore
	logs   LogSource
	logger *logrus.Logger
	now    func() time.Time
}

func NewHandler(ctx context.Context, sync SyncTrigger, status StatusProvider, store HistoryStore, logs LogSource, logger *logrus.Logger) *Handler {
	return &Handler{
		ctx:    ctx,
		sync:   sync,
		status: status,
		store:  store,
		logs:   logs,
		logger: logger,
		now:    time.Now,
	}
}

// Health reports liveness
func (h *Handler) Health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (h *Handler) GetSyncStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.status.Snapshot())
}

// TriggerSync starts a manual sync. A run already holding the lock yields 409.
func (h *Handler) TriggerSync(c *gin.Context) {
	err := h.sync.Trigger(h.ctx)
	if errors.IsSyncInProgress(err) {
		resp := ErrorResponse{Error: "sync already in progress"}
		var busy *errors.SyncInProgressError
		if errors.As(err, &busy) && !busy.StartedAt.IsZero() {
			resp.StartedAt = &busy.StartedAt
		}
		c.JSON(http.StatusConflict, resp)
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to start manual sync")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to start sync"})
		return
	}

	h.logger.Info("Manual sync started")
	c.JSON(http.StatusAccepted, SyncStartedResponse{Status: "started"})
}

func (h *Handler) ListSummaries(c *gin.Context) {
	limit, ok := limitParam(c, 25, 100)
	if !ok {
		return
	}

	summaries, err := h.store.ListSummaries(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list summaries")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list summaries"})
		return
	}
	if summaries == nil {
		summaries = []*models.RunSummary{}
	}
	c.JSON(http.StatusOK, SummaryListResponse{Data: summaries, Limit: limit})
}

func (h *Handler) GetSummary(c *gin.Context) {
	summary, err := h.store.GetSummary(c.Request.Context(), c.Param("id"))
	if errors.IsNotFound(err) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "summary not found"})
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to get summary")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to get summary"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// ListUpserts returns audit log entries filtered by entity, key and time
func (h *Handler) ListUpserts(c *gin.Context) {
	limit, ok := limitParam(c, 100, 500)
	if !ok {
		return
	}

	q := models.ChangeQuery{
		Entity: strings.TrimSpace(c.Query("entity")),
		Key:    strings.TrimSpace(c.Query("key")),
		Limit:  limit,
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid since parameter (use RFC3339 format)"})
			return
		}
		q.Since = &t
	}

	changes, err := h.store.ListChanges(c.Request.Context(), q)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list changes")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list upserts"})
		return
	}
	if changes == nil {
		changes = []*models.ChangeRecord{}
	}
	c.JSON(http.StatusOK, ChangeListResponse{Data: changes, Limit: limit})
}

// GetCursors groups state keys of the form "<entity>:<field>"
func (h *Handler) GetCursors(c *gin.Context) {
	state, err := h.store.ListState(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list state")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list cursors"})
		return
	}

	grouped := make(map[string]map[string]json.RawMessage)
	for key, value := range state {
		entity, field, found := strings.Cut(key, ":")
		if !found {
			entity, field = "global", key
		}
		if grouped[entity] == nil {
			grouped[entity] = make(map[string]json.RawMessage)
		}
		grouped[entity][field] = value
	}
	c.JSON(http.StatusOK, CursorsResponse{Data: grouped})
}

func (h *Handler) GetLogs(c *gin.Context) {
	limit, ok := limitParam(c, 200, 500)
	if !ok {
		return
	}
	entries := h.logs.Recent(limit)
	if entries == nil {
		entries = []logstream.Entry{}
	}
	c.JSON(http.StatusOK, LogListResponse{Data: entries, Limit: limit})
}

// StreamLogs sends new log entries as server-sent events until the client
// disconnects.
func (h *Handler) StreamLogs(c *gin.Context) {
	entries, cancel := h.logs.Subscribe(64)
	defer cancel()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case e, ok := <-entries:
			if !ok {
				return false
			}
			c.SSEvent("log", e)
			return true
		case <-ctx.Done():
			return false
		case <-h.ctx.Done():
			return false
		}
	})
}

func (h *Handler) GetTimers(c *gin.Context) {
	status := h.status.Snapshot()
	c.JSON(http.StatusOK, TimersResponse{
		Now:             h.now().UTC(),
		NextCron:        status.NextCron,
		NextFullRefresh: status.NextFullRefresh,
		InProgress:      status.InProgress,
	})
}

// limitParam parses ?limit=, clamping it to upper. It writes a 400 and
// reports false when the value is not a positive integer.
func limitParam(c *gin.Context, def, upper int) (int, bool) {
	value := c.Query("limit")
	if value == "" {
		return def, true
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid limit parameter"})
		return 0, false
	}
	return min(n, upper), true
}
