package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/Kamar-Folarin/kashflow-sync/internal/config"
)

// @title KashFlow Sync API
// @version 1.0
// @description Dashboard and control API for the KashFlow replication service
// @contact.name API Support
// @contact.url http://github.com/Kamar-Folarin
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.basic BasicAuth

// SetupRouter configures the API routes. metrics may be nil when the
// exporter is disabled.
func SetupRouter(h *Handler, cfg *config.MetricsConfig, metrics http.Handler) *gin.Engine {
	r := gin.Default()

	var auth []gin.HandlerFunc
	if cfg != nil && cfg.AuthEnabled() {
		auth = append(auth, gin.BasicAuth(gin.Accounts{cfg.AuthUser: cfg.AuthPass}))
	}

	r.GET("/health", h.Health)

	if metrics != nil {
		r.GET("/metrics", append(auth, gin.WrapH(metrics))...)
	}

	// API documentation
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// API v1 group
	v1 := r.Group("/api/v1", auth...)
	{
		sync := v1.Group("/sync")
		{
			// @Summary Get sync status
			// @Description Live status of the sync engine with the last run summary
			// @Tags sync
			// @Produce json
			// @Security BasicAuth
			// @Success 200 {object} models.SyncStatus
			// @Router /sync/status [get]
			sync.GET("/status", h.GetSyncStatus)

			// @Summary Trigger a sync
			// @Description Start a sync in the background
			// @Tags sync
			// @Produce json
			// @Security BasicAuth
			// @Success 202 {object} SyncStartedResponse
			// @Failure 409 {object} ErrorResponse "A sync is already running"
			// @Failure 500 {object} ErrorResponse
			// @Router /sync [post]
			sync.POST("", h.TriggerSync)
		}

		// @Summary List run summaries
		// @Description Most recent run summaries, newest first
		// @Tags history
		// @Produce json
		// @Security BasicAuth
		// @Param limit query int false "Number of summaries to return (max 100)" default(25)
		// @Success 200 {object} SummaryListResponse
		// @Failure 400 {object} ErrorResponse
		// @Failure 500 {object} ErrorResponse
		// @Router /summaries [get]
		v1.GET("/summaries", h.ListSummaries)

		// @Summary Get a run summary
		// @Tags history
		// @Produce json
		// @Security BasicAuth
		// @Param id path string true "Summary ID"
		// @Success 200 {object} models.RunSummary
		// @Failure 404 {object} ErrorResponse
		// @Failure 500 {object} ErrorResponse
		// @Router /summaries/{id} [get]
		v1.GET("/summaries/:id", h.GetSummary)

		// @Summary List recorded upserts
		// @Description Audit log of inserts and updates with changed fields
		// @Tags history
		// @Produce json
		// @Security BasicAuth
		// @Param entity query string false "Entity name" example("invoices")
		// @Param key query string false "Natural key"
		// @Param since query string false "Only entries at or after this time (RFC3339)" example("2024-05-01T00:00:00Z")
		// @Param limit query int false "Number of entries to return (max 500)" default(100)
		// @Success 200 {object} ChangeListResponse
		// @Failure 400 {object} ErrorResponse
		// @Failure 500 {object} ErrorResponse
		// @Router /upserts [get]
		v1.GET("/upserts", h.ListUpserts)

		// @Summary Get persisted cursors
		// @Tags sync
		// @Produce json
		// @Security BasicAuth
		// @Success 200 {object} CursorsResponse
		// @Failure 500 {object} ErrorResponse
		// @Router /cursors [get]
		v1.GET("/cursors", h.GetCursors)

		// @Summary Get buffered log entries
		// @Tags logs
		// @Produce json
		// @Security BasicAuth
		// @Param limit query int false "Number of entries to return (max 500)" default(200)
		// @Success 200 {object} LogListResponse
		// @Failure 400 {object} ErrorResponse
		// @Router /logs [get]
		v1.GET("/logs", h.GetLogs)

		// @Summary Stream log entries
		// @Description Server-sent events, one "log" event per entry
		// @Tags logs
		// @Produce text/event-stream
		// @Security BasicAuth
		// @Router /logs/stream [get]
		v1.GET("/logs/stream", h.StreamLogs)

		// @Summary Get upcoming timers
		// @Tags sync
		// @Produce json
		// @Security BasicAuth
		// @Success 200 {object} TimersResponse
		// @Router /timers [get]
		v1.GET("/timers", h.GetTimers)
	}

	return r
}
