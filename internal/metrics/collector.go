package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Kamar-Folarin/kashflow-sync/internal/models"
)

const namespace = "kashflow_sync"

// StatusSource provides the sync status read at scrape time
type StatusSource interface {
	Snapshot() models.SyncStatus
}

// SyncCollector exports the recorder's view of the sync engine.
type SyncCollector struct {
	source StatusSource

	runs         *prometheus.Desc
	failures     *prometheus.Desc
	inProgress   *prometheus.Desc
	lastDuration *prometheus.Desc
	lastSuccess  *prometheus.Desc

	entityFetched     *prometheus.Desc
	entityUpserted    *prometheus.Desc
	entitySoftDeleted *prometheus.Desc
	entityPages       *prometheus.Desc
	entityDuration    *prometheus.Desc
}

var _ prometheus.Collector = (*SyncCollector)(nil)

// NewSyncCollector returns a collector reading from source on every scrape
func NewSyncCollector(source StatusSource) *SyncCollector {
	entity := []string{"entity"}
	return &SyncCollector{
		source:       source,
		runs:         prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "runs_total"), "Sync runs finished since start.", nil, nil),
		failures:     prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "failures_total"), "Sync runs that failed since start.", nil, nil),
		inProgress:   prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "in_progress"), "1 while a sync run is executing.", nil, nil),
		lastDuration: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "last_duration_ms"), "Duration of the last run in milliseconds.", nil, nil),
		lastSuccess:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "last_success"), "1 when the last run succeeded.", nil, nil),

		entityFetched:     prometheus.NewDesc(prometheus.BuildFQName(namespace, "entity", "fetched"), "Items fetched for the entity in the last run.", entity, nil),
		entityUpserted:    prometheus.NewDesc(prometheus.BuildFQName(namespace, "entity", "upserted"), "Documents upserted for the entity in the last run.", entity, nil),
		entitySoftDeleted: prometheus.NewDesc(prometheus.BuildFQName(namespace, "entity", "soft_deleted"), "Documents soft deleted for the entity in the last run.", entity, nil),
		entityPages:       prometheus.NewDesc(prometheus.BuildFQName(namespace, "entity", "pages"), "Pages fetched for the entity in the last run.", entity, nil),
		entityDuration:    prometheus.NewDesc(prometheus.BuildFQName(namespace, "entity", "duration_ms"), "Duration of the entity in the last run in milliseconds.", entity, nil),
	}
}

// Describe implements the prometheus.Collector interface.
func (c *SyncCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.runs
	ch <- c.failures
	ch <- c.inProgress
	ch <- c.lastDuration
	ch <- c.lastSuccess
	ch <- c.entityFetched
	ch <- c.entityUpserted
	ch <- c.entitySoftDeleted
	ch <- c.entityPages
	ch <- c.entityDuration
}

// Collect implements the prometheus.Collector interface.
func (c *SyncCollector) Collect(ch chan<- prometheus.Metric) {
	status := c.source.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.runs, prometheus.CounterValue, float64(status.TotalRuns))
	ch <- prometheus.MustNewConstMetric(c.failures, prometheus.CounterValue, float64(status.TotalFailures))
	ch <- prometheus.MustNewConstMetric(c.inProgress, prometheus.GaugeValue, boolValue(status.InProgress))

	last := status.LastSummary
	if last == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.lastDuration, prometheus.GaugeValue, float64(last.DurationMs))
	ch <- prometheus.MustNewConstMetric(c.lastSuccess, prometheus.GaugeValue, boolValue(last.Success))

	for _, e := range last.Entities {
		ch <- prometheus.MustNewConstMetric(c.entityFetched, prometheus.GaugeValue, float64(e.Fetched), e.Entity)
		ch <- prometheus.MustNewConstMetric(c.entityUpserted, prometheus.GaugeValue, float64(e.Upserted), e.Entity)
		ch <- prometheus.MustNewConstMetric(c.entitySoftDeleted, prometheus.GaugeValue, float64(e.SoftDeleted), e.Entity)
		ch <- prometheus.MustNewConstMetric(c.entityPages, prometheus.GaugeValue, float64(e.Pages), e.Entity)
		ch <- prometheus.MustNewConstMetric(c.entityDuration, prometheus.GaugeValue, float64(e.DurationMs), e.Entity)
	}
}

// NewRegistry returns a registry with the sync collector and the Go and
// process collectors registered.
func NewRegistry(source StatusSource) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewSyncCollector(source),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
