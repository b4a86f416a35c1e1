package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kmilewski/dealwatch/app/database"
	"github.com/kmilewski/dealwatch/app/metrics"
)

// Reloader applies a hot reload of runtime caches.
type Reloader interface {
	Reload()
}

type Handler struct {
	sources    database.SourceStore
	deliveries database.DeliveryStore
	logs       database.LogStore
	metrics    *metrics.Metrics
	reloader   Reloader
	version    string
}

func NewHandler(sources database.SourceStore, deliveries database.DeliveryStore,
	logs database.LogStore, m *metrics.Metrics, reloader Reloader, version string) *Handler {
	return &Handler{
		sources:    sources,
		deliveries: deliveries,
		logs:       logs,
		metrics:    m,
		reloader:   reloader,
		version:    version,
	}
}

func (h *Handler) HealthCheck(c *gin.Context) {
	health := gin.H{
		"status":    "ok",
		"version":   h.version,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if count, err := h.sources.GetSourceCount(); err == nil {
		health["sources"] = count
	}
	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats := gin.H{
		"uptime_seconds": int64(h.metrics.Uptime().Seconds()),
		"queue_depth":    h.metrics.QueueDepth(),
		"cycles":         h.metrics.CyclesTotal.Load(),
		"items_found":    h.metrics.ItemsFoundTotal.Load(),
		"items_sent":     h.metrics.ItemsSentTotal.Load(),
		"price_drops":    h.metrics.PriceDropsTotal.Load(),
		"errors":         h.metrics.ErrorsTotal.Load(),
	}
	if count, err := h.sources.GetSourceCount(); err == nil {
		stats["sources"] = count
	}
	if count, err := h.deliveries.GetDeliveryCount(); err == nil {
		stats["deliveries"] = count
	}
	if count, err := h.logs.GetLogCount(); err == nil {
		stats["log_entries"] = count
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetMetrics(c *gin.Context) {
	c.Header("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	c.Status(http.StatusOK)
	h.metrics.WritePrometheus(c.Writer)
}

func (h *Handler) ListSources(c *gin.Context) {
	sources, err := h.sources.GetAllSources()
	if err != nil {
		slog.Error("Database error", "operation", "list_sources", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	out := make([]gin.H, 0, len(sources))
	for _, s := range sources {
		urls := make([]gin.H, 0, len(s.URLs))
		for _, u := range s.URLs {
			urls = append(urls, gin.H{"id": u.ID, "url": u.URL, "last_item_ts": u.LastItemTS})
		}
		out = append(out, gin.H{
			"id":          s.ID,
			"name":        s.Name,
			"active":      s.Active,
			"items_found": s.ItemsFound,
			"urls":        urls,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sources": out})
}

func (h *Handler) ToggleSource(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid source id"})
		return
	}

	active, err := h.sources.ToggleSource(id)
	if err != nil {
		slog.Error("Database error", "operation", "toggle_source", "source_id", id, "error", err)
		c.JSON(http.StatusNotFound, gin.H{"error": "source not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "active": active})
}

func (h *Handler) GetLogs(c *gin.Context) {
	limit := 100
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 && v <= 1000 {
		limit = v
	}

	entries, err := h.logs.RecentLogs(limit)
	if err != nil {
		slog.Error("Database error", "operation", "get_logs", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		out = append(out, gin.H{
			"level":      e.Level,
			"message":    e.Message,
			"source":     e.Source,
			"created_at": e.CreatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"logs": out})
}

func (h *Handler) TriggerReload(c *gin.Context) {
	h.reloader.Reload()
	c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
}
