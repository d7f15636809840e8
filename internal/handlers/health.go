package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/contractorhub/backend/internal/services"
	"github.com/huangang/contractorhub/backend/internal/storage"
	"gorm.io/gorm"
)

const healthCheckTimeout = 3 * time.Second

// HealthHandler provides the health check endpoint.
type HealthHandler struct {
	db    *gorm.DB
	queue services.TaskQueue
	files *storage.FileStorage
}

func NewHealthHandler(db *gorm.DB, queue services.TaskQueue, files *storage.FileStorage) *HealthHandler {
	return &HealthHandler{db: db, queue: queue, files: files}
}

// CheckHealth returns the health status of all subsystems. The database and
// storage bucket are required; the queue only reports its mode.
// GET /health
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	overall := "healthy"

	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	}

	queueMode := "sync"
	if h.queue != nil && h.queue.IsAsync() {
		queueMode = "async (Redis)"
	}

	storageStatus := "ok"
	bucket := ""
	if h.files == nil {
		storageStatus = "not configured"
		overall = "unhealthy"
	} else {
		bucket = h.files.Bucket()
		if err := h.files.Ping(ctx); err != nil {
			storageStatus = "unavailable"
			overall = "unhealthy"
		}
	}

	status := http.StatusOK
	if overall != "healthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":  overall,
		"service": "contractorhub",
		"components": gin.H{
			"database":   dbStatus,
			"queue_mode": queueMode,
			"storage":    storageStatus,
			"bucket":     bucket,
		},
	})
}
