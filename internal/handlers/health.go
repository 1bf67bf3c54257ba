package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/huangang/gatehouse/backend/internal/services"
	"gorm.io/gorm"
)

// HealthHandler reports whether the database and event queue are usable.
type HealthHandler struct {
	db    *gorm.DB
	queue services.EventQueue
	store string
}

func NewHealthHandler(db *gorm.DB, queue services.EventQueue, throttleStore string) *HealthHandler {
	return &HealthHandler{db: db, queue: queue, store: throttleStore}
}

// CheckHealth returns the health status of all subsystems.
// GET /health
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"
	status := http.StatusOK

	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
	} else if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		dbStatus = "error: " + err.Error()
	}
	if dbStatus != "ok" {
		overall = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	queueMode := "sync"
	if h.queue != nil && h.queue.IsAsync() {
		queueMode = "async (Redis)"
	}

	c.JSON(status, gin.H{
		"status":  overall,
		"service": "gatehouse",
		"components": gin.H{
			"database":       dbStatus,
			"queue_mode":     queueMode,
			"throttle_store": h.store,
		},
	})
}
