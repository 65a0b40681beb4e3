package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"readersync/internal/repository"
)

type HealthHandler struct {
	DB *gorm.DB
	// Store, when set, must return the checkpoint row for the service to be ready.
	Store repository.DocumentRepository
}

func (h *HealthHandler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.GET("/readyz", h.ready)
}

func (h *HealthHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ready reports whether the store answers a ping and has been migrated.
func (h *HealthHandler) ready(c *gin.Context) {
	if h.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_missing"})
		return
	}
	sqlDB, err := h.DB.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_error"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_unreachable"})
		return
	}
	if h.Store != nil {
		state, err := h.Store.GetSyncState(ctx)
		if err != nil || state == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "schema_missing"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
