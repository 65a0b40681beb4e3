package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"readersync/internal/repository"
	"readersync/internal/service"
)

// SyncRunner is implemented by *service.DocumentSyncService.
type SyncRunner interface {
	Sync(ctx context.Context, opts service.SyncOptions) (service.Result, error)
	LastResult() (service.Result, bool)
	Running() bool
}

type SyncHandler struct {
	Service SyncRunner
	Store   repository.DocumentRepository
	Logger  *zap.Logger
	// BaseCtx bounds runs started in the background; it should outlive requests.
	BaseCtx context.Context

	runs sync.WaitGroup
}

type syncStatus struct {
	Running    bool            `json:"running"`
	LastSyncAt *time.Time      `json:"last_sync_at"`
	LastRunID  *string         `json:"last_run_id,omitempty"`
	Documents  *int64          `json:"documents,omitempty"`
	LastResult *service.Result `json:"last_result,omitempty"`
}

func (h *SyncHandler) Register(r *gin.Engine) {
	group := r.Group("/v1/sync")
	group.GET("/status", h.status)
	group.POST("", h.trigger)
}

func (h *SyncHandler) status(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	out := syncStatus{Running: h.Service.Running()}
	if last, ok := h.Service.LastResult(); ok {
		out.LastResult = &last
	}
	if h.Store != nil {
		ctx := c.Request.Context()
		state, err := h.Store.GetSyncState(ctx)
		if err != nil {
			h.logger().Warn("load checkpoint for status", zap.Error(err))
			Error(c, http.StatusServiceUnavailable, "checkpoint unavailable", nil)
			return
		}
		if state != nil {
			out.LastSyncAt = state.LastSyncAt
			out.LastRunID = state.LastRunID
		}
		total, err := h.Store.CountDocuments(ctx)
		if err != nil {
			h.logger().Warn("count documents for status", zap.Error(err))
		} else {
			out.Documents = &total
		}
	}
	Ok(c, out, nil)
}

// trigger starts a run. By default the run continues in the background and
// the call returns 202; wait=true blocks until the run finishes.
func (h *SyncHandler) trigger(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	opts := service.SyncOptions{FullSync: boolQuery(c, "full_sync")}
	if h.Service.Running() {
		Error(c, http.StatusConflict, service.ErrRunInProgress.Error(), nil)
		return
	}

	if boolQuery(c, "wait") {
		res, err := h.Service.Sync(c.Request.Context(), opts)
		switch {
		case errors.Is(err, service.ErrRunInProgress):
			Error(c, http.StatusConflict, err.Error(), nil)
		case err != nil:
			ErrorWithData(c, http.StatusBadGateway, err.Error(), res)
		default:
			Ok(c, res, nil)
		}
		return
	}

	baseCtx := h.BaseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	h.runs.Add(1)
	go func() {
		defer h.runs.Done()
		if _, err := h.Service.Sync(baseCtx, opts); err != nil {
			h.logger().Warn("triggered sync failed", zap.Error(err))
		}
	}()
	Accepted(c, map[string]any{"full_sync": opts.FullSync})
}

// Wait blocks until every run started in the background has returned.
// Cancel BaseCtx first to make them abort.
func (h *SyncHandler) Wait() {
	h.runs.Wait()
}

func (h *SyncHandler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func boolQuery(c *gin.Context, key string) bool {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	return err == nil && v
}
