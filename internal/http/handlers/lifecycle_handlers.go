package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// AutoRefresher is the foreground refresh loop of the identity client
type AutoRefresher interface {
	StartAutoRefresh(ctx context.Context)
	StopAutoRefresh()
	AutoRefreshRunning() bool
}

// LifecycleHandlers forwards app foreground/background transitions
type LifecycleHandlers struct {
	refresher AutoRefresher
}

// NewLifecycleHandlers creates new lifecycle handlers
func NewLifecycleHandlers(refresher AutoRefresher) *LifecycleHandlers {
	return &LifecycleHandlers{refresher: refresher}
}

// Foreground starts background session refresh
func (h *LifecycleHandlers) Foreground(c *gin.Context) {
	// the loop outlives this request
	h.refresher.StartAutoRefresh(context.WithoutCancel(c.Request.Context()))
	h.status(c)
}

// Background stops background session refresh
func (h *LifecycleHandlers) Background(c *gin.Context) {
	h.refresher.StopAutoRefresh()
	h.status(c)
}

// Status reports whether auto refresh is running
func (h *LifecycleHandlers) Status(c *gin.Context) {
	h.status(c)
}

func (h *LifecycleHandlers) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"auto_refresh": h.refresher.AutoRefreshRunning()}})
}
