package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/you/abcauth/domain"
)

// ProfileHandlers manages the signed-in account's profile
type ProfileHandlers struct {
	ctl domain.SessionController
}

// NewProfileHandlers creates new profile handlers
func NewProfileHandlers(ctl domain.SessionController) *ProfileHandlers {
	return &ProfileHandlers{ctl: ctl}
}

// HomeStoreRequest carries the onboarding store selection
type HomeStoreRequest struct {
	StoreID string `json:"store_id" binding:"required"`
}

// Get returns the profile held by the session. A degraded profile is reported as such.
func (h *ProfileHandlers) Get(c *gin.Context) {
	snap := h.ctl.Snapshot()
	if snap.Profile == nil {
		status, msg := http.StatusNotFound, "Profile not found"
		if snap.ProfileDegraded {
			status, msg = http.StatusServiceUnavailable, "Profile is temporarily unavailable"
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": snap.Profile})
}

// SetHomeStore saves the selected store
func (h *ProfileHandlers) SetHomeStore(c *gin.Context) {
	var req HomeStoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	profile, err := h.ctl.SetHomeStore(c.Request.Context(), req.StoreID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"profile":  profile,
			"decision": h.ctl.Decision(),
		},
	})
}

// Update applies a partial update
func (h *ProfileHandlers) Update(c *gin.Context) {
	var req domain.ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	profile, err := h.ctl.UpdateProfile(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": profile})
}

// Delete removes the profile row
func (h *ProfileHandlers) Delete(c *gin.Context) {
	if err := h.ctl.DeleteProfile(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
