package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/you/abcauth/domain"
)

// SessionHandlers exposes the session state machine over HTTP
type SessionHandlers struct {
	ctl domain.SessionController
}

// NewSessionHandlers creates new session handlers
func NewSessionHandlers(ctl domain.SessionController) *SessionHandlers {
	return &SessionHandlers{ctl: ctl}
}

// EmailRequest carries the address a code or link is sent to
type EmailRequest struct {
	Email string `json:"email" binding:"required"`
}

// VerifyRequest carries the code typed by the user
type VerifyRequest struct {
	Code string `json:"code" binding:"required"`
}

// DeepLinkRequest carries a URL delivered by the operating system
type DeepLinkRequest struct {
	URL string `json:"url" binding:"required"`
}

// Session returns the current snapshot and the screen the gate selects for it
func (h *SessionHandlers) Session(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"snapshot": h.ctl.Snapshot(),
			"decision": h.ctl.Decision(),
		},
	})
}

// SendCode requests a one-time code
func (h *SessionHandlers) SendCode(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.ctl.RequestCode(c.Request.Context(), req.Email); err != nil {
		writeError(c, err)
		return
	}
	h.respond(c, "Code sent")
}

// ResendCode requests another code for the address awaiting verification
func (h *SessionHandlers) ResendCode(c *gin.Context) {
	if err := h.ctl.ResendCode(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	h.respond(c, "Code sent")
}

// VerifyCode completes a code sign-in
func (h *SessionHandlers) VerifyCode(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.ctl.VerifyCode(c.Request.Context(), req.Code); err != nil {
		writeError(c, err)
		return
	}
	h.respond(c, "Signed in")
}

// MagicLink requests a sign-in link
func (h *SessionHandlers) MagicLink(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.ctl.RequestMagicLink(c.Request.Context(), req.Email); err != nil {
		writeError(c, err)
		return
	}
	h.respond(c, "Check your email for a sign-in link")
}

// Cancel returns from code entry or a failed link to sign-in
func (h *SessionHandlers) Cancel(c *gin.Context) {
	if err := h.ctl.Cancel(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	h.respond(c, "Cancelled")
}

// Refresh renews the session on demand
func (h *SessionHandlers) Refresh(c *gin.Context) {
	if err := h.ctl.Refresh(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	h.respond(c, "Session refreshed")
}

// Logout signs out. It succeeds even when already signed out.
func (h *SessionHandlers) Logout(c *gin.Context) {
	if err := h.ctl.SignOut(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	h.respond(c, "Signed out")
}

// DeepLink hands an incoming URL to the state machine
func (h *SessionHandlers) DeepLink(c *gin.Context) {
	var req DeepLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome, err := h.ctl.HandleDeepLink(c.Request.Context(), req.URL)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"outcome":  outcome,
			"snapshot": h.ctl.Snapshot(),
		},
	})
}

func (h *SessionHandlers) respond(c *gin.Context, message string) {
	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"message":  message,
			"snapshot": h.ctl.Snapshot(),
			"decision": h.ctl.Decision(),
		},
	})
}
