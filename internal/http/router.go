package httpx

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/you/abcauth/internal/http/handlers"
	"github.com/you/abcauth/internal/http/middleware"
)

// Routes groups everything the bridge serves
type Routes struct {
	Session   *handlers.SessionHandlers
	Profile   *handlers.ProfileHandlers
	Lifecycle *handlers.LifecycleHandlers
	Policies  *handlers.PolicyHandlers
	Guard     middleware.CasbinMiddleware
	Limiter   *middleware.RateLimiter
	Metrics   http.Handler
}

func BuildRouter(rt Routes, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger))

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	if rt.Metrics != nil {
		r.GET("/metrics", gin.WrapH(rt.Metrics))
	}

	v := r.Group("/").Use(rt.Guard.Enforce())
	v.GET("/session", rt.Session.Session)
	v.POST("/deeplink", rt.Session.DeepLink)

	v.POST("/auth/otp/send", rt.Limiter.Limit(), rt.Session.SendCode)
	v.POST("/auth/otp/resend", rt.Limiter.Limit(), rt.Session.ResendCode)
	v.POST("/auth/otp/verify", rt.Session.VerifyCode)
	v.POST("/auth/magic-link", rt.Limiter.Limit(), rt.Session.MagicLink)
	v.POST("/auth/cancel", rt.Session.Cancel)
	v.POST("/auth/refresh", rt.Session.Refresh)
	v.POST("/auth/logout", rt.Session.Logout)

	v.GET("/profile", rt.Profile.Get)
	v.PATCH("/profile", rt.Profile.Update)
	v.DELETE("/profile", rt.Profile.Delete)
	v.PUT("/profile/home-store", rt.Profile.SetHomeStore)

	v.GET("/lifecycle", rt.Lifecycle.Status)
	v.POST("/lifecycle/foreground", rt.Lifecycle.Foreground)
	v.POST("/lifecycle/background", rt.Lifecycle.Background)

	v.GET("/policies", rt.Policies.List)

	return r
}
