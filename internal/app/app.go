package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/you/abcauth/internal/config"
	httpx "github.com/you/abcauth/internal/http"
)

const shutdownTimeout = 10 * time.Second

// Run wires the container, starts the session machine with the configured launch
// URL and serves the bridge until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	container, err := NewContainer(cfg, logger)
	if err != nil {
		return err
	}
	defer container.Close()

	return serve(ctx, container)
}

func serve(ctx context.Context, c *Container) error {
	if err := c.Machine.Start(ctx, c.Config.LaunchURL); err != nil {
		return fmt.Errorf("session machine: %w", err)
	}
	// the process starts in the foreground
	c.Client.StartAutoRefresh(ctx)

	gin.SetMode(c.Config.GinMode)
	srv := &http.Server{
		Addr:              ":" + c.Config.Port,
		Handler:           httpx.BuildRouter(c.Routes(), c.Logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		c.Logger.Info("listening", slog.String("addr", srv.Addr), slog.String("identity_provider", c.Config.IdentityProvider))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	c.Logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
