package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/casbin/casbin/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/you/abcauth/domain"
	"github.com/you/abcauth/internal/config"
	httpx "github.com/you/abcauth/internal/http"
	"github.com/you/abcauth/internal/http/handlers"
	"github.com/you/abcauth/internal/http/middleware"
	"github.com/you/abcauth/internal/infrastructure/database"
	"github.com/you/abcauth/internal/infrastructure/gotrue"
	"github.com/you/abcauth/internal/infrastructure/localidp"
	"github.com/you/abcauth/internal/infrastructure/repositories"
	"github.com/you/abcauth/internal/infrastructure/tokenstore"
	"github.com/you/abcauth/internal/metrics"
	"github.com/you/abcauth/internal/services"
)

// Container holds all dependencies
type Container struct {
	// Config
	Config *config.Config
	Logger *slog.Logger

	// Infrastructure
	DB          *gorm.DB
	RedisClient *redis.Client
	Registry    *prometheus.Registry
	Metrics     *metrics.Collector

	// Stores and providers
	TokenStore domain.TokenStore
	Profiles   domain.ProfileStore
	Provider   domain.IdentityProvider

	// Services
	Client    *services.IdentityClientImpl
	DeepLinks *services.DeepLinkService
	ProfileSv *services.ProfileService
	Machine   *services.SessionMachine
	Enforcer  *casbin.Enforcer
}

// NewContainer opens the database and Redis and wires every service
func NewContainer(cfg *config.Config, logger *slog.Logger) (*Container, error) {
	container := &Container{Config: cfg, Logger: logger}

	// Initialize infrastructure
	if err := container.initDatabase(); err != nil {
		return nil, err
	}
	if err := container.initRedis(); err != nil {
		container.Close()
		return nil, err
	}

	// Initialize services
	if err := container.initServices(); err != nil {
		container.Close()
		return nil, err
	}

	return container, nil
}

func (c *Container) initDatabase() error {
	db, err := database.Open(c.Config.DSN, c.Config.LogLevel)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		return fmt.Errorf("database migrate: %w", err)
	}
	c.DB = db
	return nil
}

func (c *Container) initRedis() error {
	rdb := database.NewRedis(c.Config.RedisAddr, c.Config.RedisPassword, c.Config.RedisDB)
	if err := rdb.Ping(context.Background()); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis: %w", err)
	}
	c.RedisClient = rdb.Client
	return nil
}

// initServices wires everything above the connections. DB and RedisClient must be set.
func (c *Container) initServices() error {
	cfg := c.Config

	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.Metrics = metrics.NewCollector(c.Registry)

	sealed, err := tokenstore.NewSealedStore(tokenstore.NewRedisStore(c.RedisClient, cfg.TokenPrefix, 0), cfg.TokenSecret)
	if err != nil {
		return fmt.Errorf("token store: %w", err)
	}
	c.TokenStore = sealed
	c.Profiles = repositories.NewProfileRepository(c.DB, cfg.UnsetHomeStoreSentinels)

	switch cfg.IdentityProvider {
	case config.ProviderLocal:
		tokens := localidp.NewTokenIssuer(cfg.LocalJWTSecret, cfg.LocalIssuer, cfg.LocalAccessTTL, cfg.LocalRefreshTTL)
		c.Provider = localidp.NewProvider(c.RedisClient, tokens, localidp.NewLogMailer(c.Logger), c.Logger, localidp.Config{
			CodeLength:   cfg.LocalOTPLength,
			CodeTTL:      cfg.LocalOTPTTL,
			MaxAttempts:  cfg.LocalMaxAttempts,
			ResendWindow: cfg.LocalResendWindow,
		})
	default:
		c.Provider = gotrue.NewClient(&http.Client{Timeout: cfg.IdentityTimeout}, c.Logger, cfg.IdentityURL, cfg.IdentityAnonKey)
	}

	c.Client = services.NewIdentityClient(c.Provider, c.TokenStore, c.Metrics, c.Logger, services.IdentityClientConfig{
		SessionKey:      cfg.SessionKey,
		RedirectURL:     cfg.RedirectURL,
		RefreshMargin:   cfg.RefreshMargin,
		AutoRefreshTick: cfg.AutoRefreshTick,
	})
	c.DeepLinks = services.NewDeepLinkService(c.Client, c.Logger, cfg.DeepLinkAuthHost, cfg.DeepLinkSchemes)
	c.ProfileSv = services.NewProfileService(c.Profiles, c.Metrics, c.Logger)
	c.Machine = services.NewSessionMachine(c.Client, c.DeepLinks, c.ProfileSv, c.Metrics, c.Logger)

	c.Enforcer, err = middleware.NewPhaseEnforcer(middleware.DefaultPolicies)
	if err != nil {
		return err
	}
	return nil
}

// Routes builds the bridge routes over the wired services
func (c *Container) Routes() httpx.Routes {
	return httpx.Routes{
		Session:   handlers.NewSessionHandlers(c.Machine),
		Profile:   handlers.NewProfileHandlers(c.Machine),
		Lifecycle: handlers.NewLifecycleHandlers(c.Client),
		Policies:  &handlers.PolicyHandlers{E: c.Enforcer},
		Guard:     middleware.NewPhaseGuard(c.Enforcer, c.Machine.Snapshot),
		Limiter:   middleware.NewRateLimiter(c.Config.RateLimitPerMinute, c.Config.RateLimitBurst),
		Metrics:   metrics.Handler(c.Registry),
	}
}

// Close releases the machine and closes all connections
func (c *Container) Close() error {
	if c.Machine != nil {
		c.Machine.Close()
	}
	if c.Client != nil {
		c.Client.StopAutoRefresh()
	}

	if c.RedisClient != nil {
		c.RedisClient.Close()
	}

	if c.DB != nil {
		sqlDB, err := c.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}

	return nil
}
