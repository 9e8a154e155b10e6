package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderGoTrue = "gotrue"
	ProviderLocal  = "local"
)

type AppConfig struct {
	Port      int    `yaml:"port"`
	GinMode   string `yaml:"gin_mode"`
	LogLevel  string `yaml:"log_level"`
	LaunchURL string `yaml:"launch_url"`
}

type IdentityConfig struct {
	Provider        string `yaml:"provider"`
	URL             string `yaml:"url"`
	AnonKey         string `yaml:"anon_key"`
	RedirectURL     string `yaml:"redirect_url"`
	Timeout         string `yaml:"timeout"`
	AutoRefreshTick string `yaml:"auto_refresh_tick"`
	RefreshMargin   string `yaml:"refresh_margin"`
	SessionKey      string `yaml:"session_key"`
}

type DeepLinkConfig struct {
	Schemes  []string `yaml:"schemes"`
	AuthHost string   `yaml:"auth_host"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type TokenStoreConfig struct {
	Prefix string `yaml:"prefix"`
	Secret string `yaml:"secret"`
}

type ProfileConfig struct {
	UnsetHomeStoreSentinels []string `yaml:"unset_home_store_sentinels"`
}

type LocalIDPConfig struct {
	JWTSecret    string `yaml:"jwt_secret"`
	Issuer       string `yaml:"issuer"`
	AccessTTL    string `yaml:"access_ttl"`
	RefreshTTL   string `yaml:"refresh_ttl"`
	OTPTTL       string `yaml:"otp_ttl"`
	OTPLength    int    `yaml:"otp_length"`
	MaxAttempts  int    `yaml:"max_attempts"`
	ResendWindow string `yaml:"resend_window"`
}

type RateLimitConfig struct {
	PerMinute int `yaml:"per_minute"`
	Burst     int `yaml:"burst"`
}

type ConfigFile struct {
	App        AppConfig        `yaml:"app"`
	Identity   IdentityConfig   `yaml:"identity"`
	DeepLink   DeepLinkConfig   `yaml:"deep_link"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	TokenStore TokenStoreConfig `yaml:"token_store"`
	Profile    ProfileConfig    `yaml:"profile"`
	LocalIDP   LocalIDPConfig   `yaml:"local_idp"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

type Config struct {
	Port      string
	GinMode   string
	LogLevel  string
	LaunchURL string

	IdentityProvider string
	IdentityURL      string
	IdentityAnonKey  string
	RedirectURL      string
	IdentityTimeout  time.Duration
	AutoRefreshTick  time.Duration
	RefreshMargin    time.Duration
	SessionKey       string

	DeepLinkSchemes  []string
	DeepLinkAuthHost string

	DSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TokenPrefix string
	TokenSecret string

	UnsetHomeStoreSentinels []string

	LocalJWTSecret    string
	LocalIssuer       string
	LocalAccessTTL    time.Duration
	LocalRefreshTTL   time.Duration
	LocalOTPTTL       time.Duration
	LocalOTPLength    int
	LocalMaxAttempts  int
	LocalResendWindow time.Duration

	RateLimitPerMinute int
	RateLimitBurst     int
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// Load reads the YAML config file (CONFIG_PATH, default config/config.yml) and applies
// environment overrides on top of it.
func Load() (*Config, error) {
	path := env("CONFIG_PATH", "config/config.yml")
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config file at %s: %w", path, err)
	}
	return Parse(bytes)
}

// Parse builds a Config from YAML bytes plus environment overrides
func Parse(data []byte) (*Config, error) {
	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("could not parse config yaml: %w", err)
	}
	applyDefaults(&file)

	cfg := &Config{
		Port:      env("PORT", strconv.Itoa(file.App.Port)),
		GinMode:   env("GIN_MODE", file.App.GinMode),
		LogLevel:  env("LOG_LEVEL", file.App.LogLevel),
		LaunchURL: env("LAUNCH_URL", file.App.LaunchURL),

		IdentityProvider: env("IDENTITY_PROVIDER", file.Identity.Provider),
		IdentityURL:      strings.TrimRight(env("IDENTITY_URL", file.Identity.URL), "/"),
		IdentityAnonKey:  env("IDENTITY_ANON_KEY", file.Identity.AnonKey),
		RedirectURL:      env("REDIRECT_URL", file.Identity.RedirectURL),
		SessionKey:       file.Identity.SessionKey,

		DeepLinkSchemes:  file.DeepLink.Schemes,
		DeepLinkAuthHost: file.DeepLink.AuthHost,

		DSN: env("DATABASE_DSN", file.Database.DSN),

		RedisAddr:     env("REDIS_ADDR", file.Redis.Addr),
		RedisPassword: env("REDIS_PASSWORD", file.Redis.Password),
		RedisDB:       envInt("REDIS_DB", file.Redis.DB),

		TokenPrefix: file.TokenStore.Prefix,
		TokenSecret: env("TOKEN_STORE_SECRET", file.TokenStore.Secret),

		UnsetHomeStoreSentinels: file.Profile.UnsetHomeStoreSentinels,

		LocalJWTSecret:   env("LOCAL_IDP_JWT_SECRET", file.LocalIDP.JWTSecret),
		LocalIssuer:      file.LocalIDP.Issuer,
		LocalOTPLength:   file.LocalIDP.OTPLength,
		LocalMaxAttempts: file.LocalIDP.MaxAttempts,

		RateLimitPerMinute: file.RateLimit.PerMinute,
		RateLimitBurst:     file.RateLimit.Burst,
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"identity timeout", file.Identity.Timeout, &cfg.IdentityTimeout},
		{"auto refresh tick", file.Identity.AutoRefreshTick, &cfg.AutoRefreshTick},
		{"refresh margin", file.Identity.RefreshMargin, &cfg.RefreshMargin},
		{"local access TTL", file.LocalIDP.AccessTTL, &cfg.LocalAccessTTL},
		{"local refresh TTL", file.LocalIDP.RefreshTTL, &cfg.LocalRefreshTTL},
		{"local OTP TTL", file.LocalIDP.OTPTTL, &cfg.LocalOTPTTL},
		{"local resend window", file.LocalIDP.ResendWindow, &cfg.LocalResendWindow},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(f *ConfigFile) {
	if f.App.Port == 0 {
		f.App.Port = 8787
	}
	if f.App.GinMode == "" {
		f.App.GinMode = "release"
	}
	if f.App.LogLevel == "" {
		f.App.LogLevel = "info"
	}
	if f.Identity.Provider == "" {
		f.Identity.Provider = ProviderGoTrue
	}
	if f.Identity.RedirectURL == "" {
		f.Identity.RedirectURL = "abcapp://auth"
	}
	if f.Identity.Timeout == "" {
		f.Identity.Timeout = "15s"
	}
	if f.Identity.AutoRefreshTick == "" {
		f.Identity.AutoRefreshTick = "30s"
	}
	if f.Identity.RefreshMargin == "" {
		f.Identity.RefreshMargin = "90s"
	}
	if f.Identity.SessionKey == "" {
		f.Identity.SessionKey = "abcapp-auth-token"
	}
	if len(f.DeepLink.Schemes) == 0 {
		f.DeepLink.Schemes = []string{"abcapp"}
	}
	if f.DeepLink.AuthHost == "" {
		f.DeepLink.AuthHost = "auth"
	}
	if f.Redis.Addr == "" {
		f.Redis.Addr = "localhost:6379"
	}
	if f.TokenStore.Prefix == "" {
		f.TokenStore.Prefix = "securestore:"
	}
	if f.Profile.UnsetHomeStoreSentinels == nil {
		f.Profile.UnsetHomeStoreSentinels = []string{"000"}
	}
	if f.LocalIDP.Issuer == "" {
		f.LocalIDP.Issuer = "abcauth-local"
	}
	if f.LocalIDP.AccessTTL == "" {
		f.LocalIDP.AccessTTL = "1h"
	}
	if f.LocalIDP.RefreshTTL == "" {
		f.LocalIDP.RefreshTTL = "720h"
	}
	if f.LocalIDP.OTPTTL == "" {
		f.LocalIDP.OTPTTL = "10m"
	}
	if f.LocalIDP.OTPLength == 0 {
		f.LocalIDP.OTPLength = 6
	}
	if f.LocalIDP.MaxAttempts == 0 {
		f.LocalIDP.MaxAttempts = 5
	}
	if f.LocalIDP.ResendWindow == "" {
		f.LocalIDP.ResendWindow = "60s"
	}
	if f.RateLimit.PerMinute == 0 {
		f.RateLimit.PerMinute = 6
	}
	if f.RateLimit.Burst == 0 {
		f.RateLimit.Burst = 3
	}
}

// Validate checks the settings required by the selected identity provider
func (c *Config) Validate() error {
	var missing []string

	switch c.IdentityProvider {
	case ProviderGoTrue:
		if c.IdentityURL == "" {
			missing = append(missing, "identity.url")
		}
		if c.IdentityAnonKey == "" {
			missing = append(missing, "identity.anon_key")
		}
	case ProviderLocal:
		if c.LocalJWTSecret == "" {
			missing = append(missing, "local_idp.jwt_secret")
		}
		if c.LocalOTPLength != 6 {
			return fmt.Errorf("local_idp.otp_length must be 6, got %d", c.LocalOTPLength)
		}
	default:
		return fmt.Errorf("unknown identity provider %q", c.IdentityProvider)
	}

	if c.DSN == "" {
		missing = append(missing, "database.dsn")
	}
	if c.TokenSecret == "" {
		missing = append(missing, "token_store.secret")
	}
	if c.RefreshMargin >= c.LocalAccessTTL && c.IdentityProvider == ProviderLocal {
		return fmt.Errorf("identity.refresh_margin must be shorter than local_idp.access_ttl")
	}

	if len(missing) > 0 {
		return fmt.Errorf("required configuration is not set: %v", missing)
	}
	return nil
}
