// Package config loads and validates the DecisionRecords configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the DR_ prefix (e.g., DR_DATABASE_HOST
// overrides database.host in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments — no recompilation or different binaries needed.
//
// The MASTER_SECRET variable has no DR_ prefix because it may be injected by
// infrastructure tooling (e.g., Kubernetes secrets, Vault agent) that does not
// know the application-specific prefix and treats it as a generic secret name.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Tenancy   TenancyConfig   `mapstructure:"tenancy"`
	Features  FeaturesConfig  `mapstructure:"features"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	PublicURL    string        `mapstructure:"public_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetPublicURL returns the public-facing URL used for OAuth callbacks and external redirects.
// When server.public_url is set it is returned as-is; otherwise it falls back to server.base_url.
// This distinction matters in reverse-proxied deployments where the internal listen address
// (base_url) differs from the URL registered with the identity providers (public_url).
func (s *ServerConfig) GetPublicURL() string {
	if s.PublicURL != "" {
		return s.PublicURL
	}
	return s.BaseURL
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// RedisConfig holds the session-store Redis connection configuration
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig holds authentication configuration for every identity surface
type AuthConfig struct {
	// MasterSecret keys the stateful token codec and the session cookie signer.
	// Must be at least 32 characters in production.
	MasterSecret string `mapstructure:"master_secret"`

	// SessionTTL is how long a browser session stays valid without re-login.
	SessionTTL time.Duration `mapstructure:"session_ttl"`

	APIKeys      APIKeyConfig       `mapstructure:"api_keys"`
	Google       GoogleConfig       `mapstructure:"google"`
	Slack        SlackConfig        `mapstructure:"slack"`
	SSO          SSOConfig          `mapstructure:"sso"`
	BotFramework BotFrameworkConfig `mapstructure:"bot_framework"`
	Access       AccessConfig       `mapstructure:"access"`
}

// APIKeyConfig holds API key authentication configuration
type APIKeyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Prefix  string `mapstructure:"prefix"`
}

// GoogleConfig holds the fixed Google OAuth sign-in configuration
type GoogleConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url"`
}

// SlackConfig holds both the Slack OIDC sign-in flow and the workspace-level
// OAuth install flow (bot token). The two flows share the app credentials but
// use distinct redirect URLs and scopes.
type SlackConfig struct {
	Enabled            bool     `mapstructure:"enabled"`
	ClientID           string   `mapstructure:"client_id"`
	ClientSecret       string   `mapstructure:"client_secret"`
	SignInRedirectURL  string   `mapstructure:"sign_in_redirect_url"`
	InstallRedirectURL string   `mapstructure:"install_redirect_url"`
	InstallScopes      []string `mapstructure:"install_scopes"`
}

// SSOConfig holds the generic per-tenant OIDC SSO defaults. The issuer URL and
// pinned domain live on the tenant row; these are the client credentials the
// deployment registered with the enterprise IdPs.
type SSOConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	Scopes       []string `mapstructure:"scopes"`
}

// BotFrameworkConfig holds Bot Framework bearer-token validation configuration
type BotFrameworkConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// AppID is the registered bot application id; inbound tokens must carry it
	// as their audience.
	AppID string `mapstructure:"app_id"`
	// OpenIDMetadataURL is the framework's OpenID metadata document, which
	// advertises the JWKS endpoint.
	OpenIDMetadataURL string `mapstructure:"openid_metadata_url"`
	// AllowedIssuerPrefixes whitelists the iss claim beyond signature checks.
	AllowedIssuerPrefixes []string `mapstructure:"allowed_issuer_prefixes"`
}

// AccessConfig holds Cloudflare Access (edge identity gateway) configuration.
// The two enforcement switches are independent so an operator can require
// either, both, or neither.
type AccessConfig struct {
	// EnforceOriginProxy rejects requests that did not traverse the edge proxy.
	EnforceOriginProxy bool `mapstructure:"enforce_origin_proxy"`
	// EnforceAccessJWT requires a valid Access JWT on protected paths.
	EnforceAccessJWT bool `mapstructure:"enforce_access_jwt"`
	// TeamDomain is the Access team domain (e.g. "example.cloudflareaccess.com").
	TeamDomain string `mapstructure:"team_domain"`
	// Audience is the Access application audience tag.
	Audience string `mapstructure:"audience"`
	// ProtectedPaths lists paths requiring an Access JWT. Entries ending in
	// "*" are prefix matches, all others are exact.
	ProtectedPaths []string `mapstructure:"protected_paths"`
}

// TenancyConfig holds tenant lifecycle configuration
type TenancyConfig struct {
	// MatureAgeDays is the default tenant age threshold for maturity.
	MatureAgeDays int `mapstructure:"mature_age_days"`
	// MatureMemberCount is the default member-count threshold for maturity.
	MatureMemberCount int `mapstructure:"mature_member_count"`
	// BlockedEmailDomains are public webmail domains rejected by enterprise
	// sign-in flows (consumer flows may still use them).
	BlockedEmailDomains []string `mapstructure:"blocked_email_domains"`
}

// FeaturesConfig holds the system-wide level of the feature-flag cascade.
// Tenant- and user-level gates live in the database.
type FeaturesConfig struct {
	AISearch     bool `mapstructure:"ai_search"`
	SlackQueries bool `mapstructure:"slack_queries"`
	ExternalAPI  bool `mapstructure:"external_api"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	CORS         CORSConfig         `mapstructure:"cors"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	TLS          TLSConfig          `mapstructure:"tls"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

// TLSConfig holds TLS/HTTPS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool            `mapstructure:"enabled"`
	ServiceName string          `mapstructure:"service_name"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Profiling   ProfilingConfig `mapstructure:"profiling"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// ProfilingConfig holds profiling configuration
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AuditConfig holds audit logging configuration
type AuditConfig struct {
	// Enabled determines if audit logging is active
	Enabled bool `mapstructure:"enabled"`
	// LogFailedRequests determines if failed requests (4xx/5xx) should be logged
	LogFailedRequests bool `mapstructure:"log_failed_requests"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
// viper.BindEnv only errors when called with zero keys; since every key here is a non-empty
// hardcoded string, any error indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Database
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.public_url",
		"server.read_timeout",
		"server.write_timeout",

		// Redis
		"redis.addr",
		"redis.password",
		"redis.db",

		// Auth
		"auth.master_secret",
		"auth.session_ttl",
		"auth.api_keys.enabled",
		"auth.api_keys.prefix",
		"auth.google.enabled",
		"auth.google.client_id",
		"auth.google.client_secret",
		"auth.google.redirect_url",
		"auth.slack.enabled",
		"auth.slack.client_id",
		"auth.slack.client_secret",
		"auth.slack.sign_in_redirect_url",
		"auth.slack.install_redirect_url",
		"auth.slack.install_scopes",
		"auth.sso.enabled",
		"auth.sso.client_id",
		"auth.sso.client_secret",
		"auth.sso.redirect_url",
		"auth.sso.scopes",
		"auth.bot_framework.enabled",
		"auth.bot_framework.app_id",
		"auth.bot_framework.openid_metadata_url",
		"auth.bot_framework.allowed_issuer_prefixes",
		"auth.access.enforce_origin_proxy",
		"auth.access.enforce_access_jwt",
		"auth.access.team_domain",
		"auth.access.audience",
		"auth.access.protected_paths",

		// Tenancy
		"tenancy.mature_age_days",
		"tenancy.mature_member_count",
		"tenancy.blocked_email_domains",

		// Features (system-wide gates)
		"features.ai_search",
		"features.slack_queries",
		"features.external_api",

		// Security
		"security.cors.allowed_origins",
		"security.cors.allowed_methods",
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.tls.enabled",
		"security.tls.cert_file",
		"security.tls.key_file",

		// Logging
		"logging.level",
		"logging.format",
		"logging.output",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
		"telemetry.profiling.enabled",
		"telemetry.profiling.port",

		// Audit
		"audit.enabled",
		"audit.log_failed_requests",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Set config file path if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config.yaml in common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/decision-records")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	// Enable environment variable support
	v.SetEnvPrefix("DR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures
	// This is necessary because AutomaticEnv() doesn't work well with Unmarshal()
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	// Unmarshal configuration
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Auth.MasterSecret = expandEnv(cfg.Auth.MasterSecret)
	cfg.Auth.Google.ClientSecret = expandEnv(cfg.Auth.Google.ClientSecret)
	cfg.Auth.Slack.ClientSecret = expandEnv(cfg.Auth.Slack.ClientSecret)
	cfg.Auth.SSO.ClientSecret = expandEnv(cfg.Auth.SSO.ClientSecret)

	// MASTER_SECRET set directly (no DR_ prefix) wins over the config file;
	// see the package comment for why the unprefixed name exists.
	if s := os.Getenv("MASTER_SECRET"); s != "" {
		cfg.Auth.MasterSecret = s
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "decision_records")
	v.SetDefault("database.user", "decisionrecords")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.session_ttl", "720h")
	v.SetDefault("auth.api_keys.enabled", true)
	v.SetDefault("auth.api_keys.prefix", "drk")
	v.SetDefault("auth.google.enabled", false)
	v.SetDefault("auth.slack.enabled", false)
	v.SetDefault("auth.slack.install_scopes", []string{"chat:write", "commands", "users:read", "users:read.email"})
	v.SetDefault("auth.sso.enabled", false)
	v.SetDefault("auth.sso.scopes", []string{"openid", "email", "profile"})
	v.SetDefault("auth.bot_framework.enabled", false)
	v.SetDefault("auth.bot_framework.openid_metadata_url", "https://login.botframework.com/v1/.well-known/openidconfiguration")
	v.SetDefault("auth.bot_framework.allowed_issuer_prefixes", []string{
		"https://api.botframework.com",
		"https://login.microsoftonline.com/",
		"https://sts.windows.net/",
	})
	v.SetDefault("auth.access.enforce_origin_proxy", false)
	v.SetDefault("auth.access.enforce_access_jwt", false)
	v.SetDefault("auth.access.protected_paths", []string{"/admin/*"})

	// Tenancy defaults
	v.SetDefault("tenancy.mature_age_days", 90)
	v.SetDefault("tenancy.mature_member_count", 5)
	v.SetDefault("tenancy.blocked_email_domains", []string{
		"gmail.com", "googlemail.com", "outlook.com", "hotmail.com", "live.com",
		"yahoo.com", "icloud.com", "me.com", "aol.com", "proton.me", "protonmail.com",
	})

	// Features default on; tenant and user gates can still disable each one.
	v.SetDefault("features.ai_search", true)
	v.SetDefault("features.slack_queries", true)
	v.SetDefault("features.external_api", true)

	// Security defaults
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 60)
	v.SetDefault("security.rate_limiting.burst", 10)
	v.SetDefault("security.tls.enabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "decision-records")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.port", 6060)

	// Audit defaults
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.log_failed_requests", true)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// isDevMode reports whether the process is running in development mode.
// Production-only validation (master secret presence) is skipped in dev.
func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	ginMode := os.Getenv("GIN_MODE")
	return devMode == "true" || devMode == "1" || ginMode == "debug"
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Validate database
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}

	// The master secret keys every stateful token and the session cookie
	// signer; a missing or short secret is a deployment error, not a
	// degraded mode.
	if !isDevMode() {
		if c.Auth.MasterSecret == "" {
			return fmt.Errorf("auth.master_secret is required in production (generate one with: openssl rand -hex 32)")
		}
		if len(c.Auth.MasterSecret) < 32 {
			return fmt.Errorf("auth.master_secret must be at least 32 characters")
		}
	}

	// Provider credential pairs must be complete when enabled
	if c.Auth.Google.Enabled && (c.Auth.Google.ClientID == "" || c.Auth.Google.ClientSecret == "") {
		return fmt.Errorf("auth.google requires client_id and client_secret when enabled")
	}
	if c.Auth.Slack.Enabled && (c.Auth.Slack.ClientID == "" || c.Auth.Slack.ClientSecret == "") {
		return fmt.Errorf("auth.slack requires client_id and client_secret when enabled")
	}
	if c.Auth.SSO.Enabled && (c.Auth.SSO.ClientID == "" || c.Auth.SSO.ClientSecret == "") {
		return fmt.Errorf("auth.sso requires client_id and client_secret when enabled")
	}
	if c.Auth.BotFramework.Enabled && c.Auth.BotFramework.AppID == "" {
		return fmt.Errorf("auth.bot_framework requires app_id when enabled")
	}
	if c.Auth.Access.EnforceAccessJWT && (c.Auth.Access.TeamDomain == "" || c.Auth.Access.Audience == "") {
		return fmt.Errorf("auth.access requires team_domain and audience when enforce_access_jwt is set")
	}

	// Validate tenancy thresholds; zero falls back to defaults at
	// policy-evaluation time, but negative values in config are always a typo.
	if c.Tenancy.MatureAgeDays < 0 {
		return fmt.Errorf("tenancy.mature_age_days must not be negative")
	}
	if c.Tenancy.MatureMemberCount < 0 {
		return fmt.Errorf("tenancy.mature_member_count must not be negative")
	}

	// Validate rate limiting
	if c.Security.RateLimiting.Enabled && c.Security.RateLimiting.RequestsPerMinute < 1 {
		return fmt.Errorf("security.rate_limiting.requests_per_minute must be at least 1")
	}

	return nil
}
