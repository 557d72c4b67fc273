package config

import (
	"os"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// DatabaseConfig.GetDSN
// ---------------------------------------------------------------------------

func TestGetDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "standard config",
			cfg: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "decisionrecords",
				Password: "secret",
				Name:     "decision_records",
				SSLMode:  "require",
			},
			want: "host=localhost port=5432 user=decisionrecords password=secret dbname=decision_records sslmode=require",
		},
		{
			name: "disable ssl mode",
			cfg: DatabaseConfig{
				Host:     "db.example.com",
				Port:     5433,
				User:     "admin",
				Password: "pass",
				Name:     "mydb",
				SSLMode:  "disable",
			},
			want: "host=db.example.com port=5433 user=admin password=pass dbname=mydb sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.GetDSN()
			if got != tt.want {
				t.Errorf("GetDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// ServerConfig helpers
// ---------------------------------------------------------------------------

func TestGetAddress(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{"default", ServerConfig{Host: "0.0.0.0", Port: 8080}, "0.0.0.0:8080"},
		{"localhost", ServerConfig{Host: "localhost", Port: 3000}, "localhost:3000"},
		{"empty host", ServerConfig{Host: "", Port: 8080}, ":8080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetAddress(); got != tt.want {
				t.Errorf("GetAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetPublicURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{"public url set", ServerConfig{BaseURL: "http://internal:8080", PublicURL: "https://records.example.com"}, "https://records.example.com"},
		{"fallback to base url", ServerConfig{BaseURL: "http://localhost:8080"}, "http://localhost:8080"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetPublicURL(); got != tt.want {
				t.Errorf("GetPublicURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Config.Validate
// ---------------------------------------------------------------------------

// validConfig returns a config that passes Validate in production mode.
func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080, BaseURL: "http://localhost:8080"},
		Database: DatabaseConfig{Host: "localhost", Port: 5432, Name: "decision_records", User: "u"},
		Auth: AuthConfig{
			MasterSecret: strings.Repeat("s", 32),
		},
		Tenancy: TenancyConfig{MatureAgeDays: 90, MatureMemberCount: 5},
		Security: SecurityConfig{
			RateLimiting: RateLimitingConfig{Enabled: true, RequestsPerMinute: 60, Burst: 10},
		},
	}
}

func TestValidate_OK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server port"},
		{"missing db host", func(c *Config) { c.Database.Host = "" }, "database host"},
		{"missing master secret", func(c *Config) { c.Auth.MasterSecret = "" }, "master_secret"},
		{"short master secret", func(c *Config) { c.Auth.MasterSecret = "short" }, "at least 32"},
		{"google missing secret", func(c *Config) {
			c.Auth.Google = GoogleConfig{Enabled: true, ClientID: "id"}
		}, "auth.google"},
		{"slack missing secret", func(c *Config) {
			c.Auth.Slack = SlackConfig{Enabled: true, ClientID: "id"}
		}, "auth.slack"},
		{"sso missing secret", func(c *Config) {
			c.Auth.SSO = SSOConfig{Enabled: true, ClientID: "id"}
		}, "auth.sso"},
		{"bot framework missing app id", func(c *Config) {
			c.Auth.BotFramework = BotFrameworkConfig{Enabled: true}
		}, "bot_framework"},
		{"access jwt without team domain", func(c *Config) {
			c.Auth.Access = AccessConfig{EnforceAccessJWT: true}
		}, "auth.access"},
		{"negative maturity age", func(c *Config) { c.Tenancy.MatureAgeDays = -1 }, "mature_age_days"},
		{"rate limit zero rpm", func(c *Config) { c.Security.RateLimiting.RequestsPerMinute = 0 }, "requests_per_minute"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("Validate() error = %q, want substring %q", err.Error(), tt.wantSub)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Load — env layering
// ---------------------------------------------------------------------------

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DEV_MODE", "true") // skip production secret requirement
	t.Setenv("DR_SERVER_PORT", "9999")
	t.Setenv("DR_AUTH_API_KEYS_PREFIX", "test")
	t.Setenv("DR_TENANCY_MATURE_AGE_DAYS", "30")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Auth.APIKeys.Prefix != "test" {
		t.Errorf("APIKeys.Prefix = %q, want %q", cfg.Auth.APIKeys.Prefix, "test")
	}
	if cfg.Tenancy.MatureAgeDays != 30 {
		t.Errorf("Tenancy.MatureAgeDays = %d, want 30", cfg.Tenancy.MatureAgeDays)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DEV_MODE", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Auth.APIKeys.Prefix != "drk" {
		t.Errorf("default api key prefix = %q, want drk", cfg.Auth.APIKeys.Prefix)
	}
	if cfg.Tenancy.MatureAgeDays != 90 || cfg.Tenancy.MatureMemberCount != 5 {
		t.Errorf("default maturity thresholds = %d/%d, want 90/5",
			cfg.Tenancy.MatureAgeDays, cfg.Tenancy.MatureMemberCount)
	}
	if len(cfg.Auth.BotFramework.AllowedIssuerPrefixes) == 0 {
		t.Error("default bot framework issuer allow-list is empty")
	}
	if !cfg.Features.AISearch || !cfg.Features.SlackQueries || !cfg.Features.ExternalAPI {
		t.Error("system feature gates should default to enabled")
	}
}

func TestLoad_UnprefixedMasterSecret(t *testing.T) {
	t.Setenv("DEV_MODE", "true")
	t.Setenv("MASTER_SECRET", strings.Repeat("m", 32))

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Auth.MasterSecret != strings.Repeat("m", 32) {
		t.Error("MASTER_SECRET env var should populate auth.master_secret")
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
