// tenant.go defines the Tenant model: one tenant per authentication domain,
// carrying a maturity state, maturity-threshold overrides, per-provider
// switches, generic SSO configuration, and tenant-level feature flags.
package models

import "time"

// Tenant maturity states.
const (
	MaturityBootstrap = "bootstrap"
	MaturityMature    = "mature"
)

// Tenant represents one customer organization, keyed by email domain.
// The db tags support sqlx wide-row scanning in the tenant repository.
type Tenant struct {
	ID            string `db:"id"`
	Domain        string `db:"domain"`
	Name          string `db:"name"`
	MaturityState string `db:"maturity_state"`

	// Threshold overrides; nil means "use the deployment defaults".
	MatureAgeDays     *int `db:"mature_age_days"`
	MatureMemberCount *int `db:"mature_member_count"`

	// Identity provider switches.
	GoogleEnabled bool `db:"google_enabled"`
	SlackEnabled  bool `db:"slack_enabled"`
	SSOEnabled    bool `db:"sso_enabled"`

	// Generic OIDC SSO configuration (discovery-based).
	SSOIssuerURL    *string `db:"sso_issuer_url"`
	SSOClientID     *string `db:"sso_client_id"`
	SSOClientSecret *string `db:"sso_client_secret"`

	// Slack workspace install artifacts. The bot token column holds a
	// sealed ciphertext produced by the token cipher, never plaintext.
	SlackTeamID         *string `db:"slack_team_id"`
	SlackBotTokenSealed *string `db:"slack_bot_token_sealed"`

	// Tenant-level feature switches, the second level of the feature cascade.
	AISearchEnabled     bool `db:"ai_search_enabled"`
	SlackQueriesEnabled bool `db:"slack_queries_enabled"`
	ExternalAPIEnabled  bool `db:"external_api_enabled"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// IsMature reports whether the stored maturity state is "mature".
func (t *Tenant) IsMature() bool {
	return t.MaturityState == MaturityMature
}

// SSOConfigured reports whether the tenant has a complete generic SSO setup.
func (t *Tenant) SSOConfigured() bool {
	return t.SSOEnabled &&
		t.SSOIssuerURL != nil && *t.SSOIssuerURL != "" &&
		t.SSOClientID != nil && *t.SSOClientID != "" &&
		t.SSOClientSecret != nil && *t.SSOClientSecret != ""
}

// AgeDays returns the tenant's age in whole days at the given instant.
func (t *Tenant) AgeDays(now time.Time) int {
	if now.Before(t.CreatedAt) {
		return 0
	}
	return int(now.Sub(t.CreatedAt).Hours() / 24)
}
