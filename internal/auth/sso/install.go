package sso

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/DecisionRecordsORG/decision-records/internal/config"
	"github.com/DecisionRecordsORG/decision-records/internal/crypto"
	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
)

// Slack workspace-install OAuth endpoints. This is plain OAuth2, not OIDC:
// the exchanged token is a bot token scoped to the workspace, not a user
// identity.
const (
	slackInstallAuthURL  = "https://slack.com/oauth/v2/authorize"
	slackInstallTokenURL = "https://slack.com/api/oauth.v2.access"
)

// botTokenLabel keys the cipher that seals bot tokens at rest.
const botTokenLabel = "slack-bot-token"

// installStateTTL bounds the install redirect round-trip. Installs involve a
// human clicking through Slack's consent screen, so the window is wider than
// a sign-in redirect.
const installStateTTL = 30 * time.Minute

// Installer drives the Slack workspace install flow and stores the resulting
// bot token, sealed, on the tenant row.
type Installer struct {
	tenants tenantStore
	codec   *crypto.StateCodec
	cipher  *crypto.TokenCipher
	oauth   *oauth2.Config
}

// NewInstaller builds the install flow driver. masterSecret keys both the
// state codec and the bot-token cipher.
func NewInstaller(tenants tenantStore, cfg config.SlackConfig, masterSecret string) (*Installer, error) {
	codec, err := crypto.NewStateCodec(masterSecret, crypto.TokenTypeOAuthState)
	if err != nil {
		return nil, fmt.Errorf("sso: failed to build install state codec: %w", err)
	}
	cipher, err := crypto.NewTokenCipher(crypto.LabeledKey(masterSecret, botTokenLabel))
	if err != nil {
		return nil, fmt.Errorf("sso: failed to build bot token cipher: %w", err)
	}

	return &Installer{
		tenants: tenants,
		codec:   codec,
		cipher:  cipher,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.InstallRedirectURL,
			Scopes:       cfg.InstallScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  slackInstallAuthURL,
				TokenURL: slackInstallTokenURL,
			},
		},
	}, nil
}

// BeginInstall returns the Slack consent URL for installing the app into the
// tenant admin's workspace.
func (i *Installer) BeginInstall(tenantID string) (string, error) {
	state, err := i.codec.Seal(crypto.StatePayload{TenantID: tenantID}, installStateTTL)
	if err != nil {
		return "", flowErr(CodeInternal, err)
	}
	return i.oauth.AuthCodeURL(state), nil
}

// CompleteInstall redeems the callback, exchanges the code for a bot token,
// and persists the sealed token plus the workspace id on the tenant.
func (i *Installer) CompleteInstall(ctx context.Context, state, code string) (*models.Tenant, error) {
	payload, err := i.codec.Open(state)
	if err != nil {
		return nil, flowErr(CodeInvalidState, err)
	}

	tenant, err := i.tenants.GetTenantByID(ctx, payload.TenantID)
	if err != nil {
		return nil, flowErr(CodeInternal, err)
	}
	if tenant == nil {
		return nil, flowErr(CodeInstallFailed, fmt.Errorf("tenant %s not found", payload.TenantID))
	}

	token, err := i.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, flowErr(CodeExchangeFailed, err)
	}
	if token.AccessToken == "" {
		return nil, flowErr(CodeInstallFailed, fmt.Errorf("install response carries no bot token"))
	}

	teamID := extractTeamID(token)
	if teamID == "" {
		return nil, flowErr(CodeInstallFailed, fmt.Errorf("install response carries no team id"))
	}

	sealed, err := i.cipher.Seal([]byte(token.AccessToken))
	if err != nil {
		return nil, flowErr(CodeInternal, err)
	}
	if err := i.tenants.StoreSlackInstall(ctx, tenant.ID, teamID, sealed); err != nil {
		return nil, flowErr(CodeInternal, err)
	}

	tenant.SlackTeamID = &teamID
	tenant.SlackBotTokenSealed = &sealed
	return tenant, nil
}

// BotToken unseals a tenant's stored bot token.
func (i *Installer) BotToken(tenant *models.Tenant) (string, error) {
	if tenant.SlackBotTokenSealed == nil || *tenant.SlackBotTokenSealed == "" {
		return "", fmt.Errorf("sso: tenant %s has no bot token", tenant.Domain)
	}
	plaintext, err := i.cipher.Open(*tenant.SlackBotTokenSealed)
	if err != nil {
		return "", fmt.Errorf("sso: failed to unseal bot token: %w", err)
	}
	return string(plaintext), nil
}

// extractTeamID digs the workspace id out of Slack's token response, which
// carries it as a nested team object outside the standard OAuth2 fields.
func extractTeamID(token *oauth2.Token) string {
	team, ok := token.Extra("team").(map[string]any)
	if !ok {
		return ""
	}
	id, _ := team["id"].(string)
	return strings.TrimSpace(id)
}
