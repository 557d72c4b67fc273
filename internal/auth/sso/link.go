package sso

import (
	"context"
	"fmt"
	"time"

	"github.com/DecisionRecordsORG/decision-records/internal/crypto"
)

// linkTTL bounds how long a cross-device link token is redeemable. The token
// travels from a Slack message to a browser on a possibly different device,
// so the window is generous but still short-lived.
const linkTTL = 30 * time.Minute

// Linker mints and redeems cross-device account-link tokens: a Slack user who
// has never signed in through the browser gets a link token in a DM, opens it
// while signed in, and the redemption attaches their Slack identity to the
// browser account.
type Linker struct {
	users userStore
	codec *crypto.StateCodec
}

// NewLinker builds the account linker.
func NewLinker(users userStore, masterSecret string) (*Linker, error) {
	codec, err := crypto.NewStateCodec(masterSecret, crypto.TokenTypeSlackLink)
	if err != nil {
		return nil, fmt.Errorf("sso: failed to build link codec: %w", err)
	}
	return &Linker{users: users, codec: codec}, nil
}

// MintLinkToken seals a link token binding the Slack user and workspace.
func (l *Linker) MintLinkToken(slackUserID, tenantID string) (string, error) {
	return l.codec.Seal(crypto.StatePayload{
		Subject:  slackUserID,
		TenantID: tenantID,
	}, linkTTL)
}

// Redeem attaches the Slack identity carried by the token to the signed-in
// user. The token's type tag and expiry are enforced by the codec; a token
// minted for any other flow fails decryption outright.
func (l *Linker) Redeem(ctx context.Context, token, userID string) error {
	payload, err := l.codec.Open(token)
	if err != nil {
		return flowErr(CodeInvalidState, err)
	}

	user, err := l.users.GetUserByID(ctx, userID)
	if err != nil {
		return flowErr(CodeInternal, err)
	}
	if user == nil {
		return flowErr(CodeInternal, fmt.Errorf("user %s not found", userID))
	}

	existing, err := l.users.GetUserBySlackUserID(ctx, payload.Subject)
	if err != nil {
		return flowErr(CodeInternal, err)
	}
	if existing != nil && existing.ID != user.ID {
		return flowErr(CodeInvalidState,
			fmt.Errorf("slack identity already linked to another account"))
	}

	user.SlackUserID = &payload.Subject
	if err := l.users.UpdateUser(ctx, user); err != nil {
		return flowErr(CodeInternal, err)
	}
	return nil
}
