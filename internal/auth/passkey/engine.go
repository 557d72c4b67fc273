// Package passkey drives WebAuthn registration and authentication ceremonies.
//
// Each ceremony spans two requests: begin issues a challenge whose context is
// stored server-side in the caller's session, finish verifies the signed
// authenticator response against that context. The relying-party id is the
// request host with the port stripped and the expected origin comes from the
// request's Origin header, so the same deployment works whether the UI and
// API share an origin or not.
package passkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/DecisionRecordsORG/decision-records/internal/db/models"
	"github.com/DecisionRecordsORG/decision-records/internal/db/repositories"
	"github.com/DecisionRecordsORG/decision-records/internal/session"
)

var (
	// ErrCeremonyExpired is returned when the finish request arrives without a
	// matching challenge in the session.
	ErrCeremonyExpired = errors.New("passkey: ceremony session expired")

	// ErrInvalidCredential is the single generic verification failure. The
	// specific failed check (signature, origin, challenge, counter) is logged
	// but never surfaced, so callers cannot be used as a verification oracle.
	ErrInvalidCredential = errors.New("passkey: invalid credential")

	// ErrLastCredential is returned when deleting a user's only authenticator.
	ErrLastCredential = errors.New("passkey: cannot delete the only credential")

	// ErrUnknownUser is returned when a login ceremony references a user or
	// credential this deployment has no record of.
	ErrUnknownUser = errors.New("passkey: unknown user")
)

// userStore and credentialStore are the persistence surfaces the engine needs.
type userStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, userID string) error
	CountByDomain(ctx context.Context, domain string) (int, error)
}

type credentialStore interface {
	CreateCredential(ctx context.Context, cred *models.WebAuthnCredential) error
	GetCredentialByCredentialID(ctx context.Context, credentialID []byte) (*models.WebAuthnCredential, error)
	GetCredentialByID(ctx context.Context, id string) (*models.WebAuthnCredential, error)
	ListCredentialsByUser(ctx context.Context, userID string) ([]*models.WebAuthnCredential, error)
	UpdateSignCount(ctx context.Context, id string, signCount uint32) error
	CountByUser(ctx context.Context, userID string) (int, error)
	DeleteCredential(ctx context.Context, id string) error
}

var _ userStore = (*repositories.UserRepository)(nil)
var _ credentialStore = (*repositories.CredentialRepository)(nil)

// Engine runs WebAuthn ceremonies against the user and credential stores.
type Engine struct {
	users       userStore
	credentials credentialStore
	displayName string
}

// NewEngine creates a ceremony engine. displayName is shown by authenticator
// UIs as the relying party's name.
func NewEngine(users userStore, credentials credentialStore, displayName string) *Engine {
	return &Engine{users: users, credentials: credentials, displayName: displayName}
}

// instance builds a webauthn handle bound to the inbound request's host and
// origin. RPID is the host with any port stripped; the origin is taken from
// the Origin header when present so a UI served from a different origin than
// the API still verifies.
func (e *Engine) instance(r *http.Request) (*webauthn.WebAuthn, error) {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		origin = scheme + "://" + r.Host
	}

	return webauthn.New(&webauthn.Config{
		RPDisplayName: e.displayName,
		RPID:          host,
		RPOrigins:     []string{origin},
	})
}

// ---------------------------------------------------------------------------
// registration

// BeginRegistration issues a registration challenge for the pending identity.
// user may be nil (fresh registration via setup token); when non-nil the
// user's existing credential ids are excluded so authenticators refuse to
// re-register a key they already hold. The returned blob is opaque ceremony
// state the caller must stash in the session for FinishRegistration.
func (e *Engine) BeginRegistration(ctx context.Context, r *http.Request, pending session.PendingRegistration, user *models.User) (*protocol.CredentialCreation, []byte, error) {
	wa, err := e.instance(r)
	if err != nil {
		return nil, nil, fmt.Errorf("passkey: relying party configuration: %w", err)
	}

	wu := &ceremonyUser{email: pending.Email, name: pending.Name}
	if user != nil {
		creds, err := e.credentials.ListCredentialsByUser(ctx, user.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("passkey: failed to load credentials: %w", err)
		}
		wu = newCeremonyUser(user, creds)
	}

	options, sd, err := wa.BeginRegistration(wu,
		webauthn.WithExclusions(wu.exclusions()),
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
			UserVerification: protocol.VerificationPreferred,
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("passkey: failed to begin registration: %w", err)
	}

	blob, err := json.Marshal(sd)
	if err != nil {
		return nil, nil, fmt.Errorf("passkey: failed to encode ceremony state: %w", err)
	}
	return options, blob, nil
}

// FinishRegistration verifies the authenticator's attestation response read
// from the request body. When user is nil a new user row is created, granted
// admin if it is the first account on its domain. The new credential is
// persisted with the authenticator's initial signature counter.
func (e *Engine) FinishRegistration(ctx context.Context, r *http.Request, sessionBlob []byte, pending session.PendingRegistration, user *models.User, label string) (*models.User, *models.WebAuthnCredential, error) {
	wa, err := e.instance(r)
	if err != nil {
		return nil, nil, fmt.Errorf("passkey: relying party configuration: %w", err)
	}
	if len(sessionBlob) == 0 {
		return nil, nil, ErrCeremonyExpired
	}
	var sd webauthn.SessionData
	if err := json.Unmarshal(sessionBlob, &sd); err != nil {
		return nil, nil, ErrCeremonyExpired
	}

	wu := &ceremonyUser{email: pending.Email, name: pending.Name}
	if user != nil {
		wu = newCeremonyUser(user, nil)
	}

	cred, err := wa.FinishRegistration(wu, sd, r)
	if err != nil {
		slog.Warn("passkey registration verification failed",
			"email", pending.Email, "error", err)
		return nil, nil, ErrInvalidCredential
	}

	if user == nil {
		domain := models.EmailDomain(pending.Email)
		existing, err := e.users.CountByDomain(ctx, domain)
		if err != nil {
			return nil, nil, fmt.Errorf("passkey: failed to count domain users: %w", err)
		}
		user = &models.User{
			ID:      uuid.New().String(),
			Email:   strings.ToLower(pending.Email),
			Name:    pending.Name,
			IsAdmin: existing == 0,
		}
		if err := e.users.CreateUser(ctx, user); err != nil {
			return nil, nil, fmt.Errorf("passkey: failed to create user: %w", err)
		}
	}

	record := credentialRecord(user.ID, label, cred)
	if err := e.credentials.CreateCredential(ctx, record); err != nil {
		return nil, nil, fmt.Errorf("passkey: failed to store credential: %w", err)
	}
	return user, record, nil
}

// ---------------------------------------------------------------------------
// authentication

// BeginLogin issues an authentication challenge. A non-nil user scopes the
// challenge to that user's known credential ids; a nil user starts a
// discoverable ceremony where the authenticator offers whichever resident
// credential it holds for this relying party.
func (e *Engine) BeginLogin(ctx context.Context, r *http.Request, user *models.User) (*protocol.CredentialAssertion, []byte, error) {
	wa, err := e.instance(r)
	if err != nil {
		return nil, nil, fmt.Errorf("passkey: relying party configuration: %w", err)
	}

	var (
		options *protocol.CredentialAssertion
		sd      *webauthn.SessionData
	)
	if user == nil {
		options, sd, err = wa.BeginDiscoverableLogin()
	} else {
		creds, lerr := e.credentials.ListCredentialsByUser(ctx, user.ID)
		if lerr != nil {
			return nil, nil, fmt.Errorf("passkey: failed to load credentials: %w", lerr)
		}
		if len(creds) == 0 {
			return nil, nil, ErrUnknownUser
		}
		options, sd, err = wa.BeginLogin(newCeremonyUser(user, creds))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("passkey: failed to begin login: %w", err)
	}

	blob, err := json.Marshal(sd)
	if err != nil {
		return nil, nil, fmt.Errorf("passkey: failed to encode ceremony state: %w", err)
	}
	return options, blob, nil
}

// FinishLogin verifies the assertion response. user may be nil: a scoped
// ceremony is resolved from the handle stored in its session data, and a
// handle-less session finishes as a discoverable login where the account is
// identified by the user handle the authenticator returns. On success the
// credential's signature counter and the user's last-login timestamp are
// persisted.
//
// The counter check is strict: a presented counter less than or equal to the
// stored one is rejected as a possible cloned authenticator.
func (e *Engine) FinishLogin(ctx context.Context, r *http.Request, sessionBlob []byte, user *models.User) (*models.User, error) {
	wa, err := e.instance(r)
	if err != nil {
		return nil, fmt.Errorf("passkey: relying party configuration: %w", err)
	}
	if len(sessionBlob) == 0 {
		return nil, ErrCeremonyExpired
	}
	var sd webauthn.SessionData
	if err := json.Unmarshal(sessionBlob, &sd); err != nil {
		return nil, ErrCeremonyExpired
	}

	// A scoped ceremony's session data carries the handle it was begun for,
	// and the library refuses to finish it as discoverable. Resolve the
	// account here so callers do not need to remember which kind of begin
	// they issued; only a handle-less session is a discoverable login.
	if user == nil && len(sd.UserID) > 0 {
		wu, lerr := e.lookupByHandle(ctx, sd.UserID)
		if lerr != nil {
			if errors.Is(lerr, ErrUnknownUser) {
				slog.Warn("passkey login verification failed", "error", lerr)
				return nil, ErrInvalidCredential
			}
			return nil, fmt.Errorf("passkey: failed to resolve ceremony user: %w", lerr)
		}
		user = wu.user
	}

	var verified *webauthn.Credential
	if user == nil {
		var wu *ceremonyUser
		verified, err = wa.FinishDiscoverableLogin(func(rawID, userHandle []byte) (webauthn.User, error) {
			wu, err = e.lookupByHandle(ctx, userHandle)
			if err != nil {
				return nil, err
			}
			return wu, nil
		}, sd, r)
		if wu != nil {
			user = wu.user
		}
	} else {
		creds, lerr := e.credentials.ListCredentialsByUser(ctx, user.ID)
		if lerr != nil {
			return nil, fmt.Errorf("passkey: failed to load credentials: %w", lerr)
		}
		verified, err = wa.FinishLogin(newCeremonyUser(user, creds), sd, r)
	}
	if err != nil {
		slog.Warn("passkey login verification failed", "error", err)
		return nil, ErrInvalidCredential
	}

	stored, err := e.credentials.GetCredentialByCredentialID(ctx, verified.ID)
	if err != nil {
		return nil, fmt.Errorf("passkey: failed to load credential record: %w", err)
	}
	if stored == nil || (user != nil && stored.UserID != user.ID) {
		return nil, ErrInvalidCredential
	}

	if !counterAdvanced(stored.SignCount, verified.Authenticator.SignCount) {
		slog.Warn("passkey signature counter regression, possible cloned authenticator",
			"credential_id", stored.ID,
			"stored", stored.SignCount,
			"presented", verified.Authenticator.SignCount)
		return nil, ErrInvalidCredential
	}

	if err := e.credentials.UpdateSignCount(ctx, stored.ID, verified.Authenticator.SignCount); err != nil {
		return nil, fmt.Errorf("passkey: failed to persist signature counter: %w", err)
	}
	if err := e.users.UpdateLastLogin(ctx, user.ID); err != nil {
		slog.Warn("failed to update last login", "user_id", user.ID, "error", err)
	}
	return user, nil
}

// counterAdvanced implements the strict anti-clone rule: every successful
// assertion must present a counter strictly greater than the last one stored.
func counterAdvanced(stored, presented uint32) bool {
	return presented > stored
}

// lookupByHandle resolves a discoverable login's user handle (the email the
// credential was registered under) to a user and its credentials.
func (e *Engine) lookupByHandle(ctx context.Context, userHandle []byte) (*ceremonyUser, error) {
	user, err := e.users.GetUserByEmail(ctx, string(userHandle))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUnknownUser
	}
	creds, err := e.credentials.ListCredentialsByUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return newCeremonyUser(user, creds), nil
}

// ---------------------------------------------------------------------------
// credential management

// ListCredentials returns a user's registered authenticators.
func (e *Engine) ListCredentials(ctx context.Context, userID string) ([]*models.WebAuthnCredential, error) {
	return e.credentials.ListCredentialsByUser(ctx, userID)
}

// DeleteCredential removes one of a user's authenticators, refusing to remove
// the last one since that would lock the user out of passkey login entirely.
func (e *Engine) DeleteCredential(ctx context.Context, userID, credentialRowID string) error {
	stored, err := e.credentials.GetCredentialByID(ctx, credentialRowID)
	if err != nil {
		return fmt.Errorf("passkey: failed to load credential: %w", err)
	}
	if stored == nil || stored.UserID != userID {
		return ErrUnknownUser
	}

	count, err := e.credentials.CountByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("passkey: failed to count credentials: %w", err)
	}
	if count <= 1 {
		return ErrLastCredential
	}
	return e.credentials.DeleteCredential(ctx, credentialRowID)
}

// ---------------------------------------------------------------------------
// webauthn.User adapter

// ceremonyUser adapts a user row (or a not-yet-created pending identity) to
// the webauthn.User interface. The user handle is the lowercased email for
// every account, so discoverable logins resolve the same way whether the row
// existed at registration time or was created by it.
type ceremonyUser struct {
	user  *models.User
	email string
	name  string
	creds []webauthn.Credential
}

func newCeremonyUser(user *models.User, stored []*models.WebAuthnCredential) *ceremonyUser {
	wu := &ceremonyUser{user: user, email: user.Email, name: user.Name}
	for _, c := range stored {
		wu.creds = append(wu.creds, webauthn.Credential{
			ID:              c.CredentialID,
			PublicKey:       c.PublicKey,
			AttestationType: c.AttestationType,
			Transport:       toTransports(c.Transports),
			Flags: webauthn.CredentialFlags{
				BackupEligible: c.BackupEligible,
				BackupState:    c.BackupState,
			},
			Authenticator: webauthn.Authenticator{
				AAGUID:    c.AAGUID,
				SignCount: c.SignCount,
			},
		})
	}
	return wu
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return []byte(strings.ToLower(u.email))
}

func (u *ceremonyUser) WebAuthnName() string { return u.email }

func (u *ceremonyUser) WebAuthnDisplayName() string {
	if u.name != "" {
		return u.name
	}
	return u.email
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential { return u.creds }

func (u *ceremonyUser) exclusions() []protocol.CredentialDescriptor {
	out := make([]protocol.CredentialDescriptor, 0, len(u.creds))
	for _, c := range u.creds {
		out = append(out, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: c.ID,
		})
	}
	return out
}

// credentialRecord converts a verified registration into a persistable row.
func credentialRecord(userID, label string, cred *webauthn.Credential) *models.WebAuthnCredential {
	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}
	return &models.WebAuthnCredential{
		ID:              uuid.New().String(),
		UserID:          userID,
		CredentialID:    cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		AAGUID:          cred.Authenticator.AAGUID,
		SignCount:       cred.Authenticator.SignCount,
		Transports:      transports,
		BackupEligible:  cred.Flags.BackupEligible,
		BackupState:     cred.Flags.BackupState,
		Label:           label,
	}
}

func toTransports(in []string) []protocol.AuthenticatorTransport {
	out := make([]protocol.AuthenticatorTransport, 0, len(in))
	for _, t := range in {
		out = append(out, protocol.AuthenticatorTransport(t))
	}
	return out
}
