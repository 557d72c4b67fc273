package sso

import (
	"errors"
	"fmt"
)

// Machine-readable error codes carried on the error-page redirect. The UI maps
// them to user-facing messages; internal causes stay in the logs.
const (
	CodeInvalidState     = "invalid_state"
	CodeExchangeFailed   = "exchange_failed"
	CodeMissingEmail     = "missing_email"
	CodeBlockedDomain    = "blocked_domain"
	CodeDomainMismatch   = "domain_mismatch"
	CodeProviderDisabled = "provider_disabled"
	CodeInstallFailed    = "install_failed"
	CodeInternal         = "internal_error"
)

// ErrMissingEmail is returned when a verified identity carries no email claim.
var ErrMissingEmail = errors.New("sso: identity has no email claim")

// FlowError wraps a handshake failure with the code the callback handler puts
// on the error redirect.
type FlowError struct {
	Code string
	Err  error
}

func (e *FlowError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("sso: flow failed (%s)", e.Code)
	}
	return fmt.Sprintf("sso: flow failed (%s): %v", e.Code, e.Err)
}

func (e *FlowError) Unwrap() error { return e.Err }

func flowErr(code string, err error) *FlowError {
	return &FlowError{Code: code, Err: err}
}

// ErrorCode extracts the redirect code from any error returned by this
// package, defaulting to internal_error.
func ErrorCode(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeInternal
}
