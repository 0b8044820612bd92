package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingClientID means the relay was asked to start a
	// handshake without a configured OAuth client identifier.
	ErrMissingClientID = errors.New("relay: oauth client id is not configured")

	// ErrStateMismatch means the returned state does not match the
	// nonce stored when the handshake started.
	ErrStateMismatch = errors.New("relay: oauth state mismatch")

	// ErrCancelled means the provider reported access_denied: the
	// user backed out. Callers must treat it as a silent abort, not
	// an error to surface.
	ErrCancelled = errors.New("relay: sign-in cancelled by user")

	// ErrMissingIDToken means the redirect looked like an OAuth
	// response but carried no id_token.
	ErrMissingIDToken = errors.New("relay: redirect carried no id_token")
)

// ProviderError carries a literal error returned by the provider in
// the redirect fragment.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("relay: provider returned %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("relay: provider returned %s", e.Code)
}
