// Package relay completes a browser OAuth2 implicit flow across two
// execution contexts. The initiating window opens a named popup; the
// window that receives the redirect parses the URL fragment and either
// returns the result directly or leaves it in a mailbox the opener
// drains later. Storage is the only cross-context channel; no direct
// messaging between windows is assumed.
package relay

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/voyago/authkit/internal/config"
	"github.com/voyago/authkit/internal/logger"
	"github.com/voyago/authkit/internal/models"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// stateKey is the ephemeral-storage key the CSRF nonce lives under
// between Initiate and the redirect return.
const stateKey = "auth.oauth_state"

// Result is the outcome of a completed handshake.
type Result struct {
	IDToken     string
	AccessToken string
	Profile     models.GoogleProfile
}

// Relay owns one web sign-in handshake at a time. Only one handshake
// should be in flight; a second Initiate overwrites the stored nonce
// and the last-initiated handshake wins.
type Relay struct {
	cfg       *config.OAuthConfig
	env       WindowEnvironment
	ephemeral EphemeralStore
	mailbox   Mailbox
	resolver  ProfileResolver

	mu sync.Mutex
	// fragmentDone records that the current window's fragment was
	// already processed, so a repeat Complete goes straight to the
	// mailbox drain instead of re-parsing a consumed redirect.
	fragmentDone bool
}

// NewRelay wires a relay from its collaborators.
func NewRelay(cfg *config.OAuthConfig, env WindowEnvironment, ephemeral EphemeralStore, mailbox Mailbox, resolver ProfileResolver) *Relay {
	return &Relay{
		cfg:       cfg,
		env:       env,
		ephemeral: ephemeral,
		mailbox:   mailbox,
		resolver:  resolver,
	}
}

// Initiate starts a handshake: generates the nonce, stores it as the
// expected CSRF state and opens the authorization URL in a named
// popup, falling back to a full redirect when the popup is blocked.
// It returns as soon as the window is open; the caller learns the
// outcome later through Complete or ConsumePending.
func (r *Relay) Initiate(ctx context.Context) error {
	if r.cfg.ClientID == "" {
		return ErrMissingClientID
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	nonce := uuid.NewString()
	if err := r.ephemeral.SetItem(stateKey, nonce); err != nil {
		// Without a stored nonce the state check degrades to a no-op
		// on return; the handshake itself still works.
		logger.Warn("failed to store oauth state, csrf check degraded", zap.Error(err))
	}

	authURL := r.buildAuthURL(nonce)

	if err := r.env.OpenPopup(authURL, r.cfg.PopupName); err != nil {
		logger.Warn("popup blocked, falling back to full redirect", zap.Error(err))
		if err := r.env.Redirect(authURL); err != nil {
			return fmt.Errorf("failed to open authorization url: %w", err)
		}
	}
	return nil
}

// buildAuthURL assembles the implicit-flow authorization URL with the
// nonce riding as both state and nonce.
func (r *Relay) buildAuthURL(nonce string) string {
	conf := &oauth2.Config{
		ClientID:    r.cfg.ClientID,
		RedirectURL: r.cfg.RedirectURI,
		Scopes:      r.cfg.Scopes,
		Endpoint:    oauth2.Endpoint{AuthURL: r.cfg.AuthEndpoint},
	}
	return conf.AuthCodeURL(nonce,
		oauth2.SetAuthURLParam("response_type", "token id_token"),
		oauth2.SetAuthURLParam("nonce", nonce),
	)
}

// Complete runs in whichever window received the redirect. It parses
// the URL fragment; when the fragment carries no OAuth parameters it
// falls through to draining the mailbox instead. A nil Result with a
// nil error means there was nothing to consume, or that this window
// was the popup and has relayed its result to the opener.
func (r *Relay) Complete(ctx context.Context) (*Result, error) {
	r.mu.Lock()
	done := r.fragmentDone
	r.mu.Unlock()
	if done {
		return r.ConsumePending(ctx)
	}

	values := parseFragment(r.env.Fragment())
	if values.Get("id_token") == "" && values.Get("access_token") == "" &&
		values.Get("state") == "" && values.Get("error") == "" {
		return r.ConsumePending(ctx)
	}

	r.mu.Lock()
	r.fragmentDone = true
	r.mu.Unlock()

	expected, err := r.ephemeral.GetItem(stateKey)
	if err != nil {
		logger.Warn("failed to read stored oauth state", zap.Error(err))
		expected = ""
	}
	returned := values.Get("state")

	// The check is only enforced when both sides have a value: a very
	// first run with no stored state must not falsely fail.
	if expected != "" && returned != "" && expected != returned {
		r.discardHandshake()
		return nil, ErrStateMismatch
	}

	if code := values.Get("error"); code != "" {
		r.discardHandshake()
		if code == "access_denied" {
			return nil, ErrCancelled
		}
		return nil, &ProviderError{Code: code, Description: values.Get("error_description")}
	}

	idToken := values.Get("id_token")
	if idToken == "" {
		r.discardHandshake()
		return nil, ErrMissingIDToken
	}

	accessToken := values.Get("access_token")
	r.discardHandshake()

	profile, err := r.resolver.Resolve(ctx, idToken, accessToken)
	if err != nil {
		return nil, err
	}

	result := &Result{IDToken: idToken, AccessToken: accessToken, Profile: profile}

	if r.cfg.PopupName != "" && r.env.WindowName() == r.cfg.PopupName {
		// This context is the popup: relay the result to the opener
		// and close ourselves.
		if err := r.mailbox.Write(ctx, &models.PendingResult{
			IDToken:     result.IDToken,
			AccessToken: result.AccessToken,
			Profile:     result.Profile,
			StoredAt:    time.Now().UTC(),
		}); err != nil {
			return nil, fmt.Errorf("failed to relay sign-in result: %w", err)
		}
		r.env.CloseWindow()
		return nil, nil
	}

	return result, nil
}

// ConsumePending drains the mailbox: it reads and removes a result a
// popup left behind, or returns nil when there is none. Calling it
// repeatedly is a no-op after the first consumption.
func (r *Relay) ConsumePending(ctx context.Context) (*Result, error) {
	pending, err := r.mailbox.ReadAndClear(ctx)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, nil
	}
	return &Result{
		IDToken:     pending.IDToken,
		AccessToken: pending.AccessToken,
		Profile:     pending.Profile,
	}, nil
}

// OnPending re-runs handler whenever the mailbox changes, so an
// already-mounted opener picks up the popup's result without a manual
// refresh. The subscription lives until ctx is done.
func (r *Relay) OnPending(ctx context.Context, handler func()) error {
	return r.mailbox.Watch(ctx, handler)
}

// discardHandshake drops the stored nonce and the URL fragment so
// neither can be replayed.
func (r *Relay) discardHandshake() {
	if err := r.ephemeral.RemoveItem(stateKey); err != nil {
		logger.Warn("failed to remove stored oauth state", zap.Error(err))
	}
	r.env.ClearFragment()
}

// parseFragment parses a URL fragment (without the leading "#") as
// query parameters. Malformed input yields empty values.
func parseFragment(fragment string) url.Values {
	fragment = strings.TrimPrefix(fragment, "#")
	values, err := url.ParseQuery(fragment)
	if err != nil {
		return url.Values{}
	}
	return values
}
