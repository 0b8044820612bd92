package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/voyago/authkit/internal/config"
	"github.com/voyago/authkit/internal/logger"
	"github.com/voyago/authkit/internal/models"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// ProfileResolver turns the tokens of a completed handshake into a
// normalized profile.
type ProfileResolver interface {
	Resolve(ctx context.Context, idToken, accessToken string) (models.GoogleProfile, error)
}

// UserInfoResolver prefers the userinfo endpoint when an access token
// is available and falls back to decoding the ID token payload when
// the network call is unavailable. With a verifier configured, the ID
// token's signature is checked before its claims are trusted.
type UserInfoResolver struct {
	endpoint string
	verifier *oidc.IDTokenVerifier
}

// NewUserInfoResolver builds a resolver for the configured userinfo
// endpoint. When cfg.VerifyIDToken is set it performs OIDC discovery
// against the issuer, which needs the network; keep it off for
// offline construction.
func NewUserInfoResolver(ctx context.Context, cfg *config.OAuthConfig) (*UserInfoResolver, error) {
	r := &UserInfoResolver{endpoint: cfg.UserInfoEndpoint}
	if cfg.VerifyIDToken {
		provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
		}
		r.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	}
	return r, nil
}

func (r *UserInfoResolver) Resolve(ctx context.Context, idToken, accessToken string) (models.GoogleProfile, error) {
	if r.verifier != nil {
		if _, err := r.verifier.Verify(ctx, idToken); err != nil {
			return models.GoogleProfile{}, fmt.Errorf("failed to verify ID token: %w", err)
		}
	}

	if accessToken != "" {
		profile, err := r.fetchUserInfo(ctx, accessToken)
		if err == nil {
			return profile, nil
		}
		logger.Warn("userinfo call failed, falling back to id token claims", zap.Error(err))
	}

	return DecodeIDTokenClaims(idToken), nil
}

func (r *UserInfoResolver) fetchUserInfo(ctx context.Context, accessToken string) (models.GoogleProfile, error) {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))

	resp, err := client.Get(r.endpoint)
	if err != nil {
		return models.GoogleProfile{}, fmt.Errorf("failed to call userinfo endpoint: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Error("failed to close userinfo response body", zap.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return models.GoogleProfile{}, fmt.Errorf("userinfo request failed with status %d", resp.StatusCode)
	}

	var profile models.GoogleProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return models.GoogleProfile{}, fmt.Errorf("failed to decode userinfo response: %w", err)
	}
	return profile, nil
}
