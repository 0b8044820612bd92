// Package api is the client for the backend auth endpoints: login,
// register, google exchange, token refresh and the profile read. The
// backend is a black box returning a user record plus token pair.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voyago/authkit/internal/bus"
	"github.com/voyago/authkit/internal/config"
	"github.com/voyago/authkit/internal/logger"
	"github.com/voyago/authkit/internal/models"
	"go.uber.org/zap"
)

// TokenProvider supplies the current access token for authenticated
// calls. An empty string means no credential is attached.
type TokenProvider func() string

// Client talks to the backend auth API.
type Client struct {
	client  *http.Client
	baseURL string
	token   TokenProvider
	events  *bus.SessionEvents
}

// NewClient creates a Client with a 30s timeout unless the config
// overrides it.
func NewClient(cfg *config.APIConfig, events *bus.SessionEvents) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		client:  &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		events:  events,
	}
}

// SetTokenProvider wires the access-token source for authenticated
// calls. The session manager registers itself here.
func (c *Client) SetTokenProvider(provider TokenProvider) {
	c.token = provider
}

// SetTimeout sets the timeout for the HTTP client
func (c *Client) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

// Login exchanges email/password credentials for a session user.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*models.User, error) {
	var payload authPayload
	if err := c.do(ctx, http.MethodPost, "/auth/login", req, &payload); err != nil {
		return nil, err
	}
	user := payload.toModel()
	return &user, nil
}

// Register creates an account and returns the initial session user.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	var payload authPayload
	if err := c.do(ctx, http.MethodPost, "/auth/register", req, &payload); err != nil {
		return nil, err
	}
	user := payload.toModel()
	return &user, nil
}

// GoogleSignIn exchanges a Google ID token for app tokens.
func (c *Client) GoogleSignIn(ctx context.Context, idToken string) (*models.User, error) {
	var payload authPayload
	if err := c.do(ctx, http.MethodPost, "/auth/google", GoogleSignInRequest{IDToken: idToken}, &payload); err != nil {
		return nil, err
	}
	user := payload.toModel()
	return &user, nil
}

// RefreshTokens exchanges a refresh token for a new pair.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	var payload tokenPayload
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", RefreshRequest{RefreshToken: refreshToken}, &payload); err != nil {
		return models.TokenPair{}, err
	}
	return models.TokenPair{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
	}, nil
}

// Profile reads the authoritative user record and returns it as a
// partial update for merging.
func (c *Client) Profile(ctx context.Context) (models.UserPatch, error) {
	var payload userPayload
	if err := c.do(ctx, http.MethodGet, "/users/profile", nil, &payload); err != nil {
		return models.UserPatch{}, err
	}
	return payload.patch(), nil
}

// StatusError is a non-2xx backend response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api: request failed with status %d: %s", e.StatusCode, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewBuffer(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if reqBody != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	c.applyAuth(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Error("failed to close response body", zap.Error(closeErr))
		}
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// The session owner subscribes to this and logs out; the
		// request itself still fails with the status error below.
		logger.Warn("request rejected as unauthorized, publishing session expired",
			zap.String("path", path))
		c.events.PublishSessionExpired()
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	if respBody != nil {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("failed to decode response body: %w", err)
		}
	}
	return nil
}

func (c *Client) applyAuth(req *http.Request) {
	if c.token == nil {
		return
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
