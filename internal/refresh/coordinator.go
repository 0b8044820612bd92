// Package refresh exchanges a refresh token for a new token pair and
// keeps the active session's tokens in sync.
package refresh

import (
	"context"
	"fmt"
	"sync"

	"github.com/voyago/authkit/internal/logger"
	"github.com/voyago/authkit/internal/models"
	"go.uber.org/zap"
)

// TokenExchanger performs the network exchange against the backend
// refresh endpoint.
type TokenExchanger interface {
	RefreshTokens(ctx context.Context, refreshToken string) (models.TokenPair, error)
}

// TokenUpdateFunc receives the new pair after a successful refresh.
// The session manager persists it.
type TokenUpdateFunc func(ctx context.Context, pair models.TokenPair) error

type inflight struct {
	done chan struct{}
	pair models.TokenPair
	err  error
}

// Coordinator holds at most one active session callback and
// de-duplicates concurrent refreshes of the same token.
type Coordinator struct {
	exchanger TokenExchanger

	mu       sync.Mutex
	onUpdate TokenUpdateFunc
	pending  map[string]*inflight
}

// NewCoordinator creates a Coordinator using the given exchanger.
func NewCoordinator(exchanger TokenExchanger) *Coordinator {
	return &Coordinator{
		exchanger: exchanger,
		pending:   map[string]*inflight{},
	}
}

// SetActiveSession overwrites the registered token-update callback.
// Only one session can be current at a time; nil clears the slot.
func (c *Coordinator) SetActiveSession(fn TokenUpdateFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUpdate = fn
}

// Refresh exchanges refreshToken for a new pair and hands it to the
// active session callback. Failures propagate to the caller, which is
// expected to treat them as fatal for the session; there is no retry
// here, so an unrecoverable credential can never cause a refresh storm.
// Concurrent calls for the same token share a single exchange.
func (c *Coordinator) Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	if refreshToken == "" {
		return models.TokenPair{}, fmt.Errorf("refresh: no refresh token available")
	}

	c.mu.Lock()
	if flight, ok := c.pending[refreshToken]; ok {
		c.mu.Unlock()
		select {
		case <-flight.done:
			return flight.pair, flight.err
		case <-ctx.Done():
			return models.TokenPair{}, ctx.Err()
		}
	}
	flight := &inflight{done: make(chan struct{})}
	c.pending[refreshToken] = flight
	c.mu.Unlock()

	pair, err := c.exchanger.RefreshTokens(ctx, refreshToken)

	c.mu.Lock()
	delete(c.pending, refreshToken)
	onUpdate := c.onUpdate
	c.mu.Unlock()

	if err == nil && onUpdate != nil {
		if updateErr := onUpdate(ctx, pair); updateErr != nil {
			logger.Warn("token update callback failed", zap.Error(updateErr))
		}
	}
	if err != nil {
		logger.Warn("token refresh failed", zap.Error(err))
	}

	flight.pair, flight.err = pair, err
	close(flight.done)
	return pair, err
}

// ClearState drops the callback slot and in-flight bookkeeping. Called
// first during logout so a refresh already in flight cannot resurrect
// a cleared session through a stale callback.
func (c *Coordinator) ClearState() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUpdate = nil
	c.pending = map[string]*inflight{}
}
