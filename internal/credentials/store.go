// Package credentials persists the current user record between runs.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/voyago/authkit/internal/logger"
	"github.com/voyago/authkit/internal/models"
	"github.com/voyago/authkit/internal/storage"
	"go.uber.org/zap"
)

const (
	// SessionKey is the single well-known key the serialized user
	// record lives under.
	SessionKey = "auth.session"

	// Stray token keys written by earlier releases; Clear removes
	// them so a logout never leaves credentials behind.
	legacyAuthTokenKey    = "auth.token"
	legacyRefreshTokenKey = "auth.refresh_token"
)

// DefaultLoadTimeout bounds Load when no timeout was configured.
const DefaultLoadTimeout = 3 * time.Second

// Store wraps a storage.KV with the session record's lifecycle.
type Store struct {
	kv          storage.KV
	loadTimeout time.Duration
}

// NewStore creates a credential store over kv. A non-positive
// loadTimeout falls back to DefaultLoadTimeout.
func NewStore(kv storage.KV, loadTimeout time.Duration) *Store {
	if loadTimeout <= 0 {
		loadTimeout = DefaultLoadTimeout
	}
	return &Store{kv: kv, loadTimeout: loadTimeout}
}

// Persist serializes the user and writes it under the session key.
// Failures propagate: callers relying on persistence must see them.
func (s *Store) Persist(ctx context.Context, user *models.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	if err := s.kv.Set(ctx, SessionKey, data); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

// Load returns the stored user, or nil when there is none. A read
// slower than the configured timeout, a missing key and a corrupt
// record all behave as "no session" so startup never blocks on
// degraded storage; the distinction is logged for operators.
func (s *Store) Load(ctx context.Context) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.loadTimeout)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := s.kv.Get(ctx, SessionKey)
		ch <- result{data, err}
	}()

	select {
	case <-ctx.Done():
		logger.Warn("session load timed out, treating as no session",
			zap.Duration("timeout", s.loadTimeout))
		return nil, nil
	case res := <-ch:
		if errors.Is(res.err, storage.ErrNotFound) {
			return nil, nil
		}
		if res.err != nil {
			logger.Warn("session load failed, treating as no session", zap.Error(res.err))
			return nil, nil
		}
		var user models.User
		if err := json.Unmarshal(res.data, &user); err != nil {
			logger.Warn("stored session is not valid JSON, treating as no session", zap.Error(err))
			return nil, nil
		}
		return &user, nil
	}
}

// Clear removes the session key and any legacy auth-only keys. When
// the bulk delete fails it falls back to per-key deletes so a partial
// failure cannot leave stale credentials behind.
func (s *Store) Clear(ctx context.Context) error {
	keys := []string{SessionKey, legacyAuthTokenKey, legacyRefreshTokenKey}

	err := s.kv.DeleteAll(ctx, keys...)
	if err == nil {
		return nil
	}
	logger.Warn("bulk session clear failed, removing keys individually", zap.Error(err))

	var firstErr error
	for _, key := range keys {
		if err := s.kv.Delete(ctx, key); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to remove %s: %w", key, err)
		}
	}
	return firstErr
}
