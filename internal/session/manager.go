// Package session owns the current login state. Manager is the single
// source of truth the rest of the application depends on: current
// user, loading flag, derived authenticated flag and the mutating
// operations around them.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/voyago/authkit/internal/bus"
	"github.com/voyago/authkit/internal/capability"
	"github.com/voyago/authkit/internal/credentials"
	"github.com/voyago/authkit/internal/logger"
	"github.com/voyago/authkit/internal/models"
	"github.com/voyago/authkit/internal/refresh"
	"go.uber.org/zap"
)

// Backend is the slice of the API client the manager needs.
type Backend interface {
	Profile(ctx context.Context) (models.UserPatch, error)
	GoogleSignIn(ctx context.Context, idToken string) (*models.User, error)
}

// DefaultSyncTimeout bounds the one-time profile sync during
// initialization.
const DefaultSyncTimeout = 5 * time.Second

// Manager is the session facade. All module-level state of the
// original lives here as explicit fields so isolated instances can be
// constructed in tests.
type Manager struct {
	store       *credentials.Store
	coordinator *refresh.Coordinator
	events      *bus.SessionEvents
	backend     Backend
	syncTimeout time.Duration

	mu            sync.Mutex
	user          *models.User
	loading       bool
	profileSynced bool
	unsubscribe   func()
}

// NewManager wires a session manager. It does not touch storage;
// call Initialize to restore a prior session.
func NewManager(store *credentials.Store, coordinator *refresh.Coordinator, events *bus.SessionEvents, backend Backend) *Manager {
	return &Manager{
		store:       store,
		coordinator: coordinator,
		events:      events,
		backend:     backend,
		syncTimeout: DefaultSyncTimeout,
	}
}

// SetSyncTimeout overrides the profile-sync bound.
func (m *Manager) SetSyncTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncTimeout = d
}

// Initialize restores a prior session from the credential store,
// bounded by the store's load timeout, and performs a one-time profile
// sync when a token is present. It also subscribes to the session
// event bus for the manager's lifetime and registers the refresh
// callback. Storage and sync failures degrade to "use what is locally
// available"; they never block startup.
func (m *Manager) Initialize(ctx context.Context) {
	m.mu.Lock()
	m.loading = true
	if m.unsubscribe == nil {
		m.unsubscribe = m.events.Subscribe(func() {
			logger.Info("session expired event received, logging out")
			m.Logout(context.Background())
		})
	}
	m.mu.Unlock()

	m.coordinator.SetActiveSession(m.applyTokens)

	user, err := m.store.Load(ctx)
	if err != nil {
		logger.Warn("session restore failed", zap.Error(err))
	}

	m.mu.Lock()
	m.user = user
	synced := m.profileSynced
	timeout := m.syncTimeout
	m.mu.Unlock()

	if user.HasToken() && !synced {
		m.syncProfile(ctx, timeout)
	}

	m.mu.Lock()
	m.loading = false
	m.mu.Unlock()
}

// syncProfile merges the authoritative backend record into the local
// user. The call races a fixed timeout; on timeout or error the local
// record stands unmodified.
func (m *Manager) syncProfile(ctx context.Context, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	patch, err := m.backend.Profile(ctx)
	if err != nil {
		logger.Warn("profile sync failed, keeping stored user", zap.Error(err))
		return
	}

	m.mu.Lock()
	if m.user == nil {
		// Logged out while the sync was in flight.
		m.mu.Unlock()
		return
	}
	merged := m.user.Merge(patch)
	m.user = &merged
	m.profileSynced = true
	userCopy := merged
	m.mu.Unlock()

	if err := m.store.Persist(ctx, &userCopy); err != nil {
		logger.Warn("failed to persist synced profile", zap.Error(err))
	}
}

// Current returns a copy of the current user, or nil.
func (m *Manager) Current() *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return nil
	}
	u := *m.user
	return &u
}

// IsAuthenticated reports whether a user with an access token is
// present. A user without a token is not a valid session.
func (m *Manager) IsAuthenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user.HasToken()
}

// Loading reports whether initialization is still in progress.
func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

// AccessToken supplies the current access token for the HTTP layer.
func (m *Manager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return ""
	}
	return m.user.AuthToken
}

// Login installs the user as the current session and persists it. The
// caller supplies a fully-formed user; no token validation happens
// here. Persistence failures propagate.
func (m *Manager) Login(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	m.user = user
	m.mu.Unlock()

	m.coordinator.SetActiveSession(m.applyTokens)

	return m.store.Persist(ctx, user)
}

// LoginWithGoogle exchanges a web sign-in ID token for app tokens and
// installs the resulting session.
func (m *Manager) LoginWithGoogle(ctx context.Context, idToken string) (*models.User, error) {
	user, err := m.backend.GoogleSignIn(ctx, idToken)
	if err != nil {
		return nil, err
	}
	user.Provider = models.ProviderGoogle
	if err := m.Login(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// TryNativeGoogleSignIn runs the platform-native Google flow when the
// target registered one. The second return reports whether a native
// module was available at all; when it is false the caller falls back
// to the web relay, and the nil error carries no meaning.
func (m *Manager) TryNativeGoogleSignIn(ctx context.Context) (*models.User, bool, error) {
	native, ok := capability.DetectGoogleNative()
	if !ok {
		return nil, false, nil
	}
	idToken, err := native.SignIn(ctx)
	if err != nil {
		return nil, true, fmt.Errorf("native google sign-in failed: %w", err)
	}
	user, err := m.LoginWithGoogle(ctx, idToken)
	if err != nil {
		return nil, true, err
	}
	return user, true, nil
}

// Logout tears the session down. Order matters: refresh bookkeeping
// stops first so an in-flight refresh cannot resurrect the session,
// the in-memory user clears before any storage await, and the
// in-memory state is re-asserted afterwards. IsAuthenticated is false
// when this returns no matter what storage did.
func (m *Manager) Logout(ctx context.Context) {
	m.coordinator.ClearState()
	m.coordinator.SetActiveSession(nil)

	m.mu.Lock()
	m.user = nil
	m.profileSynced = false
	m.mu.Unlock()

	if native, ok := capability.DetectGoogleNative(); ok {
		if err := native.SignOut(ctx); err != nil {
			logger.Warn("native google sign-out failed", zap.Error(err))
		}
	}

	if err := m.store.Clear(ctx); err != nil {
		logger.Warn("storage clear failed during logout", zap.Error(err))
	}

	m.mu.Lock()
	m.user = nil
	m.mu.Unlock()
}

// UpdateUser shallow-merges the patch into the current user and
// persists the result. With no current session it is a logged no-op:
// a caller bug, not a crash.
func (m *Manager) UpdateUser(ctx context.Context, patch models.UserPatch) error {
	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		logger.Warn("update requested with no active session, ignoring")
		return nil
	}
	merged := m.user.Merge(patch)
	m.user = &merged
	userCopy := merged
	m.mu.Unlock()

	return m.store.Persist(ctx, &userCopy)
}

// RefreshSession exchanges the stored refresh token for a new pair.
// Any failure is fatal for the session: the manager logs out rather
// than retrying against an unrecoverable credential.
func (m *Manager) RefreshSession(ctx context.Context) error {
	m.mu.Lock()
	var token string
	if m.user != nil {
		token = m.user.RefreshToken
	}
	m.mu.Unlock()

	if _, err := m.coordinator.Refresh(ctx, token); err != nil {
		logger.Warn("refresh failed, logging out", zap.Error(err))
		m.Logout(ctx)
		return err
	}
	return nil
}

// applyTokens is the coordinator's callback: the new pair replaces
// both token fields atomically and the record is re-persisted.
func (m *Manager) applyTokens(ctx context.Context, pair models.TokenPair) error {
	m.mu.Lock()
	if m.user == nil {
		m.mu.Unlock()
		return nil
	}
	m.user.ApplyTokens(pair)
	userCopy := *m.user
	m.mu.Unlock()

	return m.store.Persist(ctx, &userCopy)
}

// Close drops the event bus subscription.
func (m *Manager) Close() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}
