package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voyago/authkit/internal/bus"
	"github.com/voyago/authkit/internal/capability"
	"github.com/voyago/authkit/internal/credentials"
	"github.com/voyago/authkit/internal/models"
	"github.com/voyago/authkit/internal/refresh"
	"github.com/voyago/authkit/internal/storage"
)

type fakeBackend struct {
	mu           sync.Mutex
	profileCalls int
	patch        models.UserPatch
	profileErr   error
	profileDelay time.Duration
	googleUser   *models.User
	googleErr    error
}

func (f *fakeBackend) Profile(ctx context.Context) (models.UserPatch, error) {
	f.mu.Lock()
	f.profileCalls++
	f.mu.Unlock()
	if f.profileDelay > 0 {
		select {
		case <-time.After(f.profileDelay):
		case <-ctx.Done():
			return models.UserPatch{}, ctx.Err()
		}
	}
	return f.patch, f.profileErr
}

func (f *fakeBackend) GoogleSignIn(ctx context.Context, idToken string) (*models.User, error) {
	if f.googleErr != nil {
		return nil, f.googleErr
	}
	u := *f.googleUser
	return &u, nil
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profileCalls
}

type fakeExchanger struct {
	pair models.TokenPair
	err  error
}

func (f *fakeExchanger) RefreshTokens(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	return f.pair, f.err
}

// failKV rejects every operation, standing in for fully degraded storage.
type failKV struct{}

func (failKV) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("storage down")
}
func (failKV) Set(ctx context.Context, key string, value []byte) error {
	return errors.New("storage down")
}
func (failKV) Delete(ctx context.Context, key string) error { return errors.New("storage down") }
func (failKV) DeleteAll(ctx context.Context, keys ...string) error {
	return errors.New("storage down")
}

type fixture struct {
	manager     *Manager
	store       *credentials.Store
	backend     *fakeBackend
	events      *bus.SessionEvents
	coordinator *refresh.Coordinator
}

func newFixture(t *testing.T, kv storage.KV, exchanger refresh.TokenExchanger) *fixture {
	t.Helper()
	if kv == nil {
		kv = storage.NewFileKV(filepath.Join(t.TempDir(), "store.json"))
	}
	if exchanger == nil {
		exchanger = &fakeExchanger{}
	}
	store := credentials.NewStore(kv, time.Second)
	backend := &fakeBackend{}
	events := bus.NewSessionEvents()
	coordinator := refresh.NewCoordinator(exchanger)
	manager := NewManager(store, coordinator, events, backend)
	t.Cleanup(manager.Close)
	return &fixture{
		manager:     manager,
		store:       store,
		backend:     backend,
		events:      events,
		coordinator: coordinator,
	}
}

func sampleUser() *models.User {
	return &models.User{
		ID:           "u-1",
		Email:        "ana@example.com",
		FirstName:    "Ana",
		LastName:     "Reyes",
		Country:      "BR",
		Provider:     models.ProviderEmail,
		AuthToken:    "access-1",
		RefreshToken: "refresh-1",
	}
}

func TestLoginPersistsUser(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	user := sampleUser()

	require.NoError(t, f.manager.Login(ctx, user))
	assert.True(t, f.manager.IsAuthenticated())

	stored, err := f.store.Load(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(user, stored); diff != "" {
		t.Errorf("stored user mismatch (-want +got):\n%s", diff)
	}
}

func TestLogoutClearsMemoryEvenWhenStorageFails(t *testing.T) {
	f := newFixture(t, failKV{}, nil)
	ctx := context.Background()

	// Login fails to persist against dead storage but still installs
	// the in-memory session.
	_ = f.manager.Login(ctx, sampleUser())
	require.True(t, f.manager.IsAuthenticated())

	f.manager.Logout(ctx)

	assert.False(t, f.manager.IsAuthenticated(), "logout must never leave the session authenticated")
	assert.Nil(t, f.manager.Current())
}

func TestRefreshFailureLogsOut(t *testing.T) {
	f := newFixture(t, nil, &fakeExchanger{err: errors.New("refresh rejected")})
	ctx := context.Background()
	require.NoError(t, f.manager.Login(ctx, sampleUser()))

	err := f.manager.RefreshSession(ctx)
	require.Error(t, err)

	assert.False(t, f.manager.IsAuthenticated())
	stored, loadErr := f.store.Load(ctx)
	require.NoError(t, loadErr)
	assert.Nil(t, stored, "no half-updated pair may survive a failed refresh")
}

func TestRefreshSuccessReplacesBothTokens(t *testing.T) {
	pair := models.TokenPair{AccessToken: "access-2", RefreshToken: "refresh-2"}
	f := newFixture(t, nil, &fakeExchanger{pair: pair})
	ctx := context.Background()
	require.NoError(t, f.manager.Login(ctx, sampleUser()))

	require.NoError(t, f.manager.RefreshSession(ctx))

	current := f.manager.Current()
	assert.Equal(t, "access-2", current.AuthToken)
	assert.Equal(t, "refresh-2", current.RefreshToken)

	stored, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-2", stored.AuthToken)
	assert.Equal(t, "refresh-2", stored.RefreshToken)
}

func TestInitializeFreshInstall(t *testing.T) {
	f := newFixture(t, nil, nil)

	f.manager.Initialize(context.Background())

	assert.False(t, f.manager.IsAuthenticated())
	assert.False(t, f.manager.Loading())
	assert.Zero(t, f.backend.calls(), "no profile sync without a stored token")
}

func TestInitializeSyncsProfile(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, f.store.Persist(ctx, sampleUser()))
	country := "DO"
	f.backend.patch = models.UserPatch{Country: &country}

	f.manager.Initialize(ctx)

	current := f.manager.Current()
	require.NotNil(t, current)
	assert.Equal(t, "DO", current.Country)
	assert.Equal(t, "ana@example.com", current.Email, "fields absent from the sync keep their stored value")

	stored, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "DO", stored.Country, "the merged record is persisted")
}

func TestInitializeSyncTimeoutKeepsLocalUser(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, f.store.Persist(ctx, sampleUser()))
	country := "DO"
	f.backend.patch = models.UserPatch{Country: &country}
	f.backend.profileDelay = 500 * time.Millisecond
	f.manager.SetSyncTimeout(20 * time.Millisecond)

	start := time.Now()
	f.manager.Initialize(ctx)

	assert.Less(t, time.Since(start), 300*time.Millisecond, "initialization must not wait out a slow sync")
	current := f.manager.Current()
	require.NotNil(t, current)
	assert.Equal(t, "BR", current.Country, "the local user stands unmodified on timeout")
}

func TestSessionExpiredEventLogsOut(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	f.manager.Initialize(ctx)
	require.NoError(t, f.manager.Login(ctx, sampleUser()))

	f.events.PublishSessionExpired()

	assert.False(t, f.manager.IsAuthenticated())
}

func TestUpdateUserMergesAndPersists(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	require.NoError(t, f.manager.Login(ctx, sampleUser()))

	phone := "+1-809-555-0100"
	require.NoError(t, f.manager.UpdateUser(ctx, models.UserPatch{Phone: &phone}))

	current := f.manager.Current()
	assert.Equal(t, phone, current.Phone)
	assert.Equal(t, "Ana", current.FirstName)

	stored, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, phone, stored.Phone)
}

func TestUpdateUserWithoutSessionIsNoop(t *testing.T) {
	f := newFixture(t, nil, nil)
	phone := "+1-809-555-0100"

	err := f.manager.UpdateUser(context.Background(), models.UserPatch{Phone: &phone})

	assert.NoError(t, err)
	assert.Nil(t, f.manager.Current())
}

func TestLoginWithGoogleInstallsSession(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.backend.googleUser = &models.User{
		ID:           "u-2",
		Email:        "ana@example.com",
		AuthToken:    "a",
		RefreshToken: "r",
	}

	user, err := f.manager.LoginWithGoogle(context.Background(), "id-token")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderGoogle, user.Provider)
	assert.True(t, f.manager.IsAuthenticated())
}

// fakeGoogleNative stands in for a platform-native sign-in module.
type fakeGoogleNative struct {
	idToken     string
	signInErr   error
	signOutErr  error
	signedOut   bool
	signInCalls int
}

func (f *fakeGoogleNative) SignIn(ctx context.Context) (string, error) {
	f.signInCalls++
	return f.idToken, f.signInErr
}

func (f *fakeGoogleNative) SignOut(ctx context.Context) error {
	f.signedOut = true
	return f.signOutErr
}

func registerNative(t *testing.T, native *fakeGoogleNative) {
	t.Helper()
	capability.RegisterGoogleNative(native)
	t.Cleanup(func() { capability.RegisterGoogleNative(nil) })
}

func TestTryNativeGoogleSignInUsesRegisteredModule(t *testing.T) {
	f := newFixture(t, nil, nil)
	native := &fakeGoogleNative{idToken: "native-id-token"}
	registerNative(t, native)
	f.backend.googleUser = &models.User{
		ID:           "u-2",
		Email:        "ana@example.com",
		AuthToken:    "a",
		RefreshToken: "r",
	}

	user, ok, err := f.manager.TryNativeGoogleSignIn(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, user)
	assert.Equal(t, models.ProviderGoogle, user.Provider)
	assert.Equal(t, 1, native.signInCalls)
	assert.True(t, f.manager.IsAuthenticated())
}

func TestTryNativeGoogleSignInWithoutModuleFallsThrough(t *testing.T) {
	f := newFixture(t, nil, nil)

	user, ok, err := f.manager.TryNativeGoogleSignIn(context.Background())

	assert.NoError(t, err)
	assert.False(t, ok, "no registered module means the caller uses the web relay")
	assert.Nil(t, user)
	assert.False(t, f.manager.IsAuthenticated())
}

func TestTryNativeGoogleSignInFailurePropagates(t *testing.T) {
	f := newFixture(t, nil, nil)
	registerNative(t, &fakeGoogleNative{signInErr: errors.New("user dismissed the sheet")})

	user, ok, err := f.manager.TryNativeGoogleSignIn(context.Background())

	require.Error(t, err)
	assert.True(t, ok, "a failing module is still a present module")
	assert.Nil(t, user)
	assert.False(t, f.manager.IsAuthenticated())
}

func TestLogoutSignsOutNativeModule(t *testing.T) {
	f := newFixture(t, nil, nil)
	native := &fakeGoogleNative{}
	registerNative(t, native)
	ctx := context.Background()
	require.NoError(t, f.manager.Login(ctx, sampleUser()))

	f.manager.Logout(ctx)

	assert.True(t, native.signedOut)
	assert.False(t, f.manager.IsAuthenticated())
}

func TestLogoutSurvivesNativeSignOutFailure(t *testing.T) {
	f := newFixture(t, nil, nil)
	registerNative(t, &fakeGoogleNative{signOutErr: errors.New("native session wedged")})
	ctx := context.Background()
	require.NoError(t, f.manager.Login(ctx, sampleUser()))

	f.manager.Logout(ctx)

	assert.False(t, f.manager.IsAuthenticated())
	assert.Nil(t, f.manager.Current())
}

func TestUserWithoutTokenIsNotASession(t *testing.T) {
	f := newFixture(t, nil, nil)
	user := sampleUser()
	user.AuthToken = ""

	require.NoError(t, f.manager.Login(context.Background(), user))

	assert.False(t, f.manager.IsAuthenticated(), "a token-less user is a degenerate state")
}
