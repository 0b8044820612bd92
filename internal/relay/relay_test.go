package relay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voyago/authkit/internal/config"
	"github.com/voyago/authkit/internal/models"
)

type fakeWindow struct {
	name     string
	fragment string

	popupErr   error
	popupURL   string
	popupName  string
	redirected string
	cleared    bool
	closed     bool
}

func (w *fakeWindow) OpenPopup(url, name string) error {
	if w.popupErr != nil {
		return w.popupErr
	}
	w.popupURL, w.popupName = url, name
	return nil
}
func (w *fakeWindow) Redirect(url string) error { w.redirected = url; return nil }
func (w *fakeWindow) WindowName() string        { return w.name }
func (w *fakeWindow) Fragment() string          { return w.fragment }
func (w *fakeWindow) ClearFragment()            { w.cleared = true; w.fragment = "" }
func (w *fakeWindow) CloseWindow()              { w.closed = true }

type memoryMailbox struct {
	mu     sync.Mutex
	stored *models.PendingResult
}

func (m *memoryMailbox) Write(ctx context.Context, result *models.PendingResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored = result
	return nil
}

func (m *memoryMailbox) ReadAndClear(ctx context.Context) (*models.PendingResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := m.stored
	m.stored = nil
	return result, nil
}

func (m *memoryMailbox) Watch(ctx context.Context, onChange func()) error { return nil }

type staticResolver struct {
	profile models.GoogleProfile
	err     error
}

func (r staticResolver) Resolve(ctx context.Context, idToken, accessToken string) (models.GoogleProfile, error) {
	return r.profile, r.err
}

func testConfig() *config.OAuthConfig {
	return &config.OAuthConfig{
		ClientID:     "client-123",
		AuthEndpoint: "https://accounts.example.com/authorize",
		RedirectURI:  "https://app.example.com/callback",
		Scopes:       []string{"openid", "profile", "email"},
		PopupName:    "signin_popup",
	}
}

func newTestRelay(cfg *config.OAuthConfig, env *fakeWindow) (*Relay, *MemoryEphemeral, *memoryMailbox) {
	ephemeral := NewMemoryEphemeral()
	mailbox := &memoryMailbox{}
	r := NewRelay(cfg, env, ephemeral, mailbox, staticResolver{
		profile: models.GoogleProfile{Sub: "g-1", Email: "ana@example.com", GivenName: "Ana"},
	})
	return r, ephemeral, mailbox
}

func TestInitiateWithoutClientID(t *testing.T) {
	cfg := testConfig()
	cfg.ClientID = ""
	env := &fakeWindow{}
	r, _, _ := newTestRelay(cfg, env)

	err := r.Initiate(context.Background())
	assert.ErrorIs(t, err, ErrMissingClientID)
	assert.Empty(t, env.popupURL, "no popup may open without a client id")
	assert.Empty(t, env.redirected)
}

func TestInitiateOpensNamedPopup(t *testing.T) {
	env := &fakeWindow{}
	r, ephemeral, _ := newTestRelay(testConfig(), env)

	require.NoError(t, r.Initiate(context.Background()))
	assert.Equal(t, "signin_popup", env.popupName)

	u, err := url.Parse(env.popupURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "client-123", q.Get("client_id"))
	assert.Equal(t, "token id_token", q.Get("response_type"))
	assert.Equal(t, "openid profile email", q.Get("scope"))
	assert.NotEmpty(t, q.Get("state"))
	assert.Equal(t, q.Get("state"), q.Get("nonce"), "nonce rides as both state and nonce")

	stored, err := ephemeral.GetItem(stateKey)
	require.NoError(t, err)
	assert.Equal(t, q.Get("state"), stored)
}

func TestInitiateFallsBackToRedirectWhenPopupBlocked(t *testing.T) {
	env := &fakeWindow{popupErr: errors.New("blocked")}
	r, _, _ := newTestRelay(testConfig(), env)

	require.NoError(t, r.Initiate(context.Background()))
	assert.NotEmpty(t, env.redirected, "blocked popup falls back to a full redirect")
}

func TestSecondInitiateWins(t *testing.T) {
	env := &fakeWindow{}
	r, ephemeral, _ := newTestRelay(testConfig(), env)
	ctx := context.Background()

	require.NoError(t, r.Initiate(ctx))
	firstURL, _ := url.Parse(env.popupURL)
	require.NoError(t, r.Initiate(ctx))
	secondURL, _ := url.Parse(env.popupURL)

	first := firstURL.Query().Get("state")
	second := secondURL.Query().Get("state")
	assert.NotEqual(t, first, second)

	stored, err := ephemeral.GetItem(stateKey)
	require.NoError(t, err)
	assert.Equal(t, second, stored, "only the last-initiated nonce is honored")
}

func completeWithFragment(t *testing.T, env *fakeWindow, nonce string) (*Relay, *memoryMailbox, *Result, error) {
	t.Helper()
	r, ephemeral, mailbox := newTestRelay(testConfig(), env)
	if nonce != "" {
		require.NoError(t, ephemeral.SetItem(stateKey, nonce))
	}
	result, err := r.Complete(context.Background())
	return r, mailbox, result, err
}

func TestCompleteStateRoundTrip(t *testing.T) {
	env := &fakeWindow{fragment: "id_token=tok.abc.sig&access_token=at&state=nonce-1"}
	_, _, result, err := completeWithFragment(t, env, "nonce-1")

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "tok.abc.sig", result.IDToken)
	assert.Equal(t, "at", result.AccessToken)
	assert.Equal(t, "ana@example.com", result.Profile.Email)
	assert.True(t, env.cleared, "a consumed fragment must not survive a reload")
}

func TestCompleteStateMismatch(t *testing.T) {
	env := &fakeWindow{fragment: "id_token=tok&state=evil"}
	r, _, result, err := completeWithFragment(t, env, "nonce-1")

	assert.ErrorIs(t, err, ErrStateMismatch)
	assert.Nil(t, result)
	assert.True(t, env.cleared)

	stored, getErr := r.ephemeral.GetItem(stateKey)
	require.NoError(t, getErr)
	assert.Empty(t, stored, "handshake state is discarded on mismatch")
}

func TestCompleteWithoutStoredStateDoesNotFail(t *testing.T) {
	// First run: an incoming state with no stored expectation is accepted.
	env := &fakeWindow{fragment: "id_token=tok&state=whatever"}
	_, _, result, err := completeWithFragment(t, env, "")

	require.NoError(t, err)
	require.NotNil(t, result)
}

func TestCompleteAccessDenied(t *testing.T) {
	env := &fakeWindow{fragment: "error=access_denied&state=nonce-1"}
	_, _, result, err := completeWithFragment(t, env, "nonce-1")

	assert.ErrorIs(t, err, ErrCancelled)
	assert.Nil(t, result)
}

func TestCompleteProviderError(t *testing.T) {
	env := &fakeWindow{fragment: "error=server_error&error_description=boom&state=nonce-1"}
	_, _, _, err := completeWithFragment(t, env, "nonce-1")

	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "server_error", provErr.Code)
	assert.Equal(t, "boom", provErr.Description)
}

func TestCompleteMissingIDToken(t *testing.T) {
	env := &fakeWindow{fragment: "access_token=at&state=nonce-1"}
	_, _, result, err := completeWithFragment(t, env, "nonce-1")

	assert.ErrorIs(t, err, ErrMissingIDToken)
	assert.Nil(t, result)
}

func TestCompleteInPopupRelaysAndCloses(t *testing.T) {
	env := &fakeWindow{
		name:     "signin_popup",
		fragment: "id_token=tok&access_token=at&state=nonce-1",
	}
	_, mailbox, result, err := completeWithFragment(t, env, "nonce-1")

	require.NoError(t, err)
	assert.Nil(t, result, "the popup returns nothing directly")
	assert.True(t, env.closed, "the popup closes after relaying")

	pending, err := mailbox.ReadAndClear(context.Background())
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, "tok", pending.IDToken)
	assert.False(t, pending.StoredAt.IsZero())
}

func TestCompleteWithEmptyFragmentDrainsMailbox(t *testing.T) {
	env := &fakeWindow{}
	r, _, mailbox := newTestRelay(testConfig(), env)
	ctx := context.Background()

	require.NoError(t, mailbox.Write(ctx, &models.PendingResult{IDToken: "relayed"}))

	result, err := r.Complete(ctx)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "relayed", result.IDToken)
}

func TestConsumePendingIsIdempotent(t *testing.T) {
	env := &fakeWindow{}
	r, _, mailbox := newTestRelay(testConfig(), env)
	ctx := context.Background()

	require.NoError(t, mailbox.Write(ctx, &models.PendingResult{IDToken: "once"}))

	first, err := r.ConsumePending(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := r.ConsumePending(ctx)
	require.NoError(t, err)
	assert.Nil(t, second, "a consumed result stays consumed")

	third, err := r.ConsumePending(ctx)
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestSecondCompleteSkipsConsumedFragment(t *testing.T) {
	env := &fakeWindow{fragment: "id_token=tok&state=nonce-1"}
	r, ephemeral, _ := newTestRelay(testConfig(), env)
	ctx := context.Background()
	require.NoError(t, ephemeral.SetItem(stateKey, "nonce-1"))

	first, err := r.Complete(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)

	// The same window calling again drains the (empty) mailbox
	// instead of re-processing the redirect.
	second, err := r.Complete(ctx)
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestParseFragment(t *testing.T) {
	tests := []struct {
		name     string
		fragment string
		key      string
		want     string
	}{
		{"with hash prefix", "#id_token=abc", "id_token", "abc"},
		{"without prefix", "id_token=abc", "id_token", "abc"},
		{"empty", "", "id_token", ""},
		{"malformed", "%zz=bad;;", "id_token", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := parseFragment(tt.fragment)
			assert.Equal(t, tt.want, values.Get(tt.key))
		})
	}
}

func ExampleRelay_Initiate() {
	cfg := testConfig()
	env := &fakeWindow{}
	r := NewRelay(cfg, env, NewMemoryEphemeral(), &memoryMailbox{}, staticResolver{})
	_ = r.Initiate(context.Background())
	u, _ := url.Parse(env.popupURL)
	fmt.Println(u.Query().Get("response_type"))
	// Output: token id_token
}
