// Package capability exposes platform-native sign-in as an optional
// dependency. Targets without a native module simply never register
// one; absence is a first-class branch, not an error.
package capability

import (
	"context"
	"sync"
)

// GoogleNative is the native Google Sign-In capability present on
// some targets.
type GoogleNative interface {
	// SignIn runs the native flow and returns the Google ID token.
	SignIn(ctx context.Context) (idToken string, err error)

	// SignOut clears any native session state.
	SignOut(ctx context.Context) error
}

var (
	mu     sync.RWMutex
	native GoogleNative
)

// RegisterGoogleNative installs the platform's native sign-in module.
// Passing nil removes it.
func RegisterGoogleNative(capability GoogleNative) {
	mu.Lock()
	defer mu.Unlock()
	native = capability
}

// DetectGoogleNative returns the native capability and whether one is
// available.
func DetectGoogleNative() (GoogleNative, bool) {
	mu.RLock()
	defer mu.RUnlock()
	return native, native != nil
}
