package relay

import (
	"fmt"
	"os/exec"
	"runtime"
	"sync"
)

// WindowEnvironment abstracts the execution context the relay runs in.
// On web it is the actual window; elsewhere it is whatever hosts the
// embedded browser. The relay only ever talks to this interface, so
// the handshake logic is portable and mockable.
type WindowEnvironment interface {
	// OpenPopup opens url in a named popup window. An error means the
	// popup was blocked; the relay falls back to Redirect.
	OpenPopup(url, name string) error

	// Redirect navigates the current window to url.
	Redirect(url string) error

	// WindowName reports the current window's name. The completing
	// context compares it to the well-known popup name to learn
	// whether it is the popup.
	WindowName() string

	// Fragment returns the current URL fragment without the leading
	// "#", or "" when there is none.
	Fragment() string

	// ClearFragment drops the URL fragment so a reload cannot
	// re-process a consumed redirect.
	ClearFragment()

	// CloseWindow closes the current window. Only meaningful for the
	// popup after it has relayed its result.
	CloseWindow()
}

// EphemeralStore is session-scoped storage for the CSRF nonce. It
// lives and dies with the initiating context.
type EphemeralStore interface {
	SetItem(key, value string) error
	GetItem(key string) (string, error)
	RemoveItem(key string) error
}

// MemoryEphemeral is an in-process EphemeralStore.
type MemoryEphemeral struct {
	mu    sync.Mutex
	items map[string]string
}

func NewMemoryEphemeral() *MemoryEphemeral {
	return &MemoryEphemeral{items: map[string]string{}}
}

func (m *MemoryEphemeral) SetItem(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

func (m *MemoryEphemeral) GetItem(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[key], nil
}

func (m *MemoryEphemeral) RemoveItem(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// SystemBrowser is a WindowEnvironment backed by the OS default
// browser. It is always the original window: the redirect lands in an
// external browser whose page relays the result through the mailbox,
// so Fragment is always empty here.
type SystemBrowser struct{}

func (SystemBrowser) OpenPopup(url, name string) error { return openURL(url) }
func (SystemBrowser) Redirect(url string) error        { return openURL(url) }
func (SystemBrowser) WindowName() string               { return "" }
func (SystemBrowser) Fragment() string                 { return "" }
func (SystemBrowser) ClearFragment()                   {}
func (SystemBrowser) CloseWindow()                     {}

func openURL(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open browser: %w", err)
	}
	return nil
}
