package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/voyago/authkit/internal/logger"
	"github.com/voyago/authkit/internal/models"
	"go.uber.org/zap"
)

// Mailbox is the cross-window channel the popup uses to hand its
// result back to the opener. Single producer, single consumer per
// handshake; a second write before consumption overwrites the first.
type Mailbox interface {
	// Write leaves a pending result for the opener.
	Write(ctx context.Context, result *models.PendingResult) error

	// ReadAndClear removes and returns the pending result, or nil
	// when there is none. Safe to call repeatedly.
	ReadAndClear(ctx context.Context) (*models.PendingResult, error)

	// Watch invokes onChange whenever a new result may be available,
	// until ctx is done. The handler re-runs the drain; spurious
	// wakeups are fine because ReadAndClear is idempotent.
	Watch(ctx context.Context, onChange func()) error
}

// FileMailbox relays the pending result through a file. Writes are
// observable across processes via fsnotify, which stands in for the
// storage-change events two browser windows would share.
type FileMailbox struct {
	mu   sync.Mutex
	path string
}

// NewFileMailbox creates a mailbox at path. An empty path defaults to
// pending-signin.json next to the user config dir.
func NewFileMailbox(path string) *FileMailbox {
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = "."
		}
		path = filepath.Join(dir, "authkit", "pending-signin.json")
	}
	return &FileMailbox{path: path}
}

func (m *FileMailbox) Write(ctx context.Context, result *models.PendingResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode pending result: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return fmt.Errorf("failed to create mailbox directory: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write mailbox: %w", err)
	}
	return nil
}

func (m *FileMailbox) ReadAndClear(ctx context.Context) (*models.PendingResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read mailbox: %w", err)
	}

	if err := os.Remove(m.path); err != nil {
		logger.Warn("failed to clear mailbox after read", zap.Error(err))
	}

	var result models.PendingResult
	if err := json.Unmarshal(data, &result); err != nil {
		// A corrupt mailbox payload is discarded, not surfaced: the
		// handshake simply has no pending result.
		logger.Warn("discarding corrupt mailbox payload", zap.Error(err))
		return nil, nil
	}
	return &result, nil
}

func (m *FileMailbox) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create mailbox watcher: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to create mailbox directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch mailbox directory: %w", err)
	}

	go func() {
		defer func() {
			if err := watcher.Close(); err != nil {
				logger.Warn("failed to close mailbox watcher", zap.Error(err))
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != m.path {
					continue
				}
				if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("mailbox watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
