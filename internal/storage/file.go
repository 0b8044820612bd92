package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileKV persists keys as a single JSON document on disk. Writes go
// through a temp file and rename so a crashed write never truncates
// the previous state.
type FileKV struct {
	mu   sync.Mutex
	path string
}

// NewFileKV creates a file-backed KV rooted at path. An empty path
// defaults to authkit.json in the user config directory.
func NewFileKV(path string) *FileKV {
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			dir = "."
		}
		path = filepath.Join(dir, "authkit", "authkit.json")
	}
	return &FileKV{path: path}
}

func (f *FileKV) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return nil, err
	}
	raw, ok := doc[key]
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(raw), nil
}

func (f *FileKV) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	doc[key] = string(value)
	return f.write(doc)
}

func (f *FileKV) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := doc[key]; !ok {
		return nil
	}
	delete(doc, key)
	return f.write(doc)
}

func (f *FileKV) DeleteAll(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	for _, key := range keys {
		delete(doc, key)
	}
	return f.write(doc)
}

func (f *FileKV) read() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}
	doc := map[string]string{}
	if err := json.Unmarshal(data, &doc); err != nil {
		// A corrupt store file behaves as empty rather than wedging
		// every read until someone deletes it by hand.
		return map[string]string{}, nil
	}
	return doc, nil
}

func (f *FileKV) write(doc map[string]string) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode store file: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".authkit-*")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close store file: %w", err)
	}
	return os.Rename(tmp.Name(), f.path)
}
