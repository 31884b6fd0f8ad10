package sessionstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"portalauth/pkg/logging"
)

// FileBackend keeps one JSON file per session in a directory.
//
// Files hold refresh tokens and passwords, so the directory is created 0700
// and files 0600.
type FileBackend struct {
	mu  sync.Mutex
	dir string
}

// fileEnvelope is the on-disk form. Plain sessions are embedded as JSON,
// encrypted ones as base64 ciphertext.
type fileEnvelope struct {
	Key        string          `json:"key"`
	SavedAt    time.Time       `json:"savedAt"`
	Session    json.RawMessage `json:"session,omitempty"`
	Ciphertext []byte          `json:"ciphertext,omitempty"`
}

// NewFileBackend returns a backend rooted at dir, creating it if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("session directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// Dir returns the directory sessions are stored in.
func (b *FileBackend) Dir() string {
	return b.dir
}

func (b *FileBackend) Put(_ context.Context, blob Blob) error {
	envelope := fileEnvelope{Key: blob.Key, SavedAt: blob.SavedAt}
	if blob.Encrypted {
		envelope.Ciphertext = blob.Data
	} else {
		envelope.Session = blob.Data
	}
	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	path := b.path(blob.Key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

func (b *FileBackend) Get(_ context.Context, key string) (Blob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.read(b.path(key))
}

func (b *FileBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.Remove(b.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// List reads every session file. Unreadable files are skipped with a
// warning.
func (b *FileBackend) List(_ context.Context) ([]Blob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	files, err := os.ReadDir(b.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session directory: %w", err)
	}

	var blobs []Blob
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		blob, err := b.read(filepath.Join(b.dir, f.Name()))
		if err != nil {
			logging.Warn("SessionStore", "Skipping %s: %v", f.Name(), err)
			continue
		}
		blobs = append(blobs, blob)
	}
	return blobs, nil
}

func (b *FileBackend) Close() error {
	return nil
}

func (b *FileBackend) read(path string) (Blob, error) {
	// #nosec G304 -- path is built from a hashed key inside the store directory
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Blob{}, ErrNotFound
		}
		return Blob{}, fmt.Errorf("failed to read session file: %w", err)
	}

	var envelope fileEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Blob{}, fmt.Errorf("failed to unmarshal session file: %w", err)
	}
	if len(envelope.Ciphertext) > 0 {
		return Blob{Key: envelope.Key, SavedAt: envelope.SavedAt, Data: envelope.Ciphertext, Encrypted: true}, nil
	}
	return Blob{Key: envelope.Key, SavedAt: envelope.SavedAt, Data: envelope.Session}, nil
}

// path maps a key to a filesystem-safe file name.
func (b *FileBackend) path(key string) string {
	hash := sha256.Sum256([]byte(key))
	return filepath.Join(b.dir, hex.EncodeToString(hash[:16])+".json")
}
