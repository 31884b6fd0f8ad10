package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gocloud.dev/secrets"

	"portalauth/internal/identity"
	"portalauth/pkg/arcgis"
	"portalauth/pkg/logging"

	// Keeper drivers selectable through the keeper URL.
	_ "gocloud.dev/secrets/hashivault"
	_ "gocloud.dev/secrets/localsecrets"
)

// ErrNotFound is returned when no session is stored for a key.
var ErrNotFound = errors.New("no stored session")

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"

	sqliteFileName = "sessions.db"
)

// Blob is one stored session as a backend sees it.
type Blob struct {
	Key     string
	SavedAt time.Time
	// Data is the serialized record, or its ciphertext when Encrypted.
	Data      []byte
	Encrypted bool
}

// Backend persists blobs by key. Get returns ErrNotFound for unknown keys
// and Delete of an unknown key succeeds.
type Backend interface {
	Put(ctx context.Context, blob Blob) error
	Get(ctx context.Context, key string) (Blob, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]Blob, error)
	Close() error
}

// Entry summarises a stored session without exposing its secrets.
type Entry struct {
	Key          string    `json:"key"`
	Username     string    `json:"username,omitempty"`
	TokenExpires time.Time `json:"tokenExpires,omitempty"`
	Refreshable  bool      `json:"refreshable"`
	Encrypted    bool      `json:"encrypted"`
	SavedAt      time.Time `json:"savedAt"`
}

// Store saves and restores sessions through a Backend, optionally sealing
// them with a secrets keeper. Token values are never logged.
type Store struct {
	backend Backend
	keeper  *secrets.Keeper
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithKeeper encrypts every saved session with keeper. Sessions saved in
// plain text remain readable.
func WithKeeper(keeper *secrets.Keeper) Option {
	return func(s *Store) {
		s.keeper = keeper
	}
}

// New returns a store writing to backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{backend: backend, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config selects and configures the backend Open builds.
type Config struct {
	// Backend is BackendFile (the default) or BackendSQLite.
	Backend string
	// Dir holds the session files or the database.
	Dir string
	// KeeperURL, when set, opens a gocloud.dev secrets keeper such as
	// base64key://<key> or hashivault://<key name>.
	KeeperURL string
}

// Open creates the directory, the backend and the keeper cfg describes.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("session directory cannot be empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	var (
		backend Backend
		err     error
	)
	switch cfg.Backend {
	case "", BackendFile:
		backend, err = NewFileBackend(cfg.Dir)
	case BackendSQLite:
		backend, err = NewSQLiteBackend(filepath.Join(cfg.Dir, sqliteFileName))
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	var opts []Option
	if cfg.KeeperURL != "" {
		keeper, err := secrets.OpenKeeper(ctx, cfg.KeeperURL)
		if err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("failed to open session keeper: %w", err)
		}
		opts = append(opts, WithKeeper(keeper))
	}

	logging.Debug("SessionStore", "Opened %s session store in %s (encrypted=%t)", cfg.Backend, cfg.Dir, cfg.KeeperURL != "")
	return New(backend, opts...), nil
}

// Close releases the backend and the keeper.
func (s *Store) Close() error {
	err := s.backend.Close()
	if s.keeper != nil {
		err = errors.Join(err, s.keeper.Close())
	}
	return err
}

// Key returns the storage key of a record: its server when the record is
// server scoped, its portal otherwise.
func Key(rec identity.Record) string {
	if rec.Server != "" {
		return arcgis.CleanURL(rec.Server)
	}
	return arcgis.CleanURL(rec.Portal)
}

// Save serializes the session and writes it under its key.
func (s *Store) Save(ctx context.Context, session *identity.Session) error {
	key := Key(session.Record())
	if key == "" {
		return fmt.Errorf("session has neither portal nor server")
	}
	data, err := session.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}

	blob := Blob{Key: key, SavedAt: s.now().UTC(), Data: data}
	if s.keeper != nil {
		sealed, err := s.keeper.Encrypt(ctx, data)
		if err != nil {
			return fmt.Errorf("failed to encrypt session: %w", err)
		}
		blob.Data, blob.Encrypted = sealed, true
	}

	if err := s.backend.Put(ctx, blob); err != nil {
		logging.Audit(logging.AuditEvent{Action: "session_saved", Outcome: "failure", Portal: key, Error: err.Error()})
		return err
	}
	logging.Audit(logging.AuditEvent{Action: "session_saved", Outcome: "success", Portal: key})
	return nil
}

// Load rebuilds the session stored under key. It returns ErrNotFound when
// nothing is stored. No network call is made.
func (s *Store) Load(ctx context.Context, key string, opts ...identity.Option) (*identity.Session, error) {
	key = arcgis.CleanURL(key)
	blob, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	data, err := s.open(ctx, blob)
	if err != nil {
		return nil, err
	}
	session, err := identity.Deserialize(data, opts...)
	if err != nil {
		return nil, fmt.Errorf("stored session for %s is corrupt: %w", key, err)
	}
	logging.Debug("SessionStore", "Loaded session for %s saved at %s", key, blob.SavedAt.Format(time.RFC3339))
	return session, nil
}

// Delete removes the session stored under key. Deleting a missing session
// is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	key = arcgis.CleanURL(key)
	if err := s.backend.Delete(ctx, key); err != nil {
		logging.Audit(logging.AuditEvent{Action: "session_deleted", Outcome: "failure", Portal: key, Error: err.Error()})
		return err
	}
	logging.Audit(logging.AuditEvent{Action: "session_deleted", Outcome: "success", Portal: key})
	return nil
}

// List returns every stored session sorted by key. Sessions that cannot be
// decoded are skipped with a warning.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	blobs, err := s.backend.List(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(blobs))
	for _, blob := range blobs {
		data, err := s.open(ctx, blob)
		if err != nil {
			logging.Warn("SessionStore", "Skipping %s: %v", blob.Key, err)
			continue
		}
		var rec identity.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			logging.Warn("SessionStore", "Skipping %s: %v", blob.Key, err)
			continue
		}
		entries = append(entries, Entry{
			Key:          blob.Key,
			Username:     rec.Username,
			TokenExpires: rec.TokenExpires,
			Refreshable:  rec.Refreshable(),
			Encrypted:    blob.Encrypted,
			SavedAt:      blob.SavedAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// open returns the plain serialized record of blob.
func (s *Store) open(ctx context.Context, blob Blob) ([]byte, error) {
	if !blob.Encrypted {
		return blob.Data, nil
	}
	if s.keeper == nil {
		return nil, fmt.Errorf("session for %s is encrypted and no keeper is configured", blob.Key)
	}
	data, err := s.keeper.Decrypt(ctx, blob.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt session for %s: %w", blob.Key, err)
	}
	return data, nil
}
