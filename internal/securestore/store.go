// Package securestore persists secrets encrypted at rest. Payloads are sealed
// with AES-256-GCM under a process-local master key generated on first use and
// kept in the store root. The store never inspects payload content.
//
// Concurrent writers to the same entry id are not supported: entry ids are
// unique per logical signing material, and same-id races are last-writer-wins.
package securestore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wieslawsoltes/packagingtools/internal/models"
)

// KindTag is the metadata key every entry must carry
const KindTag = "kind"

const (
	masterKeyFile = "master.key"
	entriesDir    = "entries"
	metadataFile  = "entry.json"
	payloadFile   = "payload.bin"
)

// Entry describes a stored secret without exposing its payload
type Entry struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"createdAt"`
	ExpiresAt *time.Time        `json:"expiresAt,omitempty"`
	Metadata  map[string]string `json:"metadata"`
}

// Kind returns the entry's kind tag
func (e *Entry) Kind() string {
	return e.Metadata[KindTag]
}

// Secret pairs an entry with its decrypted payload
type Secret struct {
	Entry   Entry
	Payload []byte
}

// Options control how an entry is written
type Options struct {
	ExpiresAt *time.Time
	Metadata  map[string]string
}

// Store is the encrypted key-value persistence layer
type Store struct {
	root string

	keyOnce sync.Once
	keyErr  error
	key     []byte
}

// New creates a store rooted at the given directory
func New(root string) *Store {
	return &Store{root: root}
}

// Put encrypts and persists a payload under the given id
func (s *Store) Put(id string, payload []byte, opts Options) (*Entry, error) {
	if id == "" {
		return nil, &models.PackagingError{Type: models.ErrSecureStore, Err: fmt.Errorf("entry id is required")}
	}
	if len(payload) == 0 {
		return nil, &models.PackagingError{Type: models.ErrSecureStore, Err: fmt.Errorf("payload is empty")}
	}

	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, &models.PackagingError{Type: models.ErrSecureStore, Err: fmt.Errorf("failed to generate nonce: %w", err)}
	}
	ciphertext := gcm.Seal(nonce, nonce, payload, []byte(id))

	entry := Entry{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: opts.ExpiresAt,
		Metadata:  map[string]string{},
	}
	for k, v := range opts.Metadata {
		entry.Metadata[k] = v
	}

	dir := filepath.Join(s.root, entriesDir, SanitizeID(id))
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, &models.PackagingError{Type: models.ErrSecureStore, Err: err}
	}

	meta, err := json.MarshalIndent(&entry, "", "  ")
	if err != nil {
		return nil, &models.PackagingError{Type: models.ErrSecureStore, Err: err}
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFile), meta, 0600); err != nil {
		return nil, &models.PackagingError{Type: models.ErrSecureStore, Err: err}
	}
	if err := os.WriteFile(filepath.Join(dir, payloadFile), ciphertext, 0600); err != nil {
		return nil, &models.PackagingError{Type: models.ErrSecureStore, Err: err}
	}

	logrus.Debugf("Stored secure entry %s (%d bytes)", id, len(payload))
	return &entry, nil
}

// TryGet returns the decrypted secret, or nil when the id is unknown
func (s *Store) TryGet(id string) (*Secret, error) {
	dir := filepath.Join(s.root, entriesDir, SanitizeID(id))
	meta, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &models.PackagingError{Type: models.ErrSecureStore, Err: err}
	}

	var entry Entry
	if err := json.Unmarshal(meta, &entry); err != nil {
		return nil, &models.PackagingError{Type: models.ErrSecureStore, Err: fmt.Errorf("corrupt entry metadata for %s: %w", id, err)}
	}

	ciphertext, err := os.ReadFile(filepath.Join(dir, payloadFile))
	if err != nil {
		return nil, &models.PackagingError{Type: models.ErrSecureStore, Err: err}
	}

	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, &models.PackagingError{Type: models.ErrSecureStore, Err: fmt.Errorf("truncated payload for %s", id)}
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	payload, err := gcm.Open(nil, nonce, sealed, []byte(entry.ID))
	if err != nil {
		return nil, &models.PackagingError{Type: models.ErrSecureStore, Err: fmt.Errorf("failed to decrypt %s: %w", id, err)}
	}

	return &Secret{Entry: entry, Payload: payload}, nil
}

// List returns metadata for every stored entry
func (s *Store) List() ([]Entry, error) {
	dir := filepath.Join(s.root, entriesDir)
	items, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &models.PackagingError{Type: models.ErrSecureStore, Err: err}
	}

	var entries []Entry
	for _, item := range items {
		if !item.IsDir() {
			continue
		}
		meta, err := os.ReadFile(filepath.Join(dir, item.Name(), metadataFile))
		if err != nil {
			logrus.Warnf("Skipping unreadable store entry %s: %v", item.Name(), err)
			continue
		}
		var entry Entry
		if err := json.Unmarshal(meta, &entry); err != nil {
			logrus.Warnf("Skipping corrupt store entry %s: %v", item.Name(), err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Delete removes an entry. Deleting an unknown id is not an error.
func (s *Store) Delete(id string) error {
	dir := filepath.Join(s.root, entriesDir, SanitizeID(id))
	if err := os.RemoveAll(dir); err != nil {
		return &models.PackagingError{Type: models.ErrSecureStore, Err: err}
	}
	return nil
}

// aead loads the master key lazily and builds the AES-256-GCM cipher.
// The key is read-only after first load.
func (s *Store) aead() (cipher.AEAD, error) {
	s.keyOnce.Do(func() {
		s.key, s.keyErr = s.loadOrCreateKey()
	})
	if s.keyErr != nil {
		return nil, &models.PackagingError{Type: models.ErrSecureStore, Err: s.keyErr}
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, &models.PackagingError{Type: models.ErrSecureStore, Err: err}
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &models.PackagingError{Type: models.ErrSecureStore, Err: err}
	}
	return gcm, nil
}

func (s *Store) loadOrCreateKey() ([]byte, error) {
	path := filepath.Join(s.root, masterKeyFile)
	if encoded, err := os.ReadFile(path); err == nil {
		key, decodeErr := base64.StdEncoding.DecodeString(strings.TrimSpace(string(encoded)))
		if decodeErr != nil {
			return nil, fmt.Errorf("corrupt master key: %w", decodeErr)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("master key has wrong length %d", len(key))
		}
		return key, nil
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate master key: %w", err)
	}
	if err := os.MkdirAll(s.root, 0700); err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(key)
	if err := os.WriteFile(path, []byte(encoded), 0600); err != nil {
		return nil, err
	}
	logrus.Debugf("Generated secure store master key at %s", path)
	return key, nil
}

// SanitizeID maps an entry id onto a filesystem-safe directory name
func SanitizeID(id string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
