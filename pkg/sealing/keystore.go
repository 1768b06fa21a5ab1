package sealing

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// rootSecretSize is the length of every keystore root secret.
const rootSecretSize = 32

// keystoreFile is the on-disk JSON format for persisted root secrets.
type keystoreFile struct {
	ActiveVersion int               `json:"active_version"`
	Keys          map[string]string `json:"keys"` // version -> base64-encoded 32-byte secret
}

// Keystore is a file-backed set of versioned root secrets. Rotation adds a
// new active version; old versions stay available so material sealed under
// them can still be unsealed.
type Keystore struct {
	mu    sync.RWMutex
	store keystoreFile
	path  string
	keys  map[int][]byte
}

// OpenKeystore loads or creates a keystore at the given path.
// If the file does not exist, a new secret (version 1) is generated.
func OpenKeystore(path string) (*Keystore, error) {
	ks := &Keystore{
		path: path,
		keys: make(map[int][]byte),
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("sealing: create keystore dir: %w", err)
		}

		secret, err := randomSecret()
		if err != nil {
			return nil, err
		}
		ks.store = keystoreFile{
			ActiveVersion: 1,
			Keys:          map[string]string{"1": base64.StdEncoding.EncodeToString(secret)},
		}
		ks.keys[1] = secret

		if err := ks.persist(); err != nil {
			return nil, err
		}
		return ks, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sealing: read keystore: %w", err)
	}
	if err := json.Unmarshal(data, &ks.store); err != nil {
		return nil, fmt.Errorf("sealing: parse keystore: %w", err)
	}

	for vStr, encoded := range ks.store.Keys {
		v, err := strconv.Atoi(vStr)
		if err != nil {
			return nil, fmt.Errorf("sealing: invalid keystore version %q: %w", vStr, err)
		}
		secret, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("sealing: decode secret v%d: %w", v, err)
		}
		if len(secret) != rootSecretSize {
			return nil, fmt.Errorf("sealing: secret v%d invalid length %d (need %d)", v, len(secret), rootSecretSize)
		}
		ks.keys[v] = secret
	}

	if _, ok := ks.keys[ks.store.ActiveVersion]; !ok {
		return nil, fmt.Errorf("sealing: active version %d not in keystore", ks.store.ActiveVersion)
	}
	return ks, nil
}

// NewMemoryKeystore returns a keystore holding one secret that is never
// written to disk.
func NewMemoryKeystore(secret []byte) (*Keystore, error) {
	if len(secret) != rootSecretSize {
		return nil, fmt.Errorf("sealing: secret must be %d bytes, got %d", rootSecretSize, len(secret))
	}
	return &Keystore{
		store: keystoreFile{
			ActiveVersion: 1,
			Keys:          map[string]string{"1": base64.StdEncoding.EncodeToString(secret)},
		},
		keys: map[int][]byte{1: append([]byte(nil), secret...)},
	}, nil
}

// ImportSecret installs an existing raw secret as the active version.
func (k *Keystore) ImportSecret(secret []byte, version int) error {
	if len(secret) != rootSecretSize {
		return fmt.Errorf("sealing: import secret must be %d bytes, got %d", rootSecretSize, len(secret))
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	k.store.Keys[strconv.Itoa(version)] = base64.StdEncoding.EncodeToString(secret)
	k.store.ActiveVersion = version
	k.keys[version] = append([]byte(nil), secret...)

	return k.persist()
}

// Rotate generates a new secret version and persists the updated keystore.
func (k *Keystore) Rotate() (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	newVersion := k.store.ActiveVersion + 1
	secret, err := randomSecret()
	if err != nil {
		return 0, err
	}

	k.store.Keys[strconv.Itoa(newVersion)] = base64.StdEncoding.EncodeToString(secret)
	k.store.ActiveVersion = newVersion
	k.keys[newVersion] = secret

	if err := k.persist(); err != nil {
		return 0, err
	}
	return newVersion, nil
}

// ActiveVersion returns the current active secret version.
func (k *Keystore) ActiveVersion() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.store.ActiveVersion
}

func (k *Keystore) secret(version int) ([]byte, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.keys[version]
	return s, ok
}

func (k *Keystore) active() (int, []byte) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.store.ActiveVersion, k.keys[k.store.ActiveVersion]
}

// persist writes the keystore to disk with restricted permissions.
func (k *Keystore) persist() error {
	if k.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(k.store, "", "  ")
	if err != nil {
		return fmt.Errorf("sealing: marshal keystore: %w", err)
	}
	if err := os.WriteFile(k.path, data, 0600); err != nil {
		return fmt.Errorf("sealing: write keystore: %w", err)
	}
	return nil
}

func randomSecret() ([]byte, error) {
	secret := make([]byte, rootSecretSize)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, fmt.Errorf("sealing: generate secret: %w", err)
	}
	return secret, nil
}
