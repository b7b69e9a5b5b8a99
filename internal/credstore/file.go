package credstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const keyDerivationInfo = "fuelpay credstore v1"

// FileStore persists values in a JSON file, each value sealed with
// XChaCha20-Poly1305 under a key derived from the device secret.
type FileStore struct {
	mu   sync.Mutex
	path string
	key  []byte
}

// NewFileStore prepares a store at path. The file is created on first write.
func NewFileStore(path, deviceSecret string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("credstore: empty path")
	}
	if deviceSecret == "" {
		return nil, errors.New("credstore: empty device secret")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(deviceSecret), nil, []byte(keyDerivationInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("credstore: derive key: %w", err)
	}
	return &FileStore{path: path, key: key}, nil
}

// Get decrypts the value stored under key.
func (f *FileStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return "", err
	}
	sealed, ok := entries[key]
	if !ok {
		return "", ErrNotFound
	}
	return f.open(key, sealed)
}

// Set encrypts and stores value under key.
func (f *FileStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return err
	}
	sealed, err := f.seal(key, value)
	if err != nil {
		return err
	}
	entries[key] = sealed
	return f.save(entries)
}

// Clear removes key from the file.
func (f *FileStore) Clear(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return f.save(entries)
}

func (f *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("credstore: read file: %w", err)
	}
	entries := make(map[string]string)
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("credstore: decode file: %w", err)
	}
	return entries, nil
}

func (f *FileStore) save(entries map[string]string) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("credstore: create dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("credstore: write file: %w", err)
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) seal(key, value string) (string, error) {
	aead, err := chacha20poly1305.NewX(f.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(value)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := aead.Seal(nonce, nonce, []byte(value), []byte(key))
	return base64.StdEncoding.EncodeToString(out), nil
}

func (f *FileStore) open(key, sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("credstore: decode %s: %w", key, err)
	}
	aead, err := chacha20poly1305.NewX(f.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", fmt.Errorf("credstore: truncated value for %s", key)
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return "", fmt.Errorf("credstore: open %s: %w", key, err)
	}
	return string(plain), nil
}
