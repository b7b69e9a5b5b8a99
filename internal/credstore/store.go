// Package credstore abstracts device-protected storage for tokens and
// passcode-derived secrets.
package credstore

import (
	"context"
	"errors"
	"sync"
)

// Well-known keys.
const (
	KeyAccessToken       = "access_token"
	KeyBiometricPasscode = "biometric_passcode"
	KeyBiometricEnabled  = "biometric_enabled"
)

var (
	// ErrNotFound is returned for absent keys.
	ErrNotFound = errors.New("credstore: key not found")
	// ErrBiometricUnavailable means the device cannot prompt for biometrics.
	ErrBiometricUnavailable = errors.New("credstore: biometric unavailable")
	// ErrBiometricCancelled means the user dismissed or failed the prompt.
	ErrBiometricCancelled = errors.New("credstore: biometric prompt failed")
)

// Store is a single-writer key/value store. No multi-key atomicity is
// provided; callers re-read after writing when they depend on several keys.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Clear(ctx context.Context, key string) error
}

// Memory keeps values in process memory.
type Memory struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

// Get returns the value stored under key.
func (m *Memory) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set stores value under key.
func (m *Memory) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Clear removes key. Clearing an absent key is not an error.
func (m *Memory) Clear(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
