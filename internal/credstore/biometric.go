package credstore

import (
	"context"
	"errors"
	"fmt"
)

// Authenticator is the device biometric prompt.
type Authenticator interface {
	Available(ctx context.Context) bool
	Authenticate(ctx context.Context, prompt string) error
}

// BiometricStore holds a passcode that can only be read back after a
// successful biometric prompt.
type BiometricStore interface {
	Available(ctx context.Context) bool
	HasBiometricSecret(ctx context.Context) (bool, error)
	GetBiometric(ctx context.Context, prompt string) (string, error)
	SetBiometric(ctx context.Context, secret string) error
	ClearBiometric(ctx context.Context) error
}

// Biometric gates a Store behind an Authenticator.
type Biometric struct {
	store Store
	auth  Authenticator
}

// NewBiometric wraps store. A nil authenticator disables biometrics.
func NewBiometric(store Store, auth Authenticator) *Biometric {
	if auth == nil {
		auth = NoBiometrics{}
	}
	return &Biometric{store: store, auth: auth}
}

// Available reports whether the device can prompt.
func (b *Biometric) Available(ctx context.Context) bool {
	return b.auth.Available(ctx)
}

// HasBiometricSecret reports whether biometric sign-in was enabled.
func (b *Biometric) HasBiometricSecret(ctx context.Context) (bool, error) {
	flag, err := b.store.Get(ctx, KeyBiometricEnabled)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if flag != "true" {
		return false, nil
	}
	if _, err := b.store.Get(ctx, KeyBiometricPasscode); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetBiometric prompts and returns the stored passcode.
func (b *Biometric) GetBiometric(ctx context.Context, prompt string) (string, error) {
	if !b.auth.Available(ctx) {
		return "", ErrBiometricUnavailable
	}
	if err := b.auth.Authenticate(ctx, prompt); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBiometricCancelled, err)
	}
	return b.store.Get(ctx, KeyBiometricPasscode)
}

// SetBiometric stores secret and marks biometric sign-in enabled.
func (b *Biometric) SetBiometric(ctx context.Context, secret string) error {
	if !b.auth.Available(ctx) {
		return ErrBiometricUnavailable
	}
	if err := b.store.Set(ctx, KeyBiometricPasscode, secret); err != nil {
		return err
	}
	return b.store.Set(ctx, KeyBiometricEnabled, "true")
}

// ClearBiometric removes the secret and the enabled flag.
func (b *Biometric) ClearBiometric(ctx context.Context) error {
	if err := b.store.Clear(ctx, KeyBiometricEnabled); err != nil {
		return err
	}
	return b.store.Clear(ctx, KeyBiometricPasscode)
}

// NoBiometrics is an Authenticator for devices without biometric hardware.
type NoBiometrics struct{}

func (NoBiometrics) Available(context.Context) bool { return false }

func (NoBiometrics) Authenticate(context.Context, string) error { return ErrBiometricUnavailable }
