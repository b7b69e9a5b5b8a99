// Package token inspects the stored access token and signals expiry.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"fuelpay/internal/credstore"
)

const (
	defaultCheckInterval = time.Minute
	defaultLeeway        = 30 * time.Second
)

// ErrNoExpiry is returned for tokens without an exp claim.
var ErrNoExpiry = errors.New("token: no expiry claim")

// Info is what the device can learn from a token without the signing key.
type Info struct {
	Subject   string
	ExpiresAt time.Time
}

// Inspect decodes the token claims without verifying the signature; the
// backend remains the authority on validity.
func Inspect(raw string) (Info, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return Info{}, fmt.Errorf("token: parse: %w", err)
	}
	if claims.ExpiresAt == nil {
		return Info{Subject: claims.Subject}, ErrNoExpiry
	}
	return Info{Subject: claims.Subject, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Watcher periodically checks the stored token and clears it once expired.
type Watcher struct {
	store    credstore.Store
	interval time.Duration
	leeway   time.Duration
	onExpiry func()
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	notified string
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Interval time.Duration
	Leeway   time.Duration
	OnExpiry func()
	Logger   *zap.Logger
	Now      func() time.Time
}

// NewWatcher builds watcher.
func NewWatcher(store credstore.Store, cfg WatcherConfig) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultCheckInterval
	}
	if cfg.Leeway < 0 {
		cfg.Leeway = 0
	} else if cfg.Leeway == 0 {
		cfg.Leeway = defaultLeeway
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Watcher{
		store:    store,
		interval: cfg.Interval,
		leeway:   cfg.Leeway,
		onExpiry: cfg.OnExpiry,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
}

// Run checks immediately and then on every tick until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check runs a single expiry check. It reports whether the token was expired.
func (w *Watcher) Check(ctx context.Context) bool {
	raw, err := w.store.Get(ctx, credstore.KeyAccessToken)
	if err != nil {
		if !errors.Is(err, credstore.ErrNotFound) {
			w.logger.Warn("read access token failed", zap.Error(err))
		}
		return false
	}

	info, err := Inspect(raw)
	switch {
	case errors.Is(err, ErrNoExpiry):
		return false
	case err != nil:
		w.logger.Warn("stored access token is malformed, clearing", zap.Error(err))
	case w.now().Add(w.leeway).Before(info.ExpiresAt):
		return false
	default:
		w.logger.Info("access token expired", zap.Time("expires_at", info.ExpiresAt))
	}

	if err := w.store.Clear(ctx, credstore.KeyAccessToken); err != nil {
		w.logger.Warn("clear access token failed", zap.Error(err))
	}

	w.mu.Lock()
	first := w.notified != raw
	w.notified = raw
	w.mu.Unlock()
	if first && w.onExpiry != nil {
		w.onExpiry()
	}
	return true
}
