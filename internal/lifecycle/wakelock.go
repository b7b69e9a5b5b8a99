package lifecycle

import (
	"errors"
	"sync"
)

// ErrWakeLockHeld is returned when another session owns the wake lock.
var ErrWakeLockHeld = errors.New("lifecycle: wake lock held by another session")

// WakeLock is the device capability that keeps the screen on.
type WakeLock interface {
	Acquire() error
	Release() error
}

// NopWakeLock is used when the device has no wake lock.
type NopWakeLock struct{}

func (NopWakeLock) Acquire() error { return nil }
func (NopWakeLock) Release() error { return nil }

// ExclusiveWakeLock lets at most one owner hold the device lock. Acquire and
// Release are idempotent per owner.
type ExclusiveWakeLock struct {
	mu       sync.Mutex
	device   WakeLock
	owner    string
	acquires int
	releases int
}

// NewExclusiveWakeLock wraps device; nil means NopWakeLock.
func NewExclusiveWakeLock(device WakeLock) *ExclusiveWakeLock {
	if device == nil {
		device = NopWakeLock{}
	}
	return &ExclusiveWakeLock{device: device}
}

// Acquire takes the lock for owner.
func (l *ExclusiveWakeLock) Acquire(owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.owner {
	case owner:
		return nil
	case "":
	default:
		return ErrWakeLockHeld
	}
	if err := l.device.Acquire(); err != nil {
		return err
	}
	l.owner = owner
	l.acquires++
	return nil
}

// Release drops the lock if owner holds it.
func (l *ExclusiveWakeLock) Release(owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner == "" || l.owner != owner {
		return nil
	}
	l.owner = ""
	l.releases++
	return l.device.Release()
}

// Holder returns the current owner, empty when free.
func (l *ExclusiveWakeLock) Holder() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}

// Counts returns how many times the device lock was taken and given back.
func (l *ExclusiveWakeLock) Counts() (acquires, releases int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquires, l.releases
}
