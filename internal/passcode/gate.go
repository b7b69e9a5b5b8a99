// Package passcode implements the passcode/biometric gate in front of
// payment actions.
package passcode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"fuelpay/internal/credstore"
	"fuelpay/internal/models"
)

const (
	defaultLength         = 6
	defaultMaxRetries     = 3
	defaultResendCooldown = 30 * time.Second
	biometricPrompt       = "Confirm it's you to continue"
)

// Verifier is the backend side of the gate.
type Verifier interface {
	PasscodeExists(ctx context.Context) (bool, error)
	CreatePasscode(ctx context.Context, passcode string) error
	VerifyPasscode(ctx context.Context, passcode string) error
	RequestReset(ctx context.Context) error
	ResetPasscode(ctx context.Context, passcode, otp string) error
}

// Config carries the gate dependencies.
type Config struct {
	Verifier       Verifier
	Biometrics     credstore.BiometricStore
	Length         int
	MaxRetries     int
	ResendCooldown time.Duration
	OnDone         func(Result)
	Logger         *zap.Logger
	Now            func() time.Time
}

// Entry describes how the gate was opened.
type Entry struct {
	Mode        Mode
	RecoveryOTP string
	NextAction  string
}

// Gate is the passcode state machine. Input methods may be called from the
// UI goroutine only; the mutex protects against stray callbacks.
type Gate struct {
	mu       sync.Mutex
	cfg      Config
	entry    Entry
	state    State
	buffer   []byte
	initial  string
	retries  int
	resendAt time.Time
	result   *Result
}

// NewGate selects the entry state and applies the biometric shortcut. The
// gate may already be finished when it is returned.
func NewGate(ctx context.Context, cfg Config, entry Entry) (*Gate, error) {
	if cfg.Verifier == nil {
		return nil, errors.New("passcode: verifier is required")
	}
	if cfg.Length <= 0 {
		cfg.Length = defaultLength
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.ResendCooldown <= 0 {
		cfg.ResendCooldown = defaultResendCooldown
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	g := &Gate{cfg: cfg, entry: entry}

	var start State
	switch {
	case entry.Mode == ModeRecovery && g.validOTP(entry.RecoveryOTP):
		start = StateForgot
	case entry.Mode == ModeAddBiometric:
		if cfg.Biometrics == nil || !cfg.Biometrics.Available(ctx) {
			return nil, fmt.Errorf("%w: %w", ErrBiometricUnavailable, models.ErrPermission)
		}
		start = StateSetBiometric
	case entry.Mode == ModeRemoveBiometric:
		start = StateRemoveBiometric
	default:
		exists, err := cfg.Verifier.PasscodeExists(ctx)
		if err != nil {
			return nil, fmt.Errorf("passcode: check existing passcode: %w", err)
		}
		if exists {
			start = StateAuthenticate
		} else {
			start = StateSetNew
		}
	}

	g.mu.Lock()
	g.enter(ctx, start)
	res := g.result
	g.mu.Unlock()
	g.deliver(res)
	return g, nil
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Entered returns how many digits are in the buffer.
func (g *Gate) Entered() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.buffer)
}

// Retries returns failed verifications in the current attempt.
func (g *Gate) Retries() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.retries
}

// Result returns the terminal result, if any.
func (g *Gate) Result() (Result, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.result == nil {
		return Result{}, false
	}
	return *g.result, true
}

// PressDigit appends a digit and submits once the buffer is full.
func (g *Gate) PressDigit(ctx context.Context, digit byte) error {
	if digit < '0' || digit > '9' {
		return fmt.Errorf("%w: %q is not a digit", models.ErrValidation, digit)
	}
	g.mu.Lock()
	if g.state == StateNone {
		g.mu.Unlock()
		return ErrClosed
	}
	if len(g.buffer) < g.cfg.Length {
		g.buffer = append(g.buffer, digit)
	}
	full := len(g.buffer) == g.cfg.Length
	g.mu.Unlock()

	if !full {
		return nil
	}
	return g.Submit(ctx)
}

// DeleteLastDigit removes the last entered digit.
func (g *Gate) DeleteLastDigit() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n := len(g.buffer); n > 0 {
		g.buffer = g.buffer[:n-1]
	}
}

// Dismiss abandons the gate without a credential.
func (g *Gate) Dismiss() {
	g.mu.Lock()
	if g.state == StateNone {
		g.mu.Unlock()
		return
	}
	g.finish(Result{NextAction: g.entry.NextAction, Outcome: OutcomeDismissed})
	res := g.result
	g.mu.Unlock()
	g.deliver(res)
}

// Submit processes the buffer for the current state.
func (g *Gate) Submit(ctx context.Context) error {
	g.mu.Lock()
	before := g.result
	err := g.submitLocked(ctx)
	res := g.result
	g.mu.Unlock()
	if before == nil {
		g.deliver(res)
	}
	return err
}

// ResendOTP asks the backend for a new recovery code, at most once per cooldown.
func (g *Gate) ResendOTP(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.cfg.Now()
	if now.Before(g.resendAt) {
		return ErrResendTooSoon
	}
	if err := g.cfg.Verifier.RequestReset(ctx); err != nil {
		return err
	}
	g.resendAt = now.Add(g.cfg.ResendCooldown)
	return nil
}

// ResendIn returns how long until ResendOTP is allowed again.
func (g *Gate) ResendIn() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if left := g.resendAt.Sub(g.cfg.Now()); left > 0 {
		return left
	}
	return 0
}

func (g *Gate) submitLocked(ctx context.Context) error {
	if g.state == StateNone {
		return ErrClosed
	}
	if len(g.buffer) != g.cfg.Length {
		return ErrIncompletePasscode
	}
	entered := string(g.buffer)

	switch g.state {
	case StateSetNew:
		g.initial = entered
		g.buffer = g.buffer[:0]
		g.state = StateConfirmNew
		return nil

	case StateConfirmNew:
		if entered != g.initial {
			g.resetToSetNew()
			return ErrMismatch
		}
		if err := g.cfg.Verifier.CreatePasscode(ctx, entered); err != nil {
			g.resetToSetNew()
			return fmt.Errorf("passcode: create: %w", err)
		}
		g.cfg.Logger.Info("passcode created")
		g.finish(Result{NextAction: g.entry.NextAction, Credential: entered, Outcome: OutcomeCreated})
		return nil

	case StateAuthenticate, StateSetBiometric, StateRemoveBiometric:
		if err := g.verify(ctx, entered); err != nil {
			return err
		}
		return g.afterVerified(ctx, entered)

	case StateForgot:
		if err := g.cfg.Verifier.ResetPasscode(ctx, entered, g.entry.RecoveryOTP); err != nil {
			g.buffer = g.buffer[:0]
			return fmt.Errorf("passcode: reset: %w", err)
		}
		g.reseedBiometric(ctx, entered)
		g.cfg.Logger.Info("passcode reset")
		g.finish(Result{NextAction: g.entry.NextAction, Credential: entered, Outcome: OutcomeReset})
		return nil
	}
	return fmt.Errorf("passcode: unexpected state %q", g.state)
}

// verify checks the passcode and applies the retry bound. Only backend
// rejections count as attempts; transport failures are re-prompted as-is.
func (g *Gate) verify(ctx context.Context, entered string) error {
	err := g.cfg.Verifier.VerifyPasscode(ctx, entered)
	if err == nil {
		g.retries = 0
		return nil
	}
	g.buffer = g.buffer[:0]
	if !errors.Is(err, models.ErrRejected) {
		return fmt.Errorf("passcode: verify: %w", err)
	}
	g.retries++
	g.cfg.Logger.Warn("passcode rejected", zap.Int("retries", g.retries), zap.String("state", string(g.state)))
	if g.retries >= g.cfg.MaxRetries {
		g.finish(Result{NextAction: ActionHome, Outcome: OutcomeForcedExit})
		return ErrRetriesExhausted
	}
	return fmt.Errorf("%w: %d attempts left", ErrWrongPasscode, g.cfg.MaxRetries-g.retries)
}

func (g *Gate) afterVerified(ctx context.Context, entered string) error {
	switch g.state {
	case StateSetBiometric:
		if g.cfg.Biometrics == nil {
			g.buffer = g.buffer[:0]
			return fmt.Errorf("%w: %w", ErrBiometricUnavailable, models.ErrPermission)
		}
		if err := g.cfg.Biometrics.SetBiometric(ctx, entered); err != nil {
			g.buffer = g.buffer[:0]
			return fmt.Errorf("passcode: enable biometric: %w", err)
		}
		g.cfg.Logger.Info("biometric sign-in enabled")
		g.enter(ctx, StateAuthenticate)
		return nil

	case StateRemoveBiometric:
		if g.cfg.Biometrics != nil {
			if err := g.cfg.Biometrics.ClearBiometric(ctx); err != nil {
				g.buffer = g.buffer[:0]
				return fmt.Errorf("passcode: disable biometric: %w", err)
			}
		}
		g.cfg.Logger.Info("biometric sign-in disabled")
		g.finish(Result{NextAction: g.entry.NextAction, Outcome: OutcomeBiometricRemoved})
		return nil

	default:
		g.finish(Result{NextAction: g.entry.NextAction, Credential: entered, Outcome: OutcomeVerified})
		return nil
	}
}

// enter moves to state and tries the biometric shortcut where it applies.
func (g *Gate) enter(ctx context.Context, state State) {
	g.state = state
	g.buffer = g.buffer[:0]
	if state != StateAuthenticate && state != StateSetBiometric {
		return
	}
	secret, ok := g.biometricSecret(ctx)
	if !ok {
		return
	}
	g.finish(Result{NextAction: g.entry.NextAction, Credential: secret, Outcome: OutcomeVerified})
}

func (g *Gate) biometricSecret(ctx context.Context) (string, bool) {
	bio := g.cfg.Biometrics
	if bio == nil || !bio.Available(ctx) {
		return "", false
	}
	has, err := bio.HasBiometricSecret(ctx)
	if err != nil || !has {
		return "", false
	}
	secret, err := bio.GetBiometric(ctx, biometricPrompt)
	if err != nil || len(secret) != g.cfg.Length {
		g.cfg.Logger.Info("biometric shortcut unavailable, falling back to passcode", zap.Error(err))
		return "", false
	}
	return secret, true
}

func (g *Gate) reseedBiometric(ctx context.Context, passcode string) {
	bio := g.cfg.Biometrics
	if bio == nil {
		return
	}
	has, err := bio.HasBiometricSecret(ctx)
	if err != nil || !has {
		return
	}
	if err := bio.SetBiometric(ctx, passcode); err != nil {
		g.cfg.Logger.Warn("failed to re-seed biometric passcode", zap.Error(err))
	}
}

func (g *Gate) resetToSetNew() {
	g.initial = ""
	g.buffer = g.buffer[:0]
	g.state = StateSetNew
}

func (g *Gate) finish(res Result) {
	g.state = StateNone
	g.buffer = g.buffer[:0]
	g.initial = ""
	g.result = &res
}

func (g *Gate) deliver(res *Result) {
	if res == nil || g.cfg.OnDone == nil {
		return
	}
	g.cfg.OnDone(*res)
}

func (g *Gate) validOTP(otp string) bool {
	if len(otp) != g.cfg.Length {
		return false
	}
	for i := 0; i < len(otp); i++ {
		if otp[i] < '0' || otp[i] > '9' {
			return false
		}
	}
	return true
}
