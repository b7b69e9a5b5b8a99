package passcode

import "errors"

// State is the screen state of the gate.
type State string

const (
	StateSetNew          State = "set_new_passcode"
	StateConfirmNew      State = "confirm_new_passcode"
	StateAuthenticate    State = "authenticate"
	StateSetBiometric    State = "set_biometric_auth"
	StateRemoveBiometric State = "remove_biometric_auth"
	StateForgot          State = "forgot_passcode"
	// StateNone means the gate is satisfied or dismissed.
	StateNone State = ""
)

// Mode selects why the gate was opened.
type Mode int

const (
	ModeAuthorize Mode = iota
	ModeAddBiometric
	ModeRemoveBiometric
	ModeRecovery
)

// Outcome tells the caller how the gate ended.
type Outcome string

const (
	OutcomeVerified         Outcome = "verified"
	OutcomeCreated          Outcome = "created"
	OutcomeBiometricRemoved Outcome = "biometric_removed"
	OutcomeReset            Outcome = "reset"
	OutcomeForcedExit       Outcome = "forced_exit"
	OutcomeDismissed        Outcome = "dismissed"
)

// ActionHome is the navigation target after too many wrong passcodes.
const ActionHome = "home"

// Result is delivered once when the gate reaches StateNone.
type Result struct {
	NextAction string
	Credential string
	Outcome    Outcome
}

var (
	// ErrIncompletePasscode is returned when fewer digits than required were entered.
	ErrIncompletePasscode = errors.New("passcode: incomplete passcode")
	// ErrMismatch is returned when the confirmation differs from the first entry.
	ErrMismatch = errors.New("passcode: confirmation does not match")
	// ErrWrongPasscode is returned for a rejected passcode with retries left.
	ErrWrongPasscode = errors.New("passcode: wrong passcode")
	// ErrRetriesExhausted is returned when the retry bound was hit.
	ErrRetriesExhausted = errors.New("passcode: too many attempts")
	// ErrClosed is returned for input after the gate finished.
	ErrClosed = errors.New("passcode: gate closed")
	// ErrResendTooSoon is returned while the OTP resend countdown runs.
	ErrResendTooSoon = errors.New("passcode: otp resend not available yet")
	// ErrBiometricUnavailable is returned when biometric sign-in is requested
	// on a device that cannot offer it.
	ErrBiometricUnavailable = errors.New("passcode: biometric sign-in unavailable")
)
