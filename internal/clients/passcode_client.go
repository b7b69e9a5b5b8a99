package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"fuelpay/internal/credstore"
	"fuelpay/internal/models"
)

type passcodeRequest struct {
	Passcode string `json:"passcode"`
}

type passcodeResetRequest struct {
	Passcode string `json:"passcode"`
	OTP      string `json:"otp"`
}

type passcodeExistsResponse struct {
	PasscodeExists bool `json:"passcodeExists"`
}

// PasscodeClient manages the customer's payment passcode.
type PasscodeClient struct {
	base *BaseClient
}

// NewPasscodeClient returns client.
func NewPasscodeClient(baseURL string, httpClient HTTPDoer, tokens credstore.Store) *PasscodeClient {
	return &PasscodeClient{base: NewBaseClient(baseURL, httpClient, tokens)}
}

// PasscodeExists reports whether the customer already configured a passcode.
func (c *PasscodeClient) PasscodeExists(ctx context.Context) (bool, error) {
	var resp passcodeExistsResponse
	if err := c.base.DoJSON(ctx, http.MethodPost, "/customer/passcode", nil, &resp); err != nil {
		return false, err
	}
	return resp.PasscodeExists, nil
}

// CreatePasscode sets the first passcode.
func (c *PasscodeClient) CreatePasscode(ctx context.Context, passcode string) error {
	return c.base.DoJSON(ctx, http.MethodPut, "/customer/passcode", passcodeRequest{Passcode: passcode}, nil)
}

// VerifyPasscode checks the passcode. A falsy payload is a rejection.
func (c *PasscodeClient) VerifyPasscode(ctx context.Context, passcode string) error {
	var raw json.RawMessage
	if err := c.base.DoJSON(ctx, http.MethodPost, "/customer/passcodeverify", passcodeRequest{Passcode: passcode}, &raw); err != nil {
		return err
	}
	if !truthy(raw) {
		return fmt.Errorf("%w: passcode not accepted", models.ErrRejected)
	}
	return nil
}

// RequestReset sends a one-time code for a forgotten passcode.
func (c *PasscodeClient) RequestReset(ctx context.Context) error {
	return c.base.DoJSON(ctx, http.MethodPost, "/customer/forgotpasscode", nil, nil)
}

// ResetPasscode replaces the passcode using the one-time code.
func (c *PasscodeClient) ResetPasscode(ctx context.Context, passcode, otp string) error {
	body := passcodeResetRequest{Passcode: passcode, OTP: otp}
	return c.base.DoJSON(ctx, http.MethodPut, "/customer/forgotpasscode", body, nil)
}

// truthy accepts the shapes the verify endpoint has been seen to return:
// true, "true", {"success": true} or {"result": true}. An empty body counts
// as success because the status code already did.
func truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return true
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.EqualFold(strings.TrimSpace(s), "true")
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, key := range []string{"success", "result", "isValid", "valid"} {
			if v, ok := obj[key].(bool); ok {
				return v
			}
		}
	}
	return false
}
