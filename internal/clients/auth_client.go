package clients

import (
	"context"
	"net/http"

	"fuelpay/internal/credstore"
	"fuelpay/internal/models"
)

// Credentials is the login payload.
type Credentials struct {
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phoneNumber,omitempty"`
	Password string `json:"password,omitempty"`
}

// OTPVerification confirms a one-time code sent to the customer.
type OTPVerification struct {
	Phone string `json:"phoneNumber"`
	Code  string `json:"otp"`
}

// Registration creates a customer account.
type Registration struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phoneNumber"`
	Password  string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// AuthClient signs the customer in and keeps the access token in the
// credential store.
type AuthClient struct {
	base   *BaseClient
	tokens credstore.Store
}

// NewAuthClient returns client.
func NewAuthClient(baseURL string, httpClient HTTPDoer, tokens credstore.Store) *AuthClient {
	return &AuthClient{base: NewBaseClient(baseURL, httpClient, nil), tokens: tokens}
}

// Login signs in with a password.
func (c *AuthClient) Login(ctx context.Context, creds Credentials) (string, error) {
	return c.authenticate(ctx, "/auth/login", creds)
}

// LoginOTP signs in with a one-time code.
func (c *AuthClient) LoginOTP(ctx context.Context, otp OTPVerification) (string, error) {
	return c.authenticate(ctx, "/auth/loginOTP", otp)
}

// Register creates the account.
func (c *AuthClient) Register(ctx context.Context, reg Registration) (string, error) {
	return c.authenticate(ctx, "/customer", reg)
}

// VerifyOTP confirms the registration code.
func (c *AuthClient) VerifyOTP(ctx context.Context, otp OTPVerification) (string, error) {
	return c.authenticate(ctx, "/customer/verifyOTP", otp)
}

// Logout drops the stored token.
func (c *AuthClient) Logout(ctx context.Context) error {
	return c.tokens.Clear(ctx, credstore.KeyAccessToken)
}

func (c *AuthClient) authenticate(ctx context.Context, path string, payload interface{}) (string, error) {
	var resp tokenResponse
	if err := c.base.DoJSON(ctx, http.MethodPost, path, payload, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", models.ContractViolation("token")
	}
	if err := c.tokens.Set(ctx, credstore.KeyAccessToken, resp.Token); err != nil {
		return "", err
	}
	return resp.Token, nil
}
