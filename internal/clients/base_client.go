package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"fuelpay/internal/credstore"
	"fuelpay/internal/models"
)

// HTTPDoer defines http.Client interface subset.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// BaseClient provides request helpers against the backend.
type BaseClient struct {
	baseURL string
	client  HTTPDoer
	tokens  credstore.Store
}

// NewBaseClient builds client with base URL. tokens may be nil for
// unauthenticated endpoints.
func NewBaseClient(baseURL string, client HTTPDoer, tokens credstore.Store) *BaseClient {
	return &BaseClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		tokens:  tokens,
	}
}

func (c *BaseClient) buildURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

// Do executes HTTP request and returns status/body.
func (c *BaseClient) Do(ctx context.Context, method, path string, body []byte, headers map[string]string) (int, []byte, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), reader)
	if err != nil {
		return 0, nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// DoJSON sends in as JSON with the stored bearer token and decodes the
// response into out. Non-2xx responses become *models.BackendError and
// network failures wrap models.ErrTransport.
func (c *BaseClient) DoJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body []byte
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", models.ErrValidation, err)
		}
		body = encoded
	}

	headers := map[string]string{
		"Accept":       "application/json",
		"X-Request-ID": uuid.NewString(),
	}
	if c.tokens != nil {
		token, err := c.tokens.Get(ctx, credstore.KeyAccessToken)
		switch {
		case err == nil && token != "":
			headers["Authorization"] = "Bearer " + token
		case err != nil && !errors.Is(err, credstore.ErrNotFound):
			return err
		}
	}

	status, respBody, err := c.Do(ctx, method, path, body, headers)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s %s: %w", models.ErrTransport, method, path, err)
	}
	if status < 200 || status >= 300 {
		return &models.BackendError{Status: status, Body: strings.TrimSpace(string(respBody))}
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", models.ErrContractViolation, path, err)
	}
	return nil
}

// NewDefaultHTTPClient returns *http.Client with timeout.
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
