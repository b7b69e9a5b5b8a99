package hub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"fuelpay/internal/clients"
	"fuelpay/internal/credstore"
)

const defaultHandshakeTimeout = 10 * time.Second

// Factory opens hub connections. Tests substitute their own.
type Factory interface {
	Dial(ctx context.Context) (Conn, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context) (Conn, error)

// Dial calls f.
func (f FactoryFunc) Dial(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// DialerConfig configures WebsocketFactory.
type DialerConfig struct {
	URL              string
	SkipNegotiation  bool
	HandshakeTimeout time.Duration
	Timeouts         Timeouts
}

type negotiateResponse struct {
	ConnectionID    string `json:"connectionId"`
	ConnectionToken string `json:"connectionToken"`
	URL             string `json:"url"`
	AccessToken     string `json:"accessToken"`
	Error           string `json:"error"`
}

// WebsocketFactory negotiates, dials and handshakes a hub connection.
type WebsocketFactory struct {
	cfg        DialerConfig
	negotiator *clients.BaseClient
	tokens     credstore.Store
	logger     *zap.Logger
}

// NewWebsocketFactory builds factory. tokens may be nil.
func NewWebsocketFactory(cfg DialerConfig, httpClient clients.HTTPDoer, tokens credstore.Store, logger *zap.Logger) *WebsocketFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &WebsocketFactory{
		cfg:        cfg,
		negotiator: clients.NewBaseClient("", httpClient, tokens),
		tokens:     tokens,
		logger:     logger,
	}
}

// Dial opens a new connection.
func (f *WebsocketFactory) Dial(ctx context.Context) (Conn, error) {
	endpoint, err := url.Parse(strings.TrimSpace(f.cfg.URL))
	if err != nil || endpoint.Host == "" {
		return nil, fmt.Errorf("hub: invalid url %q", f.cfg.URL)
	}

	accessToken := ""
	if f.tokens != nil {
		if tok, err := f.tokens.Get(ctx, credstore.KeyAccessToken); err == nil {
			accessToken = tok
		} else if !errors.Is(err, credstore.ErrNotFound) {
			return nil, err
		}
	}

	query := endpoint.Query()
	if !f.cfg.SkipNegotiation {
		neg, err := f.negotiate(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		if neg.URL != "" {
			redirected, err := url.Parse(neg.URL)
			if err != nil {
				return nil, fmt.Errorf("hub: invalid redirect url: %w", err)
			}
			endpoint = redirected
			query = endpoint.Query()
		}
		if neg.AccessToken != "" {
			accessToken = neg.AccessToken
		}
		id := neg.ConnectionToken
		if id == "" {
			id = neg.ConnectionID
		}
		if id != "" {
			query.Set("id", id)
		}
	}
	if accessToken != "" {
		query.Set("access_token", accessToken)
	}
	endpoint.RawQuery = query.Encode()
	switch endpoint.Scheme {
	case "http":
		endpoint.Scheme = "ws"
	case "https":
		endpoint.Scheme = "wss"
	}

	dialer := websocket.Dialer{HandshakeTimeout: f.cfg.HandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("hub: dial: %w", err)
	}
	if err := f.handshake(ws); err != nil {
		_ = ws.Close()
		return nil, err
	}

	f.logger.Info("hub connected", zap.String("host", endpoint.Host))
	return NewConnection(ws, f.cfg.Timeouts, f.logger), nil
}

func (f *WebsocketFactory) negotiate(ctx context.Context, endpoint *url.URL) (negotiateResponse, error) {
	negURL := *endpoint
	negURL.Path = strings.TrimRight(negURL.Path, "/") + "/negotiate"
	q := negURL.Query()
	q.Set("negotiateVersion", "1")
	negURL.RawQuery = q.Encode()

	var resp negotiateResponse
	if err := f.negotiator.DoJSON(ctx, http.MethodPost, negURL.String(), nil, &resp); err != nil {
		return negotiateResponse{}, fmt.Errorf("hub: negotiate: %w", err)
	}
	if resp.Error != "" {
		return negotiateResponse{}, fmt.Errorf("hub: negotiate rejected: %s", resp.Error)
	}
	return resp, nil
}

func (f *WebsocketFactory) handshake(ws *websocket.Conn) error {
	frame, err := BuildHandshake()
	if err != nil {
		return err
	}
	deadline := time.Now().Add(f.cfg.HandshakeTimeout)
	_ = ws.SetWriteDeadline(deadline)
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("hub: send handshake: %w", err)
	}
	_ = ws.SetReadDeadline(deadline)
	_, data, err := ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("hub: read handshake: %w", err)
	}
	if err := ParseHandshakeResponse(data); err != nil {
		return err
	}
	_ = ws.SetReadDeadline(time.Time{})
	_ = ws.SetWriteDeadline(time.Time{})
	return nil
}

// Backoff configures ReconnectingFactory.
type Backoff struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// ReconnectingFactory retries dialing with exponential backoff.
type ReconnectingFactory struct {
	inner   Factory
	backoff Backoff
	logger  *zap.Logger
}

// NewReconnectingFactory wraps inner.
func NewReconnectingFactory(inner Factory, backoff Backoff, logger *zap.Logger) *ReconnectingFactory {
	if backoff.Attempts <= 0 {
		backoff.Attempts = 3
	}
	if backoff.Initial <= 0 {
		backoff.Initial = 500 * time.Millisecond
	}
	if backoff.Max < backoff.Initial {
		backoff.Max = 8 * backoff.Initial
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconnectingFactory{inner: inner, backoff: backoff, logger: logger}
}

// Dial tries inner up to the configured number of attempts.
func (f *ReconnectingFactory) Dial(ctx context.Context) (Conn, error) {
	delay := f.backoff.Initial
	var lastErr error
	for attempt := 1; attempt <= f.backoff.Attempts; attempt++ {
		conn, err := f.inner.Dial(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		f.logger.Warn("hub dial failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt == f.backoff.Attempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > f.backoff.Max {
			delay = f.backoff.Max
		}
	}
	return nil, fmt.Errorf("hub: dial failed after %d attempts: %w", f.backoff.Attempts, lastErr)
}
