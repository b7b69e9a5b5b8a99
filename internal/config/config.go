package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "fuelpay/libs/config"
)

// Reservation store drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// Config defines the device client configuration.
type Config struct {
	Backend      BackendConfig      `yaml:"backend"`
	Hub          HubConfig          `yaml:"hub"`
	Proximity    ProximityConfig    `yaml:"proximity"`
	Passcode     PasscodeConfig     `yaml:"passcode"`
	Reservations ReservationsConfig `yaml:"reservations"`
	History      HistoryConfig      `yaml:"history"`
	Credentials  CredentialsConfig  `yaml:"credentials"`
	Token        TokenConfig        `yaml:"token"`
	Device       DeviceConfig       `yaml:"device"`
	Session      SessionConfig      `yaml:"session"`
}

type BackendConfig struct {
	URL            string        `yaml:"url" env:"FUELPAY_BACKEND_URL"`
	TimeoutSeconds int           `yaml:"timeoutSeconds" env:"FUELPAY_BACKEND_TIMEOUT"`
	PumpCacheTTL   time.Duration `yaml:"pumpCacheTTL" env:"FUELPAY_PUMP_CACHE_TTL"`
}

type HubConfig struct {
	URL                     string        `yaml:"url" env:"FUELPAY_HUB_URL"`
	SkipNegotiation         bool          `yaml:"skipNegotiation" env:"FUELPAY_HUB_SKIP_NEGOTIATION"`
	HandshakeTimeoutSeconds int           `yaml:"handshakeTimeoutSeconds" env:"FUELPAY_HUB_HANDSHAKE_TIMEOUT"`
	KeepAlive               time.Duration `yaml:"keepAlive" env:"FUELPAY_HUB_KEEPALIVE"`
	ReconnectAttempts       int           `yaml:"reconnectAttempts" env:"FUELPAY_HUB_RECONNECT_ATTEMPTS"`
	ReconnectBackoff        time.Duration `yaml:"reconnectBackoff" env:"FUELPAY_HUB_RECONNECT_BACKOFF"`
}

type ProximityConfig struct {
	ThresholdKm float64 `yaml:"thresholdKm" env:"FUELPAY_PROXIMITY_THRESHOLD_KM"`
}

type PasscodeConfig struct {
	Length         int           `yaml:"length" env:"FUELPAY_PASSCODE_LENGTH"`
	MaxRetries     int           `yaml:"maxRetries" env:"FUELPAY_PASSCODE_MAX_RETRIES"`
	ResendCooldown time.Duration `yaml:"resendCooldown" env:"FUELPAY_OTP_RESEND_COOLDOWN"`
}

type ReservationsConfig struct {
	Driver        string        `yaml:"driver" env:"FUELPAY_RESERVATIONS_DRIVER"`
	RedisAddr     string        `yaml:"redisAddr" env:"FUELPAY_REDIS_ADDR"`
	RedisPassword string        `yaml:"redisPassword" env:"FUELPAY_REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redisDB" env:"FUELPAY_REDIS_DB"`
	TTL           time.Duration `yaml:"ttl" env:"FUELPAY_RESERVATIONS_TTL"`
}

type HistoryConfig struct {
	// DSN empty disables the session journal.
	DSN string `yaml:"dsn" env:"FUELPAY_HISTORY_DSN"`
}

type CredentialsConfig struct {
	// Path empty keeps credentials in memory only.
	Path         string `yaml:"path" env:"FUELPAY_CREDENTIALS_PATH"`
	DeviceSecret string `yaml:"deviceSecret" env:"FUELPAY_DEVICE_SECRET"`
}

type TokenConfig struct {
	CheckInterval time.Duration `yaml:"checkInterval" env:"FUELPAY_TOKEN_CHECK_INTERVAL"`
	Leeway        time.Duration `yaml:"leeway" env:"FUELPAY_TOKEN_LEEWAY"`
}

type DeviceConfig struct {
	Latitude  float64 `yaml:"latitude" env:"FUELPAY_DEVICE_LAT"`
	Longitude float64 `yaml:"longitude" env:"FUELPAY_DEVICE_LON"`
}

// SessionConfig describes one session to run on start. PumpID empty skips it.
type SessionConfig struct {
	StationID     string  `yaml:"stationId" env:"FUELPAY_SESSION_STATION"`
	PumpID        string  `yaml:"pumpId" env:"FUELPAY_SESSION_PUMP"`
	CardID        string  `yaml:"cardId" env:"FUELPAY_SESSION_CARD"`
	LoyaltyID     string  `yaml:"loyaltyId" env:"FUELPAY_SESSION_LOYALTY"`
	Amount        float64 `yaml:"amount" env:"FUELPAY_SESSION_AMOUNT"`
	Passcode      string  `yaml:"passcode" env:"FUELPAY_SESSION_PASSCODE"`
	Electric      bool    `yaml:"electric" env:"FUELPAY_SESSION_ELECTRIC"`
	TransactionID string  `yaml:"transactionId" env:"FUELPAY_SESSION_TRANSACTION"`
}

// Load configuration via shared helper.
func Load() (*Config, error) {
	cfg := Default()
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration before file and env overrides.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			TimeoutSeconds: 10,
			PumpCacheTTL:   2 * time.Minute,
		},
		Hub: HubConfig{
			HandshakeTimeoutSeconds: 10,
			KeepAlive:               15 * time.Second,
			ReconnectAttempts:       3,
			ReconnectBackoff:        time.Second,
		},
		Proximity: ProximityConfig{ThresholdKm: 0.02},
		Passcode: PasscodeConfig{
			Length:         6,
			MaxRetries:     3,
			ResendCooldown: 30 * time.Second,
		},
		Reservations: ReservationsConfig{
			Driver: DriverMemory,
			TTL:    24 * time.Hour,
		},
		Token: TokenConfig{
			CheckInterval: time.Minute,
			Leeway:        30 * time.Second,
		},
	}
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.URL) == "" {
		return errors.New("config: backend url required")
	}
	switch c.Reservations.Driver {
	case DriverMemory:
	case DriverRedis:
		if strings.TrimSpace(c.Reservations.RedisAddr) == "" {
			return errors.New("config: redis addr required for redis reservations")
		}
	default:
		return fmt.Errorf("config: unknown reservations driver %q", c.Reservations.Driver)
	}
	if c.Proximity.ThresholdKm <= 0 {
		return errors.New("config: proximity threshold must be positive")
	}
	if c.Passcode.Length <= 0 || c.Passcode.MaxRetries <= 0 {
		return errors.New("config: passcode length and retries must be positive")
	}
	if c.Credentials.Path != "" && c.Credentials.DeviceSecret == "" {
		return errors.New("config: device secret required for credential file")
	}
	return nil
}

// BackendTimeout returns http client timeout.
func (c *Config) BackendTimeout() time.Duration {
	if c.Backend.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// HubURL returns the status hub endpoint, defaulting to the backend host.
func (c *Config) HubURL() string {
	if u := strings.TrimSpace(c.Hub.URL); u != "" {
		return u
	}
	return strings.TrimRight(c.Backend.URL, "/") + "/transactionHub"
}

// HandshakeTimeout returns the hub handshake timeout.
func (c *Config) HandshakeTimeout() time.Duration {
	if c.Hub.HandshakeTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Hub.HandshakeTimeoutSeconds) * time.Second
}
