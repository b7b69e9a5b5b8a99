package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fuelpay/internal/authorizer"
	"fuelpay/internal/clients"
	"fuelpay/internal/config"
	"fuelpay/internal/credstore"
	"fuelpay/internal/history"
	"fuelpay/internal/hub"
	"fuelpay/internal/lifecycle"
	"fuelpay/internal/models"
	"fuelpay/internal/passcode"
	"fuelpay/internal/proximity"
	"fuelpay/internal/reservation"
	"fuelpay/internal/stream"
	"fuelpay/internal/token"
	libredis "fuelpay/libs/redis"
)

// App wires the device client dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	credentials credstore.Store
	biometrics  credstore.BiometricStore
	stations    *clients.StationsClient
	passcodes   *clients.PasscodeClient
	authorizer  *authorizer.Authorizer
	hubFactory  hub.Factory
	watcher     *token.Watcher
	wakeLock    *lifecycle.ExclusiveWakeLock

	journal *history.Repository
	db      *sql.DB
	redis   *goredis.Client
}

// New constructs application graph.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	httpClient := clients.NewDefaultHTTPClient(cfg.BackendTimeout())

	if cfg.Credentials.Path != "" {
		store, err := credstore.NewFileStore(cfg.Credentials.Path, cfg.Credentials.DeviceSecret)
		if err != nil {
			return nil, fmt.Errorf("app: credential store: %w", err)
		}
		a.credentials = store
	} else {
		logger.Warn("credential file not configured, tokens are kept in memory")
		a.credentials = credstore.NewMemory()
	}
	a.biometrics = credstore.NewBiometric(a.credentials, credstore.NoBiometrics{})

	var reservations reservation.Store
	switch cfg.Reservations.Driver {
	case config.DriverRedis:
		client, err := libredis.NewRedisClient(ctx, libredis.Options{
			Addr:     cfg.Reservations.RedisAddr,
			Password: cfg.Reservations.RedisPassword,
			DB:       cfg.Reservations.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("app: redis: %w", err)
		}
		a.redis = client
		reservations = reservation.NewRedis(client, cfg.Reservations.TTL)
	default:
		reservations = reservation.NewMemory()
	}

	if cfg.History.DSN != "" {
		repo, db, err := history.Open(ctx, cfg.History.DSN)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: history: %w", err)
		}
		a.journal = repo
		a.db = db
	}

	a.stations = clients.NewStationsClient(cfg.Backend.URL, httpClient, a.credentials, cfg.Backend.PumpCacheTTL)
	a.passcodes = clients.NewPasscodeClient(cfg.Backend.URL, httpClient, a.credentials)
	pumps := clients.NewPumpClient(cfg.Backend.URL, httpClient, a.credentials)
	a.authorizer = authorizer.New(pumps, reservations, logger.Named("authorizer"))

	dialer := hub.NewWebsocketFactory(hub.DialerConfig{
		URL:              cfg.HubURL(),
		SkipNegotiation:  cfg.Hub.SkipNegotiation,
		HandshakeTimeout: cfg.HandshakeTimeout(),
		Timeouts:         hub.Timeouts{KeepAlive: cfg.Hub.KeepAlive},
	}, httpClient, a.credentials, logger.Named("hub"))
	a.hubFactory = hub.NewReconnectingFactory(dialer, hub.Backoff{
		Attempts: cfg.Hub.ReconnectAttempts,
		Initial:  cfg.Hub.ReconnectBackoff,
	}, logger.Named("hub"))

	a.watcher = token.NewWatcher(a.credentials, token.WatcherConfig{
		Interval: cfg.Token.CheckInterval,
		Leeway:   cfg.Token.Leeway,
		OnExpiry: func() { logger.Warn("access token expired, sign in again") },
		Logger:   logger.Named("token"),
	})
	a.wakeLock = lifecycle.NewExclusiveWakeLock(nil)

	return a, nil
}

// Run checks the token, locates nearby stations and, when configured, runs
// one session until it is terminal.
func (a *App) Run(ctx context.Context) error {
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go a.watcher.Run(watchCtx)

	if err := a.locate(ctx); err != nil {
		return err
	}

	s := a.cfg.Session
	switch {
	case s.TransactionID != "":
		return a.attach(ctx, s.TransactionID)
	case s.PumpID != "":
		return a.runSession(ctx)
	}
	return nil
}

// Close releases resources.
func (a *App) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

func (a *App) locate(ctx context.Context) error {
	stations, err := a.stations.ListStations(ctx)
	if err != nil {
		return fmt.Errorf("app: list stations: %w", err)
	}
	pos := models.Coordinate{Latitude: a.cfg.Device.Latitude, Longitude: a.cfg.Device.Longitude}
	annotated := proximity.Annotate(stations, pos)
	if len(annotated) > 0 {
		closest := annotated[0]
		a.logger.Info("closest station",
			zap.String("station_id", closest.ID),
			zap.String("name", closest.Name),
			zap.String("distance", closest.FormattedDistance),
		)
	}

	nearest := proximity.NearestByPumpType(annotated, a.cfg.Proximity.ThresholdKm)
	if len(nearest) == 0 {
		a.logger.Info("no station within reach", zap.Int("stations", len(annotated)))
	}
	for kind, station := range nearest {
		a.logger.Info("at station",
			zap.String("pump_type", string(kind)),
			zap.String("station_id", station.ID),
			zap.String("distance", station.FormattedDistance),
		)
	}
	return nil
}

func (a *App) runSession(ctx context.Context) error {
	s := a.cfg.Session
	code, err := a.unlockPasscode(ctx, s.Passcode)
	if err != nil {
		return err
	}

	kind := models.PumpTypeGas
	if s.Electric {
		kind = models.PumpTypeElectric
	}
	if s.StationID != "" {
		a.describePump(ctx, s.StationID, s.PumpID)
	}

	guard := a.newGuard()
	defer guard.Close()

	req := authorizer.Request{
		CardID:    s.CardID,
		LoyaltyID: s.LoyaltyID,
		PumpID:    s.PumpID,
		StationID: s.StationID,
		Amount:    s.Amount,
		Passcode:  code,
	}
	if kind.IsElectric() {
		if _, err := guard.StartReservation(ctx, req); err != nil {
			return fmt.Errorf("app: reserve charger: %w", err)
		}
		err = guard.Unlock(ctx, s.StationID)
	} else {
		err = guard.StartPump(ctx, req, kind)
	}
	if err != nil {
		return fmt.Errorf("app: start session: %w", err)
	}
	return a.await(ctx, guard)
}

func (a *App) attach(ctx context.Context, transactionID string) error {
	kind := models.PumpTypeGas
	if a.cfg.Session.Electric {
		kind = models.PumpTypeElectric
	}
	guard := a.newGuard()
	defer guard.Close()
	if err := guard.Attach(transactionID, kind); err != nil {
		return fmt.Errorf("app: attach session: %w", err)
	}
	return a.await(ctx, guard)
}

func (a *App) newGuard() *lifecycle.Guard {
	logger := a.logger.Named("session")
	cfg := lifecycle.Config{
		Authorizer: a.authorizer,
		Stream:     lifecycle.StreamOf(stream.NewClient(a.hubFactory, a.logger.Named("stream"))),
		WakeLock:   a.wakeLock,
		Speaker:    newLogSpeaker(logger),
		Notifier:   newLogNotifier(logger),
		Logger:     logger,
	}
	if a.journal != nil {
		cfg.Journal = a.journal
	}
	return lifecycle.New(cfg)
}

func (a *App) await(ctx context.Context, guard *lifecycle.Guard) error {
	select {
	case <-guard.Done():
	case <-ctx.Done():
		if back := guard.HandleBack(); !back.Allowed {
			a.logger.Warn("shutting down during a live session", zap.String("notice", back.Message))
		}
		return ctx.Err()
	}

	snap := guard.Snapshot()
	if snap.State == models.StateError {
		return fmt.Errorf("app: session %s failed: %w", snap.TransactionID, snap.Err)
	}
	if snap.ReceiptAvailable && a.journal != nil {
		rec, err := a.journal.Get(ctx, snap.TransactionID)
		if err != nil {
			a.logger.Warn("receipt not available", zap.Error(err))
			return nil
		}
		a.logger.Info("receipt",
			zap.String("transaction_id", rec.TransactionID),
			zap.String("product", rec.ProductInfo),
			zap.Float64("amount", rec.Amount),
			zap.Duration("duration", rec.FinishedAt.Sub(rec.StartedAt)),
		)
	}
	return nil
}

func (a *App) describePump(ctx context.Context, stationID, pumpID string) {
	pumps, err := a.stations.Pumps(ctx, stationID)
	if err != nil {
		a.logger.Warn("failed to load pumps", zap.String("station_id", stationID), zap.Error(err))
		return
	}
	for _, p := range pumps {
		if p.ID == pumpID {
			a.logger.Info("selected pump",
				zap.Int("number", p.Number),
				zap.String("fuel", p.FuelTypeCode),
				zap.String("status", p.StatusDescription),
			)
			return
		}
	}
	a.logger.Warn("pump not listed at station", zap.String("station_id", stationID), zap.String("pump_id", pumpID))
}

// unlockPasscode drives the passcode gate with the configured digits. A
// missing passcode is created first, which takes two rounds.
func (a *App) unlockPasscode(ctx context.Context, code string) (string, error) {
	results := make(chan passcode.Result, 1)
	gate, err := passcode.NewGate(ctx, passcode.Config{
		Verifier:       a.passcodes,
		Biometrics:     a.biometrics,
		Length:         a.cfg.Passcode.Length,
		MaxRetries:     a.cfg.Passcode.MaxRetries,
		ResendCooldown: a.cfg.Passcode.ResendCooldown,
		OnDone:         func(r passcode.Result) { results <- r },
		Logger:         a.logger.Named("passcode"),
	}, passcode.Entry{Mode: passcode.ModeAuthorize, NextAction: "pay"})
	if err != nil {
		return "", err
	}

	for round := 0; round < 2 && gate.State() != passcode.StateNone; round++ {
		for i := 0; i < len(code); i++ {
			err := gate.PressDigit(ctx, code[i])
			switch {
			case err == nil:
			case errors.Is(err, passcode.ErrRetriesExhausted), errors.Is(err, passcode.ErrClosed):
				return "", err
			default:
				a.logger.Warn("passcode not accepted", zap.String("state", string(gate.State())), zap.Error(err))
			}
		}
	}

	select {
	case res := <-results:
		switch res.Outcome {
		case passcode.OutcomeVerified, passcode.OutcomeCreated:
			if res.Credential != "" {
				return res.Credential, nil
			}
			return code, nil
		default:
			return "", fmt.Errorf("app: passcode gate ended with %s", res.Outcome)
		}
	default:
		gate.Dismiss()
		return "", errors.New("app: passcode not accepted")
	}
}
