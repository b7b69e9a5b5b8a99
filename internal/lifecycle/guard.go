// Package lifecycle owns a live pump or charger session: it orders
// authorization before subscription, blocks navigation while the session is
// live, holds the wake lock and announces state changes.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fuelpay/internal/authorizer"
	"fuelpay/internal/models"
	"fuelpay/internal/stream"
)

var (
	// ErrClosed is returned by operations on a closed guard.
	ErrClosed = errors.New("lifecycle: guard closed")
	// ErrSessionStarted is returned when a guard is asked to start twice.
	ErrSessionStarted = errors.New("lifecycle: session already started")
)

// BackMessage is shown when back navigation is blocked.
const BackMessage = "Your session is in progress. Please wait until it has finished before leaving this screen."

// Authorizer obtains transaction ids; *authorizer.Authorizer implements it.
type Authorizer interface {
	AuthorizePump(ctx context.Context, req authorizer.Request) (string, error)
	ReserveCharger(ctx context.Context, req authorizer.Request) (models.Reservation, error)
	PendingReservation(ctx context.Context, stationID string) (models.Reservation, error)
	UnlockCharger(ctx context.Context, stationID string) (string, error)
}

// Stream follows a transaction until a terminal update.
type Stream interface {
	Subscribe(ctx context.Context, transactionID string) (<-chan models.StatusUpdate, error)
	Stop()
}

// Speaker is the text-to-speech capability. Speak may block until the
// utterance ends; it must return once ctx is cancelled.
type Speaker interface {
	Speak(ctx context.Context, text string) error
	Stop() error
}

// Notifier receives state for the UI layer.
type Notifier interface {
	OnState(Snapshot)
	OnAlert(models.Alert)
}

// Journal keeps finished sessions.
type Journal interface {
	Record(ctx context.Context, rec models.SessionRecord) error
}

// Snapshot is the UI-facing view of the session.
type Snapshot struct {
	TransactionID    string
	PumpType         models.PumpType
	State            models.LifecycleState
	ProductInfo      string
	ReceiptAvailable bool
	Reservation      *models.Reservation
	Err              error
}

// BackDecision tells the UI whether back navigation may proceed.
type BackDecision struct {
	Allowed bool
	Message string
}

// Config wires a Guard.
type Config struct {
	Authorizer Authorizer
	Stream     Stream
	WakeLock   *ExclusiveWakeLock
	Speaker    Speaker
	Notifier   Notifier
	Journal    Journal
	Logger     *zap.Logger
	Now        func() time.Time
}

// Guard runs one session. It is not reusable: start a new Guard per session.
type Guard struct {
	cfg    Config
	owner  string
	ctx    context.Context
	cancel context.CancelFunc

	// applyMu serializes transitions; mu guards the fields below. Neither is
	// held while speaking.
	applyMu    sync.Mutex
	mu         sync.Mutex
	snap       Snapshot
	lastSpoken models.LifecycleState
	hush       context.CancelFunc
	holdsLock  bool
	closed     bool
	record     models.SessionRecord

	phrases chan string

	doneOnce sync.Once
	done     chan struct{}
}

// New builds guard.
func New(cfg Config) *Guard {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.WakeLock == nil {
		cfg.WakeLock = NewExclusiveWakeLock(nil)
	}
	if cfg.Speaker == nil {
		cfg.Speaker = nopSpeaker{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = nopNotifier{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	owner := uuid.NewString()
	g := &Guard{
		cfg:     cfg,
		owner:   owner,
		ctx:     ctx,
		cancel:  cancel,
		phrases: make(chan string, 8),
		done:    make(chan struct{}),
	}
	go g.speak()
	return g
}

// StreamOf adapts a stream client to the Stream capability.
func StreamOf(c *stream.Client) Stream {
	return clientStream{c: c}
}

type clientStream struct {
	c *stream.Client
}

func (s clientStream) Subscribe(ctx context.Context, transactionID string) (<-chan models.StatusUpdate, error) {
	sub, err := s.c.Subscribe(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	return sub.Updates(), nil
}

func (s clientStream) Stop() { s.c.Stop() }

// Snapshot returns the current state.
func (g *Guard) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snap
}

// Done is closed once the session is terminal or the guard is closed.
func (g *Guard) Done() <-chan struct{} {
	return g.done
}

// HandleBack blocks back navigation while a session is live.
func (g *Guard) HandleBack() BackDecision {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.snap.State.Active() {
		return BackDecision{Allowed: false, Message: BackMessage}
	}
	return BackDecision{Allowed: true}
}

// StartPump pays for a pump and follows the resulting transaction.
// Validation errors are returned without touching the session state.
func (g *Guard) StartPump(ctx context.Context, req authorizer.Request, kind models.PumpType) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if err := g.begin(kind, req.StationID, req.PumpID, req.Amount); err != nil {
		return err
	}
	callCtx, release := g.bind(ctx)
	id, err := g.cfg.Authorizer.AuthorizePump(callCtx, req)
	release()
	return g.follow(id, err)
}

// StartReservation runs the first EV phase. It stores the reservation and
// does not subscribe; Unlock starts the session later.
func (g *Guard) StartReservation(ctx context.Context, req authorizer.Request) (models.Reservation, error) {
	if err := req.Validate(); err != nil {
		return models.Reservation{}, err
	}
	if err := g.checkOpen(); err != nil {
		return models.Reservation{}, err
	}
	g.mu.Lock()
	g.snap.PumpType = models.PumpTypeElectric
	g.mu.Unlock()

	callCtx, release := g.bind(ctx)
	res, err := g.cfg.Authorizer.ReserveCharger(callCtx, req)
	release()
	if g.isClosed() {
		return models.Reservation{}, ErrClosed
	}
	if err != nil {
		if !errors.Is(err, models.ErrValidation) {
			g.fail(err)
		}
		return models.Reservation{}, err
	}

	g.mu.Lock()
	g.snap.Reservation = &res
	snap := g.snap
	g.mu.Unlock()
	g.cfg.Logger.Info("charger reserved", zap.String("station_id", res.StationID), zap.String("reservation_id", res.TransactionID))
	g.cfg.Notifier.OnState(snap)
	return res, nil
}

// Unlock runs the second EV phase for the station's stored reservation.
// The receipt carries the reserved pump and amount.
func (g *Guard) Unlock(ctx context.Context, stationID string) error {
	if err := g.checkOpen(); err != nil {
		return err
	}
	res := g.reservationFor(ctx, stationID)
	if err := g.begin(models.PumpTypeElectric, stationID, res.PumpID, res.Amount); err != nil {
		return err
	}
	callCtx, release := g.bind(ctx)
	id, err := g.cfg.Authorizer.UnlockCharger(callCtx, stationID)
	release()
	return g.follow(id, err)
}

// reservationFor prefers the reservation made on this guard and falls back
// to the stored one. A missing reservation is reported by UnlockCharger.
func (g *Guard) reservationFor(ctx context.Context, stationID string) models.Reservation {
	g.mu.Lock()
	held := g.snap.Reservation
	g.mu.Unlock()
	if held != nil && held.StationID == stationID {
		return *held
	}
	callCtx, release := g.bind(ctx)
	defer release()
	res, err := g.cfg.Authorizer.PendingReservation(callCtx, stationID)
	if err != nil {
		g.cfg.Logger.Debug("no pending reservation for receipt", zap.String("station_id", stationID), zap.Error(err))
		return models.Reservation{}
	}
	return res
}

// Attach follows a transaction that was authorized elsewhere.
func (g *Guard) Attach(transactionID string, kind models.PumpType) error {
	if err := g.begin(kind, "", "", 0); err != nil {
		return err
	}
	var err error
	if transactionID == "" {
		err = models.ContractViolation("mobileTransactionGuid")
	}
	return g.follow(transactionID, err)
}

// Close tears the session down: pending calls are cancelled, the stream is
// stopped, speech is stopped and the wake lock is released. Later results
// are ignored.
func (g *Guard) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.mu.Unlock()

	// Cancelling first ends any utterance or call still in flight.
	g.cancel()
	g.mu.Lock()
	g.releaseWakeLock()
	g.mu.Unlock()
	if err := g.cfg.Speaker.Stop(); err != nil {
		g.cfg.Logger.Warn("failed to stop speech", zap.Error(err))
	}
	if g.cfg.Stream != nil {
		g.cfg.Stream.Stop()
	}
	g.markDone()
	g.cfg.Logger.Debug("session guard closed", zap.String("owner", g.owner))
}

func (g *Guard) checkOpen() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	if g.snap.State != models.StateIdle {
		return ErrSessionStarted
	}
	return nil
}

func (g *Guard) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

func (g *Guard) begin(kind models.PumpType, stationID, pumpID string, amount float64) error {
	if err := g.checkOpen(); err != nil {
		return err
	}
	g.mu.Lock()
	g.snap.PumpType = kind
	g.record = models.SessionRecord{
		StationID: stationID,
		PumpID:    pumpID,
		PumpType:  kind,
		Amount:    amount,
		StartedAt: g.cfg.Now().UTC(),
	}
	g.mu.Unlock()
	g.apply(models.StatusUpdate{State: models.StateProcessing})
	return nil
}

// bind derives a call context cancelled by either ctx or Close.
func (g *Guard) bind(ctx context.Context) (context.Context, func()) {
	callCtx, cancel := context.WithCancel(g.ctx)
	stop := context.AfterFunc(ctx, cancel)
	return callCtx, func() {
		stop()
		cancel()
	}
}

// follow subscribes once authorization produced id.
func (g *Guard) follow(id string, authErr error) error {
	if g.isClosed() {
		return ErrClosed
	}
	if authErr != nil {
		g.fail(authErr)
		return authErr
	}

	g.mu.Lock()
	g.snap.TransactionID = id
	g.record.TransactionID = id
	g.mu.Unlock()
	g.apply(models.StatusUpdate{TransactionID: id, State: models.StateConnecting})

	updates, err := g.cfg.Stream.Subscribe(g.ctx, id)
	if g.isClosed() {
		return ErrClosed
	}
	if err != nil {
		if !errors.Is(err, models.ErrStream) {
			err = fmt.Errorf("%w: %v", models.ErrStream, err)
		}
		g.fail(err)
		return err
	}
	go g.consume(id, updates)
	return nil
}

func (g *Guard) consume(id string, updates <-chan models.StatusUpdate) {
	for u := range updates {
		g.apply(u)
	}
	g.mu.Lock()
	open := !g.closed && !g.snap.State.Terminal()
	g.mu.Unlock()
	if open {
		g.fail(fmt.Errorf("%w: status stream ended for %s", models.ErrStream, id))
	}
}

func (g *Guard) fail(err error) {
	g.apply(models.StatusUpdate{State: models.StateError, Err: err})
}

// apply moves the session to u.State. Nothing is applied after a terminal
// state or after Close.
func (g *Guard) apply(u models.StatusUpdate) {
	g.applyMu.Lock()
	defer g.applyMu.Unlock()

	g.mu.Lock()
	if g.closed || g.snap.State.Terminal() {
		g.mu.Unlock()
		g.cfg.Logger.Debug("ignoring update after session end", zap.String("state", string(u.State)))
		return
	}
	if u.TransactionID != "" && g.snap.TransactionID != "" && u.TransactionID != g.snap.TransactionID {
		g.mu.Unlock()
		g.cfg.Logger.Info("ignoring update for another transaction", zap.String("transaction_id", u.TransactionID))
		return
	}

	g.snap.State = u.State
	if u.ProductInfo != "" {
		g.snap.ProductInfo = u.ProductInfo
	}
	switch u.State {
	case models.StateCompleted:
		g.snap.ReceiptAvailable = u.PostActionAvailable
	case models.StateError:
		g.snap.Err = u.Err
	}

	if u.State.Terminal() {
		g.releaseWakeLock()
	} else {
		g.acquireWakeLock()
	}
	g.announce()

	snap := g.snap
	rec := g.record
	g.mu.Unlock()

	g.cfg.Logger.Info("session state changed",
		zap.String("transaction_id", snap.TransactionID),
		zap.String("state", string(snap.State)),
		zap.String("product_info", snap.ProductInfo),
	)
	g.cfg.Notifier.OnState(snap)
	if snap.State == models.StateError {
		g.cfg.Logger.Warn("session failed", zap.String("transaction_id", snap.TransactionID), zap.Error(snap.Err))
		g.cfg.Notifier.OnAlert(alertFor(snap.Err))
	}
	if snap.State.Terminal() {
		g.journal(rec, snap)
		g.markDone()
	}
}

// announce queues the phrase for the current state once per distinct state
// and cuts off the utterance in progress. Caller holds mu.
func (g *Guard) announce() {
	state := g.snap.State
	if state == g.lastSpoken {
		return
	}
	phrase := Phrase(g.snap.PumpType, state, g.snap.ProductInfo)
	if phrase == "" {
		return
	}
	g.lastSpoken = state
	if g.hush != nil {
		g.hush()
	}
	select {
	case g.phrases <- phrase:
	default:
		g.cfg.Logger.Warn("speech queue full, dropping phrase", zap.String("state", string(state)))
	}
}

// speak plays queued phrases in order until the guard is closed.
func (g *Guard) speak() {
	for {
		select {
		case <-g.ctx.Done():
			return
		case phrase := <-g.phrases:
			ctx, cancel := context.WithCancel(g.ctx)
			g.mu.Lock()
			g.hush = cancel
			g.mu.Unlock()

			if err := g.cfg.Speaker.Stop(); err != nil {
				g.cfg.Logger.Warn("failed to stop speech", zap.Error(err))
			}
			if err := g.cfg.Speaker.Speak(ctx, phrase); err != nil && ctx.Err() == nil {
				g.cfg.Logger.Warn("failed to speak", zap.Error(err))
			}
			cancel()
		}
	}
}

// Caller holds mu.
func (g *Guard) acquireWakeLock() {
	if g.holdsLock {
		return
	}
	if err := g.cfg.WakeLock.Acquire(g.owner); err != nil {
		g.cfg.Logger.Warn("wake lock not acquired", zap.Error(err))
		return
	}
	g.holdsLock = true
}

// Caller holds mu.
func (g *Guard) releaseWakeLock() {
	if !g.holdsLock {
		return
	}
	if err := g.cfg.WakeLock.Release(g.owner); err != nil {
		g.cfg.Logger.Warn("wake lock release failed", zap.Error(err))
	}
	g.holdsLock = false
}

func (g *Guard) journal(rec models.SessionRecord, snap Snapshot) {
	if g.cfg.Journal == nil || rec.TransactionID == "" {
		return
	}
	rec.State = snap.State
	rec.ProductInfo = snap.ProductInfo
	rec.FinishedAt = g.cfg.Now().UTC()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(g.ctx), 5*time.Second)
	defer cancel()
	if err := g.cfg.Journal.Record(ctx, rec); err != nil {
		g.cfg.Logger.Warn("failed to record session", zap.String("transaction_id", rec.TransactionID), zap.Error(err))
	}
}

func (g *Guard) markDone() {
	g.doneOnce.Do(func() { close(g.done) })
}

func alertFor(err error) models.Alert {
	alert := models.Alert{Title: "Session failed", Action: models.AlertGoBack}
	switch {
	case errors.Is(err, models.ErrStream):
		alert.Title = "Connection lost"
		alert.Message = "We lost contact with the pump. Please ask the station staff for assistance."
	case errors.Is(err, models.ErrRejected):
		alert.Message = "The payment was declined. No money has been taken."
	case errors.Is(err, authorizer.ErrNoReservation):
		alert.Message = "There is no reservation to unlock for this charger."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		alert.Title = "Session cancelled"
		alert.Message = "The request was cancelled before the session started."
	case errors.Is(err, models.ErrContractViolation), errors.Is(err, models.ErrTransport):
		alert.Message = "We could not start your session. Please try again."
	default:
		alert.Message = "The pump reported a problem. Please ask the station staff for assistance."
	}
	return alert
}

type nopSpeaker struct{}

func (nopSpeaker) Speak(context.Context, string) error { return nil }
func (nopSpeaker) Stop() error                         { return nil }

type nopNotifier struct{}

func (nopNotifier) OnState(Snapshot)     {}
func (nopNotifier) OnAlert(models.Alert) {}
