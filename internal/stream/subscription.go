package stream

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"fuelpay/internal/models"
)

// Subscription delivers status updates for one transaction in arrival order.
// The channel is closed after a terminal update or when the subscription is
// closed.
type Subscription struct {
	client        *Client
	transactionID string
	updates       chan models.StatusUpdate
	ctx           context.Context
	cancel        context.CancelFunc

	mu     sync.Mutex
	ready  bool
	closed bool
}

func newSubscription(c *Client, transactionID string) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscription{
		client:        c,
		transactionID: transactionID,
		updates:       make(chan models.StatusUpdate, 16),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// TransactionID returns the followed transaction.
func (s *Subscription) TransactionID() string {
	return s.transactionID
}

// Updates returns the update channel.
func (s *Subscription) Updates() <-chan models.StatusUpdate {
	return s.updates
}

// Close stops delivery. Pending events for this transaction are dropped.
func (s *Subscription) Close() {
	s.client.detach(s)
	s.close()
}

func (s *Subscription) close() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.updates)
	}
}

// deliver pushes u unless the subscription already ended. A status event
// that beats the registration ack implies the ack, so ready is sent first.
func (s *Subscription) deliver(u models.StatusUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if !s.ready {
		s.ready = true
		if u.State != models.StateReady {
			if !s.send(models.StatusUpdate{TransactionID: s.transactionID, State: models.StateReady}) {
				return
			}
		}
	} else if u.State == models.StateReady {
		return
	}
	if !s.send(u) {
		return
	}
	if u.State.Terminal() {
		s.closed = true
		close(s.updates)
		// A finished transaction is not re-registered after a reconnect.
		s.client.detach(s)
	}
}

func (s *Subscription) send(u models.StatusUpdate) bool {
	select {
	case s.updates <- u:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// resubscribe re-registers after a dropped connection. The factory is
// responsible for dial retries; a failure here ends the session in error
// because the pump state is no longer known.
func (s *Subscription) resubscribe(cause error) {
	if !s.client.isActive(s) {
		return
	}
	if err := s.client.register(s.ctx, s); err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.client.logger.Error("status stream lost", zap.String("transaction_id", s.transactionID), zap.Error(err))
		s.deliver(models.StatusUpdate{
			TransactionID: s.transactionID,
			State:         models.StateError,
			Err:           fmt.Errorf("%w: connection lost (%v): %v", models.ErrStream, cause, err),
		})
		return
	}
	s.client.logger.Info("re-registered after reconnect", zap.String("transaction_id", s.transactionID))
}
