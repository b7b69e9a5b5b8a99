// Package stream follows a transaction's status over the hub connection.
package stream

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"fuelpay/internal/hub"
	"fuelpay/internal/models"
)

const (
	// RegisterMethod subscribes the connection to a transaction.
	RegisterMethod = "RegisterForTransactionUpdates"
	// StatusEvent is pushed by the hub for every status change.
	StatusEvent = "TransactionStatus"
)

// ConnState is the connection state of the client.
type ConnState string

const (
	Disconnected ConnState = "disconnected"
	Connecting   ConnState = "connecting"
	Connected    ConnState = "connected"
)

// Client owns one hub connection and at most one active subscription.
type Client struct {
	factory hub.Factory
	logger  *zap.Logger

	dialMu sync.Mutex
	mu     sync.Mutex
	conn   hub.Conn
	state  ConnState
	sub    *Subscription
}

// NewClient builds client.
func NewClient(factory hub.Factory, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{factory: factory, logger: logger, state: Disconnected}
}

// State returns the connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe opens or reuses the connection, registers for transactionID and
// returns a subscription that first yields StateReady. A previous
// subscription is closed; its transaction's events are dropped from now on.
func (c *Client) Subscribe(ctx context.Context, transactionID string) (*Subscription, error) {
	if transactionID == "" {
		return nil, fmt.Errorf("%w: empty transaction id", models.ErrStream)
	}
	sub := newSubscription(c, transactionID)

	c.mu.Lock()
	prev := c.sub
	c.sub = sub
	c.mu.Unlock()
	if prev != nil {
		prev.close()
	}

	if err := c.register(ctx, sub); err != nil {
		c.detach(sub)
		sub.close()
		return nil, err
	}
	sub.deliver(models.StatusUpdate{TransactionID: transactionID, State: models.StateReady})
	c.logger.Info("subscribed to transaction updates", zap.String("transaction_id", transactionID))
	return sub, nil
}

// Stop closes the active subscription and the connection.
func (c *Client) Stop() {
	c.mu.Lock()
	conn := c.conn
	sub := c.sub
	c.conn = nil
	c.sub = nil
	c.state = Disconnected
	c.mu.Unlock()

	if sub != nil {
		sub.close()
	}
	if conn != nil {
		_ = conn.Close()
		c.logger.Info("status stream stopped")
	}
}

func (c *Client) register(ctx context.Context, sub *Subscription) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return fmt.Errorf("%w: connect: %v", models.ErrStream, err)
	}
	if err := conn.Invoke(ctx, RegisterMethod, sub.transactionID); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: register: %v", models.ErrStream, err)
	}
	return nil
}

func (c *Client) connect(ctx context.Context) (hub.Conn, error) {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	c.mu.Lock()
	if c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		return conn, nil
	}
	c.state = Connecting
	c.mu.Unlock()

	conn, err := c.factory.Dial(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = Disconnected
		return nil, err
	}
	c.conn = conn
	c.state = Connected
	go c.dispatch(conn)
	return conn, nil
}

// dispatch routes hub events to the active subscription until conn ends.
func (c *Client) dispatch(conn hub.Conn) {
	for inv := range conn.Messages() {
		c.route(inv)
	}

	c.mu.Lock()
	lost := c.conn == conn
	if lost {
		c.conn = nil
		c.state = Disconnected
	}
	sub := c.sub
	c.mu.Unlock()

	if lost && sub != nil {
		c.logger.Warn("status stream connection lost", zap.Error(conn.Err()))
		go sub.resubscribe(conn.Err())
	}
}

func (c *Client) route(inv hub.Invocation) {
	if inv.Target != StatusEvent {
		c.logger.Debug("ignoring hub event", zap.String("target", inv.Target))
		return
	}
	if len(inv.Arguments) < 2 {
		c.logger.Warn("malformed status event", zap.Int("args", len(inv.Arguments)))
		return
	}
	guid, err := hub.Decode[string](inv.Arguments[0])
	if err != nil {
		c.logger.Warn("malformed status event id", zap.Error(err))
		return
	}

	c.mu.Lock()
	sub := c.sub
	c.mu.Unlock()
	if sub == nil || sub.transactionID != guid {
		c.logger.Info("dropping status for inactive transaction", zap.String("transaction_id", guid))
		return
	}
	sub.deliver(buildUpdate(guid, inv.Arguments[1]))
}

func (c *Client) detach(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub == sub {
		c.sub = nil
	}
}

func (c *Client) isActive(sub *Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub == sub
}
