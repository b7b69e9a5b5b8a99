package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultWriteTimeout  = 10 * time.Second
	defaultReadTimeout   = 30 * time.Second
	defaultKeepAlive     = 15 * time.Second
	defaultInvokeTimeout = 15 * time.Second
	maxMessageSize       = 1024 * 1024
)

var (
	// ErrClosed is returned once the connection is gone.
	ErrClosed = errors.New("hub: connection closed")
	// ErrInvokeTimeout is returned when no completion arrives in time.
	ErrInvokeTimeout = errors.New("hub: invocation timed out")
)

// Invocation is a server-to-client method call.
type Invocation struct {
	Target    string
	Arguments []json.RawMessage
}

// Conn is an open hub connection.
type Conn interface {
	// Invoke calls a hub method and waits for its completion.
	Invoke(ctx context.Context, target string, args ...interface{}) error
	// Messages yields server invocations in arrival order and is closed
	// when the connection ends.
	Messages() <-chan Invocation
	Done() <-chan struct{}
	Err() error
	Close() error
}

type completion struct {
	result json.RawMessage
	err    error
}

// Connection is a websocket-backed Conn with read/write pumps.
type Connection struct {
	ws            *websocket.Conn
	send          chan []byte
	messages      chan Invocation
	logger        *zap.Logger
	writeTimeout  time.Duration
	readTimeout   time.Duration
	keepAlive     time.Duration
	invokeTimeout time.Duration

	mu        sync.Mutex
	pending   map[string]chan completion
	err       error
	done      chan struct{}
	closeOnce sync.Once
}

// Timeouts tunes a Connection. Zero values use defaults.
type Timeouts struct {
	Write     time.Duration
	Read      time.Duration
	KeepAlive time.Duration
	Invoke    time.Duration
}

// NewConnection wraps an already handshaken websocket and starts its pumps.
func NewConnection(ws *websocket.Conn, timeouts Timeouts, logger *zap.Logger) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Connection{
		ws:            ws,
		send:          make(chan []byte, 16),
		messages:      make(chan Invocation, 64),
		logger:        logger,
		writeTimeout:  orDefault(timeouts.Write, defaultWriteTimeout),
		readTimeout:   orDefault(timeouts.Read, defaultReadTimeout),
		keepAlive:     orDefault(timeouts.KeepAlive, defaultKeepAlive),
		invokeTimeout: orDefault(timeouts.Invoke, defaultInvokeTimeout),
		pending:       make(map[string]chan completion),
		done:          make(chan struct{}),
	}
	go c.writePump()
	go c.readPump()
	return c
}

// Messages returns server invocations.
func (c *Connection) Messages() <-chan Invocation {
	return c.messages
}

// Done is closed when the connection ends.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Invoke sends an invocation and waits for the matching completion.
func (c *Connection) Invoke(ctx context.Context, target string, args ...interface{}) error {
	id := uuid.NewString()
	frame, err := BuildInvocation(id, target, args...)
	if err != nil {
		return err
	}

	ch := make(chan completion, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.enqueue(ctx, frame); err != nil {
		return err
	}

	timer := time.NewTimer(c.invokeTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.Err()
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrInvokeTimeout, target)
	}
}

// Close sends a close frame and tears the connection down.
func (c *Connection) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
		time.Now().Add(c.writeTimeout),
	)
	c.shutdown(ErrClosed)
	return nil
}

func (c *Connection) enqueue(ctx context.Context, frame []byte) error {
	select {
	case c.send <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.Err()
	}
}

func (c *Connection) readPump() {
	defer close(c.messages)
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))

		for _, frame := range Split(data) {
			msg, err := Parse(frame)
			if err != nil {
				c.logger.Warn("failed to parse hub frame", zap.Error(err))
				continue
			}
			switch msg.Type {
			case TypeInvocation:
				select {
				case c.messages <- Invocation{Target: msg.Target, Arguments: msg.Arguments}:
				case <-c.done:
					return
				}
			case TypeCompletion:
				c.resolve(msg)
			case TypePing:
			case TypeClose:
				reason := msg.Error
				if reason == "" {
					reason = "server closed connection"
				}
				c.shutdown(fmt.Errorf("%w: %s", ErrClosed, reason))
				return
			default:
				c.logger.Debug("ignoring hub message", zap.Int("type", msg.Type))
			}
		}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.keepAlive)
	defer ticker.Stop()

	ping, _ := BuildPing()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
				return
			}
		case <-ticker.C:
			if err := c.write(ping); err != nil {
				c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
				return
			}
		}
	}
}

func (c *Connection) write(data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Connection) resolve(msg *Message) {
	c.mu.Lock()
	ch, ok := c.pending[msg.InvocationID]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("completion for unknown invocation", zap.String("invocation_id", msg.InvocationID))
		return
	}
	res := completion{result: msg.Result}
	if msg.Error != "" {
		res.err = fmt.Errorf("hub: invocation failed: %s", msg.Error)
	}
	select {
	case ch <- res:
	default:
	}
}

func (c *Connection) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		close(c.done)
		_ = c.ws.Close()
		c.logger.Debug("hub connection closed", zap.Error(err))
	})
}

func orDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
