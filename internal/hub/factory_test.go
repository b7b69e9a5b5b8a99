package hub_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"fuelpay/internal/credstore"
	"fuelpay/internal/hub"
	"fuelpay/internal/hub/hubtest"
)

func dial(t *testing.T, srv *hubtest.Server, skipNegotiation bool, tokens credstore.Store) hub.Conn {
	t.Helper()
	factory := hub.NewWebsocketFactory(hub.DialerConfig{
		URL:             srv.HubURL(),
		SkipNegotiation: skipNegotiation,
		Timeouts:        hub.Timeouts{Invoke: time.Second},
	}, srv.Client(), tokens, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := factory.Dial(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestDialNegotiatesAndInvokes(t *testing.T) {
	srv := hubtest.NewServer()
	defer srv.Close()

	tokens := credstore.NewMemory()
	require.NoError(t, tokens.Set(context.Background(), credstore.KeyAccessToken, "jwt-1"))

	conn := dial(t, srv, false, tokens)
	assert.Equal(t, int32(1), srv.Negotiations.Load())
	assert.Equal(t, "jwt-1", srv.LastAccessToken())

	require.NoError(t, conn.Invoke(context.Background(), hubtest.RegisterMethod, "tx-1"))
	select {
	case id := <-srv.Registered():
		assert.Equal(t, "tx-1", id)
	case <-time.After(time.Second):
		t.Fatal("registration not observed")
	}

	require.NoError(t, srv.PushStatus("tx-1", "FUE", "Unleaded"))
	select {
	case inv := <-conn.Messages():
		assert.Equal(t, "TransactionStatus", inv.Target)
		require.Len(t, inv.Arguments, 2)
	case <-time.After(time.Second):
		t.Fatal("status not delivered")
	}
}

func TestDialSkipNegotiation(t *testing.T) {
	srv := hubtest.NewServer()
	defer srv.Close()

	conn := dial(t, srv, true, nil)
	assert.Zero(t, srv.Negotiations.Load())
	require.NoError(t, conn.Invoke(context.Background(), hubtest.RegisterMethod, "tx-2"))
}

func TestInvokeCompletionError(t *testing.T) {
	srv := hubtest.NewServer()
	defer srv.Close()
	srv.RejectRegistration.Store(true)

	conn := dial(t, srv, true, nil)
	err := conn.Invoke(context.Background(), hubtest.RegisterMethod, "tx-3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registration rejected")
}

func TestConnectionDropClosesMessages(t *testing.T) {
	srv := hubtest.NewServer()
	defer srv.Close()

	conn := dial(t, srv, true, nil)
	<-srv.Connected()
	srv.DropConnections()

	select {
	case <-conn.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection did not notice the drop")
	}
	assert.ErrorIs(t, conn.Err(), hub.ErrClosed)
	_, open := <-conn.Messages()
	assert.False(t, open)

	assert.ErrorIs(t, conn.Invoke(context.Background(), hubtest.RegisterMethod, "tx"), hub.ErrClosed)
}

func TestReconnectingFactoryRetries(t *testing.T) {
	attempts := 0
	inner := hub.FactoryFunc(func(ctx context.Context) (hub.Conn, error) {
		attempts++
		return nil, errors.New("refused")
	})
	f := hub.NewReconnectingFactory(inner, hub.Backoff{Attempts: 3, Initial: time.Millisecond}, zaptest.NewLogger(t))

	_, err := f.Dial(context.Background())
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestReconnectingFactoryStopsOnSuccess(t *testing.T) {
	srv := hubtest.NewServer()
	defer srv.Close()
	wsFactory := hub.NewWebsocketFactory(hub.DialerConfig{URL: srv.HubURL(), SkipNegotiation: true}, srv.Client(), nil, nil)

	attempts := 0
	inner := hub.FactoryFunc(func(ctx context.Context) (hub.Conn, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("flaky")
		}
		return wsFactory.Dial(ctx)
	})
	f := hub.NewReconnectingFactory(inner, hub.Backoff{Attempts: 5, Initial: time.Millisecond}, nil)

	conn, err := f.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, 2, attempts)
}
