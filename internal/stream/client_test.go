package stream_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"fuelpay/internal/credstore"
	"fuelpay/internal/hub"
	"fuelpay/internal/hub/hubtest"
	"fuelpay/internal/models"
	"fuelpay/internal/stream"
)

func websocketFactory(t *testing.T, srv *hubtest.Server) hub.Factory {
	t.Helper()
	return hub.NewWebsocketFactory(hub.DialerConfig{
		URL:             srv.HubURL(),
		SkipNegotiation: true,
		Timeouts:        hub.Timeouts{Invoke: time.Second},
	}, srv.Client(), credstore.NewMemory(), zaptest.NewLogger(t))
}

func newClient(t *testing.T, factory hub.Factory) *stream.Client {
	t.Helper()
	c := stream.NewClient(factory, zaptest.NewLogger(t))
	t.Cleanup(c.Stop)
	return c
}

func next(t *testing.T, sub *stream.Subscription) models.StatusUpdate {
	t.Helper()
	select {
	case u, ok := <-sub.Updates():
		require.True(t, ok, "updates channel closed")
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("no status update")
		return models.StatusUpdate{}
	}
}

func requireClosed(t *testing.T, sub *stream.Subscription) {
	t.Helper()
	select {
	case u, ok := <-sub.Updates():
		require.False(t, ok, "unexpected update %+v", u)
	case <-time.After(2 * time.Second):
		t.Fatal("updates channel not closed")
	}
}

func subscribe(t *testing.T, c *stream.Client, srv *hubtest.Server, txID string) *stream.Subscription {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sub, err := c.Subscribe(ctx, txID)
	require.NoError(t, err)
	select {
	case id := <-srv.Registered():
		require.Equal(t, txID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("registration not observed")
	}
	return sub
}

func TestMapStatus(t *testing.T) {
	cases := []struct {
		code       string
		state      models.LifecycleState
		postAction bool
	}{
		{"FUE", models.StateFueling, false},
		{"CHR", models.StateFueling, false},
		{"FUC", models.StateCompleted, true},
		{"CHC", models.StateCompleted, true},
		{"fuc", models.StateCompleted, true},
		{"ERR", models.StateError, false},
		{"", models.StateError, false},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			state, postAction := stream.MapStatus(tc.code)
			assert.Equal(t, tc.state, state)
			assert.Equal(t, tc.postAction, postAction)
		})
	}
}

func TestSubscribeFuelingToCompleted(t *testing.T) {
	srv := hubtest.NewServer()
	defer srv.Close()
	c := newClient(t, websocketFactory(t, srv))

	sub := subscribe(t, c, srv, "tx-1")
	assert.Equal(t, stream.Connected, c.State())
	assert.Equal(t, models.StateReady, next(t, sub).State)

	require.NoError(t, srv.PushStatus("tx-1", "FUE", "Unleaded 95"))
	u := next(t, sub)
	assert.Equal(t, models.StateFueling, u.State)
	assert.Equal(t, "Unleaded 95", u.ProductInfo)
	assert.Equal(t, "FUE", u.StatusCode)

	require.NoError(t, srv.PushStatus("tx-1", "FUC", "Unleaded 95"))
	u = next(t, sub)
	assert.Equal(t, models.StateCompleted, u.State)
	assert.True(t, u.PostActionAvailable)
	requireClosed(t, sub)
}

func TestStaleTransactionEventsAreDropped(t *testing.T) {
	srv := hubtest.NewServer()
	defer srv.Close()
	c := newClient(t, websocketFactory(t, srv))

	sub := subscribe(t, c, srv, "tx-new")
	assert.Equal(t, models.StateReady, next(t, sub).State)

	require.NoError(t, srv.PushStatus("tx-old", "FUC", ""))
	require.NoError(t, srv.PushStatus("tx-new", "CHR", "AC 22kW"))

	u := next(t, sub)
	assert.Equal(t, "tx-new", u.TransactionID)
	assert.Equal(t, models.StateFueling, u.State)
}

func TestUnknownStatusEndsInError(t *testing.T) {
	srv := hubtest.NewServer()
	defer srv.Close()
	c := newClient(t, websocketFactory(t, srv))

	sub := subscribe(t, c, srv, "tx-1")
	next(t, sub)

	require.NoError(t, srv.PushStatus("tx-1", "ABT", ""))
	u := next(t, sub)
	assert.Equal(t, models.StateError, u.State)
	assert.Error(t, u.Err)
	requireClosed(t, sub)
}

func TestMalformedPayloadEndsInStreamError(t *testing.T) {
	srv := hubtest.NewServer()
	defer srv.Close()
	c := newClient(t, websocketFactory(t, srv))

	sub := subscribe(t, c, srv, "tx-1")
	next(t, sub)

	require.NoError(t, srv.Push(stream.StatusEvent, "tx-1", "{not json"))
	u := next(t, sub)
	assert.Equal(t, models.StateError, u.State)
	assert.ErrorIs(t, u.Err, models.ErrStream)
}

func TestRegistrationRejected(t *testing.T) {
	srv := hubtest.NewServer()
	defer srv.Close()
	srv.RejectRegistration.Store(true)
	c := newClient(t, websocketFactory(t, srv))

	_, err := c.Subscribe(context.Background(), "tx-1")
	assert.ErrorIs(t, err, models.ErrStream)
}

func TestDialFailure(t *testing.T) {
	dialErr := errors.New("refused")
	c := newClient(t, hub.FactoryFunc(func(context.Context) (hub.Conn, error) {
		return nil, dialErr
	}))

	_, err := c.Subscribe(context.Background(), "tx-1")
	assert.ErrorIs(t, err, models.ErrStream)
	assert.Equal(t, stream.Disconnected, c.State())
}

func TestReconnectReRegisters(t *testing.T) {
	srv := hubtest.NewServer()
	defer srv.Close()
	factory := hub.NewReconnectingFactory(websocketFactory(t, srv), hub.Backoff{
		Attempts: 3,
		Initial:  10 * time.Millisecond,
	}, zaptest.NewLogger(t))
	c := newClient(t, factory)

	sub := subscribe(t, c, srv, "tx-1")
	next(t, sub)

	srv.DropConnections()
	select {
	case id := <-srv.Registered():
		assert.Equal(t, "tx-1", id)
	case <-time.After(3 * time.Second):
		t.Fatal("no re-registration after drop")
	}

	require.NoError(t, srv.PushStatus("tx-1", "FUC", ""))
	u := next(t, sub)
	assert.Equal(t, models.StateCompleted, u.State)
}

func TestFinishedTransactionIsNotReRegistered(t *testing.T) {
	srv := hubtest.NewServer()
	defer srv.Close()
	var dials atomic.Int32
	inner := websocketFactory(t, srv)
	c := newClient(t, hub.FactoryFunc(func(ctx context.Context) (hub.Conn, error) {
		dials.Add(1)
		return inner.Dial(ctx)
	}))

	sub := subscribe(t, c, srv, "tx-1")
	next(t, sub)
	require.NoError(t, srv.PushStatus("tx-1", "FUC", ""))
	assert.Equal(t, models.StateCompleted, next(t, sub).State)
	requireClosed(t, sub)

	srv.DropConnections()
	require.Eventually(t, func() bool { return c.State() == stream.Disconnected }, 2*time.Second, 10*time.Millisecond)
	select {
	case id := <-srv.Registered():
		t.Fatalf("finished transaction %q re-registered", id)
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, int32(1), dials.Load())
}

func TestReconnectFailureEndsInStreamError(t *testing.T) {
	srv := hubtest.NewServer()
	defer srv.Close()
	inner := websocketFactory(t, srv)
	var dials atomic.Int32
	c := newClient(t, hub.FactoryFunc(func(ctx context.Context) (hub.Conn, error) {
		if dials.Add(1) > 1 {
			return nil, errors.New("hub unreachable")
		}
		return inner.Dial(ctx)
	}))

	sub := subscribe(t, c, srv, "tx-1")
	next(t, sub)

	srv.DropConnections()
	u := next(t, sub)
	assert.Equal(t, models.StateError, u.State)
	assert.ErrorIs(t, u.Err, models.ErrStream)
	requireClosed(t, sub)
}

func TestNewSubscriptionClosesPrevious(t *testing.T) {
	srv := hubtest.NewServer()
	defer srv.Close()
	c := newClient(t, websocketFactory(t, srv))

	first := subscribe(t, c, srv, "tx-1")
	next(t, first)
	second := subscribe(t, c, srv, "tx-2")
	next(t, second)

	requireClosed(t, first)
	assert.Len(t, srv.Connected(), 1, "connection should be reused")
}
