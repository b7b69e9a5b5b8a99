package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fuelpay/internal/models"
)

type countingDevice struct {
	held       bool
	acquireErr error
}

func (d *countingDevice) Acquire() error {
	if d.acquireErr != nil {
		return d.acquireErr
	}
	d.held = true
	return nil
}

func (d *countingDevice) Release() error {
	d.held = false
	return nil
}

func TestExclusiveWakeLock(t *testing.T) {
	device := &countingDevice{}
	lock := NewExclusiveWakeLock(device)

	require.NoError(t, lock.Acquire("a"))
	require.NoError(t, lock.Acquire("a"))
	assert.ErrorIs(t, lock.Acquire("b"), ErrWakeLockHeld)
	assert.True(t, device.held)

	require.NoError(t, lock.Release("b"))
	assert.Equal(t, "a", lock.Holder())

	require.NoError(t, lock.Release("a"))
	require.NoError(t, lock.Release("a"))
	assert.False(t, device.held)

	acquires, releases := lock.Counts()
	assert.Equal(t, 1, acquires)
	assert.Equal(t, 1, releases)

	require.NoError(t, lock.Acquire("b"))
	assert.Equal(t, "b", lock.Holder())
}

func TestExclusiveWakeLockDeviceFailure(t *testing.T) {
	lock := NewExclusiveWakeLock(&countingDevice{acquireErr: errors.New("denied")})
	assert.Error(t, lock.Acquire("a"))
	assert.Empty(t, lock.Holder())
}

func TestPhrase(t *testing.T) {
	tests := []struct {
		kind    models.PumpType
		state   models.LifecycleState
		product string
		want    string
	}{
		{models.PumpTypeGas, models.StateReady, "", ""},
		{models.PumpTypeGas, models.StateProcessing, "", ""},
		{models.PumpTypeGas, models.StateFueling, "", "Fueling has started"},
		{models.PumpTypeGas, models.StateFueling, "Unleaded 95", "Fueling Unleaded 95 has started"},
		{models.PumpTypeElectric, models.StateFueling, "", "Charging has started"},
		{models.PumpTypeElectric, models.StateCompleted, "AC", "Charging is complete. You can unplug your vehicle"},
		{models.PumpTypeGas, models.StateCompleted, "", "Fueling is complete. Thank you"},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.want, Phrase(tt.kind, tt.state, tt.product))
		})
	}
}
