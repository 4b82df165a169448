package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulator_PurchaseSettles(t *testing.T) {
	sim := NewSimulator(WithSimLatency(0), WithSettleAfter(time.Hour))
	clock := time.Now()
	sim.now = func() time.Time { return clock }
	ctx := context.Background()

	res, err := sim.InitiatePurchase(ctx, PurchaseRequest{Reference: "ref-1", Amount: 100, DeviceCode: "SIM-001"})
	require.NoError(t, err)
	require.Equal(t, InitiateOK, res.Status)
	require.NotEmpty(t, res.TransactionID)

	st, err := sim.CheckStatus(ctx, "SIM-001", "ref-1")
	require.NoError(t, err)
	assert.Equal(t, TxPending, st.Status)
	assert.Equal(t, res.TransactionID, st.TransactionID)

	clock = clock.Add(2 * time.Hour)
	st, err = sim.CheckStatus(ctx, "SIM-001", res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, TxCompleted, st.Status)
}

func TestSimulator_BusyDeviceConflicts(t *testing.T) {
	sim := NewSimulator(WithSimLatency(0), WithSettleAfter(time.Hour))
	ctx := context.Background()

	_, err := sim.InitiatePurchase(ctx, PurchaseRequest{Reference: "ref-1", Amount: 100, DeviceCode: "SIM-001"})
	require.NoError(t, err)

	res, err := sim.InitiatePurchase(ctx, PurchaseRequest{Reference: "ref-2", Amount: 100, DeviceCode: "SIM-001"})
	require.NoError(t, err)
	assert.Equal(t, InitiateConflict, res.Status)
}

func TestSimulator_Declines(t *testing.T) {
	sim := NewSimulator(WithSimLatency(0), WithSettleAfter(0), WithDeclineRate(1), WithSimSeed(1))
	ctx := context.Background()

	res, err := sim.InitiatePurchase(ctx, PurchaseRequest{Reference: "ref-1", Amount: 100, DeviceCode: "SIM-001"})
	require.NoError(t, err)

	st, err := sim.CheckStatus(ctx, "SIM-001", res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, TxFailed, st.Status)
	assert.Equal(t, "Card declined", st.Message)
}

func TestSimulator_UnknownAndOfflineDevices(t *testing.T) {
	sim := NewSimulator(WithSimLatency(0), WithSimDevices(Device{Code: "D1", Active: false}))
	ctx := context.Background()

	ready, err := sim.CheckDeviceReadiness(ctx, "D1")
	require.NoError(t, err)
	assert.False(t, ready)

	res, err := sim.InitiatePurchase(ctx, PurchaseRequest{Reference: "r", Amount: 1, DeviceCode: "nope"})
	require.NoError(t, err)
	assert.Equal(t, InitiateError, res.Status)
}

func TestSimulator_NoDevices(t *testing.T) {
	sim := NewSimulator(WithSimLatency(0), WithSimDevices())

	list, err := sim.ListDevices(context.Background())
	require.NoError(t, err)
	assert.False(t, list.Configured)
	assert.Empty(t, list.DefaultDeviceCode)
}

func TestSimulator_RespectsContext(t *testing.T) {
	sim := NewSimulator(WithSimLatency(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sim.CheckStatus(ctx, "SIM-001", "ref")
	assert.ErrorIs(t, err, context.Canceled)
}
