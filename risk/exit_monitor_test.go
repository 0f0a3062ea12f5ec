package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"position-engine/inventory"
	"position-engine/order"
)

func position(t *testing.T, side inventory.Side, price float64) *inventory.Position {
	t.Helper()
	p := inventory.NewPosition("BTCUSDT")
	require.NoError(t, p.Open(side, 4.9, 13.44, 1000, time.Time{}))
	require.True(t, inventory.ApplyFill(p, order.Fill{TradeID: "1", Price: price, Quantity: 1}))
	return p
}

func TestEvaluateLong(t *testing.T) {
	p := position(t, inventory.SideLong, 100)
	require.Equal(t, 104.9, p.TakeProfitPrice)
	require.Equal(t, 86.56, p.StopLossPrice)

	tests := []struct {
		name     string
		bid, ask float64
		reason   ExitReason
		hit      bool
	}{
		{"未触发", 100, 100.1, "", false},
		{"止盈", 105.0, 105.2, ExitTakeProfit, true},
		{"止盈容差内", 104.8, 104.86, ExitTakeProfit, true},
		{"止损", 86.5, 86.6, ExitStopLoss, true},
		{"止损容差内", 86.6, 86.7, ExitStopLoss, true},
		{"同时触发止损优先", 80, 110, ExitStopLoss, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, hit := Evaluate(p, tt.bid, tt.ask, 5, 5)
			assert.Equal(t, tt.hit, hit)
			assert.Equal(t, tt.reason, r)
		})
	}
}

func TestEvaluateShort(t *testing.T) {
	p := position(t, inventory.SideShort, 100)
	require.Equal(t, 95.1, p.TakeProfitPrice)
	require.Equal(t, 113.44, p.StopLossPrice)

	r, hit := Evaluate(p, 95.0, 95.1, 5, 5)
	assert.True(t, hit)
	assert.Equal(t, ExitTakeProfit, r)

	r, hit = Evaluate(p, 113.4, 113.5, 5, 5)
	assert.True(t, hit)
	assert.Equal(t, ExitStopLoss, r)

	// 空头同样止损优先
	r, hit = Evaluate(p, 90, 120, 5, 5)
	assert.True(t, hit)
	assert.Equal(t, ExitStopLoss, r)

	_, hit = Evaluate(p, 100, 100.1, 5, 5)
	assert.False(t, hit)
}

func TestEvaluateIgnoresEmptyPosition(t *testing.T) {
	p := inventory.NewPosition("X")
	_, hit := Evaluate(p, 1, 1000, 5, 5)
	assert.False(t, hit)
	assert.False(t, BeyondTolerance(p, 1, 1000, 5, 5))
	_, hit = Evaluate(nil, 1, 2, 5, 5)
	assert.False(t, hit)
}

func TestBeyondTolerance(t *testing.T) {
	long := position(t, inventory.SideLong, 100)
	assert.False(t, BeyondTolerance(long, 104.8, 104.92, 5, 5))
	assert.True(t, BeyondTolerance(long, 105.0, 105.2, 5, 5))
	assert.True(t, BeyondTolerance(long, 86.5, 86.6, 5, 5))
	assert.False(t, BeyondTolerance(long, 86.55, 86.7, 5, 5))

	short := position(t, inventory.SideShort, 100)
	assert.True(t, BeyondTolerance(short, 95.0, 95.1, 5, 5))
	assert.True(t, BeyondTolerance(short, 113.4, 113.6, 5, 5))
	assert.False(t, BeyondTolerance(short, 100, 100.1, 5, 5))
}
