package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFillTrackerDedupe(t *testing.T) {
	ft := NewFillTracker()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, ft.Record(Fill{TradeID: "t1", Price: 100, Quantity: 1, Timestamp: now}))
	assert.False(t, ft.Record(Fill{TradeID: "t1", Price: 100, Quantity: 1, Timestamp: now}))
	assert.True(t, ft.Record(Fill{TradeID: "t2", Price: 101, Quantity: 0.5, Timestamp: now.Add(time.Second)}))

	assert.Equal(t, 2, ft.Count())
	assert.True(t, ft.Seen("t1"))

	ft.Reset()
	assert.False(t, ft.Seen("t1"))
	assert.Equal(t, 0, ft.Count())
	assert.True(t, ft.Record(Fill{TradeID: "t1", Quantity: 1}))
}

func TestFillKey(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		fill Fill
		want string
	}{
		{"有成交号", Fill{TradeID: "42", OrderID: "o1", Timestamp: ts}, "42"},
		{"无成交号用订单号加时间", Fill{OrderID: "o1", Timestamp: ts}, "o1@1714564800000000000"},
		{"无成交号无时间", Fill{OrderID: "o1"}, ""},
		{"全部缺失", Fill{Quantity: 1}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.fill.Key())
		})
	}
}

func TestFillTrackerWithoutTradeID(t *testing.T) {
	ft := NewFillTracker()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	// 无键成交被拒绝，重复同步也不会累加
	assert.False(t, ft.Record(Fill{Price: 100, Quantity: 1}))
	assert.False(t, ft.Record(Fill{Price: 100, Quantity: 1}))

	f := Fill{OrderID: "o1", Price: 100, Quantity: 1, Timestamp: ts}
	assert.True(t, ft.Record(f))
	assert.False(t, ft.Record(f))
	assert.True(t, ft.Record(Fill{OrderID: "o1", Price: 100, Quantity: 1, Timestamp: ts.Add(time.Millisecond)}))
	assert.Equal(t, 2, ft.Count())
}

func TestFillRole(t *testing.T) {
	assert.Equal(t, RoleMaker, Fill{Maker: true}.Role())
	assert.Equal(t, RoleTaker, Fill{}.Role())
}

func TestFillNetOfCommission(t *testing.T) {
	tests := []struct {
		name string
		fill Fill
		want float64
	}{
		{"买入以 base 扣费", Fill{Side: SideBuy, Quantity: 0.3, FeeAsset: "BTC", Commission: 0.0003}, 0.2997},
		{"买入以报价币扣费", Fill{Side: SideBuy, Quantity: 0.3, FeeAsset: "USDT", Commission: 0.03}, 0.3},
		{"卖出不调整", Fill{Side: SideSell, Quantity: 0.3, FeeAsset: "BTC", Commission: 0.0003}, 0.3},
		{"第三方资产扣费", Fill{Side: SideBuy, Quantity: 0.3, FeeAsset: "BNB", Commission: 0.0001}, 0.3},
		{"手续费超过数量", Fill{Side: SideBuy, Quantity: 0.001, FeeAsset: "BTC", Commission: 0.002}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.fill.NetOfCommission("BTC").Quantity)
		})
	}
}
