package gateway

import (
	"context"
	"time"

	"position-engine/order"
)

// Quote 最优买卖价。
type Quote struct {
	Symbol string
	Bid    float64
	Ask    float64
	Time   time.Time
}

// Valid 买卖价均为正且不倒挂。
func (q Quote) Valid() bool {
	return q.Bid > 0 && q.Ask > 0 && q.Ask >= q.Bid
}

// Mid 中间价。
func (q Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// OrderRequest 下单参数。
type OrderRequest struct {
	Symbol     string
	Type       order.Type
	Side       order.Side
	Quantity   float64
	Price      float64
	PostOnly   bool
	ReduceOnly bool
	ClientID   string
}

// OrderStatus 交易所订单状态快照。
type OrderStatus struct {
	ID        string
	ClientID  string
	Status    order.Status
	FilledQty float64
	AvgPrice  float64
}

// Balance 单一资产余额。
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// Total 可用加冻结。
func (b Balance) Total() float64 { return b.Free + b.Locked }

// Exchange 交易所适配器契约。所有方法可能返回 *Error（网络、限流或拒单）。
type Exchange interface {
	GetBestBidAsk(ctx context.Context, symbol string) (Quote, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)
	CancelOrder(ctx context.Context, orderID, symbol string) error
	GetOrderStatus(ctx context.Context, orderID, symbol string) (OrderStatus, error)
	GetRecentFills(ctx context.Context, symbol string, since time.Time) ([]order.Fill, error)
	GetBalances(ctx context.Context) (map[string]Balance, error)
	GetMarketConstraints(ctx context.Context, symbol string) (order.SymbolConstraints, error)
}
