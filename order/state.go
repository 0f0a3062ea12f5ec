package order

import "time"

// Status represents order lifecycle as reported by the exchange.
type Status string

const (
	StatusPending  Status = "pending"
	StatusPartial  Status = "partially_filled"
	StatusFilled   Status = "filled"
	StatusCanceled Status = "canceled"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// Side 下单方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite 返回反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Type 订单类型。
type Type string

const (
	TypeLimit  Type = "LIMIT"
	TypeMarket Type = "MARKET"
)

// Role maker 挂单 / taker 吃单，决定手续费率。
type Role string

const (
	RoleMaker Role = "maker"
	RoleTaker Role = "taker"
)

// Intent 开仓或平仓。
type Intent string

const (
	IntentEntry Intent = "entry"
	IntentExit  Intent = "exit"
)

// Order holds a simplified order view. 生命周期内只由执行控制器持有。
type Order struct {
	ID         string
	ClientID   string
	Symbol     string
	Side       Side
	Type       Type
	Role       Role
	Intent     Intent
	Price      float64
	Quantity   float64
	PostOnly   bool
	ReduceOnly bool
	Status     Status
	FilledQty  float64
	AvgPrice   float64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastError  string
}

// Notional 以报价币计的名义价值。
func (o Order) Notional() float64 {
	return o.Price * o.Quantity
}

// Remaining 未成交数量。
func (o Order) Remaining() float64 {
	r := o.Quantity - o.FilledQty
	if r < 0 {
		return 0
	}
	return r
}
