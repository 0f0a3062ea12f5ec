package signals

import (
	"context"
	"time"
)

// Trigger 每次轮询的开仓信号。两者同时为真视为信号冲突，由引擎跳过。
type Trigger struct {
	Long  bool
	Short bool
}

// None 无信号。
func (t Trigger) None() bool { return !t.Long && !t.Short }

// Ambiguous 多空同时触发。
func (t Trigger) Ambiguous() bool { return t.Long && t.Short }

func (t Trigger) String() string {
	switch {
	case t.Ambiguous():
		return "both"
	case t.Long:
		return "long"
	case t.Short:
		return "short"
	default:
		return "none"
	}
}

// MarketData 传给信号源的行情快照。
type MarketData struct {
	Symbol string
	Bid    float64
	Ask    float64
	Time   time.Time
}

// Mid 中间价。
func (m MarketData) Mid() float64 { return (m.Bid + m.Ask) / 2 }

// Source 信号源契约。对引擎而言是纯函数：同样的行情返回同样的信号。
type Source interface {
	Poll(ctx context.Context, md MarketData) (Trigger, error)
}

// Func 函数适配器。
type Func func(ctx context.Context, md MarketData) (Trigger, error)

func (f Func) Poll(ctx context.Context, md MarketData) (Trigger, error) { return f(ctx, md) }

// Static 固定信号。
type Static Trigger

func (s Static) Poll(ctx context.Context, md MarketData) (Trigger, error) { return Trigger(s), nil }
