package risk

import "fmt"

// EntryContext 开仓前检查所需的上下文。
type EntryContext struct {
	Symbol        string
	Bid           float64
	Ask           float64
	Notional      float64
	TakeProfitPct float64
	State         *RiskState
}

// Guard 开仓前检查，返回错误则跳过本轮开仓。
type Guard interface {
	PreEntry(ctx EntryContext) error
}

// GuardFunc 将函数适配为 Guard。
type GuardFunc func(ctx EntryContext) error

func (f GuardFunc) PreEntry(ctx EntryContext) error { return f(ctx) }

// MultiGuard 顺序执行多个 Guard，只要有一个返回错误则中止。
type MultiGuard struct {
	Guards []Guard
}

func (m MultiGuard) PreEntry(ctx EntryContext) error {
	for _, g := range m.Guards {
		if g == nil {
			continue
		}
		if err := g.PreEntry(ctx); err != nil {
			return err
		}
	}
	return nil
}

// EntryGuards 熔断/连亏、点差、手续费门槛。
func (g *Governor) EntryGuards() MultiGuard {
	return MultiGuard{Guards: []Guard{
		GuardFunc(func(ctx EntryContext) error {
			if ctx.State == nil {
				return nil
			}
			return g.AllowEntry(ctx.State)
		}),
		GuardFunc(func(ctx EntryContext) error {
			return g.SpreadOK(ctx.Bid, ctx.Ask)
		}),
		GuardFunc(func(ctx EntryContext) error {
			gross, fee, ok := g.FeeEdgeOK(ctx.Notional, ctx.TakeProfitPct)
			if !ok {
				return fmt.Errorf("%w: gross=%.6f fee=%.6f buffer=%.2f", ErrFeeEdge, gross, fee, g.cfg.EdgeBuffer)
			}
			return nil
		}),
	}}
}
