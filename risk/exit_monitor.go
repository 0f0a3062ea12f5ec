package risk

import "position-engine/inventory"

// ExitReason 平仓原因。
type ExitReason string

const (
	ExitTakeProfit ExitReason = "TakeProfit"
	ExitStopLoss   ExitReason = "StopLoss"
	ExitShutdown   ExitReason = "Shutdown"
)

func bps(v float64) float64 { return v / 10000 }

// Evaluate 判断是否触发止盈/止损。同一次评估两者都触发时止损优先，多空一致。
//
//	多头: hitTP = ask >= tp*(1-tol)   hitSL = bid <= sl*(1+tol)
//	空头: hitTP = bid <= tp*(1+tol)   hitSL = ask >= sl*(1-tol)
func Evaluate(p *inventory.Position, bid, ask, tpToleranceBps, slToleranceBps float64) (ExitReason, bool) {
	if p == nil || p.Quantity <= 0 || p.TakeProfitPrice <= 0 || bid <= 0 || ask <= 0 {
		return "", false
	}
	tpTol, slTol := bps(tpToleranceBps), bps(slToleranceBps)
	var hitTP, hitSL bool
	switch p.Side {
	case inventory.SideShort:
		hitTP = bid <= p.TakeProfitPrice*(1+tpTol)
		hitSL = ask >= p.StopLossPrice*(1-slTol)
	default:
		hitTP = ask >= p.TakeProfitPrice*(1-tpTol)
		hitSL = bid <= p.StopLossPrice*(1+slTol)
	}
	switch {
	case hitSL:
		return ExitStopLoss, true
	case hitTP:
		return ExitTakeProfit, true
	default:
		return "", false
	}
}

// BeyondTolerance 价格已越过容差带（任一侧），maker 平仓不再安全，需立即市价。
func BeyondTolerance(p *inventory.Position, bid, ask, tpToleranceBps, slToleranceBps float64) bool {
	if p == nil || p.Quantity <= 0 || p.TakeProfitPrice <= 0 {
		return false
	}
	tpTol, slTol := bps(tpToleranceBps), bps(slToleranceBps)
	if p.Side == inventory.SideShort {
		return bid <= p.TakeProfitPrice*(1-tpTol) || ask >= p.StopLossPrice*(1+slTol)
	}
	return ask >= p.TakeProfitPrice*(1+tpTol) || bid <= p.StopLossPrice*(1-slTol)
}
