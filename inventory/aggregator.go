package inventory

import (
	"github.com/shopspring/decimal"

	"position-engine/order"
)

// ApplyFill 将开仓成交并入仓位：重算 VWAP、累加数量，并立即重算 TP/SL。
// 同一成交只生效一次；重复或缺少成交号与订单号的回报返回 false。
func ApplyFill(p *Position, f order.Fill) bool {
	if f.Quantity <= 0 || f.Price <= 0 {
		return false
	}
	if !p.fills.Record(f) {
		return false
	}
	qty := decimal.NewFromFloat(f.Quantity)
	p.entryCost = p.entryCost.Add(decimal.NewFromFloat(f.Price).Mul(qty))
	p.entryQty = p.entryQty.Add(qty)
	p.EntryVWAP = p.entryCost.Div(p.entryQty).InexactFloat64()
	p.Quantity = p.entryQty.InexactFloat64()
	p.EntryFees += f.Fee
	p.recomputeTargets()
	return true
}

// ApplyExitFill 将平仓成交并入退出 VWAP。超出剩余数量的部分被截断。
func ApplyExitFill(p *Position, f order.Fill) bool {
	if f.Quantity <= 0 || f.Price <= 0 {
		return false
	}
	if !p.fills.Record(f) {
		return false
	}
	qty := decimal.NewFromFloat(f.Quantity)
	if rem := p.entryQty.Sub(p.exitQty); qty.GreaterThan(rem) {
		qty = rem
	}
	if !qty.IsPositive() {
		return false
	}
	p.exitCost = p.exitCost.Add(decimal.NewFromFloat(f.Price).Mul(qty))
	p.exitQty = p.exitQty.Add(qty)
	p.ExitVWAP = p.exitCost.Div(p.exitQty).InexactFloat64()
	p.ExitedQty = p.exitQty.InexactFloat64()
	p.ExitFees += f.Fee
	return true
}

// FullyExited 剩余数量低于 dust（通常为一个 stepSize）即视为平完。
func FullyExited(p *Position, dust float64) bool {
	if p.exitQty.IsZero() {
		return false
	}
	rem := p.Remaining()
	return rem <= 0 || (dust > 0 && rem < dust)
}
