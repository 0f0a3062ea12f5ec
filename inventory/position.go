package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"position-engine/order"
)

// State 仓位生命周期状态。CLOSED 之后立即 Reset 回到 FLAT。
type State string

const (
	StateFlat    State = "FLAT"
	StateStaging State = "STAGING"
	StateOpen    State = "OPEN"
	StateExiting State = "EXITING"
	StateClosed  State = "CLOSED"
)

// Side 仓位方向。
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// EntrySide 开仓下单方向。
func (s Side) EntrySide() order.Side {
	if s == SideShort {
		return order.SideSell
	}
	return order.SideBuy
}

// ExitSide 平仓下单方向。
func (s Side) ExitSide() order.Side {
	return s.EntrySide().Opposite()
}

var positionTransitions = map[State][]State{
	StateFlat:    {StateStaging},
	StateStaging: {StateOpen, StateFlat},
	StateOpen:    {StateExiting},
	StateExiting: {StateClosed},
	StateClosed:  {StateFlat},
}

// Position 单一仓位。只由生命周期引擎修改。
type Position struct {
	Symbol   string
	State    State
	Side     Side
	OpenedAt time.Time

	EntryVWAP float64
	Quantity  float64

	// 开仓时锁定的百分比（4.9 表示 4.9%），热更新不影响已开仓位
	TakeProfitPct   float64
	StopLossPct     float64
	TakeProfitPrice float64
	StopLossPrice   float64

	// 阶梯建仓参考权益
	StageEquity float64

	ExitVWAP   float64
	ExitedQty  float64
	ExitReason string

	EntryFees float64
	ExitFees  float64

	entryCost decimal.Decimal
	entryQty  decimal.Decimal
	exitCost  decimal.Decimal
	exitQty   decimal.Decimal
	fills     *order.FillTracker
}

// NewPosition 返回 FLAT 仓位。
func NewPosition(symbol string) *Position {
	p := &Position{Symbol: symbol}
	p.Reset()
	return p
}

// Open FLAT -> STAGING，锁定方向与 TP/SL 百分比。
func (p *Position) Open(side Side, tpPct, slPct, equity float64, now time.Time) error {
	if err := p.Transition(StateStaging); err != nil {
		return err
	}
	p.Side = side
	p.TakeProfitPct = tpPct
	p.StopLossPct = slPct
	p.StageEquity = equity
	p.OpenedAt = now
	return nil
}

// Transition 校验并执行状态转换。
func (p *Position) Transition(to State) error {
	for _, next := range positionTransitions[p.State] {
		if next == to {
			p.State = to
			return nil
		}
	}
	return fmt.Errorf("illegal position transition: %s -> %s", p.State, to)
}

// Reset 清空所有仓位字段，回到 FLAT。
func (p *Position) Reset() {
	symbol := p.Symbol
	tracker := p.fills
	*p = Position{Symbol: symbol, State: StateFlat}
	if tracker == nil {
		tracker = order.NewFillTracker()
	}
	tracker.Reset()
	p.fills = tracker
	p.entryCost = decimal.Zero
	p.entryQty = decimal.Zero
	p.exitCost = decimal.Zero
	p.exitQty = decimal.Zero
}

// HasExposure 是否持有未平数量。
func (p Position) HasExposure() bool {
	return p.Remaining() > 0
}

// Remaining 尚未平掉的数量。
func (p Position) Remaining() float64 {
	r := p.entryQty.Sub(p.exitQty)
	if !r.IsPositive() {
		return 0
	}
	return r.InexactFloat64()
}

// CostBasis 开仓成本（报价币），用于阶梯判断。
func (p Position) CostBasis() float64 {
	return p.entryCost.InexactFloat64()
}

// Notional 按 mark 估值的剩余名义。
func (p Position) Notional(mark float64) float64 {
	return p.Remaining() * mark
}

// GrossPnL 已平部分的毛盈亏。
func (p Position) GrossPnL() float64 {
	if p.exitQty.IsZero() || p.entryQty.IsZero() {
		return 0
	}
	entry := p.entryCost.Div(p.entryQty).Mul(p.exitQty)
	diff := p.exitCost.Sub(entry)
	if p.Side == SideShort {
		diff = diff.Neg()
	}
	return diff.InexactFloat64()
}

// RealizedPnL 扣除双边手续费后的已实现盈亏。
func (p Position) RealizedPnL() float64 {
	return p.GrossPnL() - p.EntryFees - p.ExitFees
}

// UnrealizedPnL 按 mark 估算剩余部分盈亏。
func (p Position) UnrealizedPnL(mark float64) float64 {
	rem := p.Remaining()
	if rem == 0 {
		return 0
	}
	if p.Side == SideShort {
		return (p.EntryVWAP - mark) * rem
	}
	return (mark - p.EntryVWAP) * rem
}

// FillCount 本仓位已并入的成交笔数（开仓与平仓）。
func (p Position) FillCount() int {
	if p.fills == nil {
		return 0
	}
	return p.fills.Count()
}

// recomputeTargets 基于当前 VWAP 重新计算 TP/SL 价格。
func (p *Position) recomputeTargets() {
	if p.entryQty.IsZero() {
		p.TakeProfitPrice, p.StopLossPrice = 0, 0
		return
	}
	vwap := p.entryCost.Div(p.entryQty)
	hundred := decimal.NewFromInt(100)
	tp := decimal.NewFromFloat(p.TakeProfitPct).Div(hundred)
	sl := decimal.NewFromFloat(p.StopLossPct).Div(hundred)
	one := decimal.NewFromInt(1)
	if p.Side == SideShort {
		p.TakeProfitPrice = vwap.Mul(one.Sub(tp)).InexactFloat64()
		p.StopLossPrice = vwap.Mul(one.Add(sl)).InexactFloat64()
		return
	}
	p.TakeProfitPrice = vwap.Mul(one.Add(tp)).InexactFloat64()
	p.StopLossPrice = vwap.Mul(one.Sub(sl)).InexactFloat64()
}
