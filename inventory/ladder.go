package inventory

import (
	"errors"
	"fmt"

	"position-engine/order"
)

// ErrSizing 取整后的下单数量非正。
var ErrSizing = errors.New("sizing error")

// StageTolerance 名义达到阶梯目标的相对容差，吸收数量取整造成的差额。
var StageTolerance = 0.001

// Ladder 权益比例阶梯，严格递增，取值 (0, 1]。
type Ladder []float64

// NewLadder 校验并返回阶梯。
func NewLadder(fractions []float64) (Ladder, error) {
	if len(fractions) == 0 {
		return nil, errors.New("ladder must have at least one step")
	}
	prev := 0.0
	for i, f := range fractions {
		if f <= 0 || f > 1 {
			return nil, fmt.Errorf("ladder[%d]=%v out of range (0,1]", i, f)
		}
		if f <= prev {
			return nil, fmt.Errorf("ladder must be strictly increasing: ladder[%d]=%v <= %v", i, f, prev)
		}
		prev = f
	}
	out := make(Ladder, len(fractions))
	copy(out, fractions)
	return out, nil
}

// Ceiling 最后一级目标名义。
func (l Ladder) Ceiling(equity float64) float64 {
	if len(l) == 0 {
		return 0
	}
	return l[len(l)-1] * equity
}

// NextStageTarget 返回到达第一个尚未达到的阶梯所需的追加名义；已达最后一级返回 false。
func NextStageTarget(l Ladder, equity, currentNotional float64) (float64, bool) {
	if equity <= 0 {
		return 0, false
	}
	for _, f := range l {
		target := f * equity
		if currentNotional >= target*(1-StageTolerance) {
			continue
		}
		return target - currentNotional, true
	}
	return 0, false
}

// ToQuantity 名义换算为数量：先按 stepSize 向下取整，非正则 ErrSizing，
// 再抬升到最小数量与最小名义。
func ToQuantity(notional, referencePrice float64, c order.SymbolConstraints) (float64, error) {
	if notional <= 0 || referencePrice <= 0 {
		return 0, fmt.Errorf("%w: notional=%v price=%v", ErrSizing, notional, referencePrice)
	}
	q := c.FloorQuantity(notional / referencePrice)
	if q <= 0 {
		return 0, fmt.Errorf("%w: %v/%v floors to zero at step %v", ErrSizing, notional, referencePrice, c.StepSize)
	}
	return c.RoundQuantity(q, referencePrice), nil
}
