package order

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ErrInvalidPrice 取整后价格非正。
var ErrInvalidPrice = errors.New("invalid price")

// SymbolConstraints 描述交易对的步长与名义限制。
type SymbolConstraints struct {
	Symbol      string
	TickSize    float64
	StepSize    float64
	MinQty      float64
	MaxQty      float64
	MinNotional float64
	MinPrice    float64
}

// RoundPrice 向下取整到 tickSize，不低于 MinPrice；结果 <= 0 返回 ErrInvalidPrice。
func (c SymbolConstraints) RoundPrice(price float64) (float64, error) {
	p := floorToStep(decimal.NewFromFloat(price), c.TickSize)
	if c.MinPrice > 0 {
		if min := decimal.NewFromFloat(c.MinPrice); p.LessThan(min) {
			p = min
		}
	}
	if !p.IsPositive() {
		return 0, fmt.Errorf("%w: %v rounds to %s (tick %v)", ErrInvalidPrice, price, p.String(), c.TickSize)
	}
	return p.InexactFloat64(), nil
}

// RoundQuantity 向下取整到 stepSize，抬升到 MinQty；名义不足 MinNotional 时按
// floor(need+step) 重新计算最小数量。
func (c SymbolConstraints) RoundQuantity(qty, price float64) float64 {
	q := floorToStep(decimal.NewFromFloat(qty), c.StepSize)
	if c.MinQty > 0 {
		if min := decimal.NewFromFloat(c.MinQty); q.LessThan(min) {
			q = ceilToStep(min, c.StepSize)
		}
	}
	if c.MinNotional > 0 && price > 0 {
		p := decimal.NewFromFloat(price)
		minCost := decimal.NewFromFloat(c.MinNotional)
		if q.Mul(p).LessThan(minCost) {
			need := minCost.Div(p)
			if c.StepSize > 0 {
				need = need.Add(decimal.NewFromFloat(c.StepSize))
			}
			q = floorToStep(need, c.StepSize)
		}
	}
	if c.MaxQty > 0 {
		if max := decimal.NewFromFloat(c.MaxQty); q.GreaterThan(max) {
			q = floorToStep(max, c.StepSize)
		}
	}
	return q.InexactFloat64()
}

// FloorQuantity 仅向下取整到 stepSize，不做最小值抬升。
func (c SymbolConstraints) FloorQuantity(qty float64) float64 {
	return floorToStep(decimal.NewFromFloat(qty), c.StepSize).InexactFloat64()
}

// ShiftTicks 价格移动 n 个 tick（n 可为负）。
func (c SymbolConstraints) ShiftTicks(price float64, n int) float64 {
	if c.TickSize <= 0 {
		return price
	}
	tick := decimal.NewFromFloat(c.TickSize)
	return decimal.NewFromFloat(price).Add(tick.Mul(decimal.NewFromInt(int64(n)))).InexactFloat64()
}

// Validate 检查订单价格/数量是否符合精度与最小名义。
func (c SymbolConstraints) Validate(price, qty float64) error {
	if c.TickSize > 0 && !isMultiple(price, c.TickSize) {
		return fmt.Errorf("price %.8f not aligned to tickSize %.8f", price, c.TickSize)
	}
	if c.StepSize > 0 && !isMultiple(qty, c.StepSize) {
		return fmt.Errorf("qty %.8f not aligned to stepSize %.8f", qty, c.StepSize)
	}
	if c.MinQty > 0 && qty < c.MinQty {
		return fmt.Errorf("qty %.8f < minQty %.8f", qty, c.MinQty)
	}
	if c.MaxQty > 0 && qty > c.MaxQty {
		return fmt.Errorf("qty %.8f > maxQty %.8f", qty, c.MaxQty)
	}
	if c.MinNotional > 0 && price > 0 && price*qty < c.MinNotional {
		return fmt.Errorf("notional %.8f < minNotional %.8f", price*qty, c.MinNotional)
	}
	return nil
}

func floorToStep(v decimal.Decimal, step float64) decimal.Decimal {
	if step <= 0 {
		return v
	}
	s := decimal.NewFromFloat(step)
	return v.Div(s).Floor().Mul(s)
}

func ceilToStep(v decimal.Decimal, step float64) decimal.Decimal {
	if step <= 0 {
		return v
	}
	s := decimal.NewFromFloat(step)
	return v.Div(s).Ceil().Mul(s)
}

func isMultiple(value, step float64) bool {
	if step <= 0 {
		return true
	}
	ratio := value / step
	return math.Abs(ratio-math.Round(ratio)) <= 1e-8
}
