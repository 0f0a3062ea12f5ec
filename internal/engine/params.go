package engine

import (
	"errors"
	"fmt"

	"position-engine/internal/execution"
	"position-engine/inventory"
	"position-engine/order"
	"position-engine/risk"
)

// Params 可热更新的引擎参数，在下一个 tick 开始时生效。
// TP/SL 百分比在开仓时锁定到 Position，更新不影响已开仓位。
type Params struct {
	TakeProfitPct float64 // 4.9 表示 4.9%
	StopLossPct   float64
	Ladder        inventory.Ladder
	// AlwaysStage 为 false 时，追加阶梯只在信号与持仓方向一致的轮次下单
	AlwaysStage bool
	AllowShort  bool

	TPToleranceBps float64
	SLToleranceBps float64
	// MaxExitAttempts maker 平仓尝试次数，用尽后转市价
	MaxExitAttempts int

	Execution execution.Config
	Risk      risk.Config
}

// DefaultParams 默认参数。
func DefaultParams() Params {
	return Params{
		TakeProfitPct:   4.9,
		StopLossPct:     13.44,
		Ladder:          inventory.Ladder{0.70, 0.75, 0.80},
		AlwaysStage:     true,
		TPToleranceBps:  5,
		SLToleranceBps:  5,
		MaxExitAttempts: 3,
		Execution:       execution.DefaultConfig(),
		Risk: risk.Config{
			DailyLossLimit: 0.06,
			MakerRate:      0.001,
			TakerRate:      0.001,
			EdgeBuffer:     1.5,
			EntryRole:      order.RoleMaker,
			ExitRole:       order.RoleMaker,
		},
	}
}

// Validate 参数合法性。
func (p Params) Validate() error {
	var errs []error
	if p.TakeProfitPct <= 0 {
		errs = append(errs, fmt.Errorf("takeProfitPct must be > 0, got %v", p.TakeProfitPct))
	}
	if p.StopLossPct <= 0 || p.StopLossPct >= 100 {
		errs = append(errs, fmt.Errorf("stopLossPct must be in (0,100), got %v", p.StopLossPct))
	}
	if _, err := inventory.NewLadder(p.Ladder); err != nil {
		errs = append(errs, err)
	}
	if p.TPToleranceBps < 0 || p.SLToleranceBps < 0 {
		errs = append(errs, errors.New("tolerance bps must be >= 0"))
	}
	if p.MaxExitAttempts <= 0 {
		errs = append(errs, fmt.Errorf("maxExitAttempts must be > 0, got %d", p.MaxExitAttempts))
	}
	if p.Execution.MakerTimeout <= 0 {
		errs = append(errs, errors.New("execution makerTimeout must be > 0"))
	}
	return errors.Join(errs...)
}
