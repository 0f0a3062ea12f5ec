package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"position-engine/order"
)

// Config 风控参数。
type Config struct {
	DailyLossLimit       float64 // 0.06 表示单日亏损 6% 停止开仓
	MakerRate            float64
	TakerRate            float64
	EdgeBuffer           float64 // >1
	EntryRole            order.Role
	ExitRole             order.Role
	MaxSpreadBps         float64 // 0 关闭
	MaxConsecutiveLosses int     // 0 关闭
}

// RiskState 进程级风控状态，按 UTC 日重置，只由 Governor 修改。
type RiskState struct {
	Day               string
	DayStartEquity    float64
	Halted            bool
	ConsecutiveLosses int
	DailyPnL          float64
	Trades            int
}

// Governor 日内回撤熔断与手续费门槛。
type Governor struct {
	cfg   Config
	clock Clock
}

func NewGovernor(cfg Config, clock Clock) *Governor {
	if clock == nil {
		clock = NowUTC
	}
	return &Governor{cfg: cfg, clock: clock}
}

// Config 当前参数。
func (g *Governor) Config() Config { return g.cfg }

// SetConfig 热更新参数，状态不变。
func (g *Governor) SetConfig(cfg Config) { g.cfg = cfg }

// Init 引擎启动时初始化当日基准。
func (g *Governor) Init(equity float64, st *RiskState) {
	*st = RiskState{Day: DayKey(g.clock.Now()), DayStartEquity: equity}
}

// Roll 日期变化时重置基准与熔断，返回是否发生了换日。
func (g *Governor) Roll(now time.Time, equity float64, st *RiskState) bool {
	day := DayKey(now)
	if st.Day == day {
		return false
	}
	*st = RiskState{Day: day, DayStartEquity: equity}
	return true
}

// CheckDailyHalt 当日收益率 <= -DailyLossLimit 时置 Halted。熔断后当日不再解除。
func (g *Governor) CheckDailyHalt(equity float64, st *RiskState) bool {
	if st.Halted {
		return true
	}
	if st.DayStartEquity <= 0 || g.cfg.DailyLossLimit <= 0 {
		return false
	}
	start := decimal.NewFromFloat(st.DayStartEquity)
	ret := decimal.NewFromFloat(equity).Sub(start).Div(start)
	if ret.LessThanOrEqual(decimal.NewFromFloat(g.cfg.DailyLossLimit).Neg()) {
		st.Halted = true
	}
	return st.Halted
}

// CheckFeeEdge 预期毛利必须严格大于 fee*buffer。
func CheckFeeEdge(expectedGrossProfit, roundTripFee, buffer float64) bool {
	gross := decimal.NewFromFloat(expectedGrossProfit)
	need := decimal.NewFromFloat(roundTripFee).Mul(decimal.NewFromFloat(buffer))
	return gross.GreaterThan(need)
}

// FeeRate 按角色取费率。
func (g *Governor) FeeRate(role order.Role) float64 {
	if role == order.RoleMaker {
		return g.cfg.MakerRate
	}
	return g.cfg.TakerRate
}

// RoundTripFee 开平双边手续费估计。
func (g *Governor) RoundTripFee(notional float64, entryRole, exitRole order.Role) float64 {
	return notional * (g.FeeRate(entryRole) + g.FeeRate(exitRole))
}

// FeeEdgeOK 以止盈幅度作为预期毛利做门槛检查。
func (g *Governor) FeeEdgeOK(notional, takeProfitPct float64) (gross, fee float64, ok bool) {
	gross = notional * takeProfitPct / 100
	fee = g.RoundTripFee(notional, g.cfg.EntryRole, g.cfg.ExitRole)
	return gross, fee, CheckFeeEdge(gross, fee, g.cfg.EdgeBuffer)
}

// RecordTrade 记录一笔已平仓交易的净盈亏。
func (g *Governor) RecordTrade(pnl float64, st *RiskState) {
	st.Trades++
	st.DailyPnL += pnl
	if pnl < 0 {
		st.ConsecutiveLosses++
	} else {
		st.ConsecutiveLosses = 0
	}
}

// AllowEntry 熔断与连亏门槛。
func (g *Governor) AllowEntry(st *RiskState) error {
	if st.Halted {
		return ErrHalted
	}
	if g.cfg.MaxConsecutiveLosses > 0 && st.ConsecutiveLosses >= g.cfg.MaxConsecutiveLosses {
		return ErrLossStreak
	}
	return nil
}

// SpreadOK 点差过滤。
func (g *Governor) SpreadOK(bid, ask float64) error {
	if bid <= 0 || ask <= 0 || ask < bid {
		return ErrNoQuote
	}
	if g.cfg.MaxSpreadBps <= 0 {
		return nil
	}
	mid := (bid + ask) / 2
	if (ask-bid)/mid*10000 > g.cfg.MaxSpreadBps {
		return ErrSpreadTooWide
	}
	return nil
}
