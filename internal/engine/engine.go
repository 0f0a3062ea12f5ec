package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"position-engine/gateway"
	"position-engine/infrastructure/alert"
	"position-engine/infrastructure/logger"
	"position-engine/infrastructure/monitor"
	"position-engine/internal/execution"
	"position-engine/internal/ledger"
	"position-engine/inventory"
	"position-engine/risk"
	"position-engine/signals"
)

// fillLookback 拉取成交时向前多看的时间，吸收交易所时间戳与本地时钟的偏差。
const fillLookback = time.Minute

// Config 引擎静态配置
type Config struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
}

// Components 引擎依赖组件
type Components struct {
	Controller *execution.Controller
	Governor   *risk.Governor
	Signals    signals.Source
	Ledger     ledger.Ledger
	Alerts     alert.Notifier
	Logger     *logger.Logger
	Monitor    *monitor.Monitor
	Clock      risk.Clock
}

// Snapshot 单个 tick 的输入：行情、权益与信号。
type Snapshot struct {
	Time    time.Time
	Quote   gateway.Quote
	Equity  float64
	Trigger signals.Trigger
}

// Engine 单仓位生命周期状态机。Position 与 RiskState 只在 Tick 内被修改。
type Engine struct {
	config Config

	ctrl    *execution.Controller
	gov     *risk.Governor
	signals signals.Source
	ledger  ledger.Ledger
	alerts  alert.Notifier
	log     *logger.Logger
	mon     *monitor.Monitor
	clock   risk.Clock

	tickMu sync.Mutex
	params Params
	pos    *inventory.Position
	risk   risk.RiskState

	exitAttempts  int
	stagingTicks  int
	stagingFilled float64
	started       bool

	pendingMu sync.Mutex
	pending   *Params
}

// New 创建引擎
func New(cfg Config, params Params, c Components) (*Engine, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := validateComponents(c); err != nil {
		return nil, fmt.Errorf("invalid components: %w", err)
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if c.Logger == nil {
		c.Logger = logger.NewNop()
	}
	if c.Clock == nil {
		c.Clock = risk.NowUTC
	}
	if c.Ledger == nil {
		c.Ledger = ledger.NewLogLedger(c.Logger)
	}
	e := &Engine{
		config:  cfg,
		ctrl:    c.Controller,
		gov:     c.Governor,
		signals: c.Signals,
		ledger:  c.Ledger,
		alerts:  c.Alerts,
		log:     c.Logger,
		mon:     c.Monitor,
		clock:   c.Clock,
		params:  params,
		pos:     inventory.NewPosition(cfg.Symbol),
	}
	e.gov.SetConfig(params.Risk)
	e.ctrl.SetConfig(params.Execution)
	return e, nil
}

// UpdateParams 登记新参数，下一个 tick 开始时生效。
func (e *Engine) UpdateParams(p Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	e.pending = &p
	return nil
}

func (e *Engine) applyPending() {
	e.pendingMu.Lock()
	p := e.pending
	e.pending = nil
	e.pendingMu.Unlock()
	if p == nil {
		return
	}
	e.params = *p
	e.gov.SetConfig(p.Risk)
	e.ctrl.SetConfig(p.Execution)
	e.log.Info("params applied",
		zap.Float64("tp_pct", p.TakeProfitPct),
		zap.Float64("sl_pct", p.StopLossPct),
		zap.Float64s("ladder", p.Ladder),
		zap.Float64("daily_loss_limit", p.Risk.DailyLossLimit))
}

// Position 当前仓位快照（副本）。
func (e *Engine) Position() inventory.Position {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	return *e.pos
}

// RiskState 当前风控状态（副本）。
func (e *Engine) RiskState() risk.RiskState {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()
	return e.risk
}

// BuildSnapshot 读取行情、余额与信号。信号源出错按无信号处理。
func (e *Engine) BuildSnapshot(ctx context.Context) (Snapshot, error) {
	q, err := e.ctrl.Quote(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("quote: %w", err)
	}
	bals, err := e.ctrl.Balances(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("balances: %w", err)
	}
	snap := Snapshot{
		Time:   e.clock.Now(),
		Quote:  q,
		Equity: Equity(bals, e.config.BaseAsset, e.config.QuoteAsset, q.Mid()),
	}
	if e.signals != nil {
		trig, err := e.signals.Poll(ctx, signals.MarketData{Symbol: e.config.Symbol, Bid: q.Bid, Ask: q.Ask, Time: snap.Time})
		if err != nil {
			e.log.LogError(err, map[string]interface{}{"op": "signal_poll", "action": "treated as no signal"})
		} else {
			snap.Trigger = trig
		}
	}
	return snap, nil
}

// Equity 报价币余额加 base 余额按 mid 估值。
func Equity(bals map[string]gateway.Balance, base, quote string, mid float64) float64 {
	return bals[quote].Total() + bals[base].Total()*mid
}

// Tick 推进一次状态机。任何错误都只影响本轮，panic 被恢复并记录。
func (e *Engine) Tick(ctx context.Context, snap Snapshot) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.mon.RecordTickPanic()
			e.log.LogError(fmt.Errorf("tick panic: %v", r), map[string]interface{}{
				"action": "tick aborted",
				"state":  string(e.pos.State),
				"stack":  string(debug.Stack()),
			})
		}
		e.mon.RecordTickLatency(time.Since(start).Seconds())
	}()

	e.applyPending()
	if !snap.Quote.Valid() {
		e.log.LogError(risk.ErrNoQuote, map[string]interface{}{"action": "tick skipped", "bid": snap.Quote.Bid, "ask": snap.Quote.Ask})
		return
	}
	e.mon.UpdateBidAsk(snap.Quote.Bid, snap.Quote.Ask)
	e.updateRisk(snap)
	e.syncFills(ctx)

	switch e.pos.State {
	case inventory.StateFlat:
		e.onFlat(ctx, snap)
	case inventory.StateStaging:
		e.onStaging(ctx, snap)
	case inventory.StateOpen:
		e.onOpen(ctx, snap)
	case inventory.StateExiting:
		e.onExiting(ctx, snap)
	}
	e.publishPosition()
}

func (e *Engine) updateRisk(snap Snapshot) {
	if !e.started {
		e.gov.Init(snap.Equity, &e.risk)
		e.started = true
	} else if e.gov.Roll(snap.Time, snap.Equity, &e.risk) {
		e.log.LogRisk("day_rolled", map[string]interface{}{"day": e.risk.Day, "day_start_equity": snap.Equity})
	}
	wasHalted := e.risk.Halted
	halted := e.gov.CheckDailyHalt(snap.Equity, &e.risk)
	ret := 0.0
	if e.risk.DayStartEquity > 0 {
		ret = (snap.Equity - e.risk.DayStartEquity) / e.risk.DayStartEquity
	}
	if halted && !wasHalted {
		limit := e.gov.Config().DailyLossLimit
		e.log.LogRisk("daily_halt", map[string]interface{}{
			"day": e.risk.Day, "equity": snap.Equity, "day_start_equity": e.risk.DayStartEquity,
			"daily_return": ret, "limit": limit,
		})
		e.notify(alert.DailyHalt(e.risk.Day, ret, limit))
	}
	e.mon.UpdateRisk(snap.Equity, ret, halted)
}

func (e *Engine) notify(a alert.Alert) {
	if e.alerts == nil {
		return
	}
	if err := e.alerts.Notify(a); err != nil {
		e.log.Warn("alert delivery failed", zap.String("event", a.Event), zap.Error(err))
	}
}

func (e *Engine) publishPosition() {
	e.mon.UpdatePosition(stateCode(e.pos.State), e.pos.Remaining(), e.pos.EntryVWAP)
}

func stateCode(s inventory.State) int {
	switch s {
	case inventory.StateStaging:
		return 1
	case inventory.StateOpen:
		return 2
	case inventory.StateExiting:
		return 3
	case inventory.StateClosed:
		return 4
	}
	return 0
}

// transition 执行仓位状态转换并输出一行 state_transition。
func (e *Engine) transition(to inventory.State, fields map[string]interface{}) error {
	from := e.pos.State
	if err := e.pos.Transition(to); err != nil {
		e.log.LogError(err, map[string]interface{}{"action": "transition rejected", "from": string(from), "to": string(to)})
		return err
	}
	e.log.LogTransition(string(from), string(to), e.positionFields(fields))
	return nil
}

func (e *Engine) positionFields(extra map[string]interface{}) map[string]interface{} {
	f := map[string]interface{}{
		"symbol":     e.config.Symbol,
		"side":       string(e.pos.Side),
		"qty":        e.pos.Remaining(),
		"entry_vwap": e.pos.EntryVWAP,
		"tp":         e.pos.TakeProfitPrice,
		"sl":         e.pos.StopLossPrice,
	}
	for k, v := range extra {
		f[k] = v
	}
	return f
}

// Shutdown 撤销所有挂单；flatten 为 true 且有持仓时市价平仓。
func (e *Engine) Shutdown(ctx context.Context, flatten bool) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	var errs []error
	if err := e.ctrl.CancelAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("cancel all: %w", err))
	}
	if flatten && e.pos.HasExposure() {
		q, err := e.ctrl.Quote(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("quote: %w", err))
			return errors.Join(errs...)
		}
		if e.pos.State != inventory.StateExiting {
			if e.pos.State == inventory.StateStaging {
				_ = e.transition(inventory.StateOpen, nil)
			}
			e.pos.ExitReason = string(risk.ExitShutdown)
			_ = e.transition(inventory.StateExiting, map[string]interface{}{"reason": e.pos.ExitReason})
		}
		snap := Snapshot{Time: e.clock.Now(), Quote: q}
		e.exitMarket(ctx, snap, "shutdown")
		e.finishIfExited(ctx, snap)
		if e.pos.HasExposure() {
			errs = append(errs, fmt.Errorf("position still open: %v remaining", e.pos.Remaining()))
		}
	}
	e.log.Info("engine shutdown", zap.String("state", string(e.pos.State)), zap.Bool("flatten", flatten))
	return errors.Join(errs...)
}

// validateConfig 验证配置
func validateConfig(cfg Config) error {
	if cfg.Symbol == "" {
		return errors.New("symbol is required")
	}
	if cfg.BaseAsset == "" || cfg.QuoteAsset == "" {
		return errors.New("base and quote assets are required")
	}
	return nil
}

// validateComponents 验证组件
func validateComponents(c Components) error {
	if c.Controller == nil {
		return errors.New("controller is required")
	}
	if c.Governor == nil {
		return errors.New("governor is required")
	}
	return nil
}
