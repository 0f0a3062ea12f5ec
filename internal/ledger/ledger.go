package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"position-engine/infrastructure/logger"
)

// Trade 一笔完整的开平仓记录。只追加，不修改。
type Trade struct {
	Timestamp   time.Time
	Symbol      string
	Side        string
	EntryPrice  float64
	ExitPrice   float64
	Quantity    float64
	Fees        float64
	RealizedPnL float64
	EquityAfter float64
	ExitReason  string
	OpenedAt    time.Time
}

// Ledger 成交记录协作者。写入失败由调用方记录日志，不得阻塞仓位状态转换。
type Ledger interface {
	RecordTrade(ctx context.Context, t Trade) error
}

// Func 函数适配器。
type Func func(ctx context.Context, t Trade) error

func (f Func) RecordTrade(ctx context.Context, t Trade) error { return f(ctx, t) }

// LogLedger 以结构化日志追加交易记录。
type LogLedger struct {
	log *logger.Logger
}

func NewLogLedger(log *logger.Logger) *LogLedger {
	if log == nil {
		log = logger.NewNop()
	}
	return &LogLedger{log: log}
}

func (l *LogLedger) RecordTrade(ctx context.Context, t Trade) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.log.Info("ledger_trade",
		zap.Time("ts", t.Timestamp),
		zap.String("symbol", t.Symbol),
		zap.String("side", t.Side),
		zap.Float64("entry_price", t.EntryPrice),
		zap.Float64("exit_price", t.ExitPrice),
		zap.Float64("qty", t.Quantity),
		zap.Float64("fees", t.Fees),
		zap.Float64("realized_pnl", t.RealizedPnL),
		zap.Float64("equity_after", t.EquityAfter),
		zap.String("exit_reason", t.ExitReason),
		zap.Duration("held", t.Timestamp.Sub(t.OpenedAt)))
	return nil
}

// Memory 内存账本，供 paper 模式汇总与测试。
type Memory struct {
	mu     sync.Mutex
	trades []Trade
}

func (m *Memory) RecordTrade(ctx context.Context, t Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, t)
	return nil
}

// Trades 返回已记录交易的副本。
func (m *Memory) Trades() []Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Trade, len(m.trades))
	copy(out, m.trades)
	return out
}

// Multi 扇出到多个账本；单个失败不影响其他账本，错误合并返回。
type Multi []Ledger

func (m Multi) RecordTrade(ctx context.Context, t Trade) error {
	var errs []error
	for i, l := range m {
		if l == nil {
			continue
		}
		if err := l.RecordTrade(ctx, t); err != nil {
			errs = append(errs, fmt.Errorf("ledger %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
