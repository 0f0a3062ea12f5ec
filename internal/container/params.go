package container

import (
	"time"

	"position-engine/config"
	"position-engine/internal/engine"
	"position-engine/internal/execution"
	"position-engine/inventory"
	"position-engine/order"
	"position-engine/risk"
)

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// EngineParams 配置文件到引擎可热更新参数的映射。
func EngineParams(cfg config.AppConfig) engine.Params {
	return engine.Params{
		TakeProfitPct:   cfg.Position.TakeProfitPct,
		StopLossPct:     cfg.Position.StopLossPct,
		Ladder:          inventory.Ladder(append([]float64(nil), cfg.Position.Ladder...)),
		AlwaysStage:     cfg.Position.AlwaysStage,
		AllowShort:      cfg.Position.AllowShort,
		TPToleranceBps:  cfg.Exit.TPToleranceBps,
		SLToleranceBps:  cfg.Exit.SLToleranceBps,
		MaxExitAttempts: cfg.Exit.MaxExitAttempts,
		Execution: execution.Config{
			Symbol:          cfg.Symbol.Name,
			MakerRetries:    cfg.Execution.MakerRetries,
			PriceImprovePct: cfg.Execution.PriceImprovePct,
			ChaseDuration:   ms(cfg.Execution.ChaseMs),
			MakerTimeout:    ms(cfg.Execution.MakerTimeoutMs),
			PollInterval:    ms(cfg.Execution.StatusPollMs),
			RetryAttempts:   cfg.Execution.RetryAttempts,
			RetryBackoff:    ms(cfg.Execution.RetryBackoffMs),
		},
		Risk: risk.Config{
			DailyLossLimit:       cfg.Risk.DailyLossLimit,
			MakerRate:            cfg.Fees.MakerRate,
			TakerRate:            cfg.Fees.TakerRate,
			EdgeBuffer:           cfg.Fees.EdgeBuffer,
			EntryRole:            order.Role(cfg.Fees.EntryRole),
			ExitRole:             order.Role(cfg.Fees.ExitRole),
			MaxSpreadBps:         cfg.Risk.MaxSpreadBps,
			MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
		},
	}
}
