package config

import (
	"errors"
	"fmt"

	"position-engine/inventory"
)

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }

func invalid(format string, args ...interface{}) error {
	return ErrInvalid(fmt.Sprintf(format, args...))
}

// Validate 校验全部字段，返回所有问题的合并错误。
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Env == "" {
		add(invalid("env is required"))
	}
	add(validateExchange(cfg.Exchange))

	if cfg.Symbol.Name == "" || cfg.Symbol.Base == "" || cfg.Symbol.Quote == "" {
		add(invalid("symbol.name/base/quote is required"))
	}
	if cfg.Engine.PollIntervalMs <= 0 {
		add(invalid("engine.pollIntervalMs must be > 0"))
	}
	if cfg.Exchange.Paper {
		if cfg.Engine.StartEquity <= 0 {
			add(invalid("engine.startEquity must be > 0 in paper mode"))
		}
		if cfg.Symbol.TickSize <= 0 || cfg.Symbol.StepSize <= 0 {
			add(invalid("symbol.tickSize/stepSize must be > 0 in paper mode"))
		}
		if cfg.Symbol.MinQty < 0 || cfg.Symbol.MinNotional < 0 {
			add(invalid("symbol.minQty/minNotional must be >= 0"))
		}
	}

	if cfg.Position.TakeProfitPct <= 0 {
		add(invalid("position.takeProfitPct must be > 0"))
	}
	if cfg.Position.StopLossPct <= 0 || cfg.Position.StopLossPct >= 100 {
		add(invalid("position.stopLossPct must be in (0,100)"))
	}
	if _, err := inventory.NewLadder(cfg.Position.Ladder); err != nil {
		add(invalid("position.ladder: %v", err))
	}

	if cfg.Fees.MakerRate <= 0 || cfg.Fees.TakerRate <= 0 {
		add(invalid("fees.makerRate/takerRate must be > 0"))
	}
	if cfg.Fees.EdgeBuffer <= 1 {
		add(invalid("fees.edgeBuffer must be > 1"))
	}
	for name, role := range map[string]string{"entryRole": cfg.Fees.EntryRole, "exitRole": cfg.Fees.ExitRole} {
		if role != "maker" && role != "taker" {
			add(invalid("fees.%s must be maker or taker, got %q", name, role))
		}
	}

	if cfg.Risk.DailyLossLimit <= 0 || cfg.Risk.DailyLossLimit >= 1 {
		add(invalid("risk.dailyLossLimit must be in (0,1)"))
	}
	if cfg.Risk.MaxSpreadBps < 0 {
		add(invalid("risk.maxSpreadBps must be >= 0"))
	}
	if cfg.Risk.MaxConsecutiveLosses < 0 {
		add(invalid("risk.maxConsecutiveLosses must be >= 0"))
	}

	if cfg.Exit.TPToleranceBps < 0 || cfg.Exit.SLToleranceBps < 0 {
		add(invalid("exit tolerances must be >= 0"))
	}
	if cfg.Exit.MaxExitAttempts <= 0 {
		add(invalid("exit.maxExitAttempts must be > 0"))
	}

	add(validateExecution(cfg.Execution))

	if cfg.Alert.ThrottleSec < 0 {
		add(invalid("alert.throttleSec must be >= 0"))
	}
	return errors.Join(errs...)
}

func validateExchange(ex ExchangeConfig) error {
	if ex.Paper {
		return nil
	}
	var errs []error
	if ex.APIKey == "" || ex.APISecret == "" {
		errs = append(errs, invalid("exchange.apiKey/apiSecret is required (or PE_API_KEY/PE_API_SECRET)"))
	}
	if ex.RESTRate <= 0 || ex.RESTBurst <= 0 {
		errs = append(errs, invalid("exchange.restRate/restBurst must be > 0"))
	}
	if ex.RecvWindowMs < 0 {
		errs = append(errs, invalid("exchange.recvWindowMs must be >= 0"))
	}
	return errors.Join(errs...)
}

func validateExecution(ex ExecutionConfig) error {
	var errs []error
	if ex.PriceImprovePct < 0 || ex.PriceImprovePct >= 1 {
		errs = append(errs, invalid("execution.priceImprovePct must be in [0,1)"))
	}
	if ex.ChaseMs < 0 {
		errs = append(errs, invalid("execution.chaseMs must be >= 0"))
	}
	if ex.MakerTimeoutMs <= 0 {
		errs = append(errs, invalid("execution.makerTimeoutMs must be > 0"))
	}
	if ex.StatusPollMs <= 0 {
		errs = append(errs, invalid("execution.statusPollMs must be > 0"))
	}
	if ex.MakerRetries <= 0 || ex.RetryAttempts <= 0 {
		errs = append(errs, invalid("execution.makerRetries/retryAttempts must be > 0"))
	}
	if ex.RetryBackoffMs < 0 {
		errs = append(errs, invalid("execution.retryBackoffMs must be >= 0"))
	}
	return errors.Join(errs...)
}
