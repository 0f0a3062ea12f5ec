package execution

import (
	"context"
	"time"

	"go.uber.org/zap"

	"position-engine/gateway"
)

// Sleeper 可注入的等待函数，测试中替换为推进假时钟。
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext 真实等待，ctx 取消时提前返回。
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// withRetry 仅对网络/限流错误按固定间隔重试，其余错误立即返回。
// 调用方负责让重试保持幂等（下单沿用同一个 ClientID）。
func (c *Controller) withRetry(ctx context.Context, op string, fn func() error) error {
	cfg := c.Config()
	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil || !gateway.IsTransient(err) {
			return err
		}
		c.mon.RecordExchangeRetry(op)
		c.log.Warn("transient exchange error",
			zap.String("op", op),
			zap.Int("attempt", i),
			zap.Int("max_attempts", attempts),
			zap.Error(err))
		if i == attempts {
			break
		}
		if serr := c.sleep(ctx, cfg.RetryBackoff); serr != nil {
			return serr
		}
	}
	return err
}
