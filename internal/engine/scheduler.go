package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Scheduler 固定周期驱动引擎：构建快照后调用 Tick。tick 本身阻塞期间不会重入。
type Scheduler struct {
	engine   *Engine
	interval time.Duration
	// OnTick 每轮结束后回调（如 systemd watchdog 心跳）
	OnTick func()
}

func NewScheduler(e *Engine, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Scheduler{engine: e, interval: interval}
}

// Run 阻塞直到 ctx 结束。启动时立即执行一轮。
func (s *Scheduler) Run(ctx context.Context) error {
	s.engine.log.Info("scheduler starting",
		zap.String("symbol", s.engine.config.Symbol),
		zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.once(ctx)
	for {
		select {
		case <-ctx.Done():
			s.engine.log.Info("scheduler stopped", zap.Error(ctx.Err()))
			return ctx.Err()
		case <-ticker.C:
			s.once(ctx)
		}
	}
}

func (s *Scheduler) once(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	snap, err := s.engine.BuildSnapshot(ctx)
	if err != nil {
		s.engine.log.LogError(err, map[string]interface{}{"op": "build_snapshot", "action": "tick skipped"})
	} else {
		s.engine.Tick(ctx, snap)
	}
	if s.OnTick != nil {
		s.OnTick()
	}
}
