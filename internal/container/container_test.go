package container

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"position-engine/config"
	"position-engine/infrastructure/logger"
	"position-engine/inventory"
	"position-engine/order"
)

func paperConfig(t *testing.T, signal string) config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Exchange = config.ExchangeConfig{Paper: true}
	cfg.Symbol = config.SymbolConfig{
		Name: "BTCUSDT", Base: "BTC", Quote: "USDT",
		TickSize: 0.01, StepSize: 0.001, MinQty: 0.001, MinNotional: 5,
	}
	cfg.Engine.StartEquity = 1000
	cfg.Execution.ChaseMs = 0
	cfg.Execution.MakerTimeoutMs = 50
	cfg.Execution.StatusPollMs = 10
	cfg.Execution.RetryBackoffMs = 1
	if signal != "" {
		path := filepath.Join(t.TempDir(), "signal")
		require.NoError(t, os.WriteFile(path, []byte(signal), 0o644))
		cfg.Signal.File = path
	}
	require.NoError(t, config.Validate(cfg))
	return cfg
}

func buildPaper(t *testing.T, cfg config.AppConfig) (*Container, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	c := NewFromConfig(cfg).WithLogger(logger.NewWithCore(core))
	require.NoError(t, c.Build(context.Background()))
	return c, logs
}

func TestEngineParams(t *testing.T) {
	cfg := config.Default()
	cfg.Symbol.Name = "ETHUSDT"
	cfg.Fees.ExitRole = "taker"
	cfg.Risk.MaxConsecutiveLosses = 2

	p := EngineParams(cfg)
	require.NoError(t, p.Validate())
	assert.Equal(t, 4.9, p.TakeProfitPct)
	assert.Equal(t, inventory.Ladder{0.70, 0.75, 0.80}, p.Ladder)
	assert.Equal(t, "ETHUSDT", p.Execution.Symbol)
	assert.Equal(t, 10*time.Second, p.Execution.ChaseDuration)
	assert.Equal(t, 20*time.Second, p.Execution.MakerTimeout)
	assert.Equal(t, time.Second, p.Execution.PollInterval)
	assert.Equal(t, 500*time.Millisecond, p.Execution.RetryBackoff)
	assert.Equal(t, order.RoleMaker, p.Risk.EntryRole)
	assert.Equal(t, order.RoleTaker, p.Risk.ExitRole)
	assert.Equal(t, 2, p.Risk.MaxConsecutiveLosses)

	// 参数切片与配置互不影响
	p.Ladder[0] = 0.1
	assert.Equal(t, 0.70, cfg.Position.Ladder[0])
}

func TestBuildPaperRunsOneTick(t *testing.T) {
	c, logs := buildPaper(t, paperConfig(t, "long"))
	require.NotNil(t, c.Paper())
	c.Paper().SetQuote(100, 100.1)

	ctx, cancel := context.WithCancel(context.Background())
	err := c.Run(ctx, cancel)
	assert.ErrorIs(t, err, context.Canceled)

	// 挂单未成交：回到 FLAT，资金释放
	orders := c.Paper().Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, order.SideBuy, orders[0].Side)
	assert.InDelta(t, 99.98, orders[0].Price, 0.011)
	assert.Equal(t, inventory.StateFlat, c.Engine().Position().State)
	assert.InDelta(t, 1000, c.Paper().Balance("USDT"), 1e-9)

	var transitions []string
	for _, e := range logs.FilterMessage("state_transition").All() {
		m := e.ContextMap()
		transitions = append(transitions, fmt.Sprintf("%v->%v", m["from"], m["to"]))
	}
	assert.Equal(t, []string{"FLAT->STAGING", "STAGING->FLAT"}, transitions)
	assert.Equal(t, 1000.0, c.Engine().RiskState().DayStartEquity)
}

func TestBuildWithoutSignalStaysFlat(t *testing.T) {
	c, _ := buildPaper(t, paperConfig(t, ""))
	c.Paper().SetQuote(100, 100.1)

	ctx, cancel := context.WithCancel(context.Background())
	_ = c.Run(ctx, cancel)
	assert.Empty(t, c.Paper().Orders())
	assert.Equal(t, inventory.StateFlat, c.Engine().Position().State)
}

func TestApply(t *testing.T) {
	c, logs := buildPaper(t, paperConfig(t, ""))

	next := c.Config()
	next.Position.TakeProfitPct = 3
	require.NoError(t, c.Apply(next))
	assert.Equal(t, 3.0, c.Config().Position.TakeProfitPct)

	bad := c.Config()
	bad.Position.Ladder = []float64{0.9, 0.5}
	assert.Error(t, c.Apply(bad))
	assert.Equal(t, []float64{0.70, 0.75, 0.80}, c.Config().Position.Ladder)

	moved := c.Config()
	moved.Symbol.Name = "ETHUSDT"
	require.NoError(t, c.Apply(moved))
	assert.Equal(t, 1, logs.FilterMessageSnippet("require restart").Len())
	assert.Equal(t, "BTCUSDT", c.Config().Symbol.Name)
}

func TestStartStop(t *testing.T) {
	c, _ := buildPaper(t, paperConfig(t, "none"))
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	assert.NoError(t, c.HealthCheck())
	assert.NoError(t, c.Stop(ctx, true))
	assert.Error(t, c.HealthCheck())
}

func TestBuildRejectsMissingSymbol(t *testing.T) {
	cfg := paperConfig(t, "")
	c := NewFromConfig(cfg).WithLogger(logger.NewNop())
	c.cfg.Symbol.Name = ""
	err := c.Build(context.Background())
	assert.Error(t, err)
}

type fakeComponent struct {
	name     string
	startErr error
	started  bool
	stopped  bool
}

func (f *fakeComponent) Name() string { return f.name }

func (f *fakeComponent) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeComponent) Stop() error {
	f.stopped = true
	return nil
}

func (f *fakeComponent) Health() error {
	if !f.started {
		return errors.New("down")
	}
	return nil
}

func TestLifecycleRollsBackOnStartFailure(t *testing.T) {
	m := NewLifecycleManager()
	a := &fakeComponent{name: "a"}
	b := &fakeComponent{name: "b", startErr: errors.New("boom")}
	m.Register(a)
	m.Register(b)

	err := m.StartAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start b failed")
	assert.True(t, a.stopped, "已启动组件应回滚")
	assert.ErrorContains(t, m.CheckHealth(), "b unhealthy")
}

func TestTaskComponent(t *testing.T) {
	exited := make(chan struct{})
	task := &taskComponent{
		name:   "flaky",
		logger: logger.NewNop(),
		run: func(ctx context.Context) error {
			defer close(exited)
			return errors.New("connection lost")
		},
	}
	assert.Error(t, task.Health(), "未启动")
	require.NoError(t, task.Start(context.Background()))
	<-exited
	assert.Eventually(t, func() bool { return task.Health() != nil }, time.Second, 5*time.Millisecond)
	assert.ErrorContains(t, task.Health(), "connection lost")
	assert.NoError(t, task.Stop())

	blocking := &taskComponent{
		name:   "blocking",
		logger: logger.NewNop(),
		run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	require.NoError(t, blocking.Start(context.Background()))
	assert.NoError(t, blocking.Health())
	assert.NoError(t, blocking.Stop())
	assert.Error(t, blocking.Health())
}
