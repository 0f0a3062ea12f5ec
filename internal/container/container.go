package container

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"position-engine/config"
	"position-engine/gateway"
	"position-engine/infrastructure/alert"
	"position-engine/infrastructure/logger"
	"position-engine/infrastructure/monitor"
	"position-engine/internal/engine"
	"position-engine/internal/execution"
	"position-engine/internal/ledger"
	"position-engine/metrics"
	"position-engine/order"
	"position-engine/risk"
	"position-engine/signals"
)

// quoteMaxAge 推送行情超过该时长视为过期，回退 REST。
const quoteMaxAge = 10 * time.Second

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg config.AppConfig

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager

	// 交易所网关
	exchange gateway.Exchange
	paper    *gateway.PaperExchange
	stream   *gateway.BookTickerStream

	// 核心服务
	controller *execution.Controller
	governor   *risk.Governor
	signals    *signals.FileTrigger
	engine     *engine.Engine
	scheduler  *engine.Scheduler

	// HTTP服务器
	metricsServer *http.Server

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 加载配置并创建 Container。
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewFromConfig(cfg), nil
}

// NewFromConfig 使用已校验的配置创建 Container。
func NewFromConfig(cfg config.AppConfig) *Container {
	return &Container{
		cfg:       cfg,
		lifecycle: NewLifecycleManager(),
	}
}

// Build 构建所有组件。实盘模式会请求交易所拉取交易对限制。
func (c *Container) Build(ctx context.Context) error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}

	c.buildGateway()

	if err := c.buildCoreServices(ctx); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}

	c.registerLifecycleComponents()
	c.logger.Info("container built",
		zap.String("env", c.cfg.Env),
		zap.String("symbol", c.cfg.Symbol.Name),
		zap.Bool("paper", c.cfg.Exchange.Paper))
	return nil
}

func (c *Container) buildInfrastructure() error {
	if c.logger == nil {
		var err error
		c.logger, err = logger.New(c.cfg.Log)
		if err != nil {
			return fmt.Errorf("create logger failed: %w", err)
		}
	}

	c.monitor = monitor.New(monitor.DefaultConfig())

	channels := []alert.Channel{alert.NewZapChannel("log", c.logger.Logger)}
	c.alerts = alert.NewManager(channels, time.Duration(c.cfg.Alert.ThrottleSec)*time.Second)
	return nil
}

func (c *Container) buildGateway() {
	ex := c.cfg.Exchange
	sym := c.cfg.Symbol

	if ex.Paper {
		c.paper = gateway.NewPaperExchange(gateway.PaperConfig{
			Symbol:     sym.Name,
			BaseAsset:  sym.Base,
			QuoteAsset: sym.Quote,
			MakerRate:  c.cfg.Fees.MakerRate,
			TakerRate:  c.cfg.Fees.TakerRate,
			Constraints: order.SymbolConstraints{
				Symbol:      sym.Name,
				TickSize:    sym.TickSize,
				StepSize:    sym.StepSize,
				MinQty:      sym.MinQty,
				MinNotional: sym.MinNotional,
			},
			StartQuote: c.cfg.Engine.StartEquity,
			AllowShort: c.cfg.Position.AllowShort,
		})
		c.exchange = c.paper
	} else {
		rest := gateway.NewBinanceRESTClient(ex.BaseURL, ex.APIKey, ex.APISecret)
		rest.RecvWindowMs = ex.RecvWindowMs
		rest.Limiter = gateway.NewTokenBucketLimiter(ex.RESTRate, ex.RESTBurst)
		c.exchange = rest
	}

	// paper 模式用公开行情驱动撮合；实盘用推送行情替代 REST 报价
	if ex.WSURL != "" {
		c.stream = gateway.NewBookTickerStream(ex.WSURL, sym.Name, c.logger.Logger)
		if c.paper != nil {
			paper := c.paper
			c.stream.OnQuote = func(q gateway.Quote) { paper.SetQuote(q.Bid, q.Ask) }
		} else {
			c.exchange = &gateway.StreamingExchange{Exchange: c.exchange, Stream: c.stream, MaxAge: quoteMaxAge}
		}
	} else if c.paper != nil {
		c.logger.Warn("paper mode without exchange.wsURL: quotes must be supplied externally")
	}
}

func (c *Container) buildCoreServices(ctx context.Context) error {
	params := EngineParams(c.cfg)

	c.controller = execution.New(c.exchange, params.Execution, c.logger, c.monitor)
	if err := c.controller.RefreshConstraints(ctx); err != nil {
		return fmt.Errorf("load market constraints: %w", err)
	}
	if c.stream != nil {
		ctrl, log := c.controller, c.logger
		c.stream.OnReconnect = func() {
			rctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := ctrl.RefreshConstraints(rctx); err != nil {
				log.LogError(err, map[string]interface{}{"op": "refresh_constraints", "action": "keeping cached constraints"})
			}
		}
	}

	c.governor = risk.NewGovernor(params.Risk, risk.NowUTC)

	var source signals.Source
	if c.cfg.Signal.File != "" {
		c.signals = signals.NewFileTrigger(c.cfg.Signal.File, c.cfg.Signal.OneShot, c.logger.Logger)
		if err := c.signals.Load(); err != nil {
			c.logger.Warn("signal file unreadable", zap.String("path", c.cfg.Signal.File), zap.Error(err))
		}
		source = c.signals
	} else {
		c.logger.Warn("no signal.file configured: engine will only manage existing exposure")
	}

	eng, err := engine.New(engine.Config{
		Symbol:     c.cfg.Symbol.Name,
		BaseAsset:  c.cfg.Symbol.Base,
		QuoteAsset: c.cfg.Symbol.Quote,
	}, params, engine.Components{
		Controller: c.controller,
		Governor:   c.governor,
		Signals:    source,
		Ledger:     ledger.NewLogLedger(c.logger),
		Alerts:     c.alerts,
		Logger:     c.logger,
		Monitor:    c.monitor,
		Clock:      risk.NowUTC,
	})
	if err != nil {
		return err
	}
	c.engine = eng
	c.scheduler = engine.NewScheduler(eng, time.Duration(c.cfg.Engine.PollIntervalMs)*time.Millisecond)
	return nil
}

func (c *Container) registerLifecycleComponents() {
	if c.stream != nil {
		c.lifecycle.Register(&taskComponent{name: "book_ticker_stream", run: c.stream.Run, logger: c.logger})
	}
	if c.signals != nil {
		c.lifecycle.Register(&taskComponent{
			name:   "signal_watcher",
			run:    func(ctx context.Context) error { return c.signals.Watch(ctx, nil) },
			logger: c.logger,
		})
	}
	if c.cfg.Metrics.Addr != "" {
		c.metricsServer = metrics.NewServer(c.cfg.Metrics.Addr, c.monitor.Registry(), c.HealthCheck)
		c.lifecycle.Register(&httpServerComponent{
			name:   "metrics_server",
			server: c.metricsServer,
			logger: c.logger,
		})
	}
}

// Start 启动后台组件（行情流、信号监听、指标服务）。
func (c *Container) Start(ctx context.Context) error {
	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	c.logger.Info("container started")
	return nil
}

// Run 阻塞运行调度循环直到 ctx 结束。onTick 每轮结束后调用，可为 nil。
func (c *Container) Run(ctx context.Context, onTick func()) error {
	c.scheduler.OnTick = onTick
	return c.scheduler.Run(ctx)
}

// Apply 热更新：可调参数在下一个 tick 生效，交易对与交易所配置需要重启。
func (c *Container) Apply(cfg config.AppConfig) error {
	if cfg.Symbol != c.cfg.Symbol || cfg.Exchange != c.cfg.Exchange {
		c.logger.Warn("symbol/exchange changes require restart; applying tunables only")
	}
	if err := c.engine.UpdateParams(EngineParams(cfg)); err != nil {
		return fmt.Errorf("update params: %w", err)
	}
	c.cfg.Position = cfg.Position
	c.cfg.Fees = cfg.Fees
	c.cfg.Risk = cfg.Risk
	c.cfg.Exit = cfg.Exit
	c.cfg.Execution = cfg.Execution
	return nil
}

// Stop 撤销挂单（flatten 时市价平仓），然后逆序停止组件。
func (c *Container) Stop(ctx context.Context, flatten bool) error {
	c.logger.Info("stopping container", zap.Bool("flatten", flatten))

	var errs []error
	if c.engine != nil {
		if err := c.engine.Shutdown(ctx, flatten); err != nil {
			c.logger.LogError(err, map[string]interface{}{"action": "engine shutdown"})
			errs = append(errs, err)
		}
	}
	if err := c.lifecycle.StopAll(); err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
		errs = append(errs, err)
	}
	_ = c.logger.Close()
	return errors.Join(errs...)
}

// HealthCheck 组件存活且行情未过期。
func (c *Container) HealthCheck() error {
	if err := c.lifecycle.CheckHealth(); err != nil {
		return err
	}
	if c.stream != nil {
		if _, ok := c.stream.Latest(quoteMaxAge, time.Now().UTC()); !ok {
			return errors.New("book ticker stale")
		}
	}
	return nil
}

// WithLogger 在 Build 前注入日志器，替代按配置创建。
func (c *Container) WithLogger(l *logger.Logger) *Container {
	c.logger = l
	return c
}

func (c *Container) Config() config.AppConfig { return c.cfg }

func (c *Container) Engine() *engine.Engine { return c.engine }

func (c *Container) Logger() *logger.Logger { return c.logger }

func (c *Container) Monitor() *monitor.Monitor { return c.monitor }

// Paper paper 模式下的模拟交易所，实盘为 nil。
func (c *Container) Paper() *gateway.PaperExchange { return c.paper }
