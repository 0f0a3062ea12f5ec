package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"position-engine/gateway"
	"position-engine/infrastructure/logger"
	"position-engine/infrastructure/monitor"
	"position-engine/order"
)

// Config 执行参数。
type Config struct {
	Symbol string
	// MakerRetries post-only 下单总尝试次数，每次穿价后调整一个 tick
	MakerRetries    int
	PriceImprovePct float64
	ChaseDuration   time.Duration
	MakerTimeout    time.Duration
	PollInterval    time.Duration
	RetryAttempts   int
	RetryBackoff    time.Duration
}

// DefaultConfig 默认执行参数。
func DefaultConfig() Config {
	return Config{
		MakerRetries:    3,
		PriceImprovePct: 0.0002,
		ChaseDuration:   10 * time.Second,
		MakerTimeout:    20 * time.Second,
		PollInterval:    time.Second,
		RetryAttempts:   3,
		RetryBackoff:    500 * time.Millisecond,
	}
}

// MakerRequest post-only 下单请求，Price 为目标价（下单前按 tick 向下取整）。
type MakerRequest struct {
	Side       order.Side
	Quantity   float64
	Price      float64
	Intent     order.Intent
	ReduceOnly bool
}

// Controller 订单执行控制器。订单在其生命周期内只由控制器持有。
type Controller struct {
	ex     gateway.Exchange
	symbol string
	cfg    Config
	orders *order.Manager
	log    *logger.Logger
	mon    *monitor.Monitor
	now    func() time.Time
	sleep  Sleeper

	mu          sync.RWMutex
	constraints order.SymbolConstraints
}

// New 创建控制器；log/mon 可为 nil。
func New(ex gateway.Exchange, cfg Config, log *logger.Logger, mon *monitor.Monitor) *Controller {
	if log == nil {
		log = logger.NewNop()
	}
	return &Controller{
		ex:     ex,
		symbol: cfg.Symbol,
		cfg:    cfg,
		orders: order.NewManager(),
		log:    log,
		mon:    mon,
		now:    time.Now,
		sleep:  SleepContext,
	}
}

// WithClock 注入时间源与等待函数。
func (c *Controller) WithClock(now func() time.Time, sleep Sleeper) *Controller {
	if now != nil {
		c.now = now
	}
	if sleep != nil {
		c.sleep = sleep
	}
	return c
}

// Config 当前执行参数。
func (c *Controller) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// SetConfig 热更新执行参数（Symbol 不变）。
func (c *Controller) SetConfig(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg.Symbol = c.symbol
	c.cfg = cfg
}

// Orders 订单登记表。
func (c *Controller) Orders() *order.Manager { return c.orders }

// Constraints 缓存的交易对限制。
func (c *Controller) Constraints() order.SymbolConstraints {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.constraints
}

// SetConstraints 设置交易对限制。
func (c *Controller) SetConstraints(sc order.SymbolConstraints) {
	c.mu.Lock()
	c.constraints = sc
	c.mu.Unlock()
	c.orders.SetConstraints(sc)
}

// RefreshConstraints 从交易所拉取并缓存交易对限制。
func (c *Controller) RefreshConstraints(ctx context.Context) error {
	var sc order.SymbolConstraints
	err := c.withRetry(ctx, "get_market_constraints", func() error {
		var e error
		sc, e = c.ex.GetMarketConstraints(ctx, c.symbol)
		return e
	})
	if err != nil {
		return err
	}
	if sc.Symbol == "" {
		sc.Symbol = c.symbol
	}
	c.SetConstraints(sc)
	c.log.LogOrder("constraints_refreshed", "", map[string]interface{}{
		"symbol": sc.Symbol, "tick": sc.TickSize, "step": sc.StepSize,
		"min_qty": sc.MinQty, "min_notional": sc.MinNotional,
	})
	return nil
}

// ImprovedPrice maker 改善价：买 bid*(1-pip)，卖 ask*(1+pip)。
func (c *Controller) ImprovedPrice(side order.Side, q gateway.Quote) float64 {
	pip := c.Config().PriceImprovePct
	if side == order.SideBuy {
		return q.Bid * (1 - pip)
	}
	return q.Ask * (1 + pip)
}

// Quote 读取最优买卖价（带瞬时错误重试）。
func (c *Controller) Quote(ctx context.Context) (gateway.Quote, error) {
	var q gateway.Quote
	err := c.withRetry(ctx, "get_best_bid_ask", func() error {
		var e error
		q, e = c.ex.GetBestBidAsk(ctx, c.symbol)
		return e
	})
	return q, err
}

// Balances 读取账户余额（带瞬时错误重试）。
func (c *Controller) Balances(ctx context.Context) (map[string]gateway.Balance, error) {
	var bals map[string]gateway.Balance
	err := c.withRetry(ctx, "get_balances", func() error {
		var e error
		bals, e = c.ex.GetBalances(ctx)
		return e
	})
	return bals, err
}

// PlaceMaker 提交 post-only 限价单。穿价被拒时买单降一个 tick、卖单升一个 tick 后重试，
// 预算用尽返回 ClassMakerPlacement。
func (c *Controller) PlaceMaker(ctx context.Context, req MakerRequest) Result {
	const op = "place_maker"
	sc := c.Constraints()
	price, err := sc.RoundPrice(req.Price)
	if err != nil {
		c.log.LogError(err, map[string]interface{}{"op": op, "action": "order skipped", "price": req.Price})
		return fail(op, err)
	}
	attempts := c.Config().MakerRetries
	if attempts <= 0 {
		attempts = 1
	}
	step := -1
	if req.Side == order.SideSell {
		step = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		h := Handle{
			ClientID: order.NewClientID(req.Intent),
			Symbol:   c.symbol,
			Side:     req.Side,
			Type:     order.TypeLimit,
			Role:     order.RoleMaker,
			Intent:   req.Intent,
			Price:    price,
			Quantity: req.Quantity,
			Attempt:  order.NewAttempt(),
		}
		err := c.submit(ctx, &h, true, req.ReduceOnly)
		if err == nil {
			return ok(h)
		}
		lastErr = err
		if !errors.Is(err, gateway.ErrPostOnlyWouldCross) {
			return fail(op, err)
		}
		c.mon.RecordMakerRetry()
		next := sc.ShiftTicks(price, step)
		if next <= 0 {
			break
		}
		price = next
	}
	err = fmt.Errorf("%w: %d attempts, last: %v", ErrMakerPlacement, attempts, lastErr)
	c.log.LogError(err, map[string]interface{}{"op": op, "action": "maker placement abandoned", "side": string(req.Side), "intent": string(req.Intent)})
	return fail(op, err)
}

// MarketFallback 无条件市价单，用于必须成交的场景（如止损）。
func (c *Controller) MarketFallback(ctx context.Context, side order.Side, qty float64, intent order.Intent) Result {
	const op = "market_fallback"
	qty = c.Constraints().FloorQuantity(qty)
	if qty <= 0 {
		return fail(op, gateway.NewRejectedError(op, gateway.RejectInvalidOrder, fmt.Errorf("quantity floors to zero")))
	}
	h := Handle{
		ClientID: order.NewClientID(intent),
		Symbol:   c.symbol,
		Side:     side,
		Type:     order.TypeMarket,
		Role:     order.RoleTaker,
		Intent:   intent,
		Quantity: qty,
		Attempt:  order.NewAttempt(),
	}
	if err := c.submit(ctx, &h, false, intent == order.IntentExit); err != nil {
		return fail(op, err)
	}
	c.mon.RecordMarketFallback(string(intent))
	return ok(h)
}

// submit 下单；瞬时错误用同一个 ClientID 重试。
func (c *Controller) submit(ctx context.Context, h *Handle, postOnly, reduceOnly bool) error {
	prepared, err := c.orders.Prepare(order.Order{
		ClientID:   h.ClientID,
		Symbol:     h.Symbol,
		Side:       h.Side,
		Type:       h.Type,
		Role:       h.Role,
		Intent:     h.Intent,
		Price:      h.Price,
		Quantity:   h.Quantity,
		PostOnly:   postOnly,
		ReduceOnly: reduceOnly,
	})
	if err != nil {
		_ = h.Attempt.Advance(order.AttemptRejected)
		err = gateway.NewRejectedError("prepare order", gateway.RejectInvalidOrder, err)
		c.logReject(h, err)
		return err
	}
	req := gateway.OrderRequest{
		Symbol:     prepared.Symbol,
		Type:       prepared.Type,
		Side:       prepared.Side,
		Quantity:   prepared.Quantity,
		PostOnly:   postOnly,
		ReduceOnly: reduceOnly,
		ClientID:   prepared.ClientID,
	}
	if prepared.Type == order.TypeLimit {
		req.Price = prepared.Price
	}
	var id string
	err = c.withRetry(ctx, "place_order", func() error {
		var e error
		id, e = c.ex.PlaceOrder(ctx, req)
		return e
	})
	if err != nil {
		_ = h.Attempt.Advance(order.AttemptRejected)
		c.logReject(h, err)
		return err
	}
	h.OrderID = id
	h.PlacedAt = c.now()
	_ = h.Attempt.Advance(order.AttemptSubmitted)
	prepared.ID = id
	prepared.CreatedAt = h.PlacedAt
	c.orders.Track(prepared)
	c.mon.RecordOrderPlaced(string(h.Intent), string(h.Role))
	c.log.LogOrder("submitted", id, h.fields())
	return nil
}

func (c *Controller) logReject(h *Handle, err error) {
	reason := "other"
	var ge *gateway.Error
	if errors.As(err, &ge) {
		reason = string(ge.Kind)
		if ge.Reason != "" {
			reason = string(ge.Reason)
		}
	}
	c.mon.RecordOrderRejected(reason)
	fields := h.fields()
	fields["reason"] = reason
	fields["error"] = err.Error()
	c.log.LogOrder("rejected", h.ClientID, fields)
}

func (h Handle) fields() map[string]interface{} {
	return map[string]interface{}{
		"client_id": h.ClientID,
		"symbol":    h.Symbol,
		"side":      string(h.Side),
		"type":      string(h.Type),
		"role":      string(h.Role),
		"intent":    string(h.Intent),
		"price":     h.Price,
		"qty":       h.Quantity,
	}
}

// status 查询订单状态并同步到登记表。
func (c *Controller) status(ctx context.Context, h Handle) (gateway.OrderStatus, error) {
	var st gateway.OrderStatus
	err := c.withRetry(ctx, "get_order_status", func() error {
		var e error
		st, e = c.ex.GetOrderStatus(ctx, h.OrderID, h.Symbol)
		return e
	})
	if err != nil {
		return st, err
	}
	if uerr := c.orders.Update(h.OrderID, st.Status, st.FilledQty, st.AvgPrice); uerr != nil && !errors.Is(uerr, order.ErrUnknownOrder) {
		c.log.Debug("order status not applied: " + uerr.Error())
	}
	return st, nil
}

// cancel 撤单；订单已终结时交易所返回 ErrUnknownOrder，由调用方判断。
func (c *Controller) cancel(ctx context.Context, h Handle) error {
	err := c.withRetry(ctx, "cancel_order", func() error {
		return c.ex.CancelOrder(ctx, h.OrderID, h.Symbol)
	})
	if err != nil {
		return err
	}
	_ = c.orders.Update(h.OrderID, order.StatusCanceled, 0, 0)
	c.mon.RecordOrderCanceled()
	c.log.LogOrder("canceled", h.OrderID, h.fields())
	return nil
}

// Chase 在 d 时间内跟随最优价：挂单落后于最优价时撤单并在新最优价重挂，
// 重挂价格不穿价（会穿价时回退一个 tick）。返回当前仍有效的订单。
func (c *Controller) Chase(ctx context.Context, h Handle, d time.Duration) Result {
	const op = "chase"
	if d <= 0 || h.Type != order.TypeLimit {
		return ok(h)
	}
	deadline := c.now().Add(d)
	for c.now().Before(deadline) {
		st, err := c.status(ctx, h)
		if err != nil {
			return fail(op, err)
		}
		if order.IsTerminal(st.Status) {
			return ok(h)
		}
		q, err := c.Quote(ctx)
		if err != nil {
			return fail(op, err)
		}
		sc := c.Constraints()
		if target, behind := chaseTarget(h.Side, h.Price, q, sc); q.Valid() && behind {
			left := decimal.NewFromFloat(h.Quantity).Sub(decimal.NewFromFloat(st.FilledQty))
			remaining := sc.FloorQuantity(left.InexactFloat64())
			if err := c.cancel(ctx, h); err != nil {
				if errors.Is(err, gateway.ErrUnknownOrder) {
					return ok(h)
				}
				return fail(op, err)
			}
			if remaining <= 0 || (sc.MinQty > 0 && remaining < sc.MinQty) {
				return ok(h)
			}
			res := c.PlaceMaker(ctx, MakerRequest{Side: h.Side, Quantity: remaining, Price: target, Intent: h.Intent})
			if !res.OK() {
				return res
			}
			c.log.LogOrder("chased", res.Handle.OrderID, map[string]interface{}{
				"from_price": h.Price, "to_price": res.Handle.Price, "replaced": h.OrderID,
			})
			h = res.Handle
		}
		if err := c.sleep(ctx, c.Config().PollInterval); err != nil {
			return fail(op, err)
		}
	}
	return ok(h)
}

// chaseTarget 返回新的挂单价及是否落后于最优价。买单以 bid 为最优、卖单以 ask 为最优。
func chaseTarget(side order.Side, price float64, q gateway.Quote, sc order.SymbolConstraints) (float64, bool) {
	if side == order.SideBuy {
		target := q.Bid
		if target >= q.Ask {
			target = sc.ShiftTicks(q.Ask, -1)
		}
		return target, price < q.Bid
	}
	target := q.Ask
	if target <= q.Bid {
		target = sc.ShiftTicks(q.Bid, 1)
	}
	return target, price > q.Ask
}

// WaitFillOrTimeout 轮询订单直到终态或超时；超时则撤单并返回 stale。
// 这是单次下单尝试唯一的等待点。
func (c *Controller) WaitFillOrTimeout(ctx context.Context, h Handle, timeout time.Duration) FillOutcome {
	deadline := c.now().Add(timeout)
	for {
		st, err := c.status(ctx, h)
		if err == nil && order.IsTerminal(st.Status) {
			return c.finish(h, st)
		}
		if err != nil && !gateway.IsTransient(err) {
			return c.abandon(ctx, h, err)
		}
		if !c.now().Before(deadline) {
			break
		}
		if serr := c.sleep(ctx, c.Config().PollInterval); serr != nil {
			return c.abandon(ctx, h, serr)
		}
	}
	return c.abandon(ctx, h, nil)
}

// abandon 撤单并读取最终成交量。撤单时订单恰好成交则按成交处理。
func (c *Controller) abandon(ctx context.Context, h Handle, cause error) FillOutcome {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	cerr := c.cancel(cctx, h)
	st, err := c.status(cctx, h)
	if err == nil && st.Status == order.StatusFilled {
		return c.finish(h, st)
	}
	if h.Attempt != nil {
		_ = h.Attempt.Advance(order.AttemptStale)
	}
	out := FillOutcome{Outcome: OutcomeStale, OrderID: h.OrderID, Err: cause}
	if err == nil {
		out.FilledQty = st.FilledQty
		out.AvgPrice = st.AvgPrice
	}
	if out.Err == nil && cerr != nil && !errors.Is(cerr, gateway.ErrUnknownOrder) {
		out.Err = cerr
	}
	fields := h.fields()
	fields["filled_qty"] = out.FilledQty
	c.log.LogOrder("stale", h.OrderID, fields)
	return out
}

func (c *Controller) finish(h Handle, st gateway.OrderStatus) FillOutcome {
	if next, ok := order.AttemptFromStatus(st.Status); ok && h.Attempt != nil {
		_ = h.Attempt.Advance(next)
	}
	out := FillOutcome{OrderID: h.OrderID, FilledQty: st.FilledQty, AvgPrice: st.AvgPrice}
	switch st.Status {
	case order.StatusFilled:
		out.Outcome = OutcomeFilled
	case order.StatusRejected:
		out.Outcome = OutcomeRejected
	case order.StatusExpired:
		out.Outcome = OutcomeExpired
	default:
		out.Outcome = OutcomeCanceled
	}
	fields := h.fields()
	fields["outcome"] = string(out.Outcome)
	fields["filled_qty"] = st.FilledQty
	fields["avg_price"] = st.AvgPrice
	c.log.LogOrder(string(out.Outcome), h.OrderID, fields)
	return out
}

// CollectFills 拉取 since 之后的成交，只保留本控制器发出的订单，并附带意图与角色。
func (c *Controller) CollectFills(ctx context.Context, since time.Time) ([]TaggedFill, error) {
	var fills []order.Fill
	err := c.withRetry(ctx, "get_recent_fills", func() error {
		var e error
		fills, e = c.ex.GetRecentFills(ctx, c.symbol, since)
		return e
	})
	if err != nil {
		return nil, err
	}
	out := make([]TaggedFill, 0, len(fills))
	for _, f := range fills {
		o, ok := c.orders.Get(f.OrderID)
		if !ok {
			continue
		}
		out = append(out, TaggedFill{Fill: f, Intent: o.Intent, Role: f.Role()})
	}
	return out, nil
}

// CancelAll 撤销所有未终结订单（退出时调用）。
func (c *Controller) CancelAll(ctx context.Context) error {
	var errs []error
	for _, o := range c.orders.Active() {
		h := Handle{OrderID: o.ID, ClientID: o.ClientID, Symbol: o.Symbol, Side: o.Side, Type: o.Type, Role: o.Role, Intent: o.Intent, Price: o.Price, Quantity: o.Quantity}
		if err := c.cancel(ctx, h); err != nil && !errors.Is(err, gateway.ErrUnknownOrder) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Forget 仓位结束后清理终态订单。
func (c *Controller) Forget() int {
	return c.orders.Prune()
}
