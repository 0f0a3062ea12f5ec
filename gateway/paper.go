package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"position-engine/order"
)

// PaperConfig 模拟交易所参数。
type PaperConfig struct {
	Symbol      string
	BaseAsset   string
	QuoteAsset  string
	MakerRate   float64
	TakerRate   float64
	Constraints order.SymbolConstraints
	StartQuote  float64
	StartBase   float64
	// AllowShort 允许卖出超过持有的 base（负余额表示借币）
	AllowShort bool
	// FillAtTouch 挂单价等于对手最优价时视为排队成交
	FillAtTouch bool
	// BaseFeeOnBuy 买入手续费从到账的 base 中扣除（未用 BNB 抵扣时的交易所默认行为）
	BaseFeeOnBuy bool
}

type paperOrder struct {
	req       OrderRequest
	id        string
	status    order.Status
	filledQty float64
	cost      float64
}

// PaperExchange 内存撮合：post-only 会吃单则拒绝，挂单在行情穿越时按挂单价成交，
// 市价单按对手最优价成交。手续费默认以报价币扣除。
type PaperExchange struct {
	mu       sync.Mutex
	cfg      PaperConfig
	quote    Quote
	orders   map[string]*paperOrder
	fills    []order.Fill
	balances map[string]float64
	failNext []error
	now      func() time.Time
}

func NewPaperExchange(cfg PaperConfig) *PaperExchange {
	if cfg.Constraints.Symbol == "" {
		cfg.Constraints.Symbol = cfg.Symbol
	}
	return &PaperExchange{
		cfg:    cfg,
		orders: make(map[string]*paperOrder),
		balances: map[string]float64{
			cfg.QuoteAsset: cfg.StartQuote,
			cfg.BaseAsset:  cfg.StartBase,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// SetClock 注入时间源。
func (p *PaperExchange) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// FailNext 下一次调用（任意方法）返回 err，可多次排队。
func (p *PaperExchange) FailNext(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = append(p.failNext, errs...)
}

func (p *PaperExchange) popFailure() error {
	if len(p.failNext) == 0 {
		return nil
	}
	err := p.failNext[0]
	p.failNext = p.failNext[1:]
	return err
}

// SetQuote 更新盘口并撮合被穿越的挂单。
func (p *PaperExchange) SetQuote(bid, ask float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quote = Quote{Symbol: p.cfg.Symbol, Bid: bid, Ask: ask, Time: p.now()}
	p.matchRestingLocked(false)
}

// PartialFill 让挂单按挂单价成交一部分，用于测试部分成交。
func (p *PaperExchange) PartialFill(orderID string, qty float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok || order.IsTerminal(o.status) {
		return NewRejectedError("partial fill", RejectUnknownOrder, fmt.Errorf("order %s", orderID))
	}
	p.fillLocked(o, qty, o.req.Price, true)
	return nil
}

// Balance 当前资产余额。
func (p *PaperExchange) Balance(asset string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[asset]
}

// Orders 返回所有订单请求（含已终结），按提交顺序不保证。
func (p *PaperExchange) Orders() []OrderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]OrderRequest, 0, len(p.orders))
	for _, o := range p.orders {
		out = append(out, o.req)
	}
	return out
}

func (p *PaperExchange) crosses(side order.Side, price float64, touch bool) bool {
	if !p.quote.Valid() {
		return false
	}
	if side == order.SideBuy {
		if touch {
			return price >= p.quote.Bid
		}
		return price >= p.quote.Ask
	}
	if touch {
		return price <= p.quote.Ask
	}
	return price <= p.quote.Bid
}

func (p *PaperExchange) matchRestingLocked(touch bool) {
	for _, o := range p.orders {
		if order.IsTerminal(o.status) || o.req.Type != order.TypeLimit {
			continue
		}
		if p.crosses(o.req.Side, o.req.Price, touch) {
			p.fillLocked(o, o.req.Quantity-o.filledQty, o.req.Price, true)
		}
	}
}

func (p *PaperExchange) fillLocked(o *paperOrder, qty, price float64, maker bool) {
	if qty <= 0 {
		return
	}
	rem := o.req.Quantity - o.filledQty
	if qty > rem {
		qty = rem
	}
	rate := p.cfg.TakerRate
	if maker {
		rate = p.cfg.MakerRate
	}
	notional := qty * price
	fee := notional * rate
	feeAsset, commission := p.cfg.QuoteAsset, fee
	switch {
	case o.req.Side == order.SideBuy && p.cfg.BaseFeeOnBuy:
		feeAsset, commission = p.cfg.BaseAsset, qty*rate
		p.balances[p.cfg.QuoteAsset] -= notional
		p.balances[p.cfg.BaseAsset] += qty - commission
	case o.req.Side == order.SideBuy:
		p.balances[p.cfg.QuoteAsset] -= notional + fee
		p.balances[p.cfg.BaseAsset] += qty
	default:
		p.balances[p.cfg.QuoteAsset] += notional - fee
		p.balances[p.cfg.BaseAsset] -= qty
	}
	o.filledQty += qty
	o.cost += notional
	if o.req.Quantity-o.filledQty <= 1e-12 {
		o.status = order.StatusFilled
	} else {
		o.status = order.StatusPartial
	}
	p.fills = append(p.fills, order.Fill{
		TradeID:    uuid.NewString(),
		OrderID:    o.id,
		Symbol:     o.req.Symbol,
		Side:       o.req.Side,
		Price:      price,
		Quantity:   qty,
		Fee:        fee,
		FeeAsset:   feeAsset,
		Commission: commission,
		Maker:      maker,
		Timestamp:  p.now(),
	})
}

func (p *PaperExchange) GetBestBidAsk(ctx context.Context, symbol string) (Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.popFailure(); err != nil {
		return Quote{}, err
	}
	if !p.quote.Valid() {
		return Quote{}, NewNetworkError("paper quote", errors.New("no quote"))
	}
	return p.quote, nil
}

func (p *PaperExchange) PlaceOrder(ctx context.Context, r OrderRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	const op = "paper place"
	if err := p.popFailure(); err != nil {
		return "", err
	}
	if r.Symbol != p.cfg.Symbol {
		return "", NewRejectedError(op, RejectInvalidOrder, fmt.Errorf("unknown symbol %s", r.Symbol))
	}
	if r.Quantity <= 0 {
		return "", NewRejectedError(op, RejectInvalidOrder, fmt.Errorf("quantity %v", r.Quantity))
	}
	if r.Type == "" {
		r.Type = order.TypeLimit
	}
	if !p.quote.Valid() {
		return "", NewNetworkError(op, errors.New("no quote"))
	}
	price := r.Price
	if r.Type == order.TypeMarket {
		price = p.quote.Ask
		if r.Side == order.SideSell {
			price = p.quote.Bid
		}
	} else if err := p.cfg.Constraints.Validate(r.Price, r.Quantity); err != nil {
		return "", NewRejectedError(op, RejectInvalidOrder, err)
	}
	if r.Type == order.TypeLimit && r.PostOnly && p.crosses(r.Side, r.Price, false) {
		return "", NewRejectedError(op, RejectPostOnlyWouldCross, fmt.Errorf("%s @ %v crosses book %v/%v", r.Side, r.Price, p.quote.Bid, p.quote.Ask))
	}
	if err := p.checkFundsLocked(r.Side, r.Quantity, price); err != nil {
		return "", err
	}

	o := &paperOrder{req: r, id: uuid.NewString(), status: order.StatusPending}
	p.orders[o.id] = o
	switch {
	case r.Type == order.TypeMarket:
		p.fillLocked(o, r.Quantity, price, false)
	case p.crosses(r.Side, r.Price, false):
		// 非 post-only 限价单立即按对手价成交
		touch := p.quote.Ask
		if r.Side == order.SideSell {
			touch = p.quote.Bid
		}
		p.fillLocked(o, r.Quantity, touch, false)
	}
	return o.id, nil
}

func (p *PaperExchange) checkFundsLocked(side order.Side, qty, price float64) error {
	if side == order.SideBuy {
		need := qty * price * (1 + p.cfg.TakerRate)
		if p.balances[p.cfg.QuoteAsset] < need {
			return NewRejectedError("paper place", RejectInsufficientFunds, fmt.Errorf("need %.8f %s", need, p.cfg.QuoteAsset))
		}
		return nil
	}
	if p.cfg.AllowShort {
		return nil
	}
	if p.balances[p.cfg.BaseAsset]+1e-12 < qty {
		return NewRejectedError("paper place", RejectInsufficientFunds, fmt.Errorf("need %.8f %s", qty, p.cfg.BaseAsset))
	}
	return nil
}

func (p *PaperExchange) CancelOrder(ctx context.Context, orderID, symbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.popFailure(); err != nil {
		return err
	}
	o, ok := p.orders[orderID]
	if !ok || order.IsTerminal(o.status) {
		return NewRejectedError("paper cancel", RejectUnknownOrder, fmt.Errorf("order %s", orderID))
	}
	o.status = order.StatusCanceled
	return nil
}

func (p *PaperExchange) GetOrderStatus(ctx context.Context, orderID, symbol string) (OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.popFailure(); err != nil {
		return OrderStatus{}, err
	}
	o, ok := p.orders[orderID]
	if !ok {
		return OrderStatus{}, NewRejectedError("paper status", RejectUnknownOrder, fmt.Errorf("order %s", orderID))
	}
	if p.cfg.FillAtTouch && !order.IsTerminal(o.status) && o.req.Type == order.TypeLimit && p.crosses(o.req.Side, o.req.Price, true) {
		p.fillLocked(o, o.req.Quantity-o.filledQty, o.req.Price, true)
	}
	st := OrderStatus{ID: o.id, ClientID: o.req.ClientID, Status: o.status, FilledQty: o.filledQty}
	if o.filledQty > 0 {
		st.AvgPrice = o.cost / o.filledQty
	}
	return st, nil
}

func (p *PaperExchange) GetRecentFills(ctx context.Context, symbol string, since time.Time) ([]order.Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.popFailure(); err != nil {
		return nil, err
	}
	out := make([]order.Fill, 0, len(p.fills))
	for _, f := range p.fills {
		if f.Symbol == symbol && !f.Timestamp.Before(since) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (p *PaperExchange) GetBalances(ctx context.Context) (map[string]Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.popFailure(); err != nil {
		return nil, err
	}
	out := make(map[string]Balance, len(p.balances))
	for asset, v := range p.balances {
		out[asset] = Balance{Asset: asset, Free: v}
	}
	return out, nil
}

func (p *PaperExchange) GetMarketConstraints(ctx context.Context, symbol string) (order.SymbolConstraints, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.popFailure(); err != nil {
		return order.SymbolConstraints{}, err
	}
	if symbol != p.cfg.Symbol {
		return order.SymbolConstraints{}, NewRejectedError("paper constraints", RejectInvalidOrder, fmt.Errorf("unknown symbol %s", symbol))
	}
	return p.cfg.Constraints, nil
}

var _ Exchange = (*PaperExchange)(nil)
