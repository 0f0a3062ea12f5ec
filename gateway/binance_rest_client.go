package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"position-engine/order"
)

const BinanceSpotRESTEndpoint = "https://api.binance.com"

var timeNowMillis = func() int64 { return time.Now().UnixMilli() }

// SignParams 按 key 排序拼接 query 并做 HMAC-SHA256 签名。
func SignParams(params map[string]string, secret string) (query string, signature string) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(params[k]))
	}
	query = strings.Join(parts, "&")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return query, hex.EncodeToString(mac.Sum(nil))
}

// BinanceRESTClient 现货 REST 适配器，实现 Exchange。HTTPClient 可注入 httptest。
type BinanceRESTClient struct {
	BaseURL      string
	APIKey       string
	Secret       string
	RecvWindowMs int
	HTTPClient   *http.Client
	Limiter      RateLimiter

	mu     sync.RWMutex
	assets map[string][2]string // symbol -> base, quote
}

// NewBinanceRESTClient 使用默认 HTTP 客户端与限流器。
func NewBinanceRESTClient(baseURL, apiKey, secret string) *BinanceRESTClient {
	if baseURL == "" {
		baseURL = BinanceSpotRESTEndpoint
	}
	return &BinanceRESTClient{
		BaseURL:      baseURL,
		APIKey:       apiKey,
		Secret:       secret,
		RecvWindowMs: 5000,
		HTTPClient:   NewDefaultHTTPClient(),
		Limiter:      NewTokenBucketLimiter(10, 20),
	}
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// classify 将 Binance 错误码映射为错误类别。
func classify(op string, status int, body []byte) error {
	var ae apiError
	_ = json.Unmarshal(body, &ae)
	cause := fmt.Errorf("http %d: %s", status, strings.TrimSpace(ae.Msg))
	if ae.Msg == "" {
		cause = fmt.Errorf("http %d: %s", status, strings.TrimSpace(string(body)))
	}
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusTeapot || ae.Code == -1003:
		return &Error{Kind: KindRateLimited, Op: op, Code: ae.Code, Err: cause}
	case status >= 500 || ae.Code == -1001 || ae.Code == -1007:
		return &Error{Kind: KindNetwork, Op: op, Code: ae.Code, Err: cause}
	}
	msg := strings.ToLower(ae.Msg)
	reason := RejectInvalidOrder
	switch {
	case strings.Contains(msg, "immediately match"):
		reason = RejectPostOnlyWouldCross
	case strings.Contains(msg, "insufficient balance"):
		reason = RejectInsufficientFunds
	case ae.Code == -2011 || ae.Code == -2013:
		reason = RejectUnknownOrder
	}
	return &Error{Kind: KindRejected, Reason: reason, Op: op, Code: ae.Code, Err: cause}
}

func (c *BinanceRESTClient) do(ctx context.Context, method, path string, params map[string]string, signed bool, out any) error {
	if c == nil || c.HTTPClient == nil {
		return fmt.Errorf("http client not set")
	}
	op := method + " " + path
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return NewNetworkError(op, err)
		}
	}
	if params == nil {
		params = map[string]string{}
	}
	var query string
	if signed {
		params["timestamp"] = strconv.FormatInt(timeNowMillis(), 10)
		if c.RecvWindowMs > 0 {
			params["recvWindow"] = strconv.Itoa(c.RecvWindowMs)
		}
		q, sig := SignParams(params, c.Secret)
		query = q + "&signature=" + url.QueryEscape(sig)
	} else {
		query, _ = SignParams(params, "")
	}
	endpoint := c.BaseURL + path
	if query != "" {
		endpoint += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return &Error{Kind: KindRejected, Reason: RejectInvalidOrder, Op: op, Err: err}
	}
	if c.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return NewNetworkError(op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewNetworkError(op, err)
	}
	if resp.StatusCode >= 300 {
		return classify(op, resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return NewNetworkError(op, fmt.Errorf("decode: %w", err))
	}
	return nil
}

func formatDecimal(v float64) string {
	return decimal.NewFromFloat(v).String()
}

type bookTickerResp struct {
	Symbol   string          `json:"symbol"`
	BidPrice decimal.Decimal `json:"bidPrice"`
	AskPrice decimal.Decimal `json:"askPrice"`
}

// GetBestBidAsk GET /api/v3/ticker/bookTicker。
func (c *BinanceRESTClient) GetBestBidAsk(ctx context.Context, symbol string) (Quote, error) {
	var r bookTickerResp
	if err := c.do(ctx, http.MethodGet, "/api/v3/ticker/bookTicker", map[string]string{"symbol": symbol}, false, &r); err != nil {
		return Quote{}, err
	}
	return Quote{
		Symbol: symbol,
		Bid:    r.BidPrice.InexactFloat64(),
		Ask:    r.AskPrice.InexactFloat64(),
		Time:   time.UnixMilli(timeNowMillis()).UTC(),
	}, nil
}

type placeResp struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
}

// PlaceOrder POST /api/v3/order。post-only 使用 LIMIT_MAKER，交易所在会吃单时拒绝。
func (c *BinanceRESTClient) PlaceOrder(ctx context.Context, r OrderRequest) (string, error) {
	if r.Quantity <= 0 {
		return "", NewRejectedError("place order", RejectInvalidOrder, fmt.Errorf("quantity %v", r.Quantity))
	}
	params := map[string]string{
		"symbol":           r.Symbol,
		"side":             string(r.Side),
		"quantity":         formatDecimal(r.Quantity),
		"newOrderRespType": "ACK",
	}
	switch {
	case r.Type == order.TypeMarket:
		params["type"] = "MARKET"
	case r.PostOnly:
		params["type"] = "LIMIT_MAKER"
		params["price"] = formatDecimal(r.Price)
	default:
		params["type"] = "LIMIT"
		params["timeInForce"] = "GTC"
		params["price"] = formatDecimal(r.Price)
	}
	if r.ClientID != "" {
		params["newClientOrderId"] = r.ClientID
	}
	var pr placeResp
	if err := c.do(ctx, http.MethodPost, "/api/v3/order", params, true, &pr); err != nil {
		return "", err
	}
	if pr.OrderID == 0 {
		return "", NewNetworkError("place order", errors.New("empty orderId"))
	}
	return strconv.FormatInt(pr.OrderID, 10), nil
}

// CancelOrder DELETE /api/v3/order。
func (c *BinanceRESTClient) CancelOrder(ctx context.Context, orderID, symbol string) error {
	return c.do(ctx, http.MethodDelete, "/api/v3/order", map[string]string{
		"symbol":  symbol,
		"orderId": orderID,
	}, true, nil)
}

type orderResp struct {
	OrderID             int64           `json:"orderId"`
	ClientOrderID       string          `json:"clientOrderId"`
	Status              string          `json:"status"`
	ExecutedQty         decimal.Decimal `json:"executedQty"`
	CummulativeQuoteQty decimal.Decimal `json:"cummulativeQuoteQty"`
}

func mapStatus(s string) order.Status {
	switch s {
	case "PARTIALLY_FILLED":
		return order.StatusPartial
	case "FILLED":
		return order.StatusFilled
	case "CANCELED", "PENDING_CANCEL":
		return order.StatusCanceled
	case "REJECTED":
		return order.StatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return order.StatusExpired
	default:
		return order.StatusPending
	}
}

// GetOrderStatus GET /api/v3/order。
func (c *BinanceRESTClient) GetOrderStatus(ctx context.Context, orderID, symbol string) (OrderStatus, error) {
	var r orderResp
	if err := c.do(ctx, http.MethodGet, "/api/v3/order", map[string]string{
		"symbol":  symbol,
		"orderId": orderID,
	}, true, &r); err != nil {
		return OrderStatus{}, err
	}
	st := OrderStatus{
		ID:        strconv.FormatInt(r.OrderID, 10),
		ClientID:  r.ClientOrderID,
		Status:    mapStatus(r.Status),
		FilledQty: r.ExecutedQty.InexactFloat64(),
	}
	if r.ExecutedQty.IsPositive() {
		st.AvgPrice = r.CummulativeQuoteQty.Div(r.ExecutedQty).InexactFloat64()
	}
	return st, nil
}

type tradeResp struct {
	ID              int64           `json:"id"`
	OrderID         int64           `json:"orderId"`
	Price           decimal.Decimal `json:"price"`
	Qty             decimal.Decimal `json:"qty"`
	Commission      decimal.Decimal `json:"commission"`
	CommissionAsset string          `json:"commissionAsset"`
	Time            int64           `json:"time"`
	IsBuyer         bool            `json:"isBuyer"`
	IsMaker         bool            `json:"isMaker"`
}

// GetRecentFills GET /api/v3/myTrades。Fee 折算为报价币，Commission 保留原始数额；
// 其它资产计费时 Fee 为 0 由调用方估算。
func (c *BinanceRESTClient) GetRecentFills(ctx context.Context, symbol string, since time.Time) ([]order.Fill, error) {
	params := map[string]string{"symbol": symbol, "limit": "100"}
	if !since.IsZero() {
		params["startTime"] = strconv.FormatInt(since.UnixMilli(), 10)
	}
	var rows []tradeResp
	if err := c.do(ctx, http.MethodGet, "/api/v3/myTrades", params, true, &rows); err != nil {
		return nil, err
	}
	base, quote := c.assetsOf(symbol)
	fills := make([]order.Fill, 0, len(rows))
	for _, r := range rows {
		side := order.SideSell
		if r.IsBuyer {
			side = order.SideBuy
		}
		var fee decimal.Decimal
		switch r.CommissionAsset {
		case quote:
			fee = r.Commission
		case base:
			fee = r.Commission.Mul(r.Price)
		}
		fills = append(fills, order.Fill{
			TradeID:    strconv.FormatInt(r.ID, 10),
			OrderID:    strconv.FormatInt(r.OrderID, 10),
			Symbol:     symbol,
			Side:       side,
			Price:      r.Price.InexactFloat64(),
			Quantity:   r.Qty.InexactFloat64(),
			Fee:        fee.InexactFloat64(),
			FeeAsset:   r.CommissionAsset,
			Commission: r.Commission.InexactFloat64(),
			Maker:      r.IsMaker,
			Timestamp:  time.UnixMilli(r.Time).UTC(),
		})
	}
	return fills, nil
}

type accountResp struct {
	Balances []struct {
		Asset  string          `json:"asset"`
		Free   decimal.Decimal `json:"free"`
		Locked decimal.Decimal `json:"locked"`
	} `json:"balances"`
}

// GetBalances GET /api/v3/account。
func (c *BinanceRESTClient) GetBalances(ctx context.Context) (map[string]Balance, error) {
	var r accountResp
	if err := c.do(ctx, http.MethodGet, "/api/v3/account", nil, true, &r); err != nil {
		return nil, err
	}
	out := make(map[string]Balance, len(r.Balances))
	for _, b := range r.Balances {
		out[b.Asset] = Balance{Asset: b.Asset, Free: b.Free.InexactFloat64(), Locked: b.Locked.InexactFloat64()}
	}
	return out, nil
}

type exchangeInfoResp struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
		Filters    []struct {
			FilterType  string          `json:"filterType"`
			MinPrice    decimal.Decimal `json:"minPrice"`
			TickSize    decimal.Decimal `json:"tickSize"`
			MinQty      decimal.Decimal `json:"minQty"`
			MaxQty      decimal.Decimal `json:"maxQty"`
			StepSize    decimal.Decimal `json:"stepSize"`
			MinNotional decimal.Decimal `json:"minNotional"`
		} `json:"filters"`
	} `json:"symbols"`
}

// GetMarketConstraints GET /api/v3/exchangeInfo，解析 PRICE_FILTER / LOT_SIZE / (MIN_)NOTIONAL。
func (c *BinanceRESTClient) GetMarketConstraints(ctx context.Context, symbol string) (order.SymbolConstraints, error) {
	var r exchangeInfoResp
	if err := c.do(ctx, http.MethodGet, "/api/v3/exchangeInfo", map[string]string{"symbol": symbol}, false, &r); err != nil {
		return order.SymbolConstraints{}, err
	}
	for _, s := range r.Symbols {
		if s.Symbol != symbol {
			continue
		}
		c.mu.Lock()
		if c.assets == nil {
			c.assets = make(map[string][2]string)
		}
		c.assets[symbol] = [2]string{s.BaseAsset, s.QuoteAsset}
		c.mu.Unlock()

		sc := order.SymbolConstraints{Symbol: symbol}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				sc.TickSize = f.TickSize.InexactFloat64()
				sc.MinPrice = f.MinPrice.InexactFloat64()
			case "LOT_SIZE":
				sc.StepSize = f.StepSize.InexactFloat64()
				sc.MinQty = f.MinQty.InexactFloat64()
				sc.MaxQty = f.MaxQty.InexactFloat64()
			case "MIN_NOTIONAL", "NOTIONAL":
				sc.MinNotional = f.MinNotional.InexactFloat64()
			}
		}
		return sc, nil
	}
	return order.SymbolConstraints{}, NewRejectedError("exchange info", RejectInvalidOrder, fmt.Errorf("symbol %s not found", symbol))
}

func (c *BinanceRESTClient) assetsOf(symbol string) (base, quote string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a := c.assets[symbol]
	return a[0], a[1]
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

var _ Exchange = (*BinanceRESTClient)(nil)
