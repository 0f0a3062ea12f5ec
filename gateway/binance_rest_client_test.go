package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"position-engine/order"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *BinanceRESTClient {
	t.Helper()
	timeNowMillis = func() int64 { return 1234567890000 } // deterministic
	t.Cleanup(func() { timeNowMillis = func() int64 { return time.Now().UnixMilli() } })

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return &BinanceRESTClient{
		BaseURL:    ts.URL,
		APIKey:     "key",
		Secret:     "secret",
		HTTPClient: ts.Client(),
	}
}

func TestSignParams(t *testing.T) {
	q, sig := SignParams(map[string]string{"symbol": "BTCUSDT", "side": "BUY"}, "secret")
	assert.Equal(t, "side=BUY&symbol=BTCUSDT", q)
	assert.Len(t, sig, 64)
	_, sig2 := SignParams(map[string]string{"side": "BUY", "symbol": "BTCUSDT"}, "secret")
	assert.Equal(t, sig, sig2)
}

func TestBinanceRESTClientPlaceCancel(t *testing.T) {
	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			if !strings.Contains(r.URL.RawQuery, "signature=") {
				t.Errorf("missing signature")
			}
			q := r.URL.Query()
			assert.Equal(t, "LIMIT_MAKER", q.Get("type"))
			assert.Equal(t, "100.01", q.Get("price"))
			assert.Equal(t, "0.5", q.Get("quantity"))
			assert.Equal(t, "cid", q.Get("newClientOrderId"))
			assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
			io.WriteString(w, `{"orderId":1001,"clientOrderId":"cid"}`)
		case http.MethodDelete:
			assert.Equal(t, "1001", r.URL.Query().Get("orderId"))
			w.WriteHeader(200)
			io.WriteString(w, `{}`)
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	})
	ctx := context.Background()
	id, err := cli.PlaceOrder(ctx, OrderRequest{
		Symbol: "BTCUSDT", Type: order.TypeLimit, Side: order.SideBuy,
		Quantity: 0.5, Price: 100.01, PostOnly: true, ClientID: "cid",
	})
	require.NoError(t, err)
	assert.Equal(t, "1001", id)
	require.NoError(t, cli.CancelOrder(ctx, id, "BTCUSDT"))
}

func TestBinanceRESTClientErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		target error
		retry  bool
	}{
		{"post-only 会成交", 400, `{"code":-2010,"msg":"Order would immediately match and take."}`, ErrPostOnlyWouldCross, false},
		{"余额不足", 400, `{"code":-2010,"msg":"Account has insufficient balance for requested action."}`, ErrInsufficientFunds, false},
		{"精度错误", 400, `{"code":-1013,"msg":"Filter failure: LOT_SIZE"}`, ErrInvalidOrder, false},
		{"未知订单", 400, `{"code":-2011,"msg":"Unknown order sent."}`, ErrUnknownOrder, false},
		{"限流", 429, `{"code":-1003,"msg":"Too many requests"}`, ErrRateLimited, true},
		{"服务端错误", 502, `bad gateway`, ErrNetwork, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			_, err := cli.PlaceOrder(context.Background(), OrderRequest{Symbol: "BTCUSDT", Side: order.SideBuy, Quantity: 1, Price: 1})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target), "got %v", err)
			assert.Equal(t, tt.retry, IsTransient(err))
		})
	}
}

func TestBinanceRESTClientNetworkError(t *testing.T) {
	cli := &BinanceRESTClient{BaseURL: "http://127.0.0.1:1", HTTPClient: &http.Client{Timeout: time.Second}}
	_, err := cli.GetBestBidAsk(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestBinanceRESTClientQueries(t *testing.T) {
	cli := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/ticker/bookTicker":
			io.WriteString(w, `{"symbol":"BTCUSDT","bidPrice":"100.10000000","bidQty":"1","askPrice":"100.20000000","askQty":"2"}`)
		case "/api/v3/exchangeInfo":
			io.WriteString(w, `{"symbols":[{"symbol":"BTCUSDT","baseAsset":"BTC","quoteAsset":"USDT","filters":[
				{"filterType":"PRICE_FILTER","minPrice":"0.01000000","maxPrice":"1000000.00000000","tickSize":"0.01000000"},
				{"filterType":"LOT_SIZE","minQty":"0.00001000","maxQty":"9000.00000000","stepSize":"0.00001000"},
				{"filterType":"NOTIONAL","minNotional":"5.00000000"}]}]}`)
		case "/api/v3/order":
			io.WriteString(w, `{"orderId":7,"clientOrderId":"c7","status":"PARTIALLY_FILLED","executedQty":"0.5","cummulativeQuoteQty":"50.25"}`)
		case "/api/v3/myTrades":
			assert.Equal(t, "1700000000000", r.URL.Query().Get("startTime"))
			io.WriteString(w, `[
				{"id":1,"orderId":7,"price":"100.5","qty":"0.2","commission":"0.05","commissionAsset":"USDT","time":1700000001000,"isBuyer":true,"isMaker":true},
				{"id":2,"orderId":7,"price":"100.0","qty":"0.3","commission":"0.0003","commissionAsset":"BTC","time":1700000002000,"isBuyer":true,"isMaker":false}]`)
		case "/api/v3/account":
			io.WriteString(w, `{"balances":[{"asset":"USDT","free":"900.5","locked":"10"},{"asset":"BTC","free":"0.5","locked":"0"}]}`)
		default:
			w.WriteHeader(404)
		}
	})
	ctx := context.Background()

	q, err := cli.GetBestBidAsk(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 100.1, q.Bid)
	assert.Equal(t, 100.2, q.Ask)
	assert.True(t, q.Valid())

	sc, err := cli.GetMarketConstraints(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 0.01, sc.TickSize)
	assert.Equal(t, 0.00001, sc.StepSize)
	assert.Equal(t, 5.0, sc.MinNotional)
	assert.Equal(t, 9000.0, sc.MaxQty)

	st, err := cli.GetOrderStatus(ctx, "7", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, order.StatusPartial, st.Status)
	assert.Equal(t, 0.5, st.FilledQty)
	assert.Equal(t, 100.5, st.AvgPrice)

	fills, err := cli.GetRecentFills(ctx, "BTCUSDT", time.UnixMilli(1700000000000))
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, "1", fills[0].TradeID)
	assert.Equal(t, order.SideBuy, fills[0].Side)
	assert.True(t, fills[0].Maker)
	assert.Equal(t, 0.05, fills[0].Fee)
	// BTC 计费折算为 USDT
	assert.InDelta(t, 0.03, fills[1].Fee, 1e-12)
	assert.Equal(t, "BTC", fills[1].FeeAsset)
	assert.Equal(t, 0.0003, fills[1].Commission)
	// 实际到账为 0.3 - 0.0003
	assert.Equal(t, 0.2997, fills[1].NetOfCommission("BTC").Quantity)
	assert.Equal(t, 0.2, fills[0].NetOfCommission("BTC").Quantity)

	bals, err := cli.GetBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 910.5, bals["USDT"].Total())
}
