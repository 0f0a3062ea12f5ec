package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBookTickerStreamReconnect(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var served int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws/btcusdt@bookTicker", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := atomic.AddInt32(&served, 1)
		if n == 1 {
			// 第一次连接发一条行情后断开
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"u":1,"s":"BTCUSDT","b":"100.1","B":"1","a":"100.2","A":"1"}`))
			_ = conn.Close()
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"u":2,"s":"BTCUSDT","b":"101.1","B":"1","a":"101.2","A":"1"}`))
		time.Sleep(200 * time.Millisecond)
		_ = conn.Close()
	}))
	defer ts.Close()

	s := NewBookTickerStream("ws"+strings.TrimPrefix(ts.URL, "http"), "BTCUSDT", zap.NewNop())
	s.Backoff = 10 * time.Millisecond
	reconnected := make(chan struct{}, 4)
	s.OnReconnect = func() { reconnected <- struct{}{} }
	got := make(chan Quote, 8)
	s.OnQuote = func(q Quote) { got <- q }

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	first := <-got
	assert.Equal(t, 100.1, first.Bid)
	select {
	case <-reconnected:
	case <-ctx.Done():
		t.Fatalf("no reconnect callback")
	}
	second := <-got
	assert.Equal(t, 101.2, second.Ask)

	q, ok := s.Latest(time.Minute, time.Now().UTC())
	require.True(t, ok)
	assert.Equal(t, 101.1, q.Bid)
	_, ok = s.Latest(time.Millisecond, time.Now().Add(time.Hour))
	assert.False(t, ok)
}

type fixedQuoteExchange struct {
	Exchange
	quote Quote
}

func (f fixedQuoteExchange) GetBestBidAsk(context.Context, string) (Quote, error) {
	return f.quote, nil
}

func TestStreamingExchangeFallback(t *testing.T) {
	stream := NewBookTickerStream("", "BTCUSDT", nil)
	ex := &StreamingExchange{
		Exchange: fixedQuoteExchange{quote: Quote{Bid: 1, Ask: 2}},
		Stream:   stream,
		MaxAge:   time.Second,
	}
	q, err := ex.GetBestBidAsk(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1.0, q.Bid)

	stream.mu.Lock()
	stream.latest = Quote{Symbol: "BTCUSDT", Bid: 10, Ask: 11, Time: time.Now()}
	stream.mu.Unlock()
	q, err = ex.GetBestBidAsk(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 10.0, q.Bid)
}
