package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const BinanceSpotWSEndpoint = "wss://stream.binance.com:9443"

// BookTickerStream 订阅 <symbol>@bookTicker，维护最新买卖价；断线后重连并回调 OnReconnect。
type BookTickerStream struct {
	Endpoint    string
	Symbol      string
	Dialer      *websocket.Dialer
	Logger      *zap.Logger
	ReadTimeout time.Duration
	Backoff     time.Duration
	// OnReconnect 重连成功后调用（首次连接不调用），用于刷新交易对限制。
	OnReconnect func()
	// OnQuote 每条行情回调，可为空。
	OnQuote func(Quote)

	mu     sync.RWMutex
	latest Quote
	conns  int
}

func NewBookTickerStream(endpoint, symbol string, logger *zap.Logger) *BookTickerStream {
	if endpoint == "" {
		endpoint = BinanceSpotWSEndpoint
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BookTickerStream{
		Endpoint:    endpoint,
		Symbol:      symbol,
		Dialer:      websocket.DefaultDialer,
		Logger:      logger,
		ReadTimeout: 30 * time.Second,
		Backoff:     2 * time.Second,
	}
}

// URL 单流地址。
func (s *BookTickerStream) URL() string {
	return strings.TrimRight(s.Endpoint, "/") + "/ws/" + strings.ToLower(s.Symbol) + "@bookTicker"
}

// Latest 最新行情；从未收到或超过 maxAge 返回 false。
func (s *BookTickerStream) Latest(maxAge time.Duration, now time.Time) (Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.latest.Valid() {
		return Quote{}, false
	}
	if maxAge > 0 && now.Sub(s.latest.Time) > maxAge {
		return Quote{}, false
	}
	return s.latest, true
}

// Run 阻塞直到 ctx 取消；连接失败按 Backoff 重试。
func (s *BookTickerStream) Run(ctx context.Context) error {
	for {
		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.Logger.Warn("book ticker stream disconnected", zap.String("symbol", s.Symbol), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.Backoff):
		}
	}
}

func (s *BookTickerStream) runOnce(ctx context.Context) error {
	conn, _, err := s.Dialer.DialContext(ctx, s.URL(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.URL(), err)
	}
	defer conn.Close()

	s.mu.Lock()
	s.conns++
	reconnect := s.conns > 1
	s.mu.Unlock()
	s.Logger.Info("book ticker stream connected", zap.String("url", s.URL()), zap.Bool("reconnect", reconnect))
	if reconnect && s.OnReconnect != nil {
		s.OnReconnect()
	}

	// ctx 取消时关闭连接以打断阻塞读
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		if s.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		q, err := ParseBookTicker(message)
		if err != nil {
			s.Logger.Debug("skip ws message", zap.ByteString("raw", message), zap.Error(err))
			continue
		}
		q.Time = time.Now().UTC()
		s.mu.Lock()
		s.latest = q
		s.mu.Unlock()
		if s.OnQuote != nil {
			s.OnQuote(q)
		}
	}
}

// StreamingExchange 用推送行情替代 REST 的 GetBestBidAsk，行情过旧时回退到 REST。
type StreamingExchange struct {
	Exchange
	Stream *BookTickerStream
	MaxAge time.Duration
	Now    func() time.Time
}

func (s *StreamingExchange) GetBestBidAsk(ctx context.Context, symbol string) (Quote, error) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	if s.Stream != nil && strings.EqualFold(s.Stream.Symbol, symbol) {
		if q, ok := s.Stream.Latest(s.MaxAge, now()); ok {
			return q, nil
		}
	}
	return s.Exchange.GetBestBidAsk(ctx, symbol)
}
