package alert

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Level 告警级别
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Alert 告警信息
type Alert struct {
	Level     Level
	Event     string // 限流 key，例如 daily_halt、stop_loss
	Message   string
	Timestamp time.Time
	Fields    map[string]interface{}
}

// Channel 告警通道接口
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Notifier 引擎侧依赖的最小接口。
type Notifier interface {
	Notify(alert Alert) error
}

// Manager 告警管理器，按 Level+Event 限流后扇出到所有通道。
type Manager struct {
	channels []Channel
	throttle *Throttler
	now      func() time.Time
	mu       sync.RWMutex
}

// Throttler 告警限流器
type Throttler struct {
	lastSent map[string]time.Time
	interval time.Duration
	mu       sync.Mutex
}

// NewThrottler 创建限流器
func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
	}
}

// Allow 同一 key 在 interval 内只放行一次
func (t *Throttler) Allow(key string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, exists := t.lastSent[key]
	if !exists || now.Sub(last) >= t.interval {
		t.lastSent[key] = now
		return true
	}
	return false
}

// Clear 清空所有限流记录
func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = make(map[string]time.Time)
}

// NewManager 创建告警管理器
func NewManager(channels []Channel, throttleInterval time.Duration) *Manager {
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
		now:      time.Now,
	}
}

// SetClock 注入时间源（测试用）
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Notify 发送告警。被限流时静默返回 nil；所有通道都失败才返回错误。
func (m *Manager) Notify(a Alert) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	if a.Timestamp.IsZero() {
		a.Timestamp = now
	}
	key := a.Event
	if key == "" {
		key = a.Message
	}
	if !m.throttle.Allow(fmt.Sprintf("%s:%s", a.Level, key), now) {
		return nil
	}

	var errs []error
	for _, ch := range m.channels {
		if err := ch.Send(a); err != nil {
			errs = append(errs, fmt.Errorf("channel %s failed: %w", ch.Name(), err))
		}
	}
	if len(m.channels) > 0 && len(errs) == len(m.channels) {
		return errors.Join(errs...)
	}
	return nil
}

// AddChannel 添加告警通道
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// Channels 所有通道名称
func (m *Manager) Channels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}

// ResetThrottle 重置限流器
func (m *Manager) ResetThrottle() {
	m.throttle.Clear()
}

// DailyHalt 日内亏损熔断
func DailyHalt(day string, dailyReturn, limit float64) Alert {
	return Alert{
		Level:   LevelCritical,
		Event:   "daily_halt",
		Message: fmt.Sprintf("日内亏损 %.2f%% 触发熔断（阈值 %.2f%%），当日停止开仓", dailyReturn*100, limit*100),
		Fields:  map[string]interface{}{"day": day, "daily_return": dailyReturn, "limit": limit},
	}
}

// StopLoss 止损平仓
func StopLoss(symbol string, vwap, stop, bid, ask float64) Alert {
	return Alert{
		Level:   LevelError,
		Event:   "stop_loss",
		Message: fmt.Sprintf("%s 触发止损 vwap=%.8g sl=%.8g", symbol, vwap, stop),
		Fields:  map[string]interface{}{"symbol": symbol, "entry_vwap": vwap, "stop_loss": stop, "bid": bid, "ask": ask},
	}
}

// MarketFallback 平仓升级为市价单
func MarketFallback(symbol, reason string, qty float64) Alert {
	return Alert{
		Level:   LevelWarning,
		Event:   "market_fallback",
		Message: fmt.Sprintf("%s 平仓转市价: %s", symbol, reason),
		Fields:  map[string]interface{}{"symbol": symbol, "reason": reason, "qty": qty},
	}
}

// TradeClosed 一笔交易结束
func TradeClosed(symbol, reason string, pnl, equity float64) Alert {
	return Alert{
		Level:   LevelInfo,
		Event:   "trade_closed:" + reason,
		Message: fmt.Sprintf("%s 平仓 %s pnl=%.4f equity=%.4f", symbol, reason, pnl, equity),
		Fields:  map[string]interface{}{"symbol": symbol, "reason": reason, "pnl": pnl, "equity": equity},
	}
}
