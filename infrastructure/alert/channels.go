package alert

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapChannel 告警写入结构化日志
type ZapChannel struct {
	log  *zap.Logger
	name string
}

// NewZapChannel 创建日志告警通道
func NewZapChannel(name string, log *zap.Logger) *ZapChannel {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapChannel{log: log, name: name}
}

// Send 按告警级别映射日志级别
func (c *ZapChannel) Send(a Alert) error {
	level := zapcore.InfoLevel
	switch a.Level {
	case LevelWarning:
		level = zapcore.WarnLevel
	case LevelError, LevelCritical:
		level = zapcore.ErrorLevel
	}
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := []zap.Field{
		zap.String("level_name", string(a.Level)),
		zap.String("event", a.Event),
		zap.Time("alert_ts", a.Timestamp),
	}
	for _, k := range keys {
		fields = append(fields, zap.Any(k, a.Fields[k]))
	}
	if ce := c.log.Check(level, "alert: "+a.Message); ce != nil {
		ce.Write(fields...)
	}
	return nil
}

// Name 返回通道名称
func (c *ZapChannel) Name() string {
	return c.name
}

// MockChannel 模拟告警通道（用于测试）
type MockChannel struct {
	name      string
	mu        sync.Mutex
	alerts    []Alert
	shouldErr bool
}

// NewMockChannel 创建模拟告警通道
func NewMockChannel(name string) *MockChannel {
	return &MockChannel{name: name}
}

func (c *MockChannel) Send(a Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shouldErr {
		return errors.New("mock error")
	}
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *MockChannel) Name() string {
	return c.name
}

// Alerts 已接收告警的副本
func (c *MockChannel) Alerts() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

// Events 已接收告警的事件名
func (c *MockChannel) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.alerts))
	for _, a := range c.alerts {
		out = append(out, a.Event)
	}
	return out
}

// SetShouldError 设置是否返回错误
func (c *MockChannel) SetShouldError(shouldErr bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shouldErr = shouldErr
}
