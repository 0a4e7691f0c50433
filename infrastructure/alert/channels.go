package alert

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"liquidation-alert-go/infrastructure/logger"
)

// MessageSender 消息端最小契约（gateway.TelegramClient 实现）
type MessageSender interface {
	SendMessage(ctx context.Context, chatID, text string) error
}

// TelegramChannel 把正文原样发给固定的 chat
type TelegramChannel struct {
	sender MessageSender
	chatID string
	name   string
}

// NewTelegramChannel 创建 Telegram 通道
func NewTelegramChannel(name string, sender MessageSender, chatID string) *TelegramChannel {
	return &TelegramChannel{sender: sender, chatID: chatID, name: name}
}

// Send 投递到 Telegram
func (c *TelegramChannel) Send(ctx context.Context, alert Alert) error {
	return c.sender.SendMessage(ctx, c.chatID, alert.Message)
}

// Name 返回通道名称
func (c *TelegramChannel) Name() string {
	return c.name
}

// LogChannel 日志告警通道，dry-run 时代替真实消息端
type LogChannel struct {
	logger *logger.Logger
	name   string
}

// NewLogChannel 创建日志告警通道
func NewLogChannel(name string, log *logger.Logger) *LogChannel {
	if log == nil {
		log = logger.NewNop()
	}
	return &LogChannel{logger: log, name: name}
}

// Send 发送告警到日志
func (c *LogChannel) Send(_ context.Context, alert Alert) error {
	fields := []zap.Field{
		zap.String("channel", c.name),
		zap.String("level", alert.Level),
		zap.Time("alert_ts", alert.Timestamp),
		zap.String("message", alert.Message),
	}
	for k, v := range alert.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	c.logger.Info("alert", fields...)
	return nil
}

// Name 返回通道名称
func (c *LogChannel) Name() string {
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
	return &MockChannel{
		name:   name,
		alerts: make([]Alert, 0),
	}
}

// Send 记录告警（用于测试验证）
func (c *MockChannel) Send(_ context.Context, alert Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shouldErr {
		return fmt.Errorf("mock error")
	}
	c.alerts = append(c.alerts, alert)
	return nil
}

// Name 返回通道名称
func (c *MockChannel) Name() string {
	return c.name
}

// GetAlerts 获取所有接收到的告警
func (c *MockChannel) GetAlerts() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Alert(nil), c.alerts...)
}

// SetShouldError 设置是否返回错误
func (c *MockChannel) SetShouldError(shouldErr bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shouldErr = shouldErr
}

// Clear 清空告警记录
func (c *MockChannel) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = make([]Alert, 0)
}

// Count 返回接收到的告警数量
func (c *MockChannel) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.alerts)
}
