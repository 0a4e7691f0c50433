package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"liquidation-alert-go/infrastructure/logger"
)

// Alert 告警信息
type Alert struct {
	Level     string                 // "INFO", "WARNING", "CRITICAL"
	Message   string                 // 原样发送的正文
	Timestamp time.Time              // 告警时间
	Fields    map[string]interface{} // 附加字段（仅日志类通道使用）
}

// Channel 告警通道接口
type Channel interface {
	Send(ctx context.Context, alert Alert) error
	Name() string
}

// Manager 告警管理器。自身不做重试、不做限流：去重由上游的边沿判定负责。
type Manager struct {
	channels    []Channel
	sendTimeout time.Duration
	logger      *logger.Logger
	mu          sync.RWMutex
}

// NewManager 创建告警管理器；sendTimeout<=0 表示不额外限时
func NewManager(channels []Channel, sendTimeout time.Duration, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		channels:    channels,
		sendTimeout: sendTimeout,
		logger:      log,
	}
}

// SendAlert 发送告警到所有通道，至少一个通道成功即视为送达
func (m *Manager) SendAlert(ctx context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	if m.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.sendTimeout)
		defer cancel()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.channels) == 0 {
		return fmt.Errorf("no alert channel configured")
	}

	var lastErr error
	successCount := 0
	for _, ch := range m.channels {
		if err := ch.Send(ctx, alert); err != nil {
			lastErr = fmt.Errorf("channel %s failed: %w", ch.Name(), err)
			m.logger.Error("Alert channel failed",
				zap.String("channel", ch.Name()),
				zap.Error(err))
		} else {
			successCount++
		}
	}

	if successCount == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// Dispatch 发送正文并返回是否确认送达
func (m *Manager) Dispatch(ctx context.Context, message string) bool {
	return m.SendAlert(ctx, Alert{Level: "CRITICAL", Message: message}) == nil
}

// AddChannel 添加告警通道
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// GetChannels 获取所有通道
func (m *Manager) GetChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}
