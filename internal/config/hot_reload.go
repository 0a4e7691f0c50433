package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	appconfig "liquidation-alert-go/config"
	"liquidation-alert-go/infrastructure/logger"
	"liquidation-alert-go/internal/engine"
)

// ReloadSource 热更新在日志/事件中的来源标识
const ReloadSource = "reload"

// HotReloadConfig 热更新配置
type HotReloadConfig struct {
	Enabled      bool          // 是否启用热更新
	CooldownTime time.Duration // 合并连续写入：最后一次事件后静默这么久才重载
}

// DefaultHotReloadConfig 默认热更新配置
func DefaultHotReloadConfig() HotReloadConfig {
	return HotReloadConfig{
		Enabled:      true,
		CooldownTime: 500 * time.Millisecond,
	}
}

// ParameterValidator 参数验证器接口
type ParameterValidator interface {
	Validate(params appconfig.MonitorConfig) error
}

// ParameterApplier 参数应用器接口
type ParameterApplier interface {
	ApplyParameters(params appconfig.MonitorConfig) error
}

// HotReloader 配置热更新器：监听配置文件，重新解析 monitor 段并下发
type HotReloader struct {
	config     HotReloadConfig
	configPath string
	watcher    *fsnotify.Watcher
	validators []ParameterValidator
	appliers   []ParameterApplier
	logger     *logger.Logger

	mu         sync.RWMutex
	lastReload time.Time
	lastErr    error
	reloads    int

	startOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
	doneChan  chan struct{}
}

// NewHotReloader 创建热更新器
func NewHotReloader(configPath string, cfg HotReloadConfig, log *logger.Logger) (*HotReloader, error) {
	if configPath == "" {
		return nil, errors.New("config path is required")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &HotReloader{
		config:     cfg,
		configPath: filepath.Clean(configPath),
		watcher:    watcher,
		logger:     log,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// RegisterValidator 注册参数验证器
func (h *HotReloader) RegisterValidator(validator ParameterValidator) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.validators = append(h.validators, validator)
}

// RegisterApplier 注册参数应用器
func (h *HotReloader) RegisterApplier(applier ParameterApplier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appliers = append(h.appliers, applier)
}

// Start 启动热更新监听。监听所在目录，编辑器的 rename 式保存也能捕获。
func (h *HotReloader) Start(ctx context.Context) error {
	if !h.config.Enabled {
		return nil
	}

	var err error
	h.startOnce.Do(func() {
		if err = h.watcher.Add(filepath.Dir(h.configPath)); err != nil {
			err = fmt.Errorf("failed to watch config dir: %w", err)
			return
		}
		go h.watch(ctx)
	})
	return err
}

// Stop 停止热更新
func (h *HotReloader) Stop() error {
	h.stopOnce.Do(func() { close(h.stopChan) })
	if !h.config.Enabled {
		return h.watcher.Close()
	}

	// 等待 goroutine 结束（带超时）
	select {
	case <-h.doneChan:
	case <-time.After(1 * time.Second):
		// 超时，可能 watch goroutine 没有启动
	}

	return h.watcher.Close()
}

// Health 最近一次重载失败时返回错误
func (h *HotReloader) Health() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastErr
}

// watch 监听文件变化
func (h *HotReloader) watch(ctx context.Context) {
	defer close(h.doneChan)

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != h.configPath {
				continue
			}
			// 只处理写入和创建事件
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				debounce = time.After(h.config.CooldownTime)
			}
		case <-debounce:
			debounce = nil
			if err := h.Reload(); err != nil {
				h.logger.Error("config reload failed",
					zap.String("path", h.configPath),
					zap.Error(err))
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			// 记录错误但继续监听
			h.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// Reload 重新读取配置文件，验证通过后下发 monitor 段。
// 验证失败时运行中的参数保持不变。
func (h *HotReloader) Reload() error {
	err := h.reload()

	h.mu.Lock()
	h.lastErr = err
	if err == nil {
		h.lastReload = time.Now()
		h.reloads++
	}
	h.mu.Unlock()
	return err
}

func (h *HotReloader) reload() error {
	cfg, err := appconfig.Load(h.configPath)
	if err != nil {
		return err
	}

	h.mu.RLock()
	validators := append([]ParameterValidator(nil), h.validators...)
	appliers := append([]ParameterApplier(nil), h.appliers...)
	h.mu.RUnlock()

	for _, v := range validators {
		if err := v.Validate(cfg.Monitor); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}
	for _, a := range appliers {
		if err := a.ApplyParameters(cfg.Monitor); err != nil {
			return fmt.Errorf("apply failed: %w", err)
		}
	}
	return nil
}

// GetLastReloadTime 获取最后重载时间
func (h *HotReloader) GetLastReloadTime() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastReload
}

// ReloadCount 成功重载次数
func (h *HotReloader) ReloadCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.reloads
}

// MonitorParameterValidator 监控参数验证器
type MonitorParameterValidator struct{}

func (MonitorParameterValidator) Validate(params appconfig.MonitorConfig) error {
	return appconfig.ValidateParams(params)
}

// EngineApplier 把 monitor 段合并进引擎的运行时参数
type EngineApplier struct {
	Engine *engine.Engine
}

func (a EngineApplier) ApplyParameters(params appconfig.MonitorConfig) error {
	long, short := params.LongThreshold, params.ShortThreshold
	period := params.PollInterval()
	a.Engine.ApplyParams(ReloadSource, engine.ParamUpdate{
		LongThreshold:  &long,
		ShortThreshold: &short,
		PollInterval:   &period,
	})
	return nil
}
