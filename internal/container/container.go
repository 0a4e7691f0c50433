package container

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"liquidation-alert-go/config"
	"liquidation-alert-go/gateway"
	"liquidation-alert-go/infrastructure/alert"
	"liquidation-alert-go/infrastructure/logger"
	"liquidation-alert-go/infrastructure/monitor"
	internalconfig "liquidation-alert-go/internal/config"
	"liquidation-alert-go/internal/control"
	"liquidation-alert-go/internal/engine"
	"liquidation-alert-go/internal/stream"
)

// Options 命令行层传入的开关
type Options struct {
	DryRun bool // 告警只写日志，不调用 Telegram
}

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg        *config.AppConfig
	configPath string
	opts       Options

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor

	// 外部网关
	coinglass *gateway.CoinglassClient
	telegram  *gateway.TelegramClient

	// 核心服务
	alerts   *alert.Manager
	engine   *engine.Engine
	hub      *stream.Hub
	control  *control.Server
	reloader *internalconfig.HotReloader

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 创建新的Container实例
func New(configPath string, opts Options) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewWithConfig(cfg, configPath, opts), nil
}

// NewWithConfig 使用已加载的配置（测试入口）
func NewWithConfig(cfg config.AppConfig, configPath string, opts Options) *Container {
	return &Container{
		cfg:        &cfg,
		configPath: configPath,
		opts:       opts,
		lifecycle:  NewLifecycleManager(),
	}
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}

	c.buildGateway()
	c.buildAlerting()

	if err := c.buildEngine(); err != nil {
		return fmt.Errorf("build engine failed: %w", err)
	}

	if err := c.buildSurface(); err != nil {
		return fmt.Errorf("build control surface failed: %w", err)
	}

	c.registerLifecycleComponents()
	c.logger.Info("container built successfully",
		zap.Strings("components", c.lifecycle.Names()),
		zap.Bool("dry_run", c.opts.DryRun))
	return nil
}

func (c *Container) buildInfrastructure() error {
	logCfg := logger.Config{
		Level:   c.cfg.Log.Level,
		Outputs: []string{"stdout"},
		Format:  c.cfg.Log.Format,
	}
	if c.cfg.Log.OutputFile != "" {
		logCfg.Outputs = append(logCfg.Outputs, "file")
		logCfg.OutputFile = c.cfg.Log.OutputFile
	}

	var err error
	c.logger, err = logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	c.monitor = monitor.New(monitor.DefaultConfig())

	c.logger.Info("infrastructure built")
	return nil
}

func (c *Container) buildGateway() {
	p := c.cfg.Provider
	c.coinglass = &gateway.CoinglassClient{
		BaseURL:    p.BaseURL,
		Path:       p.Path,
		APIKey:     p.APIKey,
		Symbol:     p.Symbol,
		Interval:   p.Interval,
		Timeout:    p.Timeout(),
		HTTPClient: gateway.NewDefaultHTTPClient(p.Timeout()),
	}
	if p.RateLimit > 0 {
		c.coinglass.Limiter = gateway.NewTokenBucketLimiter(p.RateLimit, 1)
	}
	if p.APIKey == config.PlaceholderAPIKey {
		c.logger.Warn("COINGLASS_API_KEY not set, using placeholder")
	}

	c.telegram = &gateway.TelegramClient{
		APIURL:     c.cfg.Telegram.APIURL,
		BotToken:   c.cfg.Telegram.BotToken,
		HTTPClient: gateway.NewDefaultHTTPClient(p.Timeout()),
	}

	c.logger.Info("gateway built",
		zap.String("provider", p.BaseURL),
		zap.String("symbol", p.Symbol))
}

func (c *Container) buildAlerting() {
	var ch alert.Channel
	if c.opts.DryRun {
		ch = alert.NewLogChannel("dry-run", c.logger)
	} else {
		ch = alert.NewTelegramChannel("telegram", c.telegram, c.cfg.Telegram.ChatID)
		if c.cfg.Telegram.BotToken == config.PlaceholderBotToken || c.cfg.Telegram.ChatID == config.PlaceholderChatID {
			c.logger.Warn("telegram credentials not set, alerts will fail until configured")
		}
	}
	c.alerts = alert.NewManager(nil, c.cfg.Provider.Timeout(), c.logger)
	c.alerts.AddChannel(ch)
	c.logger.Info("alerting built", zap.Strings("channels", c.alerts.GetChannels()))
}

func (c *Container) buildEngine() error {
	m := c.cfg.Monitor
	eng, err := engine.New(engine.Config{
		Symbol: c.cfg.Provider.Symbol,
		Thresholds: engine.ThresholdConfig{
			LongThreshold:  m.LongThreshold,
			ShortThreshold: m.ShortThreshold,
			PollInterval:   m.PollInterval(),
		},
		Retry: engine.RetryPolicy{
			MaxRetries: m.MaxRetries,
			Delay:      m.RetryDelay(),
		},
		ShutdownTimeout: m.ShutdownTimeout(),
	}, engine.Components{
		Fetcher:    c.coinglass,
		Dispatcher: c.alerts,
		Logger:     c.logger,
		Recorder:   c.monitor,
	})
	if err != nil {
		return err
	}
	c.engine = eng
	return nil
}

func (c *Container) buildSurface() error {
	c.hub = stream.NewHub(c.logger, c.monitor)
	c.engine.OnSnapshot(c.hub.PublishSnapshot)

	c.control = control.NewServer(control.Options{
		Controller: c.engine,
		Logger:     c.logger,
		Metrics:    c.monitor,
		Health:     c.HealthCheck,
		Stream:     c.hub.ServeWS,
	})

	if c.configPath == "" {
		return nil
	}
	if _, err := os.Stat(c.configPath); err != nil {
		c.logger.Info("config file not found, hot reload disabled", zap.String("path", c.configPath))
		return nil
	}
	reloader, err := internalconfig.NewHotReloader(c.configPath, internalconfig.DefaultHotReloadConfig(), c.logger)
	if err != nil {
		return err
	}
	reloader.RegisterValidator(internalconfig.MonitorParameterValidator{})
	reloader.RegisterApplier(internalconfig.EngineApplier{Engine: c.engine})
	c.reloader = reloader
	return nil
}

func (c *Container) registerLifecycleComponents() {
	c.lifecycle.Register("ws_hub", c.hub)
	c.lifecycle.Register("engine", c.engine)
	if c.reloader != nil {
		c.lifecycle.Register("hot_reloader", c.reloader)
	}
	c.lifecycle.Register("control_server", &httpServerComponent{
		name:    "control_server",
		handler: c.control.Router(),
		addr:    c.cfg.Server.ListenAddr(),
		logger:  c.logger,
	})
	if c.cfg.Server.MetricsAddr != "" {
		c.lifecycle.Register("metrics_server", &httpServerComponent{
			name:    "metrics_server",
			handler: c.monitor.Handler(),
			addr:    c.cfg.Server.MetricsAddr,
			logger:  c.logger,
		})
	}
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started")
	return nil
}

func (c *Container) Stop() error {
	c.logger.Info("stopping container...")

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}

	c.logger.Info("container stopped")
	_ = c.logger.Close()
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// Engine 暴露引擎（测试与命令行使用）
func (c *Container) Engine() *engine.Engine {
	return c.engine
}

// Config 当前生效的启动配置
func (c *Container) Config() config.AppConfig {
	return *c.cfg
}

// Logger 容器内的日志实例
func (c *Container) Logger() *logger.Logger {
	return c.logger
}
