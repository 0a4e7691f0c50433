package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 未配置时使用的占位值，便于一眼看出缺失的凭证。
const (
	PlaceholderAPIKey   = "YOUR_COINGLASS_API_KEY"
	PlaceholderBotToken = "YOUR_TELEGRAM_BOT_TOKEN"
	PlaceholderChatID   = "YOUR_TELEGRAM_CHAT_ID"
	DefaultPort         = 3000
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env      string         `yaml:"env"`
	Provider ProviderConfig `yaml:"provider"`
	Telegram TelegramConfig `yaml:"telegram"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// ProviderConfig 上游清算数据源（CoinGlass）。
type ProviderConfig struct {
	BaseURL        string  `yaml:"baseURL"`
	Path           string  `yaml:"path"`
	APIKey         string  `yaml:"apiKey"`
	Symbol         string  `yaml:"symbol"`
	Interval       string  `yaml:"interval"`
	TimeoutSeconds int     `yaml:"timeoutSeconds"`
	RateLimit      float64 `yaml:"rateLimit"` // 每秒请求数，<=0 表示不限
}

type TelegramConfig struct {
	APIURL   string `yaml:"apiURL"`
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// MonitorConfig 阈值与轮询周期，可在运行时被控制面或热更新覆盖。
type MonitorConfig struct {
	LongThreshold      float64 `yaml:"longThreshold"`
	ShortThreshold     float64 `yaml:"shortThreshold"`
	PollIntervalSec    float64 `yaml:"pollIntervalSec"`
	MaxRetries         int     `yaml:"maxRetries"`
	RetryDelaySec      float64 `yaml:"retryDelaySec"`
	ShutdownTimeoutSec float64 `yaml:"shutdownTimeoutSec"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsAddr string `yaml:"metricsAddr"` // 留空则关闭 /metrics
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	OutputFile string `yaml:"outputFile"`
}

// Default returns the configuration used when no file or env value is given.
func Default() AppConfig {
	return AppConfig{
		Env: "dev",
		Provider: ProviderConfig{
			BaseURL:        "https://open-api-v4.coinglass.com",
			Path:           "/api/futures/liquidation/aggregated-history",
			APIKey:         PlaceholderAPIKey,
			Symbol:         "BTC",
			Interval:       "1h",
			TimeoutSeconds: 5,
		},
		Telegram: TelegramConfig{
			APIURL:   "https://api.telegram.org",
			BotToken: PlaceholderBotToken,
			ChatID:   PlaceholderChatID,
		},
		Monitor: MonitorConfig{
			LongThreshold:      5_000_000,
			ShortThreshold:     5_000_000,
			PollIntervalSec:    60,
			MaxRetries:         3,
			RetryDelaySec:      5,
			ShutdownTimeoutSec: 10,
		},
		Server: ServerConfig{
			Port:        DefaultPort,
			MetricsAddr: ":9100",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads YAML config from path on top of Default() and validates it.
// An empty path or a missing file yields the defaults.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("parse yaml: %w", err)
			}
		}
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
// A .env file in the working directory is honoured but never required.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("COINGLASS_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return cfg, fmt.Errorf("parse PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("LIQ_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	return cfg, Validate(cfg)
}

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Provider.BaseURL == "" {
		return errors.New("provider.baseURL is required")
	}
	if cfg.Provider.Symbol == "" {
		return errors.New("provider.symbol is required")
	}
	if cfg.Provider.TimeoutSeconds <= 0 {
		return errors.New("provider.timeoutSeconds must be > 0")
	}
	if cfg.Telegram.APIURL == "" {
		return errors.New("telegram.apiURL is required")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Monitor.MaxRetries < 0 {
		return errors.New("monitor.maxRetries must be >= 0")
	}
	if cfg.Monitor.RetryDelaySec < 0 {
		return errors.New("monitor.retryDelaySec must be >= 0")
	}
	return ValidateParams(cfg.Monitor)
}

// PollInterval 返回轮询周期。
func (m MonitorConfig) PollInterval() time.Duration {
	return seconds(m.PollIntervalSec)
}

func (m MonitorConfig) RetryDelay() time.Duration {
	return seconds(m.RetryDelaySec)
}

func (m MonitorConfig) ShutdownTimeout() time.Duration {
	return seconds(m.ShutdownTimeoutSec)
}

// Timeout 返回单次请求超时。
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// ListenAddr 控制面监听地址。
func (s ServerConfig) ListenAddr() string {
	return ":" + strconv.Itoa(s.Port)
}

// seconds 秒 -> time.Duration；非有限值或超出 Duration 范围时返回 0
func seconds(v float64) time.Duration {
	ns := v * float64(time.Second)
	if math.IsNaN(ns) || math.IsInf(ns, 0) || ns >= math.MaxInt64 || ns <= math.MinInt64 {
		return 0
	}
	return time.Duration(ns)
}
