package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"liquidation-alert-go/infrastructure/logger"
	"liquidation-alert-go/internal/container"
)

// DefaultConfigPath 默认配置文件路径；文件不存在时使用内置默认值
const DefaultConfigPath = "configs/config.yaml"

var (
	// cfgPath stores the configuration file path.
	cfgPath string
	// dryRun routes alerts to the log instead of Telegram.
	dryRun bool

	rootCmd = &cobra.Command{
		Use:   "liqalert",
		Short: "Alert on liquidation volume threshold crossings.",
		Long: `Polls aggregate long/short liquidation volume from CoinGlass and sends a
Telegram message once per distinct value above the configured threshold.

Thresholds and the polling interval can be changed at runtime from the
dashboard (POST /set-params) or by editing the config file.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return run(ctx, cfgPath, container.Options{DryRun: dryRun})
		},
	}
)

// Execute runs the CLI and exits with non-zero status on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&cfgPath, "config", "c", DefaultConfigPath, "path to configuration file")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "log alerts instead of sending them")
}

// run 构建容器并阻塞到 ctx 结束
func run(ctx context.Context, path string, opts container.Options) error {
	c, err := container.New(path, opts)
	if err != nil {
		return err
	}
	if err := c.Build(); err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Stop()
		return err
	}

	log := c.Logger()
	notify(log, daemon.SdNotifyReady)
	log.Info("liquidation alert running",
		zap.String("symbol", c.Config().Provider.Symbol),
		zap.String("control_addr", c.Config().Server.ListenAddr()))

	<-ctx.Done()

	notify(log, daemon.SdNotifyStopping)
	if err := c.Stop(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// notify 不在 systemd 下运行时 SdNotify 返回 (false, nil)，忽略即可
func notify(log *logger.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.Warn("sd_notify failed", zap.String("state", state), zap.Error(err))
	}
}
