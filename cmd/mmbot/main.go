package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"openbook-mm/internal/container"
)

// OpenBook 做市进程。
// 用法：
//
//	go run ./cmd/mmbot -config configs/config.yaml -dryRun
func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	dryRun := flag.Bool("dryRun", false, "仅日志输出，不真正发送交易")
	metricsAddr := flag.String("metricsAddr", "", "Prometheus metrics 监听地址，覆盖配置")
	flag.Parse()

	if err := run(*cfgPath, container.Options{DryRun: *dryRun, MetricsAddr: *metricsAddr}); err != nil {
		fmt.Fprintf(os.Stderr, "mmbot: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string, opts container.Options) error {
	c, err := container.New(cfgPath, opts)
	if err != nil {
		return err
	}
	if err := c.Build(); err != nil {
		return err
	}
	log := c.Logger().Logger

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		_ = c.Stop()
		return err
	}
	notify(log, daemon.SdNotifyReady)

	stopWatchdog := startWatchdog(ctx, c, log)
	defer stopWatchdog()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	for sig := range sigs {
		if sig == syscall.SIGHUP {
			if err := c.Reload(); err != nil {
				log.Warn("reload on SIGHUP failed", zap.Error(err))
			}
			continue
		}
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
		break
	}

	notify(log, daemon.SdNotifyStopping)
	cancel()
	return c.Stop()
}

// startWatchdog 在 systemd 开启 WatchdogSec 时按一半周期上报，组件不健康时停止上报
func startWatchdog(ctx context.Context, c *container.Container, log *zap.Logger) func() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.HealthCheck(); err != nil {
					log.Warn("health check failed, skipping watchdog ping", zap.Error(err))
					continue
				}
				notify(log, daemon.SdNotifyWatchdog)
			}
		}
	}()
	return cancel
}

func notify(log *zap.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.Warn("sd_notify failed", zap.String("state", state), zap.Error(err))
	}
}
