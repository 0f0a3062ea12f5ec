package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"position-engine/config"
	"position-engine/internal/container"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flatten := flag.Bool("flattenOnExit", false, "退出时市价平掉剩余仓位")
	watch := flag.Bool("watchConfig", true, "监听配置文件并热更新参数")
	flag.Parse()

	c, err := container.New(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	buildCtx, buildCancel := context.WithTimeout(ctx, 30*time.Second)
	err = c.Build(buildCtx)
	buildCancel()
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}
	lg := c.Logger()

	if err := c.Start(ctx); err != nil {
		lg.LogError(err, map[string]interface{}{"action": "startup aborted"})
		_ = c.Stop(context.Background(), false)
		os.Exit(1)
	}

	if *watch {
		w := config.NewWatcher(*cfgPath, time.Second, lg.Logger)
		go func() {
			err := w.Start(ctx, func(next config.AppConfig) {
				if err := c.Apply(next); err != nil {
					lg.LogError(err, map[string]interface{}{"op": "config_reload", "action": "keeping previous params"})
				}
			})
			if err != nil && ctx.Err() == nil {
				lg.LogError(err, map[string]interface{}{"op": "config_watch", "action": "hot reload disabled"})
			}
		}()
	}

	notify(lg.Logger, daemon.SdNotifyReady)
	onTick := watchdog(lg.Logger)

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, onTick) }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		lg.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-done:
		lg.LogError(err, map[string]interface{}{"action": "scheduler exited"})
	}

	notify(lg.Logger, daemon.SdNotifyStopping)
	cancel()
	<-done

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := c.Stop(stopCtx, *flatten); err != nil {
		log.Printf("shutdown incomplete: %v", err)
		os.Exit(1)
	}
}

func notify(lg *zap.Logger, state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		lg.Warn("sd_notify failed", zap.String("state", state), zap.Error(err))
	}
}

// watchdog 在 systemd 启用 WatchdogSec 时返回每轮心跳回调，按一半周期限频。
func watchdog(lg *zap.Logger) func() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return nil
	}
	lg.Info("systemd watchdog enabled", zap.Duration("interval", interval))
	var last time.Time
	return func() {
		if time.Since(last) < interval/2 {
			return
		}
		last = time.Now()
		notify(lg, daemon.SdNotifyWatchdog)
	}
}
