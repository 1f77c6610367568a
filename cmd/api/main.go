package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"PortfolioAgent/pkg/api"
	"PortfolioAgent/pkg/app"
	"PortfolioAgent/pkg/config"
	"PortfolioAgent/pkg/logger"
	"PortfolioAgent/pkg/scheduler"
)

func main() {
	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v\n", err)
	}

	lg, err := logger.New(cfg.Logging)
	if err != nil {
		log.Fatalf("初始化日志失败: %v\n", err)
	}
	lg.Info("启动API服务...", logger.String("config", configPath), logger.String("env", cfg.App.Env))

	if err := run(cfg, lg); err != nil {
		lg.Error("API服务异常退出", logger.Error(err))
		os.Exit(1)
	}
	lg.Info("API服务已关闭")
}

func run(cfg *config.Config, lg *logger.Logger) error {
	a, err := app.New(cfg, lg)
	if err != nil {
		return fmt.Errorf("初始化应用失败: %w", err)
	}
	defer a.Close()

	// 定时刷新关注列表与持仓
	sched := scheduler.NewScheduler(a.Runner, a.DB, cfg.Batch.Watchlist, a.DataKinds(), lg.With(logger.String("component", "cron")))
	if err := sched.Start(cfg.Batch.Cron); err != nil {
		return err
	}
	defer sched.Stop()

	handlers := api.NewHandlers(a.DB, a.Coordinator, a.Runner, a.Analyses, a.Source, lg.With(logger.String("component", "api")))
	handlers.AddReadinessCheck("nats", a.NATSReady)

	var opts []api.ServerOption
	if cfg.Metrics.Enabled {
		opts = append(opts, api.WithMetrics(a.Metrics, cfg.Metrics.Path, a.Metrics.Handler()))
	}
	server := api.NewServer(cfg.API, lg, opts...)
	server.SetupRoutes(handlers)

	// 等待中断信号
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return server.Run(ctx)
}
