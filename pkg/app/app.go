// pkg/app/app.go
package app

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"PortfolioAgent/pkg/analysis"
	"PortfolioAgent/pkg/collector"
	"PortfolioAgent/pkg/config"
	"PortfolioAgent/pkg/database"
	"PortfolioAgent/pkg/llm"
	"PortfolioAgent/pkg/lock"
	"PortfolioAgent/pkg/logger"
	"PortfolioAgent/pkg/messaging"
	"PortfolioAgent/pkg/metrics"
	"PortfolioAgent/pkg/model"
	"PortfolioAgent/pkg/refresh"
	"PortfolioAgent/pkg/scheduler"
)

// App 进程内共享的组件
type App struct {
	Config      *config.Config
	Log         *logger.Logger
	DB          *database.DB
	Source      *collector.TushareAdapter
	Metrics     *metrics.Recorder
	Publisher   messaging.Publisher
	Coordinator *refresh.Coordinator
	Runner      *scheduler.BatchRunner
	Analyses    *analysis.Service

	nats  *messaging.NATSClient
	redis *redis.Client
}

// New 按配置组装组件；NATS 与 Redis 不可用时降级运行
func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	log.Info("数据库已就绪", logger.String("driver", cfg.Database.Driver))

	a := &App{
		Config:    cfg,
		Log:       log,
		DB:        db,
		Source:    collector.NewTushareAdapterFromConfig(cfg.DataSources.Tushare, log),
		Metrics:   metrics.New(),
		Publisher: messaging.NoopPublisher{},
	}
	if cfg.DataSources.Tushare.APIKey == "" {
		log.Warn("未配置 TUSHARE_API_KEY，刷新请求将失败")
	}

	if cfg.NATS.URL != "" {
		nc, err := messaging.NewNATSClient(cfg.NATS.URL, cfg.NATS.SubjectPrefix, log)
		if err != nil {
			log.Warn("NATS不可用，事件将被丢弃", logger.Error(err))
		} else {
			a.nats = nc
			a.Publisher = nc
		}
	}

	opts := []refresh.Option{
		refresh.WithMetrics(a.Metrics),
		refresh.WithPublisher(a.Publisher),
	}
	if cfg.Redis.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		client, err := lock.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		cancel()
		if err != nil {
			log.Warn("Redis不可用，仅使用进程内合并", logger.Error(err))
		} else {
			a.redis = client
			locker := lock.NewRedisLocker(client, cfg.App.Name)
			opts = append(opts, refresh.WithLocker(locker, cfg.Redis.LockTTL, cfg.Redis.LockWait))
		}
	}

	a.Coordinator = refresh.NewCoordinator(db, a.Source, cfg.Cache, log.With(logger.String("component", "refresh")), opts...)
	a.Runner = scheduler.NewBatchRunner(db, a.Coordinator, cfg.Batch.Workers, log.With(logger.String("component", "batch")),
		scheduler.WithJobMetrics(a.Metrics),
		scheduler.WithJobPublisher(a.Publisher),
	)
	narrator := llm.NewNarrator(cfg.LLM, log.With(logger.String("component", "llm")))
	a.Analyses = analysis.NewService(a.Coordinator, db, narrator, log.With(logger.String("component", "analysis")))
	return a, nil
}

// DataKinds 配置中的批量刷新类别，已在配置校验时检查
func (a *App) DataKinds() []model.DataKind {
	kinds, _ := model.ParseDataKinds(a.Config.Batch.DataKinds)
	return kinds
}

// NATSReady 未配置 NATS 时视为就绪
func (a *App) NATSReady() error {
	if a.Config.NATS.URL == "" {
		return nil
	}
	if a.nats == nil || !a.nats.IsConnected() {
		return messaging.ErrNotConnected
	}
	return nil
}

// Close 停止批量任务并释放连接
func (a *App) Close() {
	a.Runner.Stop()
	if a.nats != nil {
		if err := a.nats.Close(); err != nil {
			a.Log.Warn("关闭NATS失败", logger.Error(err))
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if err := a.DB.Close(); err != nil {
		a.Log.Warn("关闭数据库失败", logger.Error(err))
	}
}
