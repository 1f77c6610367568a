package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"

	"PortfolioAgent/pkg/database"
	"PortfolioAgent/pkg/logger"
	"PortfolioAgent/pkg/model"
)

// Scheduler 定时任务调度器
type Scheduler struct {
	cron      *cron.Cron
	runner    *BatchRunner
	db        *database.DB
	watchlist []string
	kinds     []model.DataKind
	log       *logger.Logger
}

// NewScheduler 创建定时调度器
func NewScheduler(runner *BatchRunner, db *database.DB, watchlist []string, kinds []model.DataKind, log *logger.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		runner:    runner,
		db:        db,
		watchlist: watchlist,
		kinds:     kinds,
		log:       log,
	}
}

// Start 按 cron 表达式注册收盘后刷新并启动调度器
func (s *Scheduler) Start(expr string) error {
	if expr != "" {
		if _, err := s.cron.AddFunc(expr, s.refreshWatchlist); err != nil {
			return err
		}
		s.log.Info("定时刷新已启用", logger.String("cron", expr))
	}
	s.cron.Start()
	return nil
}

// Stop 停止调度器，等待正在触发的任务提交完成
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// refreshWatchlist 刷新自选股与所有组合持仓
func (s *Scheduler) refreshWatchlist() {
	symbols := append([]string{}, s.watchlist...)
	held, err := s.db.Portfolios().HeldSymbols()
	if err != nil {
		s.log.Error("获取持仓股票失败", logger.Error(err))
	} else {
		symbols = append(symbols, held...)
	}
	if len(symbols) == 0 {
		s.log.Debug("自选股与持仓均为空，跳过定时刷新")
		return
	}

	job, err := s.runner.Submit(context.Background(), Request{
		Symbols:   symbols,
		DataKinds: s.kinds,
		Type:      model.JobTypeScheduled,
	})
	if err != nil {
		s.log.Error("提交定时刷新任务失败", logger.Error(err))
		return
	}
	s.log.Info("定时刷新任务已提交", logger.String("job_id", job.ID), logger.Int("total", job.Total))
}
