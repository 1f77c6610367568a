package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"PortfolioAgent/pkg/app"
	"PortfolioAgent/pkg/config"
	"PortfolioAgent/pkg/logger"
	"PortfolioAgent/pkg/model"
	"PortfolioAgent/pkg/scheduler"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径，默认读取 CONFIG_PATH")
	symbols := flag.String("symbols", "", "逗号分隔的股票代码，为空时刷新自选股与持仓")
	kinds := flag.String("kinds", "", "逗号分隔的数据类别: price,financial,valuation")
	force := flag.Bool("force", true, "忽略TTL强制刷新")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = config.GetDefaultConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		log.Fatalf("加载配置失败: %v\n", err)
	}

	lg, err := logger.New(cfg.Logging)
	if err != nil {
		log.Fatalf("初始化日志失败: %v\n", err)
	}

	job, err := run(cfg, lg, split(*symbols), split(*kinds), *force)
	if err != nil {
		lg.Error("批量刷新失败", logger.Error(err))
		os.Exit(1)
	}
	if job.Status != model.JobDone {
		os.Exit(1)
	}
}

func run(cfg *config.Config, lg *logger.Logger, symbols, kindNames []string, force bool) (*model.BatchJob, error) {
	kinds, err := model.ParseDataKinds(kindNames)
	if err != nil {
		return nil, err
	}

	a, err := app.New(cfg, lg)
	if err != nil {
		return nil, fmt.Errorf("初始化应用失败: %w", err)
	}
	defer a.Close()

	if len(symbols) == 0 {
		held, err := a.DB.Portfolios().HeldSymbols()
		if err != nil {
			return nil, err
		}
		symbols = append(append(symbols, cfg.Batch.Watchlist...), held...)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queued, err := a.Runner.Submit(ctx, scheduler.Request{
		Symbols:   symbols,
		DataKinds: kinds,
		Force:     &force,
	})
	if err != nil {
		return nil, err
	}
	job, err := a.Runner.Wait(ctx, queued.ID)
	if err != nil {
		return nil, fmt.Errorf("等待任务 %s 失败: %w", queued.ID, err)
	}

	printJob(job)
	return job, nil
}

func printJob(job *model.BatchJob) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TS_CODE\tKIND\tOUTCOME\tROWS\tREASON")
	for _, item := range job.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", item.Symbol, item.DataKind, item.Outcome, item.Rows, item.Reason)
	}
	w.Flush()
	fmt.Printf("任务 %s: %s (成功 %d, 缓存 %d, 失败 %d, 共 %d)\n",
		job.ID, job.Status, job.Succeeded, job.Cached, job.Failed, job.Total)
}

func split(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
