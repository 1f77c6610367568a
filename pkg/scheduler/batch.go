// pkg/scheduler/batch.go
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"PortfolioAgent/pkg/database"
	"PortfolioAgent/pkg/logger"
	"PortfolioAgent/pkg/messaging"
	"PortfolioAgent/pkg/model"
	"PortfolioAgent/pkg/refresh"
)

// ErrInvalidRequest 批量请求参数无效
var ErrInvalidRequest = errors.New("无效的批量刷新请求")

// Refresher 单个 (symbol, data_kind) 的读取入口
type Refresher interface {
	Get(ctx context.Context, symbol string, kind model.DataKind, opts refresh.GetOptions) (*model.Series, error)
}

// JobStore 任务持久化，默认为 database.JobDB
type JobStore interface {
	Create(job *model.BatchJob) error
	Transition(id string, from, to model.JobStatus, at time.Time) error
	RecordOutcome(item model.BatchJobItem) error
	Get(id string) (*model.BatchJob, error)
	List(limit int) ([]model.BatchJob, error)
}

// Metrics 任务指标
type Metrics interface {
	JobFinished(status string)
}

// Request 批量刷新请求
type Request struct {
	Symbols   []string
	DataKinds []model.DataKind // 为空表示全部类别
	Force     *bool            // 为空时默认强制刷新
	Type      model.JobType
}

// BatchRunner 批量刷新执行器
type BatchRunner struct {
	jobs      JobStore
	refresher Refresher
	workers   int
	log       *logger.Logger
	metrics   Metrics
	publisher messaging.Publisher
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[string]chan struct{}
}

// RunnerOption 执行器选项
type RunnerOption func(*BatchRunner)

func WithJobMetrics(m Metrics) RunnerOption {
	return func(r *BatchRunner) { r.metrics = m }
}

func WithJobPublisher(p messaging.Publisher) RunnerOption {
	return func(r *BatchRunner) { r.publisher = p }
}

// WithJobStore 替换任务存储
func WithJobStore(s JobStore) RunnerOption {
	return func(r *BatchRunner) { r.jobs = s }
}

// NewBatchRunner 创建批量执行器，workers 为同时进行的刷新数
func NewBatchRunner(db *database.DB, refresher Refresher, workers int, log *logger.Logger, opts ...RunnerOption) *BatchRunner {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &BatchRunner{
		jobs:      db.Jobs(),
		refresher: refresher,
		workers:   workers,
		log:       log,
		metrics:   nopMetrics{},
		publisher: messaging.NoopPublisher{},
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		running:   make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Submit 持久化任务后异步执行，立即返回 queued 状态的任务；股票列表为空的任务直接完成
func (r *BatchRunner) Submit(ctx context.Context, req Request) (*model.BatchJob, error) {
	symbols := normalizeSymbols(req.Symbols)
	kinds, err := normalizeKinds(req.DataKinds)
	if err != nil {
		return nil, err
	}
	force := true
	if req.Force != nil {
		force = *req.Force
	}
	jobType := req.Type
	if jobType == "" {
		jobType = model.JobTypeManual
	}

	job := &model.BatchJob{
		Type:      jobType,
		Status:    model.JobQueued,
		Symbols:   symbols,
		DataKinds: kinds,
		Force:     force,
		Total:     len(symbols) * len(kinds),
	}
	for _, s := range symbols {
		for _, k := range kinds {
			job.Items = append(job.Items, model.BatchJobItem{Symbol: s, DataKind: k, Outcome: model.OutcomePending})
		}
	}
	if err := r.jobs.Create(job); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	r.mu.Lock()
	r.running[job.ID] = done
	r.mu.Unlock()

	r.log.Info("批量任务已提交",
		logger.String("job_id", job.ID),
		logger.String("type", string(jobType)),
		logger.Int("total", job.Total),
	)
	r.publish(job.ID, model.JobQueued, job.Total, 0, 0, 0)

	queued := *job
	queued.Items = nil
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.running, job.ID)
			r.mu.Unlock()
			close(done)
		}()
		r.run(job)
	}()
	return &queued, nil
}

// Get 获取任务及条目
func (r *BatchRunner) Get(id string) (*model.BatchJob, error) {
	return r.jobs.Get(id)
}

// List 列出最近的任务
func (r *BatchRunner) List(limit int) ([]model.BatchJob, error) {
	return r.jobs.List(limit)
}

// Wait 等待任务进入终态
func (r *BatchRunner) Wait(ctx context.Context, id string) (*model.BatchJob, error) {
	r.mu.Lock()
	done, ok := r.running[id]
	r.mu.Unlock()
	if ok {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.jobs.Get(id)
}

// Stop 取消未完成的刷新并等待全部任务结束
func (r *BatchRunner) Stop() {
	r.cancel()
	r.wg.Wait()
}

func (r *BatchRunner) run(job *model.BatchJob) {
	if err := r.jobs.Transition(job.ID, model.JobQueued, model.JobRunning, r.now()); err != nil {
		r.log.Error("任务启动失败", logger.String("job_id", job.ID), logger.Error(err))
		r.abort(job, err)
		return
	}
	r.publish(job.ID, model.JobRunning, job.Total, 0, 0, 0)

	var mu sync.Mutex
	counts := map[model.Outcome]int{}

	g := new(errgroup.Group)
	g.SetLimit(r.workers)
	for _, item := range job.Items {
		item := item
		g.Go(func() error {
			item = r.record(r.execute(job, item))
			mu.Lock()
			counts[item.Outcome]++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	final := finalStatus(job.Total, counts[model.OutcomeError])
	if err := r.jobs.Transition(job.ID, model.JobRunning, final, r.now()); err != nil {
		r.log.Error("任务结束状态写入失败", logger.String("job_id", job.ID), logger.Error(err))
		return
	}
	r.metrics.JobFinished(string(final))
	r.publish(job.ID, final, job.Total, counts[model.OutcomeSuccess], counts[model.OutcomeCached], counts[model.OutcomeError])
	r.log.Info("批量任务完成",
		logger.String("job_id", job.ID),
		logger.String("status", string(final)),
		logger.Int("succeeded", counts[model.OutcomeSuccess]),
		logger.Int("cached", counts[model.OutcomeCached]),
		logger.Int("failed", counts[model.OutcomeError]),
	)
}

// record 写入条目结果；写入失败时改记为 error 再试一次，返回最终计入的结果
func (r *BatchRunner) record(item model.BatchJobItem) model.BatchJobItem {
	err := r.jobs.RecordOutcome(item)
	if err == nil {
		return item
	}
	r.log.Error("记录任务条目失败",
		logger.String("job_id", item.JobID),
		logger.String("ts_code", item.Symbol),
		logger.String("outcome", string(item.Outcome)),
		logger.Error(err),
	)
	if item.Outcome != model.OutcomeError {
		item.Reason = fmt.Sprintf("记录结果 %s 失败: %v", item.Outcome, err)
	}
	item.Outcome = model.OutcomeError
	if err := r.jobs.RecordOutcome(item); err != nil {
		r.log.Error("记录任务条目失败", logger.String("job_id", item.JobID), logger.String("ts_code", item.Symbol), logger.Error(err))
	}
	return item
}

// abort 任务无法启动时将全部条目记为失败，任务直接进入 failed
func (r *BatchRunner) abort(job *model.BatchJob, cause error) {
	for _, item := range job.Items {
		finished := r.now().UTC()
		item.FinishedAt = &finished
		item.Outcome = model.OutcomeError
		item.Reason = fmt.Sprintf("任务启动失败: %v", cause)
		if err := r.jobs.RecordOutcome(item); err != nil {
			r.log.Error("记录任务条目失败", logger.String("job_id", job.ID), logger.String("ts_code", item.Symbol), logger.Error(err))
		}
	}
	if err := r.jobs.Transition(job.ID, model.JobQueued, model.JobFailed, r.now()); err != nil {
		r.log.Error("任务失败状态写入失败", logger.String("job_id", job.ID), logger.Error(err))
		return
	}
	r.metrics.JobFinished(string(model.JobFailed))
	r.publish(job.ID, model.JobFailed, job.Total, 0, 0, job.Total)
}

// execute 过期缓存兜底的结果在任务中计为失败
func (r *BatchRunner) execute(job *model.BatchJob, item model.BatchJobItem) model.BatchJobItem {
	series, err := r.refresher.Get(r.ctx, item.Symbol, item.DataKind, refresh.GetOptions{ForceRefresh: job.Force})
	finished := r.now().UTC()
	item.FinishedAt = &finished

	switch {
	case err != nil:
		item.Outcome = model.OutcomeError
		item.Reason = err.Error()
	case series.Source == model.SourceStale:
		item.Outcome = model.OutcomeError
		item.Reason = series.RefreshError
		item.Rows = series.Len()
	case series.Source == model.SourceCache:
		item.Outcome = model.OutcomeCached
		item.Rows = series.Len()
	default:
		item.Outcome = model.OutcomeSuccess
		item.Rows = series.Len()
	}
	return item
}

// finalStatus 全部成功为 done，全部失败为 failed，其余为 partial
func finalStatus(total, failed int) model.JobStatus {
	switch {
	case failed == 0:
		return model.JobDone
	case failed >= total:
		return model.JobFailed
	default:
		return model.JobPartial
	}
}

func (r *BatchRunner) publish(id string, status model.JobStatus, total, succeeded, cached, failed int) {
	event := messaging.JobEvent{
		JobID:     id,
		Status:    string(status),
		Total:     total,
		Succeeded: succeeded,
		Cached:    cached,
		Failed:    failed,
		At:        r.now(),
	}
	if err := r.publisher.Publish("job."+string(status), event); err != nil {
		r.log.Warn("发布任务事件失败", logger.String("job_id", id), logger.Error(err))
	}
}

func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// normalizeKinds 去重并校验类别，为空时返回全部类别
func normalizeKinds(kinds []model.DataKind) ([]model.DataKind, error) {
	if len(kinds) == 0 {
		return append([]model.DataKind(nil), model.AllDataKinds...), nil
	}
	seen := make(map[model.DataKind]bool, len(kinds))
	out := make([]model.DataKind, 0, len(kinds))
	for _, k := range kinds {
		if !k.Valid() {
			return nil, fmt.Errorf("%w: 不支持的数据类别 %q", ErrInvalidRequest, k)
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out, nil
}

type nopMetrics struct{}

func (nopMetrics) JobFinished(string) {}
