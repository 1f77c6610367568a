package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"PortfolioAgent/pkg/collector"
	"PortfolioAgent/pkg/config"
	"PortfolioAgent/pkg/database"
	"PortfolioAgent/pkg/logger"
	"PortfolioAgent/pkg/messaging"
	"PortfolioAgent/pkg/model"
)

// Metrics 刷新指标
type Metrics interface {
	CacheHit(kind string)
	FetchResult(kind, result string)
	Coalesced(kind string)
	StaleServed(kind string)
	ObserveRefresh(kind string, d time.Duration)
}

// Locker 跨进程互斥锁
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (string, bool, error)
	Unlock(ctx context.Context, name, token string) error
}

// GetOptions 读取选项
type GetOptions struct {
	ForceRefresh bool
	Limit        int // <=0 表示不限
}

// Coordinator 缓存优先的读取与刷新协调器
//
// 同一 (symbol, data_kind) 同时最多只有一次上游请求，并发调用方共享结果。
// 时间序列记录与新鲜度台账只由这里写入。
type Coordinator struct {
	db        *database.DB
	fetcher   collector.Fetcher
	cache     config.Cache
	log       *logger.Logger
	metrics   Metrics
	publisher messaging.Publisher
	locker    Locker
	lockTTL   time.Duration
	lockWait  time.Duration
	now       func() time.Time
	group     singleflight.Group
}

// Option 协调器选项
type Option func(*Coordinator)

func WithMetrics(m Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithPublisher(p messaging.Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithLocker 启用跨进程锁，wait 为等待其他进程释放的上限
func WithLocker(l Locker, ttl, wait time.Duration) Option {
	return func(c *Coordinator) {
		c.locker = l
		c.lockTTL = ttl
		c.lockWait = wait
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator 创建协调器
func NewCoordinator(db *database.DB, fetcher collector.Fetcher, cache config.Cache, log *logger.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		db:        db,
		fetcher:   fetcher,
		cache:     cache,
		log:       log,
		metrics:   nopMetrics{},
		publisher: messaging.NoopPublisher{},
		lockTTL:   time.Minute,
		lockWait:  45 * time.Second,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache.FetchTimeout <= 0 {
		c.cache.FetchTimeout = 30 * time.Second
	}
	return c
}

// Get TTL 内直接读缓存，否则刷新；刷新失败时有缓存则返回过期数据
func (c *Coordinator) Get(ctx context.Context, symbol string, kind model.DataKind, opts GetOptions) (*model.Series, error) {
	if err := validateKey(symbol, kind); err != nil {
		return nil, err
	}

	if !opts.ForceRefresh {
		stale, err := c.db.Status().IsStale(symbol, kind, c.cache.TTL(kind), c.now())
		if err != nil {
			return nil, &database.StorageError{Op: "check freshness", Err: err}
		}
		if !stale {
			series, err := c.Query(symbol, kind, opts.Limit)
			if err != nil {
				return nil, err
			}
			series.Source = model.SourceCache
			c.metrics.CacheHit(kind.String())
			return series, nil
		}
	}

	out, err := c.flight(ctx, symbol, kind)
	if err != nil {
		return nil, err
	}

	series, err := c.Query(symbol, kind, opts.Limit)
	if err != nil {
		return nil, err
	}
	series.Source = out.source
	series.Stale = out.source == model.SourceStale
	series.Inserted = out.result.Inserted
	series.Updated = out.result.Updated
	if out.fetchErr != nil {
		series.RefreshError = out.fetchErr.Error()
	}
	return series, nil
}

// Refresh 强制刷新
func (c *Coordinator) Refresh(ctx context.Context, symbol string, kind model.DataKind, limit int) (*model.Series, error) {
	return c.Get(ctx, symbol, kind, GetOptions{ForceRefresh: true, Limit: limit})
}

// Query 只读缓存，不触发刷新
func (c *Coordinator) Query(symbol string, kind model.DataKind, limit int) (*model.Series, error) {
	if err := validateKey(symbol, kind); err != nil {
		return nil, err
	}
	series, err := c.db.Records().Query(symbol, kind, limit)
	if err != nil {
		return nil, &database.StorageError{Op: "query records", Err: err}
	}
	return series, nil
}

// Status 返回股票各类别的台账
func (c *Coordinator) Status(symbol string) ([]model.DataStatus, error) {
	return c.db.Status().ListBySymbol(symbol, c.now())
}

func validateKey(symbol string, kind model.DataKind) error {
	if symbol == "" {
		return fmt.Errorf("%w: 股票代码不能为空", ErrInvalidKey)
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: 不支持的数据类别 %q", ErrInvalidKey, kind)
	}
	return nil
}

type flightResult struct {
	source   model.SeriesSource
	result   database.UpsertResult
	fetchErr error
}

// flight 合并同一键上的并发刷新；调用方 ctx 结束时停止等待，但不取消共享刷新
func (c *Coordinator) flight(ctx context.Context, symbol string, kind model.DataKind) (*flightResult, error) {
	key := kind.String() + ":" + symbol
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.refresh(context.WithoutCancel(ctx), key, symbol, kind)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.Coalesced(kind.String())
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*flightResult), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) refresh(ctx context.Context, key, symbol string, kind model.DataKind) (*flightResult, error) {
	started := c.now()
	ttl := c.cache.TTL(kind)
	defer func() { c.metrics.ObserveRefresh(kind.String(), c.now().Sub(started)) }()

	if c.locker != nil {
		release, peerRefreshed := c.acquire(ctx, key, symbol, kind, started)
		defer release()
		if peerRefreshed {
			c.log.Debug("其他实例已完成刷新", logger.String("key", key))
			return &flightResult{source: model.SourceRefresh}, nil
		}
	}

	rows, err := c.fetch(ctx, symbol, kind)
	var series *model.Series
	if err == nil {
		series, err = Normalize(symbol, kind, rows)
	}
	if err != nil {
		return c.fail(symbol, kind, ttl, err)
	}

	var result database.UpsertResult
	err = c.db.Transaction(func(tx *database.DB) error {
		var err error
		if result, err = tx.Records().Upsert(series); err != nil {
			return err
		}
		return tx.Status().RecordSuccess(symbol, kind, c.now(), ttl)
	})
	if err != nil {
		c.metrics.FetchResult(kind.String(), "storage")
		if lerr := c.db.Status().RecordFailure(symbol, kind, c.now(), ttl, "storage", err.Error()); lerr != nil {
			c.log.Error("记录刷新失败状态失败", logger.String("key", key), logger.Error(lerr))
		}
		c.log.Error("写入缓存失败", logger.String("key", key), logger.Error(err))
		var se *database.StorageError
		if !errors.As(err, &se) {
			err = &database.StorageError{Op: "refresh " + key, Err: err}
		}
		return nil, err
	}

	c.metrics.FetchResult(kind.String(), "success")
	c.log.Info("刷新完成",
		logger.String("ts_code", symbol),
		logger.String("data_kind", kind.String()),
		logger.Int("rows", series.Len()),
		logger.Int("inserted", result.Inserted),
		logger.Int("updated", result.Updated),
	)
	c.publish(symbol, kind, model.SourceRefresh, result, nil)
	return &flightResult{source: model.SourceRefresh, result: result}, nil
}

// fetch 以超时包裹上游调用，超时即视为失败
func (c *Coordinator) fetch(ctx context.Context, symbol string, kind model.DataKind) ([]collector.RawRow, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.cache.FetchTimeout)
	defer cancel()

	type fetched struct {
		rows []collector.RawRow
		err  error
	}
	done := make(chan fetched, 1)
	go func() {
		rows, err := c.fetcher.Fetch(fetchCtx, symbol, kind)
		done <- fetched{rows: rows, err: err}
	}()

	select {
	case r := <-done:
		return r.rows, r.err
	case <-fetchCtx.Done():
		return nil, &collector.FetchError{
			Kind:     collector.KindTransient,
			Symbol:   symbol,
			DataKind: kind,
			Err:      fmt.Errorf("获取超时(%s): %w", c.cache.FetchTimeout, fetchCtx.Err()),
		}
	}
}

// fail 先写台账，再决定返回过期缓存还是 RefreshError
func (c *Coordinator) fail(symbol string, kind model.DataKind, ttl time.Duration, err error) (*flightResult, error) {
	fe := collector.Classify(err, symbol, kind)
	c.metrics.FetchResult(kind.String(), fe.Code())

	if lerr := c.db.Status().RecordFailure(symbol, kind, c.now(), ttl, fe.Code(), fe.Error()); lerr != nil {
		c.log.Error("记录刷新失败状态失败", logger.String("ts_code", symbol), logger.Error(lerr))
	}

	n, cerr := c.db.Records().Count(symbol, kind)
	if cerr != nil {
		return nil, &database.StorageError{Op: "count records", Err: cerr}
	}

	c.publish(symbol, kind, model.SourceStale, database.UpsertResult{}, fe)
	if n > 0 {
		c.metrics.StaleServed(kind.String())
		c.log.Warn("刷新失败，返回过期缓存",
			logger.String("ts_code", symbol),
			logger.String("data_kind", kind.String()),
			logger.Int64("cached_rows", n),
			logger.Error(fe),
		)
		return &flightResult{source: model.SourceStale, fetchErr: fe}, nil
	}

	c.log.Error("刷新失败且无缓存",
		logger.String("ts_code", symbol),
		logger.String("data_kind", kind.String()),
		logger.Error(fe),
	)
	return nil, &RefreshError{Symbol: symbol, DataKind: kind, Err: fe}
}

// acquire 获取跨进程锁；等待期间若台账出现晚于 started 的成功记录，说明其他实例已刷新
func (c *Coordinator) acquire(ctx context.Context, key, symbol string, kind model.DataKind, started time.Time) (release func(), peerRefreshed bool) {
	noop := func() {}
	deadline := time.Now().Add(c.lockWait)
	backoff := 50 * time.Millisecond

	for {
		token, ok, err := c.locker.TryLock(ctx, key, c.lockTTL)
		if err != nil {
			c.log.Warn("跨进程锁不可用，仅使用进程内合并", logger.String("key", key), logger.Error(err))
			return noop, false
		}
		if ok {
			release = func() {
				if err := c.locker.Unlock(context.Background(), key, token); err != nil {
					c.log.Warn("释放跨进程锁失败", logger.String("key", key), logger.Error(err))
				}
			}
			status, err := c.db.Status().Get(symbol, kind)
			if err == nil && status != nil && status.LastUpdated != nil && !status.LastUpdated.Before(started) {
				return release, true
			}
			return release, false
		}
		if time.Now().After(deadline) {
			c.log.Warn("等待跨进程锁超时", logger.String("key", key))
			return noop, false
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return noop, false
		case <-timer.C:
		}
		if backoff < time.Second {
			backoff *= 2
		}
	}
}

func (c *Coordinator) publish(symbol string, kind model.DataKind, source model.SeriesSource, res database.UpsertResult, err error) {
	event := messaging.RefreshEvent{
		Symbol:   symbol,
		DataKind: kind.String(),
		Source:   string(source),
		Inserted: res.Inserted,
		Updated:  res.Updated,
		At:       c.now(),
	}
	if err != nil {
		event.Error = err.Error()
	}
	if perr := c.publisher.Publish("refresh."+kind.String(), event); perr != nil {
		c.log.Warn("发布刷新事件失败", logger.String("ts_code", symbol), logger.Error(perr))
	}
}

type nopMetrics struct{}

func (nopMetrics) CacheHit(string)                      {}
func (nopMetrics) FetchResult(string, string)           {}
func (nopMetrics) Coalesced(string)                     {}
func (nopMetrics) StaleServed(string)                   {}
func (nopMetrics) ObserveRefresh(string, time.Duration) {}
