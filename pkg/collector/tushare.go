package collector

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"PortfolioAgent/pkg/config"
	"PortfolioAgent/pkg/logger"
	"PortfolioAgent/pkg/model"
)

// TushareAdapter Tushare数据源适配器
type TushareAdapter struct {
	client       *TushareClient
	log          *logger.Logger
	maxAttempts  int
	backoffBase  time.Duration
	lookbackDays int
	now          func() time.Time
}

// AdapterOption 适配器选项
type AdapterOption func(*TushareAdapter)

// WithClock 替换时钟，测试用
func WithClock(now func() time.Time) AdapterOption {
	return func(t *TushareAdapter) { t.now = now }
}

// WithRetry 设置最大尝试次数和退避基数
func WithRetry(maxAttempts int, backoffBase time.Duration) AdapterOption {
	return func(t *TushareAdapter) {
		if maxAttempts > 0 {
			t.maxAttempts = maxAttempts
		}
		t.backoffBase = backoffBase
	}
}

// NewTushareAdapter 创建Tushare适配器
func NewTushareAdapter(client *TushareClient, log *logger.Logger, opts ...AdapterOption) *TushareAdapter {
	t := &TushareAdapter{
		client:       client,
		log:          log,
		maxAttempts:  3,
		backoffBase:  time.Second,
		lookbackDays: 730,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewTushareAdapterFromConfig 根据配置创建客户端和适配器
func NewTushareAdapterFromConfig(cfg config.Tushare, log *logger.Logger) *TushareAdapter {
	client := NewTushareClient(cfg.APIKey, cfg.BaseURL,
		WithTimeout(cfg.Timeout),
		WithRateLimit(cfg.RateLimit),
	)
	t := NewTushareAdapter(client, log, WithRetry(cfg.MaxAttempts, cfg.BackoffBase))
	if cfg.PriceLookbackDays > 0 {
		t.lookbackDays = cfg.PriceLookbackDays
	}
	return t
}

// Fetch 获取某只股票某一类别的原始数据，临时错误按指数退避重试
func (t *TushareAdapter) Fetch(ctx context.Context, symbol string, kind model.DataKind) ([]RawRow, error) {
	if symbol == "" {
		return nil, &FetchError{Kind: KindNotFound, DataKind: kind, Err: fmt.Errorf("股票代码不能为空")}
	}

	var rows []RawRow
	err := t.retry(ctx, symbol, kind, func(ctx context.Context) error {
		var err error
		rows, err = t.fetchOnce(ctx, symbol, kind)
		return err
	})
	if err != nil {
		return nil, Classify(err, symbol, kind)
	}
	if len(rows) == 0 {
		return nil, &FetchError{Kind: KindNotFound, Symbol: symbol, DataKind: kind, Err: fmt.Errorf("数据源未返回数据")}
	}
	return rows, nil
}

func (t *TushareAdapter) retry(ctx context.Context, symbol string, kind model.DataKind, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if isContextErr(ctx.Err()) {
			return newFetchError(KindTransient, "请求已取消: %w", ctx.Err())
		}
		if !IsRetryable(err) || attempt >= t.maxAttempts {
			return err
		}

		delay := t.backoffBase * time.Duration(1<<(attempt-1))
		t.log.Warn("获取数据失败，准备重试",
			logger.String("ts_code", symbol),
			logger.String("data_kind", kind.String()),
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return newFetchError(KindTransient, "重试等待被取消: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func (t *TushareAdapter) fetchOnce(ctx context.Context, symbol string, kind model.DataKind) ([]RawRow, error) {
	switch kind {
	case model.KindPrice:
		resp, err := t.client.GetDailyQuotes(ctx, t.windowParams(symbol))
		if err != nil {
			return nil, err
		}
		return toRows(resp, "trade_date", "close")
	case model.KindFinancial:
		return t.fetchFinancials(ctx, symbol)
	case model.KindValuation:
		resp, err := t.client.GetDailyBasic(ctx, t.windowParams(symbol))
		if err != nil {
			return nil, err
		}
		return toRows(resp, "trade_date")
	default:
		return nil, newFetchError(KindNotFound, "不支持的数据类别: %s", kind)
	}
}

// fetchFinancials 合并财务指标与利润表，按报告期对齐
func (t *TushareAdapter) fetchFinancials(ctx context.Context, symbol string) ([]RawRow, error) {
	params := map[string]interface{}{"ts_code": symbol}

	indicatorResp, err := t.client.GetFinaIndicator(ctx, params)
	if err != nil {
		return nil, err
	}
	indicators, err := toRows(indicatorResp, "end_date")
	if err != nil {
		return nil, err
	}

	incomeResp, err := t.client.GetIncome(ctx, params)
	if err != nil {
		return nil, err
	}
	incomes, err := toRows(incomeResp, "end_date")
	if err != nil {
		return nil, err
	}

	byPeriod := make(map[string]RawRow, len(indicators))
	rows := make([]RawRow, 0, len(indicators))
	for _, row := range indicators {
		period := fmt.Sprint(row["end_date"])
		if _, ok := byPeriod[period]; ok {
			continue
		}
		byPeriod[period] = row
		rows = append(rows, row)
	}
	for _, inc := range incomes {
		period := fmt.Sprint(inc["end_date"])
		row, ok := byPeriod[period]
		if !ok {
			row = RawRow{"ts_code": inc["ts_code"], "end_date": inc["end_date"]}
			byPeriod[period] = row
			rows = append(rows, row)
		}
		// 同一报告期可能有多次披露，保留第一条
		for _, field := range []string{"total_revenue", "n_income_attr_p"} {
			if _, set := row[field]; !set {
				row[field] = inc[field]
			}
		}
	}
	return rows, nil
}

func (t *TushareAdapter) windowParams(symbol string) map[string]interface{} {
	end := t.now()
	start := end.AddDate(0, 0, -t.lookbackDays)
	return map[string]interface{}{
		"ts_code":    symbol,
		"start_date": start.Format("20060102"),
		"end_date":   end.Format("20060102"),
	}
}

// FetchStocks 获取上市股票列表
func (t *TushareAdapter) FetchStocks(ctx context.Context) ([]model.Stock, error) {
	var stocks []model.Stock
	err := t.retry(ctx, "", "", func(ctx context.Context) error {
		resp, err := t.client.GetStockBasic(ctx, map[string]interface{}{"list_status": "L"})
		if err != nil {
			return err
		}
		rows, err := toRows(resp, "ts_code")
		if err != nil {
			return err
		}
		stocks = make([]model.Stock, 0, len(rows))
		for _, row := range rows {
			stocks = append(stocks, model.Stock{
				Symbol:   toString(row["ts_code"]),
				Code:     toString(row["symbol"]),
				Name:     toString(row["name"]),
				Area:     toString(row["area"]),
				Industry: toString(row["industry"]),
				Market:   toString(row["market"]),
				ListDate: toString(row["list_date"]),
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("获取股票列表失败: %w", err)
	}
	return stocks, nil
}

// toRows 将Tushare响应按字段名展开，缺少必要字段时返回 field_missing
func toRows(resp *TushareResponse, required ...string) ([]RawRow, error) {
	// 获取字段索引
	fieldIndices := make(map[string]int, len(resp.Data.Fields))
	for i, field := range resp.Data.Fields {
		fieldIndices[field] = i
	}

	// 检查必要字段是否存在
	for _, field := range required {
		if _, exists := fieldIndices[field]; !exists {
			return nil, newFetchError(KindFieldMissing, "响应中缺少必要字段: %s", field)
		}
	}

	rows := make([]RawRow, 0, len(resp.Data.Items))
	for _, item := range resp.Data.Items {
		row := make(RawRow, len(fieldIndices))
		for field, idx := range fieldIndices {
			if idx < len(item) {
				row[field] = item[idx]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func toString(v interface{}) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	default:
		return fmt.Sprint(value)
	}
}
