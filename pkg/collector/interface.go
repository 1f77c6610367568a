package collector

import (
	"context"

	"PortfolioAgent/pkg/model"
)

// RawRow 上游返回的一行原始数据，键为数据源字段名
type RawRow map[string]interface{}

// Fetcher 时间序列数据获取接口
type Fetcher interface {
	Fetch(ctx context.Context, symbol string, kind model.DataKind) ([]RawRow, error)
}

// StockLister 股票列表获取接口
type StockLister interface {
	FetchStocks(ctx context.Context) ([]model.Stock, error)
}
