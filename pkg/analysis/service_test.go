package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PortfolioAgent/pkg/config"
	"PortfolioAgent/pkg/database"
	"PortfolioAgent/pkg/llm"
	"PortfolioAgent/pkg/logger"
	"PortfolioAgent/pkg/model"
	"PortfolioAgent/pkg/refresh"
)

type stubPrices map[string]map[string]float64

func (s stubPrices) Get(ctx context.Context, symbol string, kind model.DataKind, opts refresh.GetOptions) (*model.Series, error) {
	closes, ok := s[symbol]
	if !ok {
		return nil, &refresh.RefreshError{Symbol: symbol, DataKind: kind, Err: errors.New("无数据")}
	}
	series := model.NewSeries(symbol, kind)
	for date, c := range closes {
		series.Prices = append(series.Prices, model.PriceRecord{Symbol: symbol, TradeDate: date, Close: null.FloatFrom(c)})
	}
	return series, nil
}

func newTestService(t *testing.T, prices stubPrices) (*Service, *database.DB) {
	t.Helper()
	db, err := database.Open(config.Database{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	narrator := llm.NewNarrator(config.LLM{}, logger.Nop())
	return NewService(prices, db, narrator, logger.Nop()), db
}

var sampleCloses = map[string]float64{
	"2024-01-02": 100,
	"2024-01-03": 102,
	"2024-01-04": 101,
	"2024-01-05": 104,
	"2024-01-08": 103,
}

func TestCreateSymbolAnalysis(t *testing.T) {
	svc, _ := newTestService(t, stubPrices{"600519.SH": sampleCloses})

	a, err := svc.Create(context.Background(), Request{Symbol: "600519.SH", TargetReturn: 0.1, HorizonYears: 1})
	require.NoError(t, err)
	require.NotEmpty(t, a.ID)
	require.NotNil(t, a.Symbol)
	assert.Equal(t, "600519.SH", *a.Symbol)
	assert.Equal(t, model.MethodGBM, a.Method)

	params := a.Params.Data()
	assert.Equal(t, 4, params.NReturns)
	assert.Greater(t, params.Sigma, 0.0)
	require.NotNil(t, params.Report)
	assert.Equal(t, llm.SourceLocal, params.Report.Source)
	assert.Contains(t, params.Report.Summary, "Analysis for 600519.SH")

	returns := LogReturns([]float64{100, 102, 101, 104, 103})
	mu, sigma := EstimateGBM(returns)
	assert.InDelta(t, ProbabilityExceed(0.1, 1, mu, sigma), a.Probability, 1e-12)

	stored, err := svc.Get(a.ID)
	require.NoError(t, err)
	assert.InDelta(t, a.Probability, stored.Probability, 1e-12)
	assert.Equal(t, 4, stored.Params.Data().NReturns)

	list, err := svc.List("600519.SH", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreatePortfolioAnalysisUsesCommonDates(t *testing.T) {
	svc, db := newTestService(t, stubPrices{
		"600519.SH": sampleCloses,
		"000001.SZ": {"2024-01-02": 10, "2024-01-04": 11, "2024-01-05": 12, "2024-01-09": 13},
	})
	p := &model.Portfolio{Name: "core"}
	require.NoError(t, db.Portfolios().Create(p))
	require.NoError(t, db.Portfolios().AddHolding(&model.Holding{PortfolioID: p.ID, Symbol: "600519.SH", Qty: 10, BuyPrice: 100}))
	require.NoError(t, db.Portfolios().AddHolding(&model.Holding{PortfolioID: p.ID, Symbol: "000001.SZ", Qty: 100, BuyPrice: 10}))

	a, err := svc.Create(context.Background(), Request{PortfolioID: &p.ID, TargetReturn: 0.05, HorizonYears: 0.5})
	require.NoError(t, err)
	assert.Nil(t, a.Symbol)
	require.NotNil(t, a.PortfolioID)
	assert.Equal(t, p.ID, *a.PortfolioID)

	// 共同日期 01-02, 01-04, 01-05：市值 2000, 2110, 2240
	params := a.Params.Data()
	assert.Equal(t, 2, params.NReturns)
	mu, sigma := EstimateGBM(LogReturns([]float64{2000, 2110, 2240}))
	assert.InDelta(t, mu, params.Mu, 1e-12)
	assert.InDelta(t, sigma, params.Sigma, 1e-12)
	assert.Contains(t, params.Report.Summary, "Analysis for portfolio")
}

func TestCreatePortfolioWithoutHoldings(t *testing.T) {
	svc, db := newTestService(t, stubPrices{})
	p := &model.Portfolio{Name: "empty"}
	require.NoError(t, db.Portfolios().Create(p))

	_, err := svc.Create(context.Background(), Request{PortfolioID: &p.ID, TargetReturn: 0.1, HorizonYears: 1})
	require.ErrorIs(t, err, ErrInvalidRequest)

	missing := uint(999)
	_, err = svc.Create(context.Background(), Request{PortfolioID: &missing, TargetReturn: 0.1, HorizonYears: 1})
	require.ErrorIs(t, err, database.ErrNotFound)
}

func TestCreateRejectsInvalidRequest(t *testing.T) {
	svc, _ := newTestService(t, stubPrices{"600519.SH": sampleCloses})
	id := uint(1)

	cases := map[string]Request{
		"缺少目标":   {TargetReturn: 0.1, HorizonYears: 1},
		"目标重复":   {Symbol: "600519.SH", PortfolioID: &id, TargetReturn: 0.1, HorizonYears: 1},
		"期限非正":   {Symbol: "600519.SH", TargetReturn: 0.1},
		"收益率过低":  {Symbol: "600519.SH", TargetReturn: -1, HorizonYears: 1},
		"不支持的方法": {Symbol: "600519.SH", TargetReturn: 0.1, HorizonYears: 1, Method: "monte_carlo"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), req)
			require.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestCreatePropagatesRefreshError(t *testing.T) {
	svc, _ := newTestService(t, stubPrices{})
	_, err := svc.Create(context.Background(), Request{Symbol: "000002.SZ", TargetReturn: 0.1, HorizonYears: 1})
	var re *refresh.RefreshError
	require.True(t, errors.As(err, &re))
}
