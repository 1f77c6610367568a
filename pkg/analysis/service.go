package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/datatypes"

	"PortfolioAgent/pkg/database"
	"PortfolioAgent/pkg/llm"
	"PortfolioAgent/pkg/logger"
	"PortfolioAgent/pkg/model"
	"PortfolioAgent/pkg/refresh"
)

// ErrInvalidRequest 分析请求参数无效
var ErrInvalidRequest = errors.New("无效的分析请求")

// PriceSource 缓存优先的价格读取
type PriceSource interface {
	Get(ctx context.Context, symbol string, kind model.DataKind, opts refresh.GetOptions) (*model.Series, error)
}

// Narrator 分析报告生成
type Narrator interface {
	Narrate(ctx context.Context, in llm.NarrativeInput) model.Report
}

// Request 创建分析的参数，Symbol 与 PortfolioID 二选一
type Request struct {
	Symbol       string
	PortfolioID  *uint
	Method       model.AnalysisMethod
	TargetReturn float64
	HorizonYears float64
}

// Service 概率分析服务
type Service struct {
	prices   PriceSource
	db       *database.DB
	narrator Narrator
	log      *logger.Logger
}

// NewService 创建分析服务，narrator 可为空
func NewService(prices PriceSource, db *database.DB, narrator Narrator, log *logger.Logger) *Service {
	return &Service{prices: prices, db: db, narrator: narrator, log: log}
}

// Create 计算目标收益达成概率并保存分析结果
func (s *Service) Create(ctx context.Context, req Request) (*model.Analysis, error) {
	if err := validate(&req); err != nil {
		return nil, err
	}

	var (
		values []float64
		err    error
	)
	if req.PortfolioID != nil {
		values, err = s.portfolioValues(ctx, *req.PortfolioID)
	} else {
		values, err = s.closes(ctx, req.Symbol)
	}
	if err != nil {
		return nil, err
	}

	returns := LogReturns(values)
	mu, sigma := EstimateGBM(returns)
	probability := ProbabilityExceed(req.TargetReturn, req.HorizonYears, mu, sigma)

	params := model.AnalysisParams{Mu: mu, Sigma: sigma, NReturns: len(returns)}
	if s.narrator != nil {
		report := s.narrator.Narrate(ctx, llm.NarrativeInput{
			Symbol:       req.Symbol,
			TargetReturn: req.TargetReturn,
			HorizonYears: req.HorizonYears,
			Mu:           mu,
			Sigma:        sigma,
			Probability:  probability,
		})
		params.Report = &report
	}

	analysis := &model.Analysis{
		PortfolioID:  req.PortfolioID,
		Method:       req.Method,
		TargetReturn: req.TargetReturn,
		HorizonYears: req.HorizonYears,
		Probability:  probability,
		Params:       datatypes.NewJSONType(params),
	}
	if req.Symbol != "" {
		symbol := req.Symbol
		analysis.Symbol = &symbol
	}
	if err := s.db.Analyses().Create(analysis); err != nil {
		return nil, err
	}

	s.log.Info("分析完成",
		logger.String("analysis_id", analysis.ID),
		logger.String("ts_code", req.Symbol),
		logger.Int("n_returns", len(returns)),
		logger.Any("probability", probability),
	)
	return analysis, nil
}

// Get 获取分析结果
func (s *Service) Get(id string) (*model.Analysis, error) {
	return s.db.Analyses().Get(id)
}

// List 列出分析结果
func (s *Service) List(symbol string, limit int) ([]model.Analysis, error) {
	return s.db.Analyses().List(symbol, limit)
}

func validate(req *Request) error {
	switch {
	case req.Symbol == "" && req.PortfolioID == nil:
		return fmt.Errorf("%w: ts_code 与 portfolio_id 必须提供一个", ErrInvalidRequest)
	case req.Symbol != "" && req.PortfolioID != nil:
		return fmt.Errorf("%w: ts_code 与 portfolio_id 只能提供一个", ErrInvalidRequest)
	case req.HorizonYears <= 0:
		return fmt.Errorf("%w: horizon_years 必须大于0", ErrInvalidRequest)
	case req.TargetReturn <= -1:
		return fmt.Errorf("%w: target_return 必须大于-1", ErrInvalidRequest)
	}
	if req.Method == "" {
		req.Method = model.MethodGBM
	}
	if req.Method != model.MethodGBM {
		return fmt.Errorf("%w: 不支持的方法 %q", ErrInvalidRequest, req.Method)
	}
	return nil
}

type pricePoint struct {
	date  string
	close float64
}

// closes 返回按日期升序的有效收盘价
func (s *Service) closes(ctx context.Context, symbol string) ([]float64, error) {
	points, err := s.pricePoints(ctx, symbol)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.close
	}
	return out, nil
}

func (s *Service) pricePoints(ctx context.Context, symbol string) ([]pricePoint, error) {
	series, err := s.prices.Get(ctx, symbol, model.KindPrice, refresh.GetOptions{})
	if err != nil {
		return nil, err
	}
	points := make([]pricePoint, 0, len(series.Prices))
	for _, p := range series.Prices {
		if !p.Close.Valid || p.Close.Float64 <= 0 {
			continue
		}
		points = append(points, pricePoint{date: p.TradeDate, close: p.Close.Float64})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].date < points[j].date })
	return points, nil
}

// portfolioValues 组合市值序列，只保留所有持仓都有收盘价的日期
func (s *Service) portfolioValues(ctx context.Context, portfolioID uint) ([]float64, error) {
	holdings, err := s.db.Portfolios().ListHoldings(portfolioID)
	if err != nil {
		return nil, err
	}
	if len(holdings) == 0 {
		if _, err := s.db.Portfolios().Get(portfolioID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: 组合 %d 没有持仓", ErrInvalidRequest, portfolioID)
	}

	qty := make(map[string]int64)
	var symbols []string
	for _, h := range holdings {
		if _, ok := qty[h.Symbol]; !ok {
			symbols = append(symbols, h.Symbol)
		}
		qty[h.Symbol] += h.Qty
	}

	totals := make(map[string]float64)
	seen := make(map[string]int)
	for _, symbol := range symbols {
		points, err := s.pricePoints(ctx, symbol)
		if err != nil {
			return nil, err
		}
		for _, p := range points {
			totals[p.date] += float64(qty[symbol]) * p.close
			seen[p.date]++
		}
	}

	dates := make([]string, 0, len(totals))
	for date, n := range seen {
		if n == len(symbols) {
			dates = append(dates, date)
		}
	}
	sort.Strings(dates)
	values := make([]float64, len(dates))
	for i, date := range dates {
		values[i] = totals[date]
	}
	return values, nil
}
