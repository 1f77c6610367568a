package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"PortfolioAgent/pkg/analysis"
	"PortfolioAgent/pkg/model"
)

// AnalysisRequest 创建概率分析
type AnalysisRequest struct {
	Symbol       string  `json:"ts_code"`
	PortfolioID  *uint   `json:"portfolio_id"`
	Method       string  `json:"method" default:"gbm" validate:"oneof=gbm"`
	TargetReturn float64 `json:"target_return" validate:"gt=-1"`
	HorizonYears float64 `json:"horizon_years" default:"1" validate:"gt=0,lte=50"`
}

// DCFRequest 现金流折现估值
type DCFRequest struct {
	CashFlows      []float64 `json:"cash_flows" validate:"required,min=1,max=100"`
	DiscountRate   float64   `json:"discount_rate" validate:"gt=-1"`
	TerminalGrowth float64   `json:"terminal_growth"`
}

// CreateAnalysis 计算并保存目标收益达成概率
func (h *Handlers) CreateAnalysis(c *gin.Context) {
	var req AnalysisRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}

	result, err := h.analyses.Create(c.Request.Context(), analysis.Request{
		Symbol:       strings.ToUpper(strings.TrimSpace(req.Symbol)),
		PortfolioID:  req.PortfolioID,
		Method:       model.AnalysisMethod(req.Method),
		TargetReturn: req.TargetReturn,
		HorizonYears: req.HorizonYears,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusCreated, result)
}

// GetAnalysis 获取分析结果
func (h *Handlers) GetAnalysis(c *gin.Context) {
	result, err := h.analyses.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, result)
}

// ListAnalyses 按时间倒序列出分析结果，可按 ts_code 过滤
func (h *Handlers) ListAnalyses(c *gin.Context) {
	var q ListQuery
	if err := bindQuery(c, &q); err != nil {
		respondError(c, err)
		return
	}
	results, err := h.analyses.List(strings.ToUpper(q.Symbol), q.Limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, results)
}

// ComputeDCF 计算现金流折现估值，不落库
func (h *Handlers) ComputeDCF(c *gin.Context) {
	var req DCFRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	value, err := analysis.DiscountedCashFlow(req.CashFlows, req.DiscountRate, req.TerminalGrowth)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{
		"value":           value,
		"discount_rate":   req.DiscountRate,
		"terminal_growth": req.TerminalGrowth,
		"periods":         len(req.CashFlows),
	})
}
