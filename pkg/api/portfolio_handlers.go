package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"PortfolioAgent/pkg/logger"
	"PortfolioAgent/pkg/model"
)

// PortfolioRequest 创建组合
type PortfolioRequest struct {
	Name string `json:"name" validate:"required,max=128"`
}

// HoldingRequest 创建或更新持仓
type HoldingRequest struct {
	PortfolioID uint    `json:"portfolio_id"`
	Symbol      string  `json:"ts_code" validate:"required,max=32"`
	Qty         int64   `json:"qty" validate:"gt=0"`
	BuyPrice    float64 `json:"buy_price" validate:"gt=0"`
	BuyDate     string  `json:"buy_date" validate:"omitempty,datetime=2006-01-02"`
	Tags        string  `json:"tags" validate:"max=255"`
}

func (r HoldingRequest) toModel() model.Holding {
	h := model.Holding{
		PortfolioID: r.PortfolioID,
		Symbol:      strings.ToUpper(strings.TrimSpace(r.Symbol)),
		Qty:         r.Qty,
		BuyPrice:    r.BuyPrice,
		Tags:        r.Tags,
	}
	if r.BuyDate != "" {
		if t, err := time.Parse(time.DateOnly, r.BuyDate); err == nil {
			h.BuyDate = &t
		}
	}
	return h
}

// ListStocks 按代码或名称搜索股票
func (h *Handlers) ListStocks(c *gin.Context) {
	var q ListQuery
	if err := bindQuery(c, &q); err != nil {
		respondError(c, err)
		return
	}
	stocks, err := h.db.Stocks().Search(strings.TrimSpace(q.Query), q.Limit, q.Offset)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, stocks)
}

// StockDetail 股票及其最近一条行情、估值与财务记录，无缓存时为 null
type StockDetail struct {
	Stock           *model.Stock           `json:"stock"`
	LatestPrice     *model.PriceRecord     `json:"latest_price"`
	LatestValuation *model.ValuationRecord `json:"latest_valuation"`
	LatestFinancial *model.FinancialRecord `json:"latest_financial"`
}

// GetStock 股票详情，只读取缓存不触发刷新
func (h *Handlers) GetStock(c *gin.Context) {
	symbol := symbolParam(c)
	stock, err := h.db.Stocks().GetBySymbol(symbol)
	if err != nil {
		respondError(c, err)
		return
	}

	detail := StockDetail{Stock: stock}
	for _, kind := range model.AllDataKinds {
		series, err := h.coord.Query(symbol, kind, 1)
		if err != nil {
			respondError(c, err)
			return
		}
		switch {
		case len(series.Prices) > 0:
			detail.LatestPrice = &series.Prices[0]
		case len(series.Valuations) > 0:
			detail.LatestValuation = &series.Valuations[0]
		case len(series.Financials) > 0:
			detail.LatestFinancial = &series.Financials[0]
		}
	}
	respondData(c, http.StatusOK, detail)
}

// SyncStocks 从数据源同步股票列表
func (h *Handlers) SyncStocks(c *gin.Context) {
	stocks, err := h.stocks.FetchStocks(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.db.Stocks().SaveBatch(stocks); err != nil {
		respondError(c, err)
		return
	}
	h.log.Info("股票列表已同步", logger.Int("count", len(stocks)))
	respondData(c, http.StatusOK, gin.H{"synced": len(stocks)})
}

// CreatePortfolio 创建组合
func (h *Handlers) CreatePortfolio(c *gin.Context) {
	var req PortfolioRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	p := &model.Portfolio{Name: strings.TrimSpace(req.Name)}
	if err := h.db.Portfolios().Create(p); err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusCreated, p)
}

func (h *Handlers) ListPortfolios(c *gin.Context) {
	portfolios, err := h.db.Portfolios().List()
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, portfolios)
}

// GetPortfolio 组合详情，包含持仓
func (h *Handlers) GetPortfolio(c *gin.Context) {
	id, err := uintParam(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	p, err := h.db.Portfolios().Get(id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, p)
}

// DeletePortfolio 删除组合及其持仓
func (h *Handlers) DeletePortfolio(c *gin.Context) {
	id, err := uintParam(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.db.Portfolios().Delete(id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) ListHoldings(c *gin.Context) {
	id, err := uintParam(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	if _, err := h.db.Portfolios().Get(id); err != nil {
		respondError(c, err)
		return
	}
	holdings, err := h.db.Portfolios().ListHoldings(id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, holdings)
}

// CreateHolding 添加持仓
func (h *Handlers) CreateHolding(c *gin.Context) {
	var req HoldingRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	if req.PortfolioID == 0 {
		respondError(c, BadRequestError("portfolio_id 不能为空"))
		return
	}
	holding := req.toModel()
	if err := h.db.Portfolios().AddHolding(&holding); err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusCreated, holding)
}

// UpdateHolding 更新持仓，组合归属不可修改
func (h *Handlers) UpdateHolding(c *gin.Context) {
	id, err := uintParam(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	var req HoldingRequest
	if err := bindJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}
	existing, err := h.db.Portfolios().GetHolding(id)
	if err != nil {
		respondError(c, err)
		return
	}

	updated := req.toModel()
	updated.ID = existing.ID
	updated.PortfolioID = existing.PortfolioID
	if err := h.db.Portfolios().UpdateHolding(&updated); err != nil {
		respondError(c, err)
		return
	}
	holding, err := h.db.Portfolios().GetHolding(id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, holding)
}

func (h *Handlers) DeleteHolding(c *gin.Context) {
	id, err := uintParam(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.db.Portfolios().DeleteHolding(id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
