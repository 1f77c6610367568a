package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"PortfolioAgent/pkg/model"
	"PortfolioAgent/pkg/refresh"
)

type seriesRoute struct {
	path         string
	kind         model.DataKind
	defaultLimit int
}

var seriesRoutes = []seriesRoute{
	{path: "prices", kind: model.KindPrice, defaultLimit: 200},
	{path: "financials", kind: model.KindFinancial, defaultLimit: 40},
	{path: "valuations", kind: model.KindValuation, defaultLimit: 200},
}

// SeriesQuery 时间序列查询参数
type SeriesQuery struct {
	Limit  int  `form:"limit" validate:"gte=0,lte=5000"`
	Ensure bool `form:"ensure"`
}

// GetSeries 读取缓存；ensure=true 时缓存过期会先刷新
func (h *Handlers) GetSeries(kind model.DataKind, defaultLimit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q SeriesQuery
		if err := bindQuery(c, &q); err != nil {
			respondError(c, err)
			return
		}
		if q.Limit == 0 {
			q.Limit = defaultLimit
		}
		symbol := symbolParam(c)

		var (
			series *model.Series
			err    error
		)
		if q.Ensure {
			series, err = h.coord.Get(c.Request.Context(), symbol, kind, refresh.GetOptions{Limit: q.Limit})
		} else {
			series, err = h.coord.Query(symbol, kind, q.Limit)
		}
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, seriesView(series))
	}
}

// RefreshSeries 强制刷新并返回最新数据
func (h *Handlers) RefreshSeries(kind model.DataKind, defaultLimit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q SeriesQuery
		if err := bindQuery(c, &q); err != nil {
			respondError(c, err)
			return
		}
		if q.Limit == 0 {
			q.Limit = defaultLimit
		}

		series, err := h.coord.Refresh(c.Request.Context(), symbolParam(c), kind, q.Limit)
		if err != nil {
			respondError(c, err)
			return
		}
		respondData(c, http.StatusOK, seriesView(series))
	}
}

// GetStatus 返回股票各类别数据的新鲜度
func (h *Handlers) GetStatus(c *gin.Context) {
	statuses, err := h.coord.Status(symbolParam(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, statuses)
}

func symbolParam(c *gin.Context) string {
	return strings.ToUpper(strings.TrimSpace(c.Param("ts_code")))
}

func seriesView(s *model.Series) gin.H {
	view := gin.H{
		"ts_code":   s.Symbol,
		"data_kind": s.Kind,
		"stale":     s.Stale,
		"rows":      s.Rows(),
	}
	if s.Source != "" {
		view["source"] = s.Source
	}
	if s.Source == model.SourceRefresh {
		view["inserted"] = s.Inserted
		view["updated"] = s.Updated
	}
	if s.RefreshError != "" {
		view["refresh_error"] = s.RefreshError
	}
	return view
}
