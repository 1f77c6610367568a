package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PortfolioAgent/pkg/analysis"
	"PortfolioAgent/pkg/collector"
	"PortfolioAgent/pkg/config"
	"PortfolioAgent/pkg/database"
	"PortfolioAgent/pkg/llm"
	"PortfolioAgent/pkg/logger"
	"PortfolioAgent/pkg/metrics"
	"PortfolioAgent/pkg/model"
	"PortfolioAgent/pkg/refresh"
	"PortfolioAgent/pkg/scheduler"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeSource 按股票代码返回固定价格，failing 中的代码返回 not_found
type fakeSource struct {
	mu      sync.Mutex
	failing map[string]bool
	calls   atomic.Int32
}

func (f *fakeSource) Fetch(ctx context.Context, symbol string, kind model.DataKind) ([]collector.RawRow, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[symbol] {
		return nil, &collector.FetchError{Kind: collector.KindNotFound, Err: errors.New("无数据")}
	}
	switch kind {
	case model.KindPrice:
		return []collector.RawRow{
			{"ts_code": symbol, "trade_date": "20240102", "close": 10.0},
			{"ts_code": symbol, "trade_date": "20240103", "close": 10.4},
			{"ts_code": symbol, "trade_date": "20240104", "close": 10.1},
		}, nil
	case model.KindFinancial:
		return []collector.RawRow{{"ts_code": symbol, "end_date": "20231231", "roe": 12.5}}, nil
	default:
		return []collector.RawRow{{"ts_code": symbol, "trade_date": "20240104", "pe_ttm": 20.1}}, nil
	}
}

func (f *fakeSource) FetchStocks(ctx context.Context) ([]model.Stock, error) {
	return []model.Stock{
		{Symbol: "000001.SZ", Code: "000001", Name: "平安银行", Industry: "银行"},
		{Symbol: "600519.SH", Code: "600519", Name: "贵州茅台", Industry: "白酒"},
	}, nil
}

type testEnv struct {
	handler  http.Handler
	handlers *Handlers
	runner  *scheduler.BatchRunner
	source  *fakeSource
	db      *database.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(config.Database{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)

	log := logger.Nop()
	source := &fakeSource{failing: map[string]bool{}}
	cache := config.Cache{PriceTTL: time.Hour, FinancialTTL: time.Hour, ValuationTTL: time.Hour, FetchTimeout: time.Second}
	coord := refresh.NewCoordinator(db, source, cache, log)
	runner := scheduler.NewBatchRunner(db, coord, 2, log)
	svc := analysis.NewService(coord, db, llm.NewNarrator(config.LLM{}, log), log)
	t.Cleanup(func() {
		runner.Stop()
		db.Close()
	})

	rec := metrics.New()
	srv := NewServer(config.API{Port: "0"}, log, WithMetrics(rec, "/metrics", rec.Handler()))
	h := NewHandlers(db, coord, runner, svc, source, log)
	srv.SetupRoutes(h)
	return &testEnv{handler: srv.Handler(), handlers: h, runner: runner, source: source, db: db}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func data(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	d, ok := body["data"].(map[string]interface{})
	require.True(t, ok, "响应缺少 data 对象: %v", body)
	return d
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])

	w, body = env.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", body["status"])

	env.handlers.AddReadinessCheck("nats", func() error { return errors.New("NATS未连接") })
	w, body = env.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "not_ready", body["status"])
	components, ok := body["components"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ok", components["database"])
	assert.Equal(t, "NATS未连接", components["nats"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/health", nil)

	w, _ := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "portfolio_http_request_duration_seconds")
}

func TestSeriesCacheOnlyAndEnsure(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodGet, "/api/v1/prices/000001.sz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, data(t, body)["rows"])

	w, body = env.do(t, http.MethodGet, "/api/v1/prices/000001.SZ?ensure=true&limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	d := data(t, body)
	assert.Equal(t, "refresh", d["source"])
	rows := d["rows"].([]interface{})
	require.Len(t, rows, 2)
	assert.Equal(t, "2024-01-04", rows[0].(map[string]interface{})["trade_date"])

	w, body = env.do(t, http.MethodGet, "/api/v1/prices/000001.SZ?ensure=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cache", data(t, body)["source"])

	w, body = env.do(t, http.MethodGet, "/api/v1/status/000001.SZ", nil)
	require.Equal(t, http.StatusOK, w.Code)
	statuses := body["data"].([]interface{})
	require.Len(t, statuses, 1)
	assert.Equal(t, "price", statuses[0].(map[string]interface{})["data_kind"])
}

func TestRefreshFinancialsAndValuations(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPost, "/api/v1/financials/600519.SH/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	d := data(t, body)
	assert.Equal(t, "financial", d["data_kind"])
	assert.EqualValues(t, 1, d["inserted"])

	w, body = env.do(t, http.MethodPost, "/api/v1/valuations/600519.SH/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rows := data(t, body)["rows"].([]interface{})
	require.Len(t, rows, 1)
	assert.Equal(t, 20.1, rows[0].(map[string]interface{})["pe"])
}

func TestRefreshWithoutCacheReturnsBadGateway(t *testing.T) {
	env := newTestEnv(t)
	env.source.failing["999999.SZ"] = true

	w, body := env.do(t, http.MethodPost, "/api/v1/prices/999999.SZ/refresh", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, body["error"], "999999.SZ")
	details := body["details"].(map[string]interface{})
	assert.Equal(t, "not_found", details["error_code"])
}

func TestInvalidLimitIsRejected(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodGet, "/api/v1/prices/000001.SZ?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	details := body["details"].([]interface{})
	require.Len(t, details, 1)
	assert.Equal(t, "limit", details[0].(map[string]interface{})["field"])
}

func TestRefreshJobLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.source.failing["999999.SZ"] = true

	w, body := env.do(t, http.MethodPost, "/api/v1/jobs/refresh", gin.H{
		"ts_codes":   []string{"000001.SZ", "600519.SH", "999999.SZ"},
		"data_kinds": []string{"prices"},
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	d := data(t, body)
	assert.Equal(t, "queued", d["status"])
	id := d["id"].(string)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := env.runner.Wait(ctx, id)
	require.NoError(t, err)

	w, body = env.do(t, http.MethodGet, "/api/v1/jobs/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	job := data(t, body)["job"].(map[string]interface{})
	assert.Equal(t, "partial", job["status"])
	assert.EqualValues(t, 2, job["succeeded"])
	assert.EqualValues(t, 1, job["failed"])
	assert.Len(t, job["items"], 3)

	w, body = env.do(t, http.MethodGet, "/api/v1/jobs?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["data"], 1)

	w, _ = env.do(t, http.MethodGet, "/api/v1/jobs/not-a-job", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRefreshJobRejectsUnknownKind(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.do(t, http.MethodPost, "/api/v1/jobs/refresh", gin.H{
		"ts_codes":   []string{"000001.SZ"},
		"data_kinds": []string{"news"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalysesEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPost, "/api/v1/analyses", gin.H{
		"ts_code":       "000001.SZ",
		"target_return": 0.1,
		"horizon_years": 1,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	d := data(t, body)
	id := d["id"].(string)
	assert.Equal(t, "gbm", d["method"])
	params := d["params_json"].(map[string]interface{})
	assert.EqualValues(t, 2, params["n_returns"])
	report := params["report"].(map[string]interface{})
	assert.Equal(t, "local", report["source"])

	w, body = env.do(t, http.MethodGet, "/api/v1/analyses/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, data(t, body)["id"])

	w, body = env.do(t, http.MethodGet, "/api/v1/analyses?ts_code=000001.SZ", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["data"], 1)

	w, _ = env.do(t, http.MethodPost, "/api/v1/analyses", gin.H{"target_return": 0.1})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, http.MethodGet, "/api/v1/analyses/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDCFEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPost, "/api/v1/analyses/dcf", gin.H{
		"cash_flows":      []float64{100},
		"discount_rate":   0.1,
		"terminal_growth": 0,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 1000, data(t, body)["value"], 1e-6)

	w, _ = env.do(t, http.MethodPost, "/api/v1/analyses/dcf", gin.H{
		"cash_flows":      []float64{100},
		"discount_rate":   0.02,
		"terminal_growth": 0.03,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPortfolioAndHoldings(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPost, "/api/v1/portfolios", gin.H{"name": "core"})
	require.Equal(t, http.StatusCreated, w.Code)
	pid := data(t, body)["id"].(float64)

	w, body = env.do(t, http.MethodPost, "/api/v1/holdings", gin.H{
		"portfolio_id": pid,
		"ts_code":      "600519.sh",
		"qty":          100,
		"buy_price":    1650.5,
		"buy_date":     "2024-01-02",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	holding := data(t, body)
	assert.Equal(t, "600519.SH", holding["ts_code"])
	hid := int(holding["id"].(float64))

	w, _ = env.do(t, http.MethodPost, "/api/v1/holdings", gin.H{"portfolio_id": pid, "ts_code": "000001.SZ", "qty": 0, "buy_price": 10})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	path := "/api/v1/holdings/" + strconv.Itoa(hid)
	w, body = env.do(t, http.MethodPut, path, gin.H{"ts_code": "600519.SH", "qty": 200, "buy_price": 1600})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 200, data(t, body)["qty"])

	portfolioPath := "/api/v1/portfolios/" + strconv.Itoa(int(pid))
	w, body = env.do(t, http.MethodGet, portfolioPath+"/holdings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["data"], 1)

	w, body = env.do(t, http.MethodPost, "/api/v1/analyses", gin.H{
		"portfolio_id":  pid,
		"target_return": 0.05,
		"horizon_years": 0.5,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Nil(t, data(t, body)["ts_code"])

	w, _ = env.do(t, http.MethodDelete, portfolioPath, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w, _ = env.do(t, http.MethodGet, portfolioPath, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = env.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = env.do(t, http.MethodGet, "/api/v1/portfolios/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStocksSyncAndSearch(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPost, "/api/v1/stocks/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, data(t, body)["synced"])

	w, body = env.do(t, http.MethodGet, "/api/v1/stocks?q="+url.QueryEscape("茅台"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	stocks := body["data"].([]interface{})
	require.Len(t, stocks, 1)
	assert.Equal(t, "600519.SH", stocks[0].(map[string]interface{})["ts_code"])

	w, body = env.do(t, http.MethodGet, "/api/v1/stocks/000001.SZ", nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := data(t, body)
	assert.Equal(t, "000001.SZ", detail["stock"].(map[string]interface{})["ts_code"])
	assert.Nil(t, detail["latest_price"])
	assert.Nil(t, detail["latest_valuation"])
	assert.Nil(t, detail["latest_financial"])

	w, _ = env.do(t, http.MethodGet, "/api/v1/stocks/000002.SZ", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStockDetailIncludesLatestRows(t *testing.T) {
	env := newTestEnv(t)
	w, _ := env.do(t, http.MethodPost, "/api/v1/stocks/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)

	const symbol = "600519.SH"
	seed := []*model.Series{
		{Symbol: symbol, Kind: model.KindPrice, Prices: []model.PriceRecord{
			{Symbol: symbol, TradeDate: "2024-01-02", Close: null.FloatFrom(1680)},
			{Symbol: symbol, TradeDate: "2024-01-03", Close: null.FloatFrom(1702.5)},
		}},
		{Symbol: symbol, Kind: model.KindValuation, Valuations: []model.ValuationRecord{
			{Symbol: symbol, Date: "2024-01-02", PE: null.FloatFrom(30.1)},
			{Symbol: symbol, Date: "2024-01-03", PE: null.FloatFrom(31.2)},
		}},
		{Symbol: symbol, Kind: model.KindFinancial, Financials: []model.FinancialRecord{
			{Symbol: symbol, Period: "2023-09-30", ROE: null.FloatFrom(24.3)},
			{Symbol: symbol, Period: "2023-12-31", ROE: null.FloatFrom(32.1)},
		}},
	}
	for _, series := range seed {
		_, err := env.db.Records().Upsert(series)
		require.NoError(t, err)
	}

	for _, path := range []string{"/api/v1/stocks/" + symbol, "/api/v1/stocks/" + symbol + "/detail"} {
		w, body := env.do(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code, path)
		detail := data(t, body)

		price, ok := detail["latest_price"].(map[string]interface{})
		require.True(t, ok, path)
		assert.Equal(t, "2024-01-03", price["trade_date"])
		assert.EqualValues(t, 1702.5, price["close"])

		valuation, ok := detail["latest_valuation"].(map[string]interface{})
		require.True(t, ok, path)
		assert.Equal(t, "2024-01-03", valuation["date"])
		assert.EqualValues(t, 31.2, valuation["pe"])

		financial, ok := detail["latest_financial"].(map[string]interface{})
		require.True(t, ok, path)
		assert.Equal(t, "2023-12-31", financial["period"])
		assert.EqualValues(t, 32.1, financial["roe"])
	}
	assert.EqualValues(t, 0, env.source.calls.Load(), "详情只读缓存")
}
