package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// 单接口每分钟访问次数超限
	tushareCodeRateLimit = 40203
	// token 无效
	tushareCodeBadToken = 40101
	// 无接口权限
	tushareCodeNoPermission = 40001
)

// TushareClient Tushare API客户端
type TushareClient struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
	limiter *rate.Limiter
}

// TushareRequest Tushare API请求结构
type TushareRequest struct {
	APIName string                 `json:"api_name"`
	Token   string                 `json:"token"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Fields  string                 `json:"fields,omitempty"`
}

// TushareResponse Tushare API响应结构
type TushareResponse struct {
	RequestID string `json:"request_id"`
	Code      int    `json:"code"`
	Msg       string `json:"msg"`
	Data      struct {
		Fields []string        `json:"fields"`
		Items  [][]interface{} `json:"items"`
	} `json:"data"`
}

// ClientOption 客户端选项
type ClientOption func(*TushareClient)

// WithHTTPClient 替换HTTP客户端
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *TushareClient) {
		c.Client = client
	}
}

// WithTimeout 设置单次请求超时
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *TushareClient) {
		if timeout > 0 {
			c.Client.Timeout = timeout
		}
	}
}

// WithRateLimit 设置每分钟请求上限，<=0 表示不限速
func WithRateLimit(perMinute int) ClientOption {
	return func(c *TushareClient) {
		if perMinute <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
}

// NewTushareClient 创建新的Tushare客户端
func NewTushareClient(apiKey, baseURL string, opts ...ClientOption) *TushareClient {
	c := &TushareClient{
		APIKey:  apiKey,
		BaseURL: baseURL,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute 执行Tushare API请求，返回的错误均为 *FetchError
func (c *TushareClient) Execute(ctx context.Context, apiName string, params map[string]interface{}, fields string) (*TushareResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, newFetchError(KindTransient, "等待限流令牌失败: %w", err)
		}
	}

	req := TushareRequest{
		APIName: apiName,
		Token:   c.APIKey,
		Params:  params,
		Fields:  fields,
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, newFetchError(KindTransient, "序列化请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, newFetchError(KindTransient, "创建HTTP请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(httpReq)
	if err != nil {
		return nil, newFetchError(KindTransient, "执行HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, newFetchError(KindRateLimited, "API返回429")
	case resp.StatusCode >= 500:
		return nil, newFetchError(KindTransient, "API返回状态码: %d", resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, newFetchError(KindUnauthorized, "API返回状态码: %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, newFetchError(KindTransient, "API返回非200状态码: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newFetchError(KindTransient, "读取响应体失败: %w", err)
	}

	var tushareResp TushareResponse
	if err := json.Unmarshal(body, &tushareResp); err != nil {
		return nil, newFetchError(KindTransient, "解析响应失败: %w", err)
	}

	if tushareResp.Code != 0 {
		return nil, classifyCode(apiName, tushareResp.Code, tushareResp.Msg)
	}

	return &tushareResp, nil
}

func classifyCode(apiName string, code int, msg string) *FetchError {
	err := fmt.Errorf("%s 返回错误(%d): %s", apiName, code, msg)
	switch {
	case code == tushareCodeRateLimit, strings.Contains(msg, "每分钟最多访问"), strings.Contains(msg, "每小时最多访问"):
		return &FetchError{Kind: KindRateLimited, Err: err}
	case code == tushareCodeBadToken, code == tushareCodeNoPermission, strings.Contains(msg, "权限"), strings.Contains(msg, "token"):
		return &FetchError{Kind: KindUnauthorized, Err: err}
	case strings.Contains(msg, "不存在"), strings.Contains(msg, "无数据"):
		return &FetchError{Kind: KindNotFound, Err: err}
	default:
		return &FetchError{Kind: KindTransient, Err: err}
	}
}

// GetStockBasic 获取股票基本信息
func (c *TushareClient) GetStockBasic(ctx context.Context, params map[string]interface{}) (*TushareResponse, error) {
	fields := "ts_code,symbol,name,area,industry,market,list_date"
	return c.Execute(ctx, "stock_basic", params, fields)
}

// GetDailyQuotes 获取日线行情
func (c *TushareClient) GetDailyQuotes(ctx context.Context, params map[string]interface{}) (*TushareResponse, error) {
	fields := "ts_code,trade_date,open,high,low,close,vol"
	return c.Execute(ctx, "daily", params, fields)
}

// GetFinaIndicator 获取财务指标
func (c *TushareClient) GetFinaIndicator(ctx context.Context, params map[string]interface{}) (*TushareResponse, error) {
	fields := "ts_code,end_date,roe,roa,debt_to_assets"
	return c.Execute(ctx, "fina_indicator", params, fields)
}

// GetIncome 获取利润表
func (c *TushareClient) GetIncome(ctx context.Context, params map[string]interface{}) (*TushareResponse, error) {
	fields := "ts_code,end_date,total_revenue,n_income_attr_p"
	return c.Execute(ctx, "income", params, fields)
}

// GetDailyBasic 获取每日估值指标
func (c *TushareClient) GetDailyBasic(ctx context.Context, params map[string]interface{}) (*TushareResponse, error) {
	fields := "ts_code,trade_date,pe_ttm,pb,ps_ttm"
	return c.Execute(ctx, "daily_basic", params, fields)
}

// isContextErr 调用方取消或超时
func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
