package collector

import (
	"errors"
	"fmt"

	"PortfolioAgent/pkg/model"
)

// ErrorKind 上游获取失败的分类
type ErrorKind string

const (
	KindTransient    ErrorKind = "transient"     // 网络错误、超时、5xx
	KindRateLimited  ErrorKind = "rate_limited"  // 触发频率限制
	KindFieldMissing ErrorKind = "field_missing" // 响应缺少必要字段
	KindNotFound     ErrorKind = "not_found"     // 无数据
	KindUnauthorized ErrorKind = "unauthorized"  // token 无效或无接口权限
)

// FetchError 数据源获取错误
type FetchError struct {
	Kind     ErrorKind
	Symbol   string
	DataKind model.DataKind
	Err      error
}

func (e *FetchError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("获取数据失败[%s]: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("获取%s %s失败[%s]: %v", e.Symbol, e.DataKind, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable 临时错误和限流可在适配器内部重试
func (e *FetchError) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimited
}

// Permanent 不可重试的错误，立即上抛
func (e *FetchError) Permanent() bool {
	return !e.Retryable()
}

// Code 返回写入台账的错误码
func (e *FetchError) Code() string {
	return string(e.Kind)
}

func newFetchError(kind ErrorKind, format string, args ...interface{}) *FetchError {
	return &FetchError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// IsRetryable 判断错误是否可重试，未分类错误视为临时错误
func IsRetryable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return err != nil
}

// Classify 将任意错误归类为 FetchError
func Classify(err error, symbol string, kind model.DataKind) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		out := *fe
		if out.Symbol == "" {
			out.Symbol = symbol
			out.DataKind = kind
		}
		return &out
	}
	return &FetchError{Kind: KindTransient, Symbol: symbol, DataKind: kind, Err: err}
}
