package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"PortfolioAgent/pkg/analysis"
	"PortfolioAgent/pkg/collector"
	"PortfolioAgent/pkg/database"
	"PortfolioAgent/pkg/refresh"
	"PortfolioAgent/pkg/scheduler"
)

// AppError 带 HTTP 状态码的应用错误
type AppError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	Status  int         `json:"-"`
	Err     error       `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// NewAppError 创建应用错误
func NewAppError(code, message string, status int) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

// WithDetails 附加错误详情
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// WithError 包装底层错误
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func BadRequestError(message string) *AppError {
	return NewAppError("ERR_BAD_REQUEST", message, http.StatusBadRequest)
}

func BadRequestErrorf(format string, a ...interface{}) *AppError {
	return BadRequestError(fmt.Sprintf(format, a...))
}

func NotFoundError(message string) *AppError {
	return NewAppError("ERR_NOT_FOUND", message, http.StatusNotFound)
}

func UpstreamError(message string) *AppError {
	return NewAppError("ERR_UPSTREAM", message, http.StatusBadGateway)
}

func InternalError(message string) *AppError {
	return NewAppError("ERR_INTERNAL", message, http.StatusInternalServerError)
}

// toAppError 将领域错误映射为 HTTP 错误
func toAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, refresh.ErrInvalidKey),
		errors.Is(err, scheduler.ErrInvalidRequest),
		errors.Is(err, analysis.ErrInvalidRequest),
		errors.Is(err, analysis.ErrInvalidDiscountRate):
		return BadRequestError(err.Error()).WithError(err)
	case errors.Is(err, database.ErrNotFound):
		return NotFoundError(err.Error()).WithError(err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewAppError("ERR_TIMEOUT", "请求超时", http.StatusGatewayTimeout).WithError(err)
	}

	var refreshErr *refresh.RefreshError
	if errors.As(err, &refreshErr) {
		appErr := UpstreamError(refreshErr.Error()).WithError(err)
		var fe *collector.FetchError
		if errors.As(err, &fe) {
			appErr.WithDetails(gin.H{"ts_code": refreshErr.Symbol, "data_kind": refreshErr.DataKind, "error_code": fe.Code()})
		}
		return appErr
	}

	var fetchErr *collector.FetchError
	if errors.As(err, &fetchErr) {
		return UpstreamError(fetchErr.Error()).WithError(err).WithDetails(gin.H{"error_code": fetchErr.Code()})
	}

	var storageErr *database.StorageError
	if errors.As(err, &storageErr) {
		return InternalError("存储失败").WithError(err)
	}
	return InternalError("服务器内部错误").WithError(err)
}
