package refresh

import (
	"errors"
	"fmt"

	"PortfolioAgent/pkg/model"
)

// ErrInvalidKey 股票代码为空或数据类别不受支持
var ErrInvalidKey = errors.New("无效的刷新键")

// RefreshError 刷新失败且没有可用缓存
type RefreshError struct {
	Symbol   string
	DataKind model.DataKind
	Err      error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("刷新 %s %s 失败且无缓存数据: %v", e.Symbol, e.DataKind, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }
