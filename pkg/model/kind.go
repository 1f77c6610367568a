// pkg/model/kind.go
package model

import (
	"fmt"
	"strings"
)

// DataKind 时间序列数据类别
type DataKind string

const (
	KindPrice     DataKind = "price"
	KindFinancial DataKind = "financial"
	KindValuation DataKind = "valuation"
)

// AllDataKinds 全部数据类别，按刷新顺序排列
var AllDataKinds = []DataKind{KindPrice, KindFinancial, KindValuation}

// Valid 判断类别是否受支持
func (k DataKind) Valid() bool {
	switch k {
	case KindPrice, KindFinancial, KindValuation:
		return true
	}
	return false
}

func (k DataKind) String() string {
	return string(k)
}

// ParseDataKind 解析数据类别，兼容复数形式（prices/financials/valuations）
func ParseDataKind(s string) (DataKind, error) {
	k := DataKind(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "s"))
	if !k.Valid() {
		return "", fmt.Errorf("不支持的数据类别: %q", s)
	}
	return k, nil
}

// ParseDataKinds 解析数据类别列表，空列表表示全部类别
func ParseDataKinds(values []string) ([]DataKind, error) {
	if len(values) == 0 {
		return append([]DataKind(nil), AllDataKinds...), nil
	}
	seen := make(map[DataKind]bool, len(values))
	kinds := make([]DataKind, 0, len(values))
	for _, v := range values {
		k, err := ParseDataKind(v)
		if err != nil {
			return nil, err
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		kinds = append(kinds, k)
	}
	return kinds, nil
}
