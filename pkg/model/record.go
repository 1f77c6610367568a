// pkg/model/record.go
package model

import (
	"time"

	"github.com/guregu/null/v6"
)

// PriceRecord 日线行情，唯一键 (ts_code, trade_date)
type PriceRecord struct {
	ID        uint       `gorm:"primaryKey" json:"-"`
	Symbol    string     `gorm:"column:ts_code;size:32;not null;uniqueIndex:uix_price_code_date,priority:1" json:"ts_code"`
	TradeDate string     `gorm:"column:trade_date;size:10;not null;uniqueIndex:uix_price_code_date,priority:2" json:"trade_date"`
	Open      null.Float `json:"open"`
	High      null.Float `json:"high"`
	Low       null.Float `json:"low"`
	Close     null.Float `json:"close"`
	Volume    null.Float `json:"volume"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (PriceRecord) TableName() string { return "price_history" }

// PeriodKey 返回交易日
func (r PriceRecord) PeriodKey() string { return r.TradeDate }

func (r PriceRecord) SymbolKey() string { return r.Symbol }

// Merge 用较新记录中非空字段覆盖当前值
func (r PriceRecord) Merge(newer PriceRecord) PriceRecord {
	r.Open = pick(r.Open, newer.Open)
	r.High = pick(r.High, newer.High)
	r.Low = pick(r.Low, newer.Low)
	r.Close = pick(r.Close, newer.Close)
	r.Volume = pick(r.Volume, newer.Volume)
	return r
}

// FinancialRecord 财务指标，唯一键 (ts_code, period)
type FinancialRecord struct {
	ID        uint       `gorm:"primaryKey" json:"-"`
	Symbol    string     `gorm:"column:ts_code;size:32;not null;uniqueIndex:uix_fin_code_period,priority:1" json:"ts_code"`
	Period    string     `gorm:"column:period;size:10;not null;uniqueIndex:uix_fin_code_period,priority:2" json:"period"`
	Revenue   null.Float `json:"revenue"`
	Profit    null.Float `json:"profit"`
	ROE       null.Float `gorm:"column:roe" json:"roe"`
	ROA       null.Float `gorm:"column:roa" json:"roa"`
	DebtRatio null.Float `json:"debt_ratio"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (FinancialRecord) TableName() string { return "financials" }

func (r FinancialRecord) PeriodKey() string { return r.Period }

func (r FinancialRecord) SymbolKey() string { return r.Symbol }

func (r FinancialRecord) Merge(newer FinancialRecord) FinancialRecord {
	r.Revenue = pick(r.Revenue, newer.Revenue)
	r.Profit = pick(r.Profit, newer.Profit)
	r.ROE = pick(r.ROE, newer.ROE)
	r.ROA = pick(r.ROA, newer.ROA)
	r.DebtRatio = pick(r.DebtRatio, newer.DebtRatio)
	return r
}

// ValuationRecord 估值快照，唯一键 (ts_code, date)
type ValuationRecord struct {
	ID        uint       `gorm:"primaryKey" json:"-"`
	Symbol    string     `gorm:"column:ts_code;size:32;not null;uniqueIndex:uix_val_code_date,priority:1" json:"ts_code"`
	Date      string     `gorm:"column:date;size:10;not null;uniqueIndex:uix_val_code_date,priority:2" json:"date"`
	PE        null.Float `gorm:"column:pe" json:"pe"`
	PB        null.Float `gorm:"column:pb" json:"pb"`
	PS        null.Float `gorm:"column:ps" json:"ps"`
	EVEBITDA  null.Float `gorm:"column:ev_ebitda" json:"ev_ebitda"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (ValuationRecord) TableName() string { return "valuations" }

func (r ValuationRecord) PeriodKey() string { return r.Date }

func (r ValuationRecord) SymbolKey() string { return r.Symbol }

func (r ValuationRecord) Merge(newer ValuationRecord) ValuationRecord {
	r.PE = pick(r.PE, newer.PE)
	r.PB = pick(r.PB, newer.PB)
	r.PS = pick(r.PS, newer.PS)
	r.EVEBITDA = pick(r.EVEBITDA, newer.EVEBITDA)
	return r
}

func pick(old, newer null.Float) null.Float {
	if newer.Valid {
		return newer
	}
	return old
}

// SeriesSource 数据来源
type SeriesSource string

const (
	SourceCache   SeriesSource = "cache"   // TTL内直接读取缓存
	SourceRefresh SeriesSource = "refresh" // 刷新成功后读取
	SourceStale   SeriesSource = "stale"   // 刷新失败，返回过期缓存
)

// Series 某一股票某一类别的时间序列，按周期倒序
type Series struct {
	Symbol     string            `json:"ts_code"`
	Kind       DataKind          `json:"data_kind"`
	Source     SeriesSource      `json:"source,omitempty"`
	Stale      bool              `json:"stale"`
	Inserted   int               `json:"inserted,omitempty"`
	Updated    int               `json:"updated,omitempty"`
	Prices     []PriceRecord     `json:"prices,omitempty"`
	Financials []FinancialRecord `json:"financials,omitempty"`
	Valuations []ValuationRecord `json:"valuations,omitempty"`

	// RefreshError 返回过期缓存时本次刷新的失败原因
	RefreshError string `json:"refresh_error,omitempty"`
}

// NewSeries 创建空序列
func NewSeries(symbol string, kind DataKind) *Series {
	return &Series{Symbol: symbol, Kind: kind}
}

// Len 返回记录条数
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	switch s.Kind {
	case KindPrice:
		return len(s.Prices)
	case KindFinancial:
		return len(s.Financials)
	case KindValuation:
		return len(s.Valuations)
	}
	return 0
}

// Rows 返回当前类别对应的记录切片，便于序列化
func (s *Series) Rows() interface{} {
	switch s.Kind {
	case KindPrice:
		if s.Prices == nil {
			return []PriceRecord{}
		}
		return s.Prices
	case KindFinancial:
		if s.Financials == nil {
			return []FinancialRecord{}
		}
		return s.Financials
	case KindValuation:
		if s.Valuations == nil {
			return []ValuationRecord{}
		}
		return s.Valuations
	}
	return []struct{}{}
}

// PeriodKeys 按当前顺序返回周期键
func (s *Series) PeriodKeys() []string {
	keys := make([]string, 0, s.Len())
	switch s.Kind {
	case KindPrice:
		for _, r := range s.Prices {
			keys = append(keys, r.PeriodKey())
		}
	case KindFinancial:
		for _, r := range s.Financials {
			keys = append(keys, r.PeriodKey())
		}
	case KindValuation:
		for _, r := range s.Valuations {
			keys = append(keys, r.PeriodKey())
		}
	}
	return keys
}
