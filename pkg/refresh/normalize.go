package refresh

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/guregu/null/v6"

	"PortfolioAgent/pkg/collector"
	"PortfolioAgent/pkg/model"
)

// Normalize 将数据源原始行转换为类型化记录，只做字段映射与类型转换
func Normalize(symbol string, kind model.DataKind, rows []collector.RawRow) (*model.Series, error) {
	n := normalizer{symbol: symbol, kind: kind}
	series := model.NewSeries(symbol, kind)

	for i, row := range rows {
		if err := n.checkSymbol(row); err != nil {
			return nil, n.fail("第%d行: %w", i, err)
		}
		switch kind {
		case model.KindPrice:
			period, err := periodKey(row, "trade_date", "date")
			if err != nil {
				return nil, n.fail("第%d行: %w", i, err)
			}
			rec := model.PriceRecord{Symbol: symbol, TradeDate: period}
			if err := n.floats(row, []floatField{
				{&rec.Open, []string{"open"}},
				{&rec.High, []string{"high"}},
				{&rec.Low, []string{"low"}},
				{&rec.Close, []string{"close"}},
				{&rec.Volume, []string{"vol", "volume"}},
			}); err != nil {
				return nil, n.fail("第%d行: %w", i, err)
			}
			series.Prices = append(series.Prices, rec)
		case model.KindFinancial:
			period, err := periodKey(row, "end_date", "period")
			if err != nil {
				return nil, n.fail("第%d行: %w", i, err)
			}
			rec := model.FinancialRecord{Symbol: symbol, Period: period}
			if err := n.floats(row, []floatField{
				{&rec.Revenue, []string{"total_revenue", "revenue"}},
				{&rec.Profit, []string{"n_income_attr_p", "n_income", "profit"}},
				{&rec.ROE, []string{"roe"}},
				{&rec.ROA, []string{"roa"}},
				{&rec.DebtRatio, []string{"debt_to_assets", "debt_ratio"}},
			}); err != nil {
				return nil, n.fail("第%d行: %w", i, err)
			}
			series.Financials = append(series.Financials, rec)
		case model.KindValuation:
			period, err := periodKey(row, "trade_date", "date")
			if err != nil {
				return nil, n.fail("第%d行: %w", i, err)
			}
			rec := model.ValuationRecord{Symbol: symbol, Date: period}
			if err := n.floats(row, []floatField{
				{&rec.PE, []string{"pe_ttm", "pe"}},
				{&rec.PB, []string{"pb"}},
				{&rec.PS, []string{"ps_ttm", "ps"}},
				{&rec.EVEBITDA, []string{"ev_ebitda"}},
			}); err != nil {
				return nil, n.fail("第%d行: %w", i, err)
			}
			series.Valuations = append(series.Valuations, rec)
		default:
			return nil, n.fail("不支持的数据类别: %s", kind)
		}
	}
	return series, nil
}

type normalizer struct {
	symbol string
	kind   model.DataKind
}

type floatField struct {
	dst  *null.Float
	keys []string
}

func (n normalizer) fail(format string, args ...interface{}) error {
	return &collector.FetchError{
		Kind:     collector.KindFieldMissing,
		Symbol:   n.symbol,
		DataKind: n.kind,
		Err:      fmt.Errorf("规范化失败: "+format, args...),
	}
}

func (n normalizer) checkSymbol(row collector.RawRow) error {
	v, ok := row["ts_code"]
	if !ok || v == nil {
		return nil
	}
	if s, _ := v.(string); s != n.symbol {
		return fmt.Errorf("ts_code %v 与请求的 %s 不一致", v, n.symbol)
	}
	return nil
}

func (n normalizer) floats(row collector.RawRow, fields []floatField) error {
	for _, f := range fields {
		v, err := toNullFloat(lookup(row, f.keys...))
		if err != nil {
			return fmt.Errorf("字段 %s: %w", f.keys[0], err)
		}
		*f.dst = v
	}
	return nil
}

// lookup 返回第一个存在且非空的字段值
func lookup(row collector.RawRow, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := row[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// toNullFloat nil 和空字符串视为缺失
func toNullFloat(v interface{}) (null.Float, error) {
	switch value := v.(type) {
	case nil:
		return null.Float{}, nil
	case float64:
		return null.FloatFrom(value), nil
	case float32:
		return null.FloatFrom(float64(value)), nil
	case int:
		return null.FloatFrom(float64(value)), nil
	case int64:
		return null.FloatFrom(float64(value)), nil
	case json.Number:
		f, err := value.Float64()
		if err != nil {
			return null.Float{}, err
		}
		return null.FloatFrom(f), nil
	case string:
		s := strings.TrimSpace(value)
		if s == "" {
			return null.Float{}, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return null.Float{}, fmt.Errorf("无法转换为数值: %q", value)
		}
		return null.FloatFrom(f), nil
	default:
		return null.Float{}, fmt.Errorf("无法转换为数值: %v", v)
	}
}

// periodKey 将 YYYYMMDD 或 YYYY-MM-DD 统一为 YYYY-MM-DD
func periodKey(row collector.RawRow, keys ...string) (string, error) {
	v := lookup(row, keys...)
	var s string
	switch value := v.(type) {
	case nil:
		return "", fmt.Errorf("缺少周期字段 %s", keys[0])
	case string:
		s = strings.TrimSpace(value)
	case float64:
		s = strconv.FormatFloat(value, 'f', 0, 64)
	case int:
		s = strconv.Itoa(value)
	case int64:
		s = strconv.FormatInt(value, 10)
	default:
		s = fmt.Sprint(value)
	}

	for _, layout := range []string{"20060102", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(time.DateOnly), nil
		}
	}
	return "", fmt.Errorf("无法解析周期 %q", s)
}
