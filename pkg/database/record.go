// pkg/database/record.go
package database

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"PortfolioAgent/pkg/model"
)

// UpsertResult 写入统计
type UpsertResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// RecordDB 时间序列记录存储
type RecordDB struct {
	db *gorm.DB
}

func (d *DB) Records() *RecordDB {
	return &RecordDB{db: d.db}
}

type tableDef struct {
	name    string
	period  string
	payload []string
}

var tables = map[model.DataKind]tableDef{
	model.KindPrice:     {name: "price_history", period: "trade_date", payload: []string{"open", "high", "low", "close", "volume"}},
	model.KindFinancial: {name: "financials", period: "period", payload: []string{"revenue", "profit", "roe", "roa", "debt_ratio"}},
	model.KindValuation: {name: "valuations", period: "date", payload: []string{"pe", "pb", "ps", "ev_ebitda"}},
}

// onConflict 已存在的周期只用新行中的非空字段覆盖
func (s tableDef) onConflict() clause.OnConflict {
	set := make(map[string]interface{}, len(s.payload)+1)
	for _, col := range s.payload {
		set[col] = gorm.Expr(fmt.Sprintf("COALESCE(excluded.%s, %s.%s)", col, s.name, col))
	}
	set["updated_at"] = gorm.Expr("excluded.updated_at")
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "ts_code"}, {Name: s.period}},
		DoUpdates: clause.Assignments(set),
	}
}

type keyed[T any] interface {
	SymbolKey() string
	PeriodKey() string
	Merge(T) T
}

// Upsert 写入一批记录：新周期插入，已有周期原地更新
func (r *RecordDB) Upsert(series *model.Series) (UpsertResult, error) {
	def, ok := tables[series.Kind]
	if !ok {
		return UpsertResult{}, storageErr("upsert", fmt.Errorf("未知数据类别: %s", series.Kind))
	}
	switch series.Kind {
	case model.KindPrice:
		return upsertRows(r.db, def, series.Symbol, series.Prices)
	case model.KindFinancial:
		return upsertRows(r.db, def, series.Symbol, series.Financials)
	default:
		return upsertRows(r.db, def, series.Symbol, series.Valuations)
	}
}

func upsertRows[T keyed[T]](db *gorm.DB, def tableDef, symbol string, rows []T) (UpsertResult, error) {
	var res UpsertResult
	op := "upsert " + def.name

	rows, err := dedupe(symbol, rows)
	if err != nil {
		return res, storageErr(op, err)
	}
	if len(rows) == 0 {
		return res, nil
	}

	keys := make([]string, len(rows))
	for i, row := range rows {
		keys[i] = row.PeriodKey()
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		var existing []string
		if err := tx.Model(new(T)).
			Where("ts_code = ? AND "+def.period+" IN ?", symbol, keys).
			Pluck(def.period, &existing).Error; err != nil {
			return err
		}
		if err := tx.Clauses(def.onConflict()).CreateInBatches(&rows, 200).Error; err != nil {
			return err
		}
		res.Updated = len(existing)
		res.Inserted = len(rows) - len(existing)
		return nil
	})
	if err != nil {
		return UpsertResult{}, storageErr(op, err)
	}
	return res, nil
}

// dedupe 同一批内重复周期按先后合并，保持首次出现的顺序
func dedupe[T keyed[T]](symbol string, rows []T) ([]T, error) {
	index := make(map[string]int, len(rows))
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		if row.SymbolKey() == "" || row.PeriodKey() == "" {
			return nil, fmt.Errorf("标识字段为空: ts_code=%q period=%q", row.SymbolKey(), row.PeriodKey())
		}
		if row.SymbolKey() != symbol {
			return nil, fmt.Errorf("记录股票代码 %s 与目标 %s 不一致", row.SymbolKey(), symbol)
		}
		if i, ok := index[row.PeriodKey()]; ok {
			out[i] = out[i].Merge(row)
			continue
		}
		index[row.PeriodKey()] = len(out)
		out = append(out, row)
	}
	return out, nil
}

// Query 按周期倒序返回最多 limit 条记录，limit<=0 表示不限
func (r *RecordDB) Query(symbol string, kind model.DataKind, limit int) (*model.Series, error) {
	def, ok := tables[kind]
	if !ok {
		return nil, fmt.Errorf("未知数据类别: %s", kind)
	}

	series := model.NewSeries(symbol, kind)
	q := r.db.Where("ts_code = ?", symbol).Order(def.period + " DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var err error
	switch kind {
	case model.KindPrice:
		err = q.Find(&series.Prices).Error
	case model.KindFinancial:
		err = q.Find(&series.Financials).Error
	default:
		err = q.Find(&series.Valuations).Error
	}
	if err != nil {
		return nil, fmt.Errorf("查询%s失败: %w", def.name, err)
	}
	return series, nil
}

// Count 返回已缓存记录数
func (r *RecordDB) Count(symbol string, kind model.DataKind) (int64, error) {
	def, ok := tables[kind]
	if !ok {
		return 0, fmt.Errorf("未知数据类别: %s", kind)
	}
	var n int64
	if err := r.db.Table(def.name).Where("ts_code = ?", symbol).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("统计%s失败: %w", def.name, err)
	}
	return n, nil
}
