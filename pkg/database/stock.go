// pkg/database/stock.go
package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"PortfolioAgent/pkg/model"
)

type StockDB struct {
	db *gorm.DB
}

func (d *DB) Stocks() *StockDB {
	return &StockDB{db: d.db}
}

// SaveBatch 按 ts_code 覆盖写入股票列表
func (s *StockDB) SaveBatch(stocks []model.Stock) error {
	if len(stocks) == 0 {
		return nil
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ts_code"}},
		UpdateAll: true,
	}).CreateInBatches(&stocks, 500).Error
	return storageErr("save stocks", err)
}

func (s *StockDB) GetBySymbol(symbol string) (*model.Stock, error) {
	var stock model.Stock
	err := s.db.First(&stock, "ts_code = ?", symbol).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("股票 %s: %w", symbol, ErrNotFound)
		}
		return nil, fmt.Errorf("获取股票信息失败: %w", err)
	}
	return &stock, nil
}

// Search 按代码或名称模糊查询
func (s *StockDB) Search(keyword string, limit, offset int) ([]model.Stock, error) {
	var stocks []model.Stock
	q := s.db.Order("ts_code ASC")
	if keyword != "" {
		like := "%" + keyword + "%"
		q = q.Where("ts_code LIKE ? OR name LIKE ?", like, like)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&stocks).Error; err != nil {
		return nil, fmt.Errorf("查询股票列表失败: %w", err)
	}
	return stocks, nil
}
