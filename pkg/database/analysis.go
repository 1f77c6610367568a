// pkg/database/analysis.go
package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"PortfolioAgent/pkg/model"
)

// AnalysisDB 分析结果存储，只追加
type AnalysisDB struct {
	db *gorm.DB
}

func (d *DB) Analyses() *AnalysisDB {
	return &AnalysisDB{db: d.db}
}

func (a *AnalysisDB) Create(analysis *model.Analysis) error {
	return storageErr("create analysis", a.db.Create(analysis).Error)
}

func (a *AnalysisDB) Get(id string) (*model.Analysis, error) {
	var analysis model.Analysis
	if err := a.db.First(&analysis, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("分析 %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("获取分析结果失败: %w", err)
	}
	return &analysis, nil
}

// List 按创建时间倒序，symbol 为空时返回全部
func (a *AnalysisDB) List(symbol string, limit int) ([]model.Analysis, error) {
	var analyses []model.Analysis
	q := a.db.Order("created_at DESC")
	if symbol != "" {
		q = q.Where("ts_code = ?", symbol)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&analyses).Error; err != nil {
		return nil, fmt.Errorf("查询分析结果失败: %w", err)
	}
	return analyses, nil
}
