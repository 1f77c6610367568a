// pkg/database/status.go
package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/guregu/null/v6"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"PortfolioAgent/pkg/model"
)

// StatusDB 数据新鲜度台账
type StatusDB struct {
	db *gorm.DB
}

func (d *DB) Status() *StatusDB {
	return &StatusDB{db: d.db}
}

// Get 返回台账条目，不存在时返回 (nil, nil)
func (s *StatusDB) Get(symbol string, kind model.DataKind) (*model.DataStatus, error) {
	var status model.DataStatus
	err := s.db.Where("ts_code = ? AND data_type = ?", symbol, kind).First(&status).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("获取数据状态失败: %w", err)
	}
	return &status, nil
}

// IsStale 无条目或超过 ttl 即为过期，只读
func (s *StatusDB) IsStale(symbol string, kind model.DataKind, ttl time.Duration, now time.Time) (bool, error) {
	status, err := s.Get(symbol, kind)
	if err != nil {
		return true, err
	}
	return status.IsStale(ttl, now), nil
}

// RecordSuccess 记录刷新成功：清除错误，更新 last_updated
func (s *StatusDB) RecordSuccess(symbol string, kind model.DataKind, at time.Time, ttl time.Duration) error {
	at = at.UTC()
	status := model.DataStatus{
		Symbol:        symbol,
		DataKind:      kind,
		LastUpdated:   &at,
		LastAttemptAt: at,
		TTLSeconds:    int64(ttl / time.Second),
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "ts_code"}, {Name: "data_type"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_updated":    at,
			"last_attempt_at": at,
			"ttl_seconds":     status.TTLSeconds,
			"error_code":      nil,
			"error_msg":       nil,
			"updated_at":      gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&status).Error
	return storageErr("record success data_status", err)
}

// RecordFailure 记录刷新失败，保留原 last_updated，失败不延长有效期
func (s *StatusDB) RecordFailure(symbol string, kind model.DataKind, at time.Time, ttl time.Duration, code, msg string) error {
	at = at.UTC()
	status := model.DataStatus{
		Symbol:        symbol,
		DataKind:      kind,
		LastAttemptAt: at,
		TTLSeconds:    int64(ttl / time.Second),
		ErrorCode:     null.StringFrom(code),
		ErrorMsg:      null.StringFrom(msg),
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "ts_code"}, {Name: "data_type"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_attempt_at": at,
			"ttl_seconds":     status.TTLSeconds,
			"error_code":      code,
			"error_msg":       msg,
			"updated_at":      gorm.Expr("excluded.updated_at"),
		}),
	}).Create(&status).Error
	return storageErr("record failure data_status", err)
}

// ListBySymbol 返回股票全部类别的台账，Stale 按记录的 TTL 计算
func (s *StatusDB) ListBySymbol(symbol string, now time.Time) ([]model.DataStatus, error) {
	var statuses []model.DataStatus
	if err := s.db.Where("ts_code = ?", symbol).Order("data_type ASC").Find(&statuses).Error; err != nil {
		return nil, fmt.Errorf("查询数据状态失败: %w", err)
	}
	for i := range statuses {
		statuses[i].Stale = statuses[i].IsStale(statuses[i].TTL(), now)
	}
	return statuses, nil
}
