// pkg/model/status.go
package model

import (
	"time"

	"github.com/guregu/null/v6"
)

// DataStatus 数据新鲜度台账，每个 (ts_code, data_type) 一行
type DataStatus struct {
	Symbol        string      `gorm:"column:ts_code;primaryKey;size:32" json:"ts_code"`
	DataKind      DataKind    `gorm:"column:data_type;primaryKey;size:16" json:"data_kind"`
	LastUpdated   *time.Time  `json:"last_updated"`
	LastAttemptAt time.Time   `json:"last_attempt_at"`
	TTLSeconds    int64       `gorm:"column:ttl_seconds" json:"ttl_seconds"`
	ErrorCode     null.String `gorm:"size:32" json:"error_code"`
	ErrorMsg      null.String `gorm:"type:text" json:"error_msg"`
	UpdatedAt     time.Time   `json:"updated_at"`

	// Stale 读取时根据 TTLSeconds 计算，不落库
	Stale bool `gorm:"-" json:"stale"`
}

func (DataStatus) TableName() string { return "data_status" }

// IsStale 从未成功刷新，或距上次成功刷新已超过 ttl
func (s *DataStatus) IsStale(ttl time.Duration, now time.Time) bool {
	if s == nil || s.LastUpdated == nil {
		return true
	}
	return now.Sub(*s.LastUpdated) > ttl
}

// TTL 返回最近一次写入时生效的 TTL
func (s *DataStatus) TTL() time.Duration {
	return time.Duration(s.TTLSeconds) * time.Second
}
