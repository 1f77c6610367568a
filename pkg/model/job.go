// pkg/model/job.go
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// JobStatus 批量任务状态
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobPartial JobStatus = "partial"
	JobFailed  JobStatus = "failed"
)

// Terminal 是否为终态
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobPartial || s == JobFailed
}

// CanTransition 状态只能前进：queued -> running -> done|partial|failed，
// 无法启动的任务可由 queued 直接进入 failed
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case JobQueued:
		return to == JobRunning || to == JobFailed
	case JobRunning:
		return to.Terminal()
	}
	return false
}

// Outcome 单个 (symbol, data_kind) 的执行结果
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeCached  Outcome = "cached"
	OutcomeError   Outcome = "error"
)

// JobType 任务类型
type JobType string

const (
	JobTypeManual    JobType = "refresh"
	JobTypeScheduled JobType = "scheduled_refresh"
)

// BatchJob 批量刷新任务
type BatchJob struct {
	ID         string                        `gorm:"type:varchar(36);primaryKey" json:"id"`
	Type       JobType                       `gorm:"type:varchar(32);not null;index" json:"type"`
	Status     JobStatus                     `gorm:"type:varchar(16);not null;index" json:"status"`
	Symbols    datatypes.JSONSlice[string]   `json:"ts_codes"`
	DataKinds  datatypes.JSONSlice[DataKind] `json:"data_kinds"`
	Force      bool                          `json:"force"`
	Total      int                           `json:"total"`
	Succeeded  int                           `json:"succeeded"`
	Cached     int                           `json:"cached"`
	Failed     int                           `json:"failed"`
	StartedAt  *time.Time                    `json:"started_at"`
	FinishedAt *time.Time                    `json:"finished_at"`
	CreatedAt  time.Time                     `json:"created_at"`
	UpdatedAt  time.Time                     `json:"updated_at"`

	Items []BatchJobItem `gorm:"foreignKey:JobID" json:"items,omitempty"`
}

func (BatchJob) TableName() string { return "jobs" }

// BeforeCreate 在创建前生成UUID
func (j *BatchJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	return nil
}

// Progress 已完成比例
func (j *BatchJob) Progress() float64 {
	if j.Total == 0 {
		return 1
	}
	return float64(j.Succeeded+j.Cached+j.Failed) / float64(j.Total)
}

// BatchJobItem 任务中单个 (symbol, data_kind) 的结果
type BatchJobItem struct {
	ID         uint       `gorm:"primaryKey" json:"-"`
	JobID      string     `gorm:"type:varchar(36);not null;uniqueIndex:uix_job_item,priority:1" json:"job_id"`
	Symbol     string     `gorm:"column:ts_code;size:32;not null;uniqueIndex:uix_job_item,priority:2" json:"ts_code"`
	DataKind   DataKind   `gorm:"column:data_type;size:16;not null;uniqueIndex:uix_job_item,priority:3" json:"data_kind"`
	Outcome    Outcome    `gorm:"type:varchar(16);not null" json:"outcome"`
	Reason     string     `gorm:"type:text" json:"reason,omitempty"`
	Rows       int        `gorm:"column:row_count" json:"rows"`
	FinishedAt *time.Time `json:"finished_at"`
}

func (BatchJobItem) TableName() string { return "job_items" }
