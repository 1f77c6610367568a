// pkg/database/job.go
package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"PortfolioAgent/pkg/model"
)

// ErrInvalidTransition 任务状态不允许回退
var ErrInvalidTransition = errors.New("任务状态转换无效")

// JobDB 批量任务存储
type JobDB struct {
	db *gorm.DB
}

func (d *DB) Jobs() *JobDB {
	return &JobDB{db: d.db}
}

// Create 创建任务及其全部待执行条目
func (j *JobDB) Create(job *model.BatchJob) error {
	err := j.db.Transaction(func(tx *gorm.DB) error {
		items := job.Items
		job.Items = nil
		if err := tx.Omit("Items").Create(job).Error; err != nil {
			return err
		}
		for i := range items {
			items[i].JobID = job.ID
		}
		if len(items) > 0 {
			if err := tx.CreateInBatches(&items, 200).Error; err != nil {
				return err
			}
		}
		job.Items = items
		return nil
	})
	return storageErr("create job", err)
}

// Transition 按 from -> to 条件更新状态，状态已变化时返回 ErrInvalidTransition
func (j *JobDB) Transition(id string, from, to model.JobStatus, at time.Time) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	updates := map[string]interface{}{"status": to}
	if to == model.JobRunning {
		updates["started_at"] = at.UTC()
	}
	if to.Terminal() {
		updates["finished_at"] = at.UTC()
	}

	res := j.db.Model(&model.BatchJob{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return storageErr("transition job", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: 任务 %s 当前不处于 %s", ErrInvalidTransition, id, from)
	}
	return nil
}

// RecordOutcome 原子地写入单个条目的结果并累加任务计数
func (j *JobDB) RecordOutcome(item model.BatchJobItem) error {
	var counter string
	switch item.Outcome {
	case model.OutcomeSuccess:
		counter = "succeeded"
	case model.OutcomeCached:
		counter = "cached"
	case model.OutcomeError:
		counter = "failed"
	default:
		return fmt.Errorf("无效的条目结果: %s", item.Outcome)
	}

	err := j.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.BatchJobItem{}).
			Where("job_id = ? AND ts_code = ? AND data_type = ? AND outcome = ?",
				item.JobID, item.Symbol, item.DataKind, model.OutcomePending).
			Updates(map[string]interface{}{
				"outcome":     item.Outcome,
				"reason":      item.Reason,
				"row_count":   item.Rows,
				"finished_at": item.FinishedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("条目 %s/%s 不存在或已完成", item.Symbol, item.DataKind)
		}
		return tx.Model(&model.BatchJob{}).
			Where("id = ?", item.JobID).
			UpdateColumn(counter, gorm.Expr(counter+" + 1")).Error
	})
	return storageErr("record job outcome", err)
}

// Get 获取任务及条目
func (j *JobDB) Get(id string) (*model.BatchJob, error) {
	var job model.BatchJob
	err := j.db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	}).First(&job, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("任务 %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("获取任务失败: %w", err)
	}
	return &job, nil
}

// List 按创建时间倒序列出任务，不含条目
func (j *JobDB) List(limit int) ([]model.BatchJob, error) {
	var jobs []model.BatchJob
	q := j.db.Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("查询任务列表失败: %w", err)
	}
	return jobs, nil
}
