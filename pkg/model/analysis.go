// pkg/model/analysis.go
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AnalysisMethod 分析方法
type AnalysisMethod string

const (
	MethodGBM AnalysisMethod = "gbm"
)

// Report 叙述性报告
type Report struct {
	Source  string `json:"source"` // local | deepseek | local-fallback
	Summary string `json:"summary"`
}

// AnalysisParams 估计参数
type AnalysisParams struct {
	Mu       float64 `json:"mu"`
	Sigma    float64 `json:"sigma"`
	NReturns int     `json:"n_returns"`
	Report   *Report `json:"report,omitempty"`
}

// Analysis 概率分析结果，创建后不再修改
type Analysis struct {
	ID           string                              `gorm:"type:varchar(36);primaryKey" json:"id"`
	Symbol       *string                             `gorm:"column:ts_code;size:32;index" json:"ts_code"`
	PortfolioID  *uint                               `gorm:"index" json:"portfolio_id,omitempty"`
	Method       AnalysisMethod                      `gorm:"type:varchar(16);not null" json:"method"`
	TargetReturn float64                             `json:"target_return"`
	HorizonYears float64                             `json:"horizon_years"`
	Probability  float64                             `json:"probability"`
	Params       datatypes.JSONType[AnalysisParams] `gorm:"column:params_json" json:"params_json"`
	CreatedAt    time.Time                           `json:"created_at"`
}

func (Analysis) TableName() string { return "analyses" }

// BeforeCreate 在创建前生成UUID
func (a *Analysis) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

// BeforeUpdate 分析记录只写一次
func (a *Analysis) BeforeUpdate(tx *gorm.DB) error {
	return gorm.ErrInvalidData
}
