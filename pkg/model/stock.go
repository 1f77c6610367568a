// pkg/model/stock.go
package model

import (
	"time"
)

// Stock 股票基础信息
type Stock struct {
	Symbol    string    `gorm:"column:ts_code;primaryKey;size:32" json:"ts_code"`
	Code      string    `gorm:"column:symbol;size:16" json:"symbol"`
	Name      string    `gorm:"size:64;index" json:"name"`
	Area      string    `gorm:"size:32" json:"area"`
	Industry  string    `gorm:"size:64;index" json:"industry"`
	Market    string    `gorm:"size:32" json:"market"`
	ListDate  string    `gorm:"size:10" json:"list_date"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Stock) TableName() string { return "stocks" }

// Portfolio 投资组合
type Portfolio struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:128;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Holdings  []Holding `gorm:"foreignKey:PortfolioID;constraint:OnDelete:CASCADE" json:"holdings,omitempty"`
}

func (Portfolio) TableName() string { return "portfolios" }

// Holding 组合持仓
type Holding struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	PortfolioID uint       `gorm:"not null;index" json:"portfolio_id"`
	Symbol      string     `gorm:"column:ts_code;size:32;not null;index" json:"ts_code"`
	Qty         int64      `gorm:"not null" json:"qty"`
	BuyPrice    float64    `gorm:"not null" json:"buy_price"`
	BuyDate     *time.Time `json:"buy_date"`
	Tags        string     `gorm:"size:255" json:"tags"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Holding) TableName() string { return "holdings" }
