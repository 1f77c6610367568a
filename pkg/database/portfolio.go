// pkg/database/portfolio.go
package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"PortfolioAgent/pkg/model"
)

type PortfolioDB struct {
	db *gorm.DB
}

func (d *DB) Portfolios() *PortfolioDB {
	return &PortfolioDB{db: d.db}
}

func (p *PortfolioDB) Create(portfolio *model.Portfolio) error {
	return storageErr("create portfolio", p.db.Omit("Holdings").Create(portfolio).Error)
}

func (p *PortfolioDB) List() ([]model.Portfolio, error) {
	var portfolios []model.Portfolio
	if err := p.db.Order("id ASC").Find(&portfolios).Error; err != nil {
		return nil, fmt.Errorf("查询组合列表失败: %w", err)
	}
	return portfolios, nil
}

// Get 获取组合及其持仓
func (p *PortfolioDB) Get(id uint) (*model.Portfolio, error) {
	var portfolio model.Portfolio
	err := p.db.Preload("Holdings", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	}).First(&portfolio, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("组合 %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("获取组合失败: %w", err)
	}
	return &portfolio, nil
}

// Delete 删除组合及其持仓
func (p *PortfolioDB) Delete(id uint) error {
	err := p.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("portfolio_id = ?", id).Delete(&model.Holding{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.Portfolio{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("组合 %d: %w", id, ErrNotFound)
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return storageErr("delete portfolio", err)
}

// AddHolding 添加持仓，组合必须存在
func (p *PortfolioDB) AddHolding(holding *model.Holding) error {
	var n int64
	if err := p.db.Model(&model.Portfolio{}).Where("id = ?", holding.PortfolioID).Count(&n).Error; err != nil {
		return fmt.Errorf("检查组合失败: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("组合 %d: %w", holding.PortfolioID, ErrNotFound)
	}
	return storageErr("create holding", p.db.Create(holding).Error)
}

func (p *PortfolioDB) ListHoldings(portfolioID uint) ([]model.Holding, error) {
	var holdings []model.Holding
	if err := p.db.Where("portfolio_id = ?", portfolioID).Order("id ASC").Find(&holdings).Error; err != nil {
		return nil, fmt.Errorf("查询持仓失败: %w", err)
	}
	return holdings, nil
}

func (p *PortfolioDB) GetHolding(id uint) (*model.Holding, error) {
	var holding model.Holding
	if err := p.db.First(&holding, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("持仓 %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("获取持仓失败: %w", err)
	}
	return &holding, nil
}

// UpdateHolding 保存持仓的全部可编辑字段
func (p *PortfolioDB) UpdateHolding(holding *model.Holding) error {
	res := p.db.Model(holding).Select("ts_code", "qty", "buy_price", "buy_date", "tags").Updates(holding)
	if res.Error != nil {
		return storageErr("update holding", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("持仓 %d: %w", holding.ID, ErrNotFound)
	}
	return nil
}

func (p *PortfolioDB) DeleteHolding(id uint) error {
	res := p.db.Delete(&model.Holding{}, id)
	if res.Error != nil {
		return storageErr("delete holding", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("持仓 %d: %w", id, ErrNotFound)
	}
	return nil
}

// HeldSymbols 返回所有组合中出现过的股票代码
func (p *PortfolioDB) HeldSymbols() ([]string, error) {
	var symbols []string
	if err := p.db.Model(&model.Holding{}).Distinct().Order("ts_code ASC").Pluck("ts_code", &symbols).Error; err != nil {
		return nil, fmt.Errorf("查询持仓股票失败: %w", err)
	}
	return symbols, nil
}
