package analysis

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInvalidDiscountRate 折现率必须大于永续增长率
var ErrInvalidDiscountRate = errors.New("折现率必须大于永续增长率")

// DiscountedCashFlow 计算显式现金流现值与 Gordon 终值之和
//
// 终值以最后一期现金流按 terminalGrowth 增长一期后计算，并折现到当前。
func DiscountedCashFlow(cashFlows []float64, rate, terminalGrowth float64) (float64, error) {
	if rate <= terminalGrowth {
		return 0, ErrInvalidDiscountRate
	}
	if len(cashFlows) == 0 {
		return 0, nil
	}

	one := decimal.NewFromInt(1)
	factor := one.Add(decimal.NewFromFloat(rate))
	discount := one
	value := decimal.Zero
	for _, cf := range cashFlows {
		discount = discount.Mul(factor)
		value = value.Add(decimal.NewFromFloat(cf).Div(discount))
	}

	g := decimal.NewFromFloat(terminalGrowth)
	last := decimal.NewFromFloat(cashFlows[len(cashFlows)-1])
	terminal := last.Mul(one.Add(g)).Div(decimal.NewFromFloat(rate).Sub(g))
	value = value.Add(terminal.Div(discount))

	return value.InexactFloat64(), nil
}
