package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RateTable 以某基础币种为基准的汇率表
type RateTable struct {
	BaseCode        string
	ConversionRates map[string]decimal.Decimal
	LastUpdateUnix  int64
	NextUpdateUnix  int64
}

// Rate 查找目标币种汇率
func (t *RateTable) Rate(currency string) (decimal.Decimal, bool) {
	if t == nil {
		return decimal.Zero, false
	}
	r, ok := t.ConversionRates[currency]
	return r, ok
}

// Cost 计算订单总价：rateTable[target] * amount
func Cost(amount decimal.Decimal, target string, table *RateTable) (decimal.Decimal, decimal.Decimal, error) {
	rate, ok := table.Rate(target)
	if !ok {
		return decimal.Zero, decimal.Zero, E(KindInvalid, "cost", fmt.Errorf("%w: %s", ErrRateNotFound, target))
	}
	if !rate.IsPositive() {
		return decimal.Zero, decimal.Zero, E(KindInvalid, "cost", fmt.Errorf("non-positive rate %s for %s", rate, target))
	}
	return rate.Mul(amount), rate, nil
}
