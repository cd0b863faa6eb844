package backtest

import (
	"fmt"
	"time"

	"portfolio-lab/internal/calendar"
	"portfolio-lab/internal/market"
)

// SummaryRow 为单个资产在区间内的收益与波动。
type SummaryRow struct {
	Code                string  `json:"code"`
	HoldingPeriodReturn float64 `json:"hpr"`
	AnnualizedReturn    float64 `json:"annualized_return"`
	Std                 float64 `json:"std"`
	AnnualizedStd       float64 `json:"annualized_std"`
}

// Summarize 计算 codes 在 [start, end] 内的持有期收益、年化收益及日收益率波动。
func Summarize(oracle market.Oracle, cal *calendar.Calendar, codes []string, start, end time.Time) ([]SummaryRow, error) {
	from, err := cal.IndexOf(start)
	if err != nil {
		return nil, fmt.Errorf("backtest: 汇总开始日期: %w", err)
	}
	to, err := cal.IndexOf(end)
	if err != nil {
		return nil, fmt.Errorf("backtest: 汇总结束日期: %w", err)
	}
	days := to - from

	rows := make([]SummaryRow, 0, len(codes))
	for _, code := range codes {
		first, err := oracle.Price(code, start)
		if err != nil {
			return nil, err
		}
		last, err := oracle.Price(code, end)
		if err != nil {
			return nil, err
		}
		returns, err := oracle.Returns(code, start, end)
		if err != nil {
			return nil, err
		}

		hpr := (last - first) / first
		std := sampleStd(returns)
		rows = append(rows, SummaryRow{
			Code:                code,
			HoldingPeriodReturn: hpr,
			AnnualizedReturn:    Annualize(hpr, days),
			Std:                 std,
			AnnualizedStd:       std * sqrtTradingDays,
		})
	}
	return rows, nil
}
