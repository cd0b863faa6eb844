package backtest

import (
	"math"

	"github.com/montanaflynn/stats"
)

// TradingDaysPerYear 为年化使用的交易日数。
const TradingDaysPerYear = 252

var sqrtTradingDays = math.Sqrt(TradingDaysPerYear)

// Metrics 记录回测绩效指标。NaN 与 ±Inf 原样保留，表示该指标无定义。
type Metrics struct {
	FinalReturn      float64 `json:"final_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Std              float64 `json:"std"`
	AnnualizedStd    float64 `json:"annualized_std"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	TradingDays      int     `json:"trading_days"`
}

// CalculateMetrics 由净值序列计算绩效，无风险利率取0。
func CalculateMetrics(nav []float64) Metrics {
	if len(nav) == 0 {
		nan := math.NaN()
		return Metrics{FinalReturn: nan, AnnualizedReturn: nan, Std: nan, AnnualizedStd: nan, SharpeRatio: nan, MaxDrawdown: nan}
	}

	days := len(nav) - 1
	finalReturn := FinalReturn(nav)
	annualizedReturn := Annualize(finalReturn, days)
	std := sampleStd(PercentChange(nav))
	annualizedStd := std * sqrtTradingDays

	return Metrics{
		FinalReturn:      finalReturn,
		AnnualizedReturn: annualizedReturn,
		Std:              std,
		AnnualizedStd:    annualizedStd,
		SharpeRatio:      annualizedReturn / annualizedStd,
		MaxDrawdown:      computeDrawdown(nav),
		TradingDays:      days,
	}
}

// FinalReturn 返回 (末值-首值)/首值。
func FinalReturn(nav []float64) float64 {
	if len(nav) == 0 {
		return math.NaN()
	}
	first, last := nav[0], nav[len(nav)-1]
	return (last - first) / first
}

// Annualize 将 days 个交易日的累计收益换算为年化收益，days 为0时返回 NaN。
func Annualize(totalReturn float64, days int) float64 {
	if days <= 0 {
		return math.NaN()
	}
	return math.Pow(1+totalReturn, float64(TradingDaysPerYear)/float64(days)) - 1
}

// PercentChange 返回逐日百分比变化，首元素为 NaN。
func PercentChange(series []float64) []float64 {
	out := make([]float64, len(series))
	for i := range series {
		if i == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = (series[i] - series[i-1]) / series[i-1] * 100
	}
	return out
}

// CumulativeChange 返回相对首日的百分比变化，首元素为0。
func CumulativeChange(series []float64) []float64 {
	out := make([]float64, len(series))
	for i := range series {
		out[i] = (series[i] - series[0]) / series[0] * 100
	}
	return out
}

// sampleStd 返回百分比收益率序列（跳过首个 NaN）的样本标准差，以小数表示。
func sampleStd(percentReturns []float64) float64 {
	if len(percentReturns) < 2 {
		return math.NaN()
	}
	data := make(stats.Float64Data, 0, len(percentReturns)-1)
	for _, r := range percentReturns[1:] {
		data = append(data, r/100)
	}
	std, err := stats.StandardDeviationSample(data)
	if err != nil {
		return math.NaN()
	}
	return std
}

func computeDrawdown(equity []float64) float64 {
	var peak float64
	maxDD := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		dd := (v - peak) / peak
		if dd < maxDD {
			maxDD = dd
		}
	}
	return math.Abs(maxDD)
}
