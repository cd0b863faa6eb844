package backtest

import (
	"time"

	"portfolio-lab/internal/portfolio"
)

// Series 为逐日累积的序列，除 Events 外每个交易日各追加一项。
// Events 记录委托与拒单等不定长事件，DailyLog 为每日净值记录。
type Series struct {
	Dates             []time.Time            `json:"dates"`
	NAV               []float64              `json:"nav"`
	Returns           []float64              `json:"returns"`
	CumulativeReturns []float64              `json:"cumulative_returns"`
	Allocations       []portfolio.Allocation `json:"allocations"`
	Events            []string               `json:"events"`
	DailyLog          []string               `json:"daily_log"`
}

// Result 为运行完成后的只读快照。
type Result struct {
	Name     string            `json:"name"`
	Strategy Kind              `json:"strategy"`
	Series   Series            `json:"series"`
	Orders   []portfolio.Order `json:"orders"`
	OrderLog []string          `json:"order_log"`
	Rejected []portfolio.Order `json:"rejected"`
	Metrics  Metrics           `json:"metrics"`
}

func (s Series) clone() Series {
	allocations := make([]portfolio.Allocation, len(s.Allocations))
	for i, a := range s.Allocations {
		allocations[i] = a.Clone()
	}
	return Series{
		Dates:             append([]time.Time(nil), s.Dates...),
		NAV:               append([]float64(nil), s.NAV...),
		Returns:           append([]float64(nil), s.Returns...),
		CumulativeReturns: append([]float64(nil), s.CumulativeReturns...),
		Allocations:       allocations,
		Events:            append([]string(nil), s.Events...),
		DailyLog:          append([]string(nil), s.DailyLog...),
	}
}

func (r Result) clone() Result {
	out := r
	out.Series = r.Series.clone()
	out.Orders = append([]portfolio.Order(nil), r.Orders...)
	out.OrderLog = append([]string(nil), r.OrderLog...)
	out.Rejected = append([]portfolio.Order(nil), r.Rejected...)
	return out
}
