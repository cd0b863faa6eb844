package monitor

import (
	"math"
	"time"

	"portfolio-lab/internal/backtest"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventRunCompleted EventType = "run_completed"
	EventRunFailed    EventType = "run_failed"
	EventPriceImport  EventType = "price_import"
	EventError        EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// RunPayload 记录一次完成的回测摘要。无定义的指标（NaN/±Inf）记为 null。
type RunPayload struct {
	Name             string   `json:"name"`
	Strategy         string   `json:"strategy"`
	Start            string   `json:"start"`
	End              string   `json:"end"`
	TradingDays      int      `json:"trading_days"`
	Orders           int      `json:"orders"`
	Rejected         int      `json:"rejected"`
	FinalNAV         *float64 `json:"final_nav"`
	FinalReturn      *float64 `json:"final_return"`
	AnnualizedReturn *float64 `json:"annualized_return"`
	Std              *float64 `json:"std"`
	AnnualizedStd    *float64 `json:"annualized_std"`
	SharpeRatio      *float64 `json:"sharpe_ratio"`
	MaxDrawdown      *float64 `json:"max_drawdown"`
}

// RunFailedPayload 记录中止的回测。
type RunFailedPayload struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// ImportPayload 记录一次日线导入。
type ImportPayload struct {
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`
	Code     string `json:"code"`
	Bars     int    `json:"bars"`
	First    string `json:"first,omitempty"`
	Last     string `json:"last,omitempty"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// NewRunPayload 由回测结果生成摘要。
func NewRunPayload(res backtest.Result) RunPayload {
	p := RunPayload{
		Name:             res.Name,
		Strategy:         string(res.Strategy),
		TradingDays:      res.Metrics.TradingDays,
		Orders:           len(res.Orders),
		Rejected:         len(res.Rejected),
		FinalReturn:      finite(res.Metrics.FinalReturn),
		AnnualizedReturn: finite(res.Metrics.AnnualizedReturn),
		Std:              finite(res.Metrics.Std),
		AnnualizedStd:    finite(res.Metrics.AnnualizedStd),
		SharpeRatio:      finite(res.Metrics.SharpeRatio),
		MaxDrawdown:      finite(res.Metrics.MaxDrawdown),
	}
	if n := len(res.Series.Dates); n > 0 {
		p.Start = res.Series.Dates[0].Format("2006-01-02")
		p.End = res.Series.Dates[n-1].Format("2006-01-02")
		p.FinalNAV = finite(res.Series.NAV[n-1])
	}
	return p
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
