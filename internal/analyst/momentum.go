// Package analyst 基于价格源计算资产的动量得分。
package analyst

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"portfolio-lab/internal/calendar"
	"portfolio-lab/internal/market"
)

// ErrInsufficientHistory 表示回看窗口超出日历起点。
var ErrInsufficientHistory = errors.New("analyst: not enough history for lookback window")

type scoreKey struct {
	code   string
	date   time.Time
	window int
}

// Analyst 计算动量得分，结果只依赖 (code, date, window)，可被多个回测共享。
type Analyst struct {
	cal    *calendar.Calendar
	market market.Oracle

	mu    sync.Mutex
	cache map[scoreKey]float64
}

// New 创建 Analyst。
func New(cal *calendar.Calendar, oracle market.Oracle) (*Analyst, error) {
	if cal == nil {
		return nil, errors.New("analyst: calendar 不能为空")
	}
	if oracle == nil {
		return nil, errors.New("analyst: market 不能为空")
	}
	return &Analyst{
		cal:    cal,
		market: oracle,
		cache:  make(map[scoreKey]float64),
	}, nil
}

// MomentumScore 返回截至 date 的最近 window 个交易日复利收益率（小数）。
// window 个交易日对应 window 个日收益率，起点为 date 往前第 window 个交易日。
func (a *Analyst) MomentumScore(code string, date time.Time, window int) (float64, error) {
	if window <= 0 {
		return 0, fmt.Errorf("analyst: 回看窗口必须为正, got %d", window)
	}

	key := scoreKey{code: code, date: calendar.Day(date), window: window}
	a.mu.Lock()
	score, ok := a.cache[key]
	a.mu.Unlock()
	if ok {
		return score, nil
	}

	idx, err := a.cal.IndexOf(date)
	if err != nil {
		return 0, fmt.Errorf("analyst: %w", err)
	}
	if idx-window < 0 {
		return 0, fmt.Errorf("%w: %s @ %s 需要 %d 日, 仅有 %d 日",
			ErrInsufficientHistory, code, key.date.Format("2006-01-02"), window, idx)
	}
	start, err := a.cal.At(idx - window)
	if err != nil {
		return 0, err
	}

	returns, err := a.market.Returns(code, start, date)
	if err != nil {
		return 0, fmt.Errorf("analyst: %s 收益率序列: %w", code, err)
	}
	score = compound(returns)

	a.mu.Lock()
	a.cache[key] = score
	a.mu.Unlock()
	return score, nil
}

// compound 按 Π(1+r/100)-1 累计百分比日收益率，NaN 占位项跳过。
func compound(returns []float64) float64 {
	growth := 1.0
	for _, r := range returns {
		if math.IsNaN(r) {
			continue
		}
		growth *= 1 + r/100
	}
	return growth - 1
}
