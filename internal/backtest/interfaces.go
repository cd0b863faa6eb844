package backtest

import (
	"errors"
	"time"
)

// Scorer 提供动量得分，analyst.Analyst 为默认实现。
type Scorer interface {
	MomentumScore(code string, date time.Time, window int) (float64, error)
}

// ScorerFunc 允许使用函数作为得分来源，便于测试中注入固定得分。
type ScorerFunc func(code string, date time.Time, window int) (float64, error)

func (f ScorerFunc) MomentumScore(code string, date time.Time, window int) (float64, error) {
	if f == nil {
		return 0, errors.New("backtest: 得分函数未实现")
	}
	return f(code, date, window)
}
