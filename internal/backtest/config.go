package backtest

import (
	"time"

	"portfolio-lab/internal/portfolio"
)

// DefaultSeedMoney 为未配置初始资金时使用的金额。
const DefaultSeedMoney = 10000000000

// Config 定义单次回测参数。
type Config struct {
	Name           string               // 组合名称
	Start          time.Time            // 开始日期，必须是交易日
	End            time.Time            // 结束日期
	RebalanceDates []time.Time          // 再平衡日
	Allocation     portfolio.Allocation // 初始目标权重，Fixed 策略每次再平衡沿用
	Strategy       Strategy             // 为空时使用 Fixed
	SeedMoney      float64              // 初始资金
	Ledger         portfolio.Options    // 费率与下单规则
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.SeedMoney <= 0 {
		cfg.SeedMoney = DefaultSeedMoney
	}
	if cfg.Strategy == nil {
		cfg.Strategy = Fixed{Allocation: cfg.Allocation}
	}
	cfg.Allocation = cfg.Allocation.Clone()
	cfg.RebalanceDates = append([]time.Time(nil), cfg.RebalanceDates...)
	return cfg
}
