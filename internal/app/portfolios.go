package app

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"portfolio-lab/internal/backtest"
	"portfolio-lab/internal/calendar"
	"portfolio-lab/internal/config"
	"portfolio-lab/internal/portfolio"
)

const rebalanceCustom = "custom"

// buildConfigs 将配置文件中的组合转换为回测配置，保持原顺序。
func buildConfigs(cfg *config.Config, cal *calendar.Calendar) ([]backtest.Config, error) {
	ledger := portfolio.Options{
		Fees: portfolio.Fees{
			CommissionRate: cfg.Backtest.CommissionRate,
			TaxRate:        cfg.Backtest.TaxRate,
		},
		StrictCash: cfg.Backtest.StrictCash,
		AllowShort: cfg.Backtest.AllowShort,
	}

	out := make([]backtest.Config, 0, len(cfg.Portfolios))
	for _, p := range cfg.Portfolios {
		alloc := make(portfolio.Allocation, len(p.Allocation))
		for i, w := range p.Allocation {
			alloc[i] = portfolio.Weight{Code: w.Code, Weight: w.Weight}
		}
		if p.FloorWeights {
			alloc = portfolio.FloorWeights(alloc)
		}

		dates, err := rebalanceDates(p, cal)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}

		kind, err := backtest.ParseKind(p.Strategy.Kind)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}
		strategy, err := backtest.NewStrategy(backtest.StrategySpec{
			Kind:        kind,
			Allocation:  alloc,
			Universe:    cfg.Backtest.Universe,
			Equities:    cfg.Backtest.Equities,
			Window:      p.Strategy.Window,
			TopN:        p.Strategy.TopN,
			Threshold:   p.Strategy.Threshold,
			Fallback:    p.Strategy.Fallback,
			RankWeights: p.Strategy.RankWeights,
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name, err)
		}

		out = append(out, backtest.Config{
			Name:           p.Name,
			Start:          p.StartDate,
			End:            p.EndDate,
			RebalanceDates: dates,
			Allocation:     alloc,
			Strategy:       strategy,
			SeedMoney:      cfg.Backtest.SeedMoney,
			Ledger:         ledger,
		})
	}
	return out, nil
}

func rebalanceDates(p config.PortfolioConfig, cal *calendar.Calendar) ([]time.Time, error) {
	if strings.EqualFold(strings.TrimSpace(p.Rebalance), rebalanceCustom) {
		return p.RebalanceDates, nil
	}
	schedule, err := calendar.ParseSchedule(p.Rebalance)
	if err != nil {
		return nil, err
	}
	return cal.RebalanceDates(schedule), nil
}

// requiredCodes 返回回测需要载入价格的资产：universe、各组合权重及 fallback。
func requiredCodes(cfg *config.Config) []string {
	seen := make(map[string]struct{})
	add := func(code string) {
		if code == "" || code == portfolio.CashCode {
			return
		}
		seen[code] = struct{}{}
	}
	for _, code := range cfg.Backtest.Universe {
		add(code)
	}
	for _, p := range cfg.Portfolios {
		for _, w := range p.Allocation {
			add(w.Code)
		}
		add(p.Strategy.Fallback)
	}

	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
