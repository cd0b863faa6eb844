package backtest

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"portfolio-lab/internal/calendar"
	"portfolio-lab/internal/market"
	"portfolio-lab/internal/portfolio"
)

func jan(d int) time.Time {
	return time.Date(2020, 1, d, 0, 0, 0, 0, time.UTC)
}

// 2020-01-06 至 01-13 共 6 个交易日，01-11/12 为周末
var tradingDays = []int{6, 7, 8, 9, 10, 13}

func newTestTable(t *testing.T) *market.Table {
	t.Helper()
	prices := map[string][]float64{
		"A":    {100, 101, 102, 103, 104, 105},
		"B":    {50, 49, 52, 53, 51, 55},
		"BOND": {10, 10, 10, 10, 10, 10},
	}
	series := make(map[string][]market.Close, len(prices))
	for code, ps := range prices {
		rows := make([]market.Close, len(ps))
		for i, p := range ps {
			rows[i] = market.Close{Date: jan(tradingDays[i]), Price: p}
		}
		series[code] = rows
	}
	table, err := market.FromCloses(series)
	if err != nil {
		t.Fatalf("FromCloses returned error: %v", err)
	}
	return table
}

func fixedScores(scores map[string]float64) Scorer {
	return ScorerFunc(func(code string, _ time.Time, _ int) (float64, error) {
		s, ok := scores[code]
		if !ok {
			return 0, market.ErrUnknownCode
		}
		return s, nil
	})
}

func fixedConfig(table *market.Table) Config {
	return Config{
		Name:           "fixed",
		Start:          jan(6),
		End:            jan(13),
		RebalanceDates: table.Calendar().RebalanceDates(calendar.ScheduleWeekly),
		Allocation: portfolio.Allocation{
			{Code: "A", Weight: 50},
			{Code: "B", Weight: 49},
			{Code: portfolio.CashCode, Weight: 1},
		},
	}
}

func runEngine(t *testing.T, table *market.Table, scorer Scorer, cfg Config) Result {
	t.Helper()
	engine, err := NewEngine(table, table.Calendar(), scorer, nil)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	if err := engine.Init(cfg); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	if err := engine.Run(); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if engine.State() != StateCompleted {
		t.Fatalf("expected completed state, got %s", engine.State())
	}
	res, err := engine.Result()
	if err != nil {
		t.Fatalf("Result returned error: %v", err)
	}
	return res
}

func TestEngine_FixedRunSeries(t *testing.T) {
	table := newTestTable(t)
	res := runEngine(t, table, nil, fixedConfig(table))

	want, err := table.Calendar().Range(jan(6), jan(13))
	if err != nil {
		t.Fatalf("Range returned error: %v", err)
	}
	if len(res.Series.Dates) != len(want) {
		t.Fatalf("expected %d dates, got %d", len(want), len(res.Series.Dates))
	}
	for i := range want {
		if !res.Series.Dates[i].Equal(want[i]) {
			t.Errorf("date[%d] = %s, want %s", i, res.Series.Dates[i], want[i])
		}
	}

	n := len(want)
	if len(res.Series.NAV) != n || len(res.Series.Returns) != n || len(res.Series.CumulativeReturns) != n ||
		len(res.Series.Allocations) != n || len(res.Series.DailyLog) != n {
		t.Fatalf("accumulators must have one entry per day")
	}
	if res.Series.NAV[0] != DefaultSeedMoney {
		t.Errorf("NAV on start date should equal seed money with zero fees, got %f", res.Series.NAV[0])
	}
	if !math.IsNaN(res.Series.Returns[0]) {
		t.Errorf("first return should be NaN, got %f", res.Series.Returns[0])
	}
	if res.Series.CumulativeReturns[0] != 0 {
		t.Errorf("first cumulative return should be 0, got %f", res.Series.CumulativeReturns[0])
	}

	nav := res.Series.NAV
	if direct := (nav[n-1] - nav[0]) / nav[0]; direct != res.Metrics.FinalReturn {
		t.Errorf("final_return %v differs from NAV endpoints %v", res.Metrics.FinalReturn, direct)
	}
	if res.Metrics.TradingDays != n-1 {
		t.Errorf("expected %d elapsed trading days, got %d", n-1, res.Metrics.TradingDays)
	}

	if want := "date: 2020-01-06 NAV: 10000000000"; res.Series.DailyLog[0] != want {
		t.Errorf("daily log[0] = %q, want %q", res.Series.DailyLog[0], want)
	}
	for _, ev := range res.Series.Events {
		if strings.Contains(ev, " NAV: ") {
			t.Errorf("NAV line leaked into events: %q", ev)
		}
	}
	if res.Series.Events[0] != "date: 2020-01-06 initial allocation orders: 2" {
		t.Errorf("unexpected first event %q", res.Series.Events[0])
	}

	// 01-13 为新一周首日，再平衡后权重回到目标附近
	last := res.Series.Allocations[n-1]
	if math.Abs(last.WeightOf("A")-50) > 0.01 || math.Abs(last.WeightOf("B")-49) > 0.01 {
		t.Errorf("expected weights near target after weekly rebalance, got %+v", last)
	}
}

func TestEngine_Deterministic(t *testing.T) {
	table := newTestTable(t)
	first := runEngine(t, table, nil, fixedConfig(table))
	second := runEngine(t, table, nil, fixedConfig(table))

	for i := range first.Series.NAV {
		if first.Series.NAV[i] != second.Series.NAV[i] {
			t.Fatalf("NAV[%d] differs: %v vs %v", i, first.Series.NAV[i], second.Series.NAV[i])
		}
	}
	if strings.Join(first.OrderLog, "\n") != strings.Join(second.OrderLog, "\n") {
		t.Error("order logs differ between identical runs")
	}
	if first.Metrics != second.Metrics {
		t.Errorf("metrics differ: %+v vs %+v", first.Metrics, second.Metrics)
	}
}

func TestEngine_ResultIsSnapshot(t *testing.T) {
	table := newTestTable(t)
	engine, _ := NewEngine(table, table.Calendar(), nil, nil)
	if err := engine.Init(fixedConfig(table)); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	if err := engine.Run(); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	res, _ := engine.Result()
	res.Series.NAV[0] = -1
	res.Series.Allocations[0][0].Weight = -1

	again, _ := engine.Result()
	if again.Series.NAV[0] == -1 || again.Series.Allocations[0][0].Weight == -1 {
		t.Error("mutating a returned result must not affect the engine")
	}
}

func TestEngine_CalendarOverrun(t *testing.T) {
	table := newTestTable(t)

	cases := []struct {
		name string
		end  time.Time
		days int
	}{
		{"end on weekend", jan(11), 5},
		{"end past calendar", jan(20), 6},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := fixedConfig(table)
			cfg.End = tc.end

			engine, _ := NewEngine(table, table.Calendar(), nil, nil)
			if err := engine.Init(cfg); err != nil {
				t.Fatalf("Init returned error: %v", err)
			}
			if err := engine.Run(); !errors.Is(err, ErrCalendarOverrun) {
				t.Fatalf("expected ErrCalendarOverrun, got %v", err)
			}
			if _, err := engine.Result(); !errors.Is(err, ErrNotCompleted) || !errors.Is(err, ErrCalendarOverrun) {
				t.Errorf("expected ErrNotCompleted wrapping overrun, got %v", err)
			}
			if partial := engine.Partial(); len(partial.Dates) != tc.days || len(partial.NAV) != tc.days {
				t.Errorf("expected %d recorded days to stay inspectable, got %d", tc.days, len(partial.Dates))
			}
			if engine.State() == StateCompleted {
				t.Error("aborted run must not be marked completed")
			}
		})
	}
}

func TestEngine_Lifecycle(t *testing.T) {
	table := newTestTable(t)
	engine, _ := NewEngine(table, table.Calendar(), nil, nil)

	if err := engine.Run(); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
	if _, err := engine.Result(); !errors.Is(err, ErrNotCompleted) {
		t.Errorf("expected ErrNotCompleted, got %v", err)
	}
	if err := engine.Init(fixedConfig(table)); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	if err := engine.Init(fixedConfig(table)); !errors.Is(err, ErrSingleUse) {
		t.Errorf("expected ErrSingleUse on second Init, got %v", err)
	}
	if err := engine.Run(); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if err := engine.Run(); !errors.Is(err, ErrSingleUse) {
		t.Errorf("expected ErrSingleUse on second Run, got %v", err)
	}
}

func TestEngine_InitValidation(t *testing.T) {
	table := newTestTable(t)

	bad := fixedConfig(table)
	bad.Allocation = portfolio.Allocation{{Code: "A", Weight: 50}, {Code: "B", Weight: 49}}
	engine, _ := NewEngine(table, table.Calendar(), nil, nil)
	if err := engine.Init(bad); !errors.Is(err, portfolio.ErrAllocation) {
		t.Errorf("expected ErrAllocation, got %v", err)
	}

	weekend := fixedConfig(table)
	weekend.Start = jan(11)
	engine, _ = NewEngine(table, table.Calendar(), nil, nil)
	if err := engine.Init(weekend); !errors.Is(err, calendar.ErrUnknownDate) {
		t.Errorf("expected ErrUnknownDate, got %v", err)
	}

	reversed := fixedConfig(table)
	reversed.End = jan(6)
	reversed.Start = jan(7)
	engine, _ = NewEngine(table, table.Calendar(), nil, nil)
	if err := engine.Init(reversed); err == nil {
		t.Error("expected error when end precedes start")
	}

	momentum := fixedConfig(table)
	momentum.Strategy = TopMomentum{Universe: []string{"A", "B"}, Window: 1}
	engine, _ = NewEngine(table, table.Calendar(), nil, nil)
	if err := engine.Init(momentum); err == nil {
		t.Error("expected error for momentum strategy without scorer")
	}
}

func TestEngine_TopMomentumRebalance(t *testing.T) {
	table := newTestTable(t)
	cfg := Config{
		Name:           "top1",
		Start:          jan(6),
		End:            jan(8),
		RebalanceDates: []time.Time{jan(7)},
		Allocation:     portfolio.Allocation{{Code: "A", Weight: 100}},
		Strategy:       TopMomentum{Universe: []string{"A", "B", "BOND"}, Window: 20},
	}
	scorer := fixedScores(map[string]float64{"A": 0.1, "B": 0.3, "BOND": -0.05})

	res := runEngine(t, table, scorer, cfg)
	if res.Strategy != KindTopMomentum {
		t.Errorf("expected strategy %s, got %s", KindTopMomentum, res.Strategy)
	}

	day2 := res.Series.Allocations[1]
	if day2.WeightOf("A") != 0 {
		t.Errorf("expected A to be liquidated, got %f", day2.WeightOf("A"))
	}
	if day2.WeightOf("B") < 99.99 {
		t.Errorf("expected B near 100%%, got %f", day2.WeightOf("B"))
	}
	found := false
	for _, ev := range res.Series.Events {
		if ev == "date: 2020-01-07 rebalance orders: 2" {
			found = true
		}
	}
	if !found {
		t.Errorf("rebalance event missing from %v", res.Series.Events)
	}
	if res.Orders[1].Side != portfolio.SideSell || res.Orders[2].Side != portfolio.SideBuy {
		t.Errorf("expected sell before buy, got %v", res.OrderLog)
	}
}

func TestEngine_StrategyLiquidatesHoldingsOutsideUniverse(t *testing.T) {
	table := newTestTable(t)
	cfg := Config{
		Name:           "top1-no-bond",
		Start:          jan(6),
		End:            jan(8),
		RebalanceDates: []time.Time{jan(7)},
		Allocation:     portfolio.Allocation{{Code: "BOND", Weight: 100}},
		Strategy:       TopMomentum{Universe: []string{"A", "B"}, Window: 20},
	}
	scorer := fixedScores(map[string]float64{"A": 0.1, "B": 0.3})

	res := runEngine(t, table, scorer, cfg)
	if len(res.Rejected) != 0 {
		t.Fatalf("expected no rejected buys, got %v", res.Rejected)
	}
	day2 := res.Series.Allocations[1]
	if day2.WeightOf("BOND") != 0 {
		t.Errorf("expected BOND to be sold on rebalance, got %f", day2.WeightOf("BOND"))
	}
	if day2.WeightOf("B") < 99.99 {
		t.Errorf("expected B near 100%%, got %f", day2.WeightOf("B"))
	}
	if res.Orders[1].Code != "BOND" || res.Orders[1].Side != portfolio.SideSell || res.Orders[1].Amount != 1000000000 {
		t.Errorf("expected full BOND sell first, got %v", res.OrderLog)
	}
}

func TestEngine_StrictCashAborts(t *testing.T) {
	table := newTestTable(t)
	cfg := fixedConfig(table)
	cfg.SeedMoney = 1000
	cfg.Allocation = portfolio.Allocation{{Code: "A", Weight: 100}}
	cfg.Ledger = portfolio.Options{Fees: portfolio.Fees{CommissionRate: 0.01}}

	res := runEngine(t, table, nil, cfg)
	if len(res.Rejected) == 0 {
		t.Fatal("expected rejected buys to be recorded")
	}
	if !strings.Contains(strings.Join(res.Series.Events, "\n"), "buy rejected for insufficient cash: A 10 shares") {
		t.Errorf("expected rejection notice in events, got %v", res.Series.Events)
	}

	cfg.Ledger.StrictCash = true
	engine, _ := NewEngine(table, table.Calendar(), nil, nil)
	if err := engine.Init(cfg); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	if err := engine.Run(); !errors.Is(err, portfolio.ErrInsufficientCash) {
		t.Errorf("expected ErrInsufficientCash, got %v", err)
	}
}
