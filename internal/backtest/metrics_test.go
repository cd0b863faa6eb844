package backtest

import (
	"math"
	"testing"
)

func TestCalculateMetrics_KnownSeries(t *testing.T) {
	m := CalculateMetrics([]float64{100, 110, 99})

	if math.Abs(m.FinalReturn-(-0.01)) > 1e-12 {
		t.Errorf("final return = %v, want -0.01", m.FinalReturn)
	}
	if m.TradingDays != 2 {
		t.Errorf("trading days = %d, want 2", m.TradingDays)
	}
	if want := math.Sqrt(0.02); math.Abs(m.Std-want) > 1e-9 {
		t.Errorf("std = %v, want %v", m.Std, want)
	}
	if want := math.Pow(0.99, 126) - 1; math.Abs(m.AnnualizedReturn-want) > 1e-9 {
		t.Errorf("annualized return = %v, want %v", m.AnnualizedReturn, want)
	}
	if want := m.Std * math.Sqrt(252); math.Abs(m.AnnualizedStd-want) > 1e-12 {
		t.Errorf("annualized std = %v, want %v", m.AnnualizedStd, want)
	}
	if want := m.AnnualizedReturn / m.AnnualizedStd; m.SharpeRatio != want {
		t.Errorf("sharpe = %v, want %v", m.SharpeRatio, want)
	}
	if math.Abs(m.MaxDrawdown-0.1) > 1e-12 {
		t.Errorf("max drawdown = %v, want 0.1", m.MaxDrawdown)
	}
}

func TestCalculateMetrics_UndefinedSharpe(t *testing.T) {
	flat := CalculateMetrics([]float64{100, 100, 100})
	if flat.Std != 0 || !math.IsNaN(flat.SharpeRatio) {
		t.Errorf("flat NAV should give zero std and NaN sharpe, got std=%v sharpe=%v", flat.Std, flat.SharpeRatio)
	}

	steady := CalculateMetrics([]float64{100, 200, 400})
	if steady.Std != 0 || !math.IsInf(steady.SharpeRatio, 1) {
		t.Errorf("constant positive return should give +Inf sharpe, got std=%v sharpe=%v", steady.Std, steady.SharpeRatio)
	}

	single := CalculateMetrics([]float64{100})
	if single.FinalReturn != 0 || !math.IsNaN(single.AnnualizedReturn) || !math.IsNaN(single.Std) {
		t.Errorf("single point should have undefined annualized figures, got %+v", single)
	}
}

func TestPercentAndCumulativeChange(t *testing.T) {
	pct := PercentChange([]float64{100, 120, 90})
	if !math.IsNaN(pct[0]) || math.Abs(pct[1]-20) > 1e-9 || math.Abs(pct[2]-(-25)) > 1e-9 {
		t.Errorf("unexpected percent change %v", pct)
	}
	cum := CumulativeChange([]float64{100, 120, 90})
	if cum[0] != 0 || math.Abs(cum[1]-20) > 1e-9 || math.Abs(cum[2]-(-10)) > 1e-9 {
		t.Errorf("unexpected cumulative change %v", cum)
	}
}

func TestSummarize(t *testing.T) {
	table := newTestTable(t)
	rows, err := Summarize(table, table.Calendar(), []string{"A", "BOND"}, jan(6), jan(13))
	if err != nil {
		t.Fatalf("Summarize returned error: %v", err)
	}
	if len(rows) != 2 || rows[0].Code != "A" || rows[1].Code != "BOND" {
		t.Fatalf("unexpected rows %+v", rows)
	}
	if math.Abs(rows[0].HoldingPeriodReturn-0.05) > 1e-12 {
		t.Errorf("A hpr = %v, want 0.05", rows[0].HoldingPeriodReturn)
	}
	if want := math.Pow(1.05, 252.0/5) - 1; math.Abs(rows[0].AnnualizedReturn-want) > 1e-9 {
		t.Errorf("A annualized = %v, want %v", rows[0].AnnualizedReturn, want)
	}
	if rows[1].HoldingPeriodReturn != 0 || rows[1].Std != 0 {
		t.Errorf("flat BOND should have zero return and std, got %+v", rows[1])
	}
	if _, err := Summarize(table, table.Calendar(), []string{"A"}, jan(11), jan(13)); err == nil {
		t.Error("expected error for non-trading start date")
	}
}
