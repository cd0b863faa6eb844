package portfolio

import (
	"errors"
	"math"
	"testing"
	"time"

	"portfolio-lab/internal/market"
)

var (
	day1 = time.Date(2017, 2, 16, 0, 0, 0, 0, time.UTC)
	day2 = time.Date(2017, 2, 17, 0, 0, 0, 0, time.UTC)
)

func flatTable(t *testing.T, prices map[string]float64) *market.Table {
	t.Helper()
	series := make(map[string][]market.Close, len(prices))
	for code, p := range prices {
		series[code] = []market.Close{{Date: day1, Price: p}, {Date: day2, Price: p}}
	}
	table, err := market.FromCloses(series)
	if err != nil {
		t.Fatalf("FromCloses returned error: %v", err)
	}
	return table
}

func newTestLedger(t *testing.T, oracle market.Oracle, seed float64, opts Options) *Ledger {
	t.Helper()
	l, err := NewLedger(oracle, day1, seed, opts, nil)
	if err != nil {
		t.Fatalf("NewLedger returned error: %v", err)
	}
	return l
}

func TestExecuteAllocation_FullSingleAsset(t *testing.T) {
	l := newTestLedger(t, flatTable(t, map[string]float64{"A": 100}), 10000000000, Options{})

	before, _ := l.Valuation()
	if err := l.ExecuteAllocation(Allocation{{Code: "A", Weight: 100}}); err != nil {
		t.Fatalf("ExecuteAllocation returned error: %v", err)
	}
	after, _ := l.Valuation()

	if got := l.Shares("A"); got != 100000000 {
		t.Errorf("expected 100,000,000 shares, got %d", got)
	}
	if l.Cash() < 0 || l.Cash() >= 100 {
		t.Errorf("expected near-zero residual cash, got %f", l.Cash())
	}
	if before != after {
		t.Errorf("NAV changed across rebalance: %f -> %f", before, after)
	}
	if log := l.OrderLog(); len(log) != 1 || log[0] != "date 20170216 buy A 100 100000000 shares" {
		t.Errorf("unexpected order log %v", log)
	}
}

func TestExecuteAllocation_Validation(t *testing.T) {
	l := newTestLedger(t, flatTable(t, map[string]float64{"A": 100, "B": 50}), 1000000, Options{})

	ok := Allocation{{Code: "A", Weight: 50}, {Code: "B", Weight: 49}, {Code: CashCode, Weight: 1}}
	if err := l.ExecuteAllocation(ok); err != nil {
		t.Fatalf("expected valid allocation, got %v", err)
	}

	ordersBefore := len(l.Orders())
	bad := Allocation{{Code: "A", Weight: 50}, {Code: "B", Weight: 49}}
	if err := l.ExecuteAllocation(bad); !errors.Is(err, ErrAllocation) {
		t.Fatalf("expected ErrAllocation, got %v", err)
	}
	if len(l.Orders()) != ordersBefore {
		t.Errorf("invalid allocation must not place orders")
	}

	drift := Allocation{{Code: "A", Weight: 100.0 / 3}, {Code: "B", Weight: 100.0 / 3}, {Code: CashCode, Weight: 100.0 / 3}}
	if err := drift.Validate(); err != nil {
		t.Errorf("floating point drift should be absorbed, got %v", err)
	}

	dup := Allocation{{Code: "A", Weight: 50}, {Code: "A", Weight: 50}}
	if err := dup.Validate(); !errors.Is(err, ErrDuplicateCode) {
		t.Errorf("expected ErrDuplicateCode, got %v", err)
	}
}

func TestExecuteAllocation_Idempotent(t *testing.T) {
	l := newTestLedger(t, flatTable(t, map[string]float64{"A": 100, "B": 37}), 1000000, Options{})
	target := Allocation{{Code: "A", Weight: 60}, {Code: "B", Weight: 39}, {Code: CashCode, Weight: 1}}

	if err := l.ExecuteAllocation(target); err != nil {
		t.Fatalf("first ExecuteAllocation returned error: %v", err)
	}
	orders := len(l.Orders())
	nav, _ := l.Valuation()

	if err := l.ExecuteAllocation(target); err != nil {
		t.Fatalf("second ExecuteAllocation returned error: %v", err)
	}
	if got := len(l.Orders()); got != orders {
		t.Errorf("expected no additional orders, got %d new", got-orders)
	}
	if nav2, _ := l.Valuation(); nav2 != nav {
		t.Errorf("NAV changed: %f -> %f", nav, nav2)
	}

	alloc, err := l.CurrentAllocation()
	if err != nil {
		t.Fatalf("CurrentAllocation returned error: %v", err)
	}
	for _, w := range target {
		got := alloc.WeightOf(w.Code)
		price := map[string]float64{"A": 100, "B": 37, CashCode: 0}[w.Code]
		tolerance := price / nav * 100
		if w.Code == CashCode {
			tolerance = (100 + 37) / nav * 100
		}
		if math.Abs(got-w.Weight) > tolerance+1e-9 {
			t.Errorf("%s weight %f deviates from target %f", w.Code, got, w.Weight)
		}
	}
}

func TestExecuteAllocation_SellsBeforeBuys(t *testing.T) {
	l := newTestLedger(t, flatTable(t, map[string]float64{"A": 10, "B": 10}), 1000, Options{})

	if err := l.ExecuteAllocation(Allocation{{Code: "A", Weight: 100}, {Code: "B", Weight: 0}}); err != nil {
		t.Fatalf("ExecuteAllocation returned error: %v", err)
	}
	if l.Shares("A") != 100 || l.Cash() != 0 {
		t.Fatalf("expected fully invested in A, shares=%d cash=%f", l.Shares("A"), l.Cash())
	}

	// B 排在前面，仍须先卖 A 才有现金买 B
	if err := l.ExecuteAllocation(Allocation{{Code: "B", Weight: 100}, {Code: "A", Weight: 0}}); err != nil {
		t.Fatalf("ExecuteAllocation returned error: %v", err)
	}
	orders := l.Orders()
	if len(orders) != 3 {
		t.Fatalf("expected 3 orders, got %d: %v", len(orders), l.OrderLog())
	}
	if orders[1].Side != SideSell || orders[1].Code != "A" || orders[2].Side != SideBuy || orders[2].Code != "B" {
		t.Errorf("expected sell A then buy B, got %v", l.OrderLog())
	}
	if l.Shares("B") != 100 || l.Shares("A") != 0 {
		t.Errorf("unexpected holdings A=%d B=%d", l.Shares("A"), l.Shares("B"))
	}
	if len(l.Rejected()) != 0 {
		t.Errorf("no buy should be rejected, got %v", l.Rejected())
	}

	alloc, _ := l.CurrentAllocation()
	if len(alloc) != 3 || alloc[0].Code != "A" || alloc[1].Code != "B" || alloc[2].Code != CashCode {
		t.Errorf("expected insertion order A, B, cash; got %+v", alloc)
	}
	if alloc[0].Weight != 0 {
		t.Errorf("liquidated holding should stay with weight 0, got %f", alloc[0].Weight)
	}
}

func TestBuy_InsufficientCash(t *testing.T) {
	table := flatTable(t, map[string]float64{"A": 10})

	l := newTestLedger(t, table, 100, Options{})
	if err := l.Buy("A", 20); err != nil {
		t.Fatalf("default mode should skip silently, got %v", err)
	}
	if l.Cash() != 100 || l.Shares("A") != 0 {
		t.Errorf("rejected buy must not change state, cash=%f shares=%d", l.Cash(), l.Shares("A"))
	}
	if len(l.Rejected()) != 1 || len(l.Orders()) != 0 {
		t.Errorf("expected one rejected order, got rejected=%d orders=%d", len(l.Rejected()), len(l.Orders()))
	}

	strict := newTestLedger(t, table, 100, Options{StrictCash: true})
	if err := strict.Buy("A", 20); !errors.Is(err, ErrInsufficientCash) {
		t.Errorf("expected ErrInsufficientCash, got %v", err)
	}
}

func TestExecuteAllocation_RejectedBuyVisibleInAllocation(t *testing.T) {
	fees := Options{Fees: Fees{CommissionRate: 0.01}}
	l := newTestLedger(t, flatTable(t, map[string]float64{"A": 10}), 1000, fees)

	// 目标 100 股需要 1010 现金，买单被跳过
	if err := l.ExecuteAllocation(Allocation{{Code: "A", Weight: 100}}); err != nil {
		t.Fatalf("ExecuteAllocation returned error: %v", err)
	}
	alloc, _ := l.CurrentAllocation()
	if alloc.WeightOf(CashCode) != 100 {
		t.Errorf("expected allocation to stay in cash, got %+v", alloc)
	}
	if len(l.Rejected()) != 1 {
		t.Errorf("expected rejected buy to be recorded")
	}
}

func TestSell_FeesAndOversell(t *testing.T) {
	table := flatTable(t, map[string]float64{"A": 10})
	opts := Options{Fees: Fees{CommissionRate: 0.001, TaxRate: 0.003}}
	l := newTestLedger(t, table, 1000, opts)

	if err := l.Buy("A", 50); err != nil {
		t.Fatalf("Buy returned error: %v", err)
	}
	if want := 1000 - 500*1.001; math.Abs(l.Cash()-want) > 1e-9 {
		t.Errorf("cash after buy = %f, want %f", l.Cash(), want)
	}

	if err := l.Sell("A", 60); !errors.Is(err, ErrOversell) {
		t.Fatalf("expected ErrOversell, got %v", err)
	}

	cash := l.Cash()
	if err := l.Sell("A", 50); err != nil {
		t.Fatalf("Sell returned error: %v", err)
	}
	if want := cash + 500 - 0.5 - 1.5; math.Abs(l.Cash()-want) > 1e-9 {
		t.Errorf("cash after sell = %f, want %f", l.Cash(), want)
	}

	short := newTestLedger(t, table, 1000, Options{AllowShort: true})
	if err := short.Sell("A", 5); err != nil {
		t.Fatalf("short sell returned error: %v", err)
	}
	if short.Shares("A") != -5 || short.Cash() != 1050 {
		t.Errorf("unexpected short state shares=%d cash=%f", short.Shares("A"), short.Cash())
	}
}

func TestOrderRoutingAndZeroWeight(t *testing.T) {
	l := newTestLedger(t, flatTable(t, map[string]float64{"A": 10}), 1000, Options{})

	if err := l.Order("A", 0); err != nil || len(l.Orders()) != 0 {
		t.Errorf("zero amount should be a no-op, err=%v", err)
	}
	if err := l.Order("A", 3); err != nil || l.Shares("A") != 3 {
		t.Errorf("positive amount should buy, err=%v shares=%d", err, l.Shares("A"))
	}
	if err := l.Order("A", -2); err != nil || l.Shares("A") != 1 {
		t.Errorf("negative amount should sell, err=%v shares=%d", err, l.Shares("A"))
	}
	if _, err := l.WeightToValue(0); !errors.Is(err, ErrZeroWeight) {
		t.Errorf("expected ErrZeroWeight, got %v", err)
	}
	if err := l.Buy("A", -1); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestFloorWeights(t *testing.T) {
	got := FloorWeights(Allocation{{Code: "A", Weight: 33.7}, {Code: "B", Weight: 33.9}, {Code: CashCode, Weight: 32.4}})
	want := []float64{33, 33, 34}
	for i, w := range got {
		if w.Weight != want[i] {
			t.Errorf("weight[%d] = %f, want %f", i, w.Weight, want[i])
		}
	}
	if err := got.Validate(); err != nil {
		t.Errorf("floored allocation should validate, got %v", err)
	}
	if FloorWeights(nil) != nil {
		t.Error("expected nil for empty allocation")
	}
}
