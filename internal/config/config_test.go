package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
app:
  environment: test
backtest:
  universe: ["069500", "143850", "182490"]
  equities: ["069500", "143850"]
database:
  in_memory: true
portfolios:
  - name: "Port #1"
    start_date: "2017-02-16"
    end_date: "2018-12-07"
    rebalance: monthly
    allocation:
      - code: "069500"
        weight: 60
      - code: "182490"
        weight: 39
      - code: cash
        weight: 1
  - name: momentum
    start_date: "2017-06-01"
    end_date: "2018-06-01"
    rebalance: weekly
    allocation:
      - code: cash
        weight: 100
    strategy:
      kind: absolute_momentum
      window: 60
      threshold: 0.0
      fallback: "182490"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaultsAndDates(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Backtest.SeedMoney != 10000000000 {
		t.Errorf("expected default seed money, got %f", cfg.Backtest.SeedMoney)
	}
	if cfg.Data.Source != SourceSQLite {
		t.Errorf("expected default data source sqlite, got %q", cfg.Data.Source)
	}
	if cfg.Exchange.Retry.MinDelay != 500*time.Millisecond {
		t.Errorf("expected min delay 500ms, got %s", cfg.Exchange.Retry.MinDelay)
	}
	if len(cfg.Portfolios) != 2 {
		t.Fatalf("expected 2 portfolios, got %d", len(cfg.Portfolios))
	}

	first := cfg.Portfolios[0]
	wantStart := time.Date(2017, 2, 16, 0, 0, 0, 0, time.UTC)
	if !first.StartDate.Equal(wantStart) {
		t.Errorf("unexpected start date: %s", first.StartDate)
	}
	if len(first.Allocation) != 3 || first.Allocation[2].Code != "cash" || first.Allocation[2].Weight != 1 {
		t.Errorf("unexpected allocation: %+v", first.Allocation)
	}

	second := cfg.Portfolios[1]
	if second.Strategy.Kind != "absolute_momentum" || second.Strategy.Window != 60 || second.Strategy.Fallback != "182490" {
		t.Errorf("unexpected strategy: %+v", second.Strategy)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate_AggregatesErrors(t *testing.T) {
	body := `
app:
  environment: test
data:
  source: csv
database:
  in_memory: true
portfolios:
  - name: broken
    start_date: "2018-01-02"
    end_date: "2017-01-02"
    rebalance: yearly
`
	_, err := Load(writeConfig(t, body))
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"data.source", "backtest.universe", "end_date", "rebalance", "allocation"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected error to mention %q, got %s", want, msg)
		}
	}
}
