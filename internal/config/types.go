package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App        AppConfig         `mapstructure:"app"`
	Data       DataConfig        `mapstructure:"data"`
	Exchange   ExchangeConfig    `mapstructure:"exchange"`
	Backtest   BacktestConfig    `mapstructure:"backtest"`
	Portfolios []PortfolioConfig `mapstructure:"portfolios"`
	Database   DatabaseConfig    `mapstructure:"database"`
	Logging    LoggingConfig     `mapstructure:"logging"`
	Monitor    MonitorConfig     `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// 价格数据源类型。
const (
	SourceSQLite  = "sqlite"
	SourceParquet = "parquet"
)

// DataConfig 描述价格数据来源。
type DataConfig struct {
	Source     string `mapstructure:"source"`
	ParquetDir string `mapstructure:"parquet_dir"`
	Market     string `mapstructure:"market"`
}

// ExchangeConfig 描述导入日线所用的交易所连接信息。
type ExchangeConfig struct {
	Name       string      `mapstructure:"name"`
	Symbols    []string    `mapstructure:"symbols"`
	Since      time.Time   `mapstructure:"since"`
	Limit      int         `mapstructure:"limit"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// BacktestConfig 为所有组合共享的回测参数。
type BacktestConfig struct {
	SeedMoney      float64  `mapstructure:"seed_money"`
	CommissionRate float64  `mapstructure:"commission_rate"`
	TaxRate        float64  `mapstructure:"tax_rate"`
	Workers        int      `mapstructure:"workers"`
	StrictCash     bool     `mapstructure:"strict_cash"`
	AllowShort     bool     `mapstructure:"allow_short"`
	Universe       []string `mapstructure:"universe"`
	Equities       []string `mapstructure:"equities"`
}

// PortfolioConfig 描述一次命名的回测。
type PortfolioConfig struct {
	Name           string         `mapstructure:"name"`
	StartDate      time.Time      `mapstructure:"start_date"`
	EndDate        time.Time      `mapstructure:"end_date"`
	Rebalance      string         `mapstructure:"rebalance"`
	RebalanceDates []time.Time    `mapstructure:"rebalance_dates"`
	FloorWeights   bool           `mapstructure:"floor_weights"`
	Allocation     []WeightConfig `mapstructure:"allocation"`
	Strategy       StrategyConfig `mapstructure:"strategy"`
}

// WeightConfig 为单个资产的目标权重（百分比）。
type WeightConfig struct {
	Code   string  `mapstructure:"code"`
	Weight float64 `mapstructure:"weight"`
}

// StrategyConfig 描述再平衡策略及其参数。
type StrategyConfig struct {
	Kind        string    `mapstructure:"kind"`
	Window      int       `mapstructure:"window"`
	TopN        int       `mapstructure:"top_n"`
	Threshold   float64   `mapstructure:"threshold"`
	Fallback    string    `mapstructure:"fallback"`
	RankWeights []float64 `mapstructure:"rank_weights"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// MonitorConfig 控制结果查询接口，端口为0时不启动。
type MonitorConfig struct {
	Port int `mapstructure:"port"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	switch c.Data.Source {
	case SourceSQLite:
	case SourceParquet:
		if c.Data.ParquetDir == "" {
			err = multierr.Append(err, errors.New("data.parquet_dir 不能为空"))
		}
		if c.Data.Market == "" {
			err = multierr.Append(err, errors.New("data.market 不能为空"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("data.source 不支持: %q", c.Data.Source))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if c.Backtest.SeedMoney <= 0 {
		err = multierr.Append(err, errors.New("backtest.seed_money 必须大于0"))
	}
	if c.Backtest.CommissionRate < 0 || c.Backtest.CommissionRate >= 1 {
		err = multierr.Append(err, errors.New("backtest.commission_rate 必须位于[0,1)"))
	}
	if c.Backtest.TaxRate < 0 || c.Backtest.TaxRate >= 1 {
		err = multierr.Append(err, errors.New("backtest.tax_rate 必须位于[0,1)"))
	}
	if c.Backtest.Workers < 0 {
		err = multierr.Append(err, errors.New("backtest.workers 不能为负"))
	}
	if len(c.Backtest.Universe) == 0 {
		err = multierr.Append(err, errors.New("backtest.universe 至少包含一个资产"))
	}

	names := make(map[string]struct{}, len(c.Portfolios))
	for i, p := range c.Portfolios {
		prefix := fmt.Sprintf("portfolios[%d]", i)
		if p.Name == "" {
			err = multierr.Append(err, fmt.Errorf("%s.name 不能为空", prefix))
		} else if _, dup := names[p.Name]; dup {
			err = multierr.Append(err, fmt.Errorf("%s.name 重复: %q", prefix, p.Name))
		}
		names[p.Name] = struct{}{}
		if p.StartDate.IsZero() || p.EndDate.IsZero() {
			err = multierr.Append(err, fmt.Errorf("%s 需要 start_date 与 end_date", prefix))
		} else if p.EndDate.Before(p.StartDate) {
			err = multierr.Append(err, fmt.Errorf("%s.end_date 早于 start_date", prefix))
		}
		switch strings.ToLower(p.Rebalance) {
		case "", "none", "daily", "weekly", "monthly", "custom":
		default:
			err = multierr.Append(err, fmt.Errorf("%s.rebalance 不支持: %q", prefix, p.Rebalance))
		}
		if len(p.Allocation) == 0 {
			err = multierr.Append(err, fmt.Errorf("%s.allocation 不能为空", prefix))
		}
	}

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Monitor.Port < 0 || c.Monitor.Port > 65535 {
		err = multierr.Append(err, errors.New("monitor.port 必须位于[0,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
