package backtest

import (
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"portfolio-lab/internal/calendar"
	"portfolio-lab/internal/market"
	"portfolio-lab/internal/portfolio"
)

// State 为引擎生命周期状态。
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateRunning
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Engine 按交易日推进单个组合的模拟，实例只能使用一次且不可并发访问。
type Engine struct {
	market market.Oracle
	cal    *calendar.Calendar
	scorer Scorer
	logger *zap.Logger

	state  State
	cfg    Config
	ledger *portfolio.Ledger
	cursor int
	end    time.Time
	dates  map[time.Time]struct{}
	err    error

	series Series
	result Result
}

// NewEngine 构建回测引擎。scorer 仅动量类策略需要，可为 nil。
func NewEngine(oracle market.Oracle, cal *calendar.Calendar, scorer Scorer, logger *zap.Logger) (*Engine, error) {
	if oracle == nil {
		return nil, fmt.Errorf("backtest: market 不能为空")
	}
	if cal == nil {
		return nil, fmt.Errorf("backtest: calendar 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		market: oracle,
		cal:    cal,
		scorer: scorer,
		logger: logger,
	}, nil
}

// State 返回当前生命周期状态。
func (e *Engine) State() State {
	return e.state
}

// Err 返回导致运行中止的错误。
func (e *Engine) Err() error {
	return e.err
}

// Init 载入配置并创建账本，引擎进入 ready 状态。
func (e *Engine) Init(cfg Config) error {
	if e.state != StateUninitialized {
		return fmt.Errorf("%w: state %s", ErrSingleUse, e.state)
	}

	cfg = cfg.normalize()
	if err := cfg.Allocation.Validate(); err != nil {
		return fmt.Errorf("backtest: %s 初始权重: %w", cfg.Name, err)
	}
	if err := cfg.Strategy.validate(); err != nil {
		return fmt.Errorf("backtest: %s 策略参数: %w", cfg.Name, err)
	}
	if cfg.Strategy.lookback() > 0 && e.scorer == nil {
		return fmt.Errorf("backtest: %s 策略 %s 需要动量得分来源", cfg.Name, cfg.Strategy.Kind())
	}

	start := calendar.Day(cfg.Start)
	end := calendar.Day(cfg.End)
	cursor, err := e.cal.IndexOf(start)
	if err != nil {
		return fmt.Errorf("backtest: %s 开始日期: %w", cfg.Name, err)
	}
	if end.Before(start) {
		return fmt.Errorf("backtest: %s 结束日期 %s 早于开始日期 %s",
			cfg.Name, end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	ledger, err := portfolio.NewLedger(e.market, start, cfg.SeedMoney, cfg.Ledger, e.logger)
	if err != nil {
		return err
	}

	dates := make(map[time.Time]struct{}, len(cfg.RebalanceDates))
	for _, d := range cfg.RebalanceDates {
		dates[calendar.Day(d)] = struct{}{}
	}

	capacity := 0
	if endIdx, err := e.cal.IndexOf(end); err == nil {
		capacity = endIdx - cursor + 1
	}

	e.cfg = cfg
	e.ledger = ledger
	e.cursor = cursor
	e.end = end
	e.dates = dates
	e.series = Series{
		Dates:       make([]time.Time, 0, capacity),
		NAV:         make([]float64, 0, capacity),
		Allocations: make([]portfolio.Allocation, 0, capacity),
		Events:      make([]string, 0, capacity),
		DailyLog:    make([]string, 0, capacity),
	}
	e.state = StateReady
	return nil
}

// Run 执行完整回测。出错时已累积的序列保留可查（见 Partial），结果不会被标记为完成。
func (e *Engine) Run() error {
	switch e.state {
	case StateReady:
	case StateUninitialized:
		return ErrNotReady
	default:
		return fmt.Errorf("%w: state %s", ErrSingleUse, e.state)
	}
	e.state = StateRunning

	e.logger.Debug("开始回测",
		zap.String("name", e.cfg.Name),
		zap.String("strategy", string(e.cfg.Strategy.Kind())),
		zap.Time("start", e.ledger.Date()),
		zap.Time("end", e.end),
	)

	if err := e.apply(e.cfg.Allocation, "initial allocation"); err != nil {
		return e.fail(err)
	}

	for {
		date, err := e.cal.At(e.cursor)
		if err != nil {
			return e.fail(err)
		}
		e.ledger.SetDate(date)

		if _, ok := e.dates[date]; ok {
			target, err := e.cfg.Strategy.Allocate(date, e.scorer)
			if err != nil {
				return e.fail(err)
			}
			if err := e.apply(e.withHeld(target), "rebalance"); err != nil {
				return e.fail(err)
			}
		}

		if err := e.record(date); err != nil {
			return e.fail(err)
		}

		if date.Equal(e.end) {
			break
		}
		if err := e.forward(); err != nil {
			return e.fail(err)
		}
	}

	e.finish()
	return nil
}

// Result 返回结果快照的副本，仅在 completed 状态可用。
func (e *Engine) Result() (Result, error) {
	if e.state != StateCompleted {
		if e.err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrNotCompleted, e.err)
		}
		return Result{}, ErrNotCompleted
	}
	return e.result.clone(), nil
}

// Partial 返回目前已累积的序列副本，用于检查中止的运行。
func (e *Engine) Partial() Series {
	return e.series.clone()
}

func (e *Engine) apply(target portfolio.Allocation, reason string) error {
	date := e.ledger.Date()
	orders, rejected := len(e.ledger.Orders()), len(e.ledger.Rejected())

	if err := e.ledger.ExecuteAllocation(target); err != nil {
		return fmt.Errorf("backtest: %s %s @ %s: %w", e.cfg.Name, reason, date.Format("2006-01-02"), err)
	}

	placed := len(e.ledger.Orders()) - orders
	e.event(date, reason+" orders: "+strconv.Itoa(placed))
	for _, o := range e.ledger.Rejected()[rejected:] {
		e.event(date, "buy rejected for insufficient cash: "+o.Code+" "+strconv.FormatInt(o.Amount, 10)+" shares")
	}

	e.logger.Debug("执行再平衡",
		zap.String("name", e.cfg.Name),
		zap.String("reason", reason),
		zap.Time("date", date),
		zap.Int("orders", placed),
		zap.Int("rejected", len(e.ledger.Rejected())-rejected),
	)
	return nil
}

func (e *Engine) record(date time.Time) error {
	nav, err := e.ledger.Valuation()
	if err != nil {
		return err
	}
	alloc, err := e.ledger.CurrentAllocation()
	if err != nil {
		return err
	}
	e.series.Dates = append(e.series.Dates, date)
	e.series.NAV = append(e.series.NAV, nav)
	e.series.Allocations = append(e.series.Allocations, alloc)
	e.series.DailyLog = append(e.series.DailyLog,
		"date: "+date.Format("2006-01-02")+" NAV: "+strconv.FormatFloat(nav, 'f', -1, 64))
	return nil
}

func (e *Engine) forward() error {
	next := e.cursor + 1
	if next >= e.cal.Len() {
		return fmt.Errorf("%w: 交易日历止于 %s, 结束日期 %s",
			ErrCalendarOverrun, e.cal.Last().Format("2006-01-02"), e.end.Format("2006-01-02"))
	}
	date, err := e.cal.At(next)
	if err != nil {
		return err
	}
	if date.After(e.end) {
		return fmt.Errorf("%w: 结束日期 %s 不是交易日", ErrCalendarOverrun, e.end.Format("2006-01-02"))
	}
	e.cursor = next
	return nil
}

// withHeld 为目标中未列出的持仓补充0权重，使其在再平衡时被清仓。
func (e *Engine) withHeld(target portfolio.Allocation) portfolio.Allocation {
	out := target.Clone()
	for _, code := range e.ledger.Codes() {
		if e.ledger.Shares(code) == 0 || target.Contains(code) {
			continue
		}
		out = append(out, portfolio.Weight{Code: code, Weight: 0})
	}
	return out
}

func (e *Engine) event(date time.Time, msg string) {
	e.series.Events = append(e.series.Events, "date: "+date.Format("2006-01-02")+" "+msg)
}

func (e *Engine) fail(err error) error {
	e.err = err
	e.logger.Warn("回测中止",
		zap.String("name", e.cfg.Name),
		zap.Int("recorded_days", len(e.series.Dates)),
		zap.Error(err),
	)
	return err
}

func (e *Engine) finish() {
	e.series.Returns = PercentChange(e.series.NAV)
	e.series.CumulativeReturns = CumulativeChange(e.series.NAV)

	e.result = Result{
		Name:     e.cfg.Name,
		Strategy: e.cfg.Strategy.Kind(),
		Series:   e.series.clone(),
		Orders:   e.ledger.Orders(),
		OrderLog: e.ledger.OrderLog(),
		Rejected: e.ledger.Rejected(),
		Metrics:  CalculateMetrics(e.series.NAV),
	}
	e.state = StateCompleted

	e.logger.Info("回测完成",
		zap.String("name", e.result.Name),
		zap.Int("days", len(e.result.Series.Dates)),
		zap.Float64("final_return", e.result.Metrics.FinalReturn),
		zap.Float64("sharpe", e.result.Metrics.SharpeRatio),
	)
}

// RunOnce 构建引擎、运行并返回结果，便于批量调用。
func RunOnce(oracle market.Oracle, cal *calendar.Calendar, scorer Scorer, cfg Config, logger *zap.Logger) (Result, error) {
	engine, err := NewEngine(oracle, cal, scorer, logger)
	if err != nil {
		return Result{}, err
	}
	if err := engine.Init(cfg); err != nil {
		return Result{}, err
	}
	if err := engine.Run(); err != nil {
		return Result{}, err
	}
	return engine.Result()
}
