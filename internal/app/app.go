package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"portfolio-lab/internal/analyst"
	"portfolio-lab/internal/backtest"
	"portfolio-lab/internal/config"
	"portfolio-lab/internal/market"
	"portfolio-lab/internal/monitor"
	"portfolio-lab/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 载入价格、批量运行全部组合并记录结果。配置了监控端口时保持查询接口直到退出信号。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("回测系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("source", a.cfg.Data.Source),
		zap.Int("portfolios", len(a.cfg.Portfolios)),
	)

	monitorSvc, err := monitor.NewService(ctx, a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化监控服务失败: %w", err)
	}

	table, err := a.loadPrices(ctx)
	if err != nil {
		monitorSvc.RecordError(ctx, "载入价格失败", err, map[string]interface{}{"source": a.cfg.Data.Source})
		return fmt.Errorf("载入价格失败: %w", err)
	}
	cal := table.Calendar()

	scorer, err := analyst.New(cal, table)
	if err != nil {
		return err
	}
	cfgs, err := buildConfigs(a.cfg, cal)
	if err != nil {
		return fmt.Errorf("构建回测配置失败: %w", err)
	}
	runner, err := backtest.NewRunner(table, cal, scorer, a.cfg.Backtest.Workers, a.logger)
	if err != nil {
		return err
	}

	outcomes, batchErr := runner.RunBatch(ctx, cfgs)
	for _, o := range outcomes {
		switch {
		case o.Skipped:
			a.logger.Warn("回测未运行", zap.String("name", o.Name))
		case o.Err != nil:
			monitorSvc.RecordRunFailure(ctx, o.Name, o.Err)
		default:
			monitorSvc.RecordRun(ctx, o.Result)
			m := o.Result.Metrics
			a.logger.Info("组合绩效",
				zap.String("name", o.Name),
				zap.String("strategy", string(o.Result.Strategy)),
				zap.Float64("final_return", m.FinalReturn),
				zap.Float64("annualized_return", m.AnnualizedReturn),
				zap.Float64("annualized_std", m.AnnualizedStd),
				zap.Float64("sharpe", m.SharpeRatio),
				zap.Float64("max_drawdown", m.MaxDrawdown),
				zap.Int("orders", len(o.Result.Orders)),
				zap.Int("rejected", len(o.Result.Rejected)),
			)
		}
	}
	a.logSummary(table)

	if batchErr != nil {
		a.logger.Warn("部分回测失败", zap.Error(batchErr))
	}

	if a.cfg.Monitor.Port <= 0 {
		return batchErr
	}
	if err := startMonitorServer(ctx, monitorSvc, a.cfg.Monitor.Port, a.logger); err != nil {
		return err
	}
	<-ctx.Done()
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}

func (a *App) loadPrices(ctx context.Context) (*market.Table, error) {
	codes := requiredCodes(a.cfg)
	switch a.cfg.Data.Source {
	case config.SourceParquet:
		src := market.NewParquetSource(a.cfg.Data.ParquetDir, a.cfg.Data.Market, a.logger)
		return src.Load(ctx, codes)
	default:
		src, err := market.NewSQLiteSource(ctx, a.store, a.logger)
		if err != nil {
			return nil, err
		}
		return src.Load(ctx, codes)
	}
}

// logSummary 输出 universe 各资产在整个日历区间的收益与波动。
func (a *App) logSummary(table *market.Table) {
	cal := table.Calendar()
	rows, err := backtest.Summarize(table, cal, a.cfg.Backtest.Universe, cal.First(), cal.Last())
	if err != nil {
		a.logger.Warn("计算资产汇总失败", zap.Error(err))
		return
	}
	for _, r := range rows {
		a.logger.Info("资产汇总",
			zap.String("code", r.Code),
			zap.Float64("hpr", r.HoldingPeriodReturn),
			zap.Float64("annualized_return", r.AnnualizedReturn),
			zap.Float64("std", r.Std),
			zap.Float64("annualized_std", r.AnnualizedStd),
		)
	}
}
