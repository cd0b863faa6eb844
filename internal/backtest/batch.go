package backtest

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"portfolio-lab/internal/calendar"
	"portfolio-lab/internal/market"
)

// Outcome 为批量运行中单个配置的结果，顺序与输入一致。
type Outcome struct {
	Name    string
	Result  Result
	Err     error
	Skipped bool // 因取消未运行
}

// Runner 以固定大小的工作池并行运行相互独立的回测。
type Runner struct {
	market  market.Oracle
	cal     *calendar.Calendar
	scorer  Scorer
	workers int
	logger  *zap.Logger
}

// NewRunner 创建批量运行器，workers<=0 时使用 CPU 核数。
func NewRunner(oracle market.Oracle, cal *calendar.Calendar, scorer Scorer, workers int, logger *zap.Logger) (*Runner, error) {
	if oracle == nil {
		return nil, fmt.Errorf("backtest: market 不能为空")
	}
	if cal == nil {
		return nil, fmt.Errorf("backtest: calendar 不能为空")
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		market:  oracle,
		cal:     cal,
		scorer:  scorer,
		workers: workers,
		logger:  logger,
	}, nil
}

// RunBatch 为每个配置构建独立的引擎并运行。取消只在两次运行之间生效，
// 已开始的运行总会完成；未开始的配置标记为 Skipped。返回的错误汇总了所有失败与取消原因。
func (r *Runner) RunBatch(ctx context.Context, cfgs []Config) ([]Outcome, error) {
	outcomes := make([]Outcome, len(cfgs))
	for i, cfg := range cfgs {
		outcomes[i] = Outcome{Name: cfg.Name, Skipped: true}
	}

	g := new(errgroup.Group)
	g.SetLimit(r.workers)

	for i := range cfgs {
		if ctx.Err() != nil {
			break
		}
		idx := i
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res, err := RunOnce(r.market, r.cal, r.scorer, cfgs[idx], r.logger)
			outcomes[idx] = Outcome{Name: cfgs[idx].Name, Result: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	var errs error
	skipped, failed := 0, 0
	for _, o := range outcomes {
		switch {
		case o.Skipped:
			skipped++
		case o.Err != nil:
			failed++
			errs = multierr.Append(errs, fmt.Errorf("backtest: %s: %w", o.Name, o.Err))
		}
	}
	if skipped > 0 {
		errs = multierr.Append(errs, fmt.Errorf("backtest: %d 个回测因取消未运行: %w", skipped, ctx.Err()))
	}

	r.logger.Info("批量回测结束",
		zap.Int("total", len(cfgs)),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)
	return outcomes, errs
}
