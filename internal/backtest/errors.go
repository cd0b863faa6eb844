package backtest

import "errors"

var (
	// ErrCalendarOverrun 表示日期游标越过交易日历末尾或越过结束日期仍未命中。
	ErrCalendarOverrun = errors.New("backtest: date cursor moved past the trading calendar")
	// ErrNotReady 表示引擎未初始化即运行。
	ErrNotReady = errors.New("backtest: engine is not ready")
	// ErrNotCompleted 表示运行未完成时读取结果。
	ErrNotCompleted = errors.New("backtest: run has not completed")
	// ErrSingleUse 表示对已使用的引擎重复初始化或运行。
	ErrSingleUse = errors.New("backtest: engine instances are single-use")
)
