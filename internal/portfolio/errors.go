package portfolio

import "errors"

var (
	// ErrAllocation 表示目标权重之和不为100或单项权重非法。
	ErrAllocation = errors.New("portfolio: invalid allocation")
	// ErrDuplicateCode 表示同一资产在目标权重中出现多次。
	ErrDuplicateCode = errors.New("portfolio: duplicate code in allocation")
	// ErrZeroWeight 表示对0权重计算目标市值，调用方应直接把目标股数视为0。
	ErrZeroWeight = errors.New("portfolio: weight can't be 0")
	// ErrInsufficientCash 仅在严格模式下返回，默认现金不足时跳过买单。
	ErrInsufficientCash = errors.New("portfolio: insufficient cash")
	// ErrOversell 表示卖出数量超过持仓（未开启做空时）。
	ErrOversell = errors.New("portfolio: sell amount exceeds holdings")
	// ErrInvalidAmount 表示下单数量非正。
	ErrInvalidAmount = errors.New("portfolio: order amount must be positive")
)
