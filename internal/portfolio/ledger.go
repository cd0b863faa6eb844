// Package portfolio 维护单次回测的现金与持仓，并执行买卖及整体再平衡。
package portfolio

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"portfolio-lab/internal/market"
)

// Side 表示下单方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Fees 为按成交额计算的费率。
type Fees struct {
	CommissionRate float64
	TaxRate        float64
}

// Options 控制账本的下单规则。
type Options struct {
	Fees Fees
	// StrictCash 为 true 时现金不足返回 ErrInsufficientCash，否则跳过该买单。
	StrictCash bool
	// AllowShort 为 true 时允许卖出超过持仓，持仓可为负。
	AllowShort bool
}

// Order 为一笔已成交或被拒绝的委托。
type Order struct {
	Date   time.Time `json:"date"`
	Side   Side      `json:"side"`
	Code   string    `json:"code"`
	Price  float64   `json:"price"`
	Amount int64     `json:"amount"`
}

// String 返回形如 "date 20170216 buy 069500 27125 100 shares" 的成交记录。
func (o Order) String() string {
	return "date " + o.Date.Format("20060102") +
		" " + string(o.Side) +
		" " + o.Code +
		" " + strconv.FormatFloat(o.Price, 'f', -1, 64) +
		" " + strconv.FormatInt(o.Amount, 10) + " shares"
}

// Ledger 为单次回测独占的账本，不可并发访问。
type Ledger struct {
	market market.Oracle
	opts   Options
	logger *zap.Logger

	date     time.Time
	cash     float64
	holdings map[string]int64
	codes    []string

	orders   []Order
	rejected []Order
}

// NewLedger 以初始资金创建账本。
func NewLedger(oracle market.Oracle, date time.Time, seedMoney float64, opts Options, logger *zap.Logger) (*Ledger, error) {
	if oracle == nil {
		return nil, errors.New("portfolio: market 不能为空")
	}
	if seedMoney <= 0 || math.IsInf(seedMoney, 0) || math.IsNaN(seedMoney) {
		return nil, fmt.Errorf("portfolio: 初始资金必须为正, got %v", seedMoney)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		market:   oracle,
		opts:     opts,
		logger:   logger,
		date:     date,
		cash:     seedMoney,
		holdings: make(map[string]int64),
	}, nil
}

// SetDate 移动估值日期。
func (l *Ledger) SetDate(date time.Time) {
	l.date = date
}

// Date 返回当前估值日期。
func (l *Ledger) Date() time.Time {
	return l.date
}

// Cash 返回现金余额。
func (l *Ledger) Cash() float64 {
	return l.cash
}

// Shares 返回持股数量，未持有时为0。
func (l *Ledger) Shares(code string) int64 {
	return l.holdings[code]
}

// Codes 按首次买入顺序返回持有过的资产代码（包括已清仓的）。
func (l *Ledger) Codes() []string {
	return append([]string(nil), l.codes...)
}

// Orders 返回已成交委托。
func (l *Ledger) Orders() []Order {
	return append([]Order(nil), l.orders...)
}

// Rejected 返回因现金不足被跳过的买单。
func (l *Ledger) Rejected() []Order {
	return append([]Order(nil), l.rejected...)
}

// OrderLog 返回可读的成交记录。
func (l *Ledger) OrderLog() []string {
	out := make([]string, len(l.orders))
	for i, o := range l.orders {
		out[i] = o.String()
	}
	return out
}

// Valuation 返回当前日期的净值：现金加各持仓市值。
func (l *Ledger) Valuation() (float64, error) {
	nav := l.cash
	for _, code := range l.codes {
		price, err := l.market.Price(code, l.date)
		if err != nil {
			return 0, fmt.Errorf("portfolio: 估值失败: %w", err)
		}
		nav += price * float64(l.holdings[code])
	}
	return nav, nil
}

// CurrentAllocation 返回各持仓占净值的百分比，最后附加现金项。
func (l *Ledger) CurrentAllocation() (Allocation, error) {
	nav, err := l.Valuation()
	if err != nil {
		return nil, err
	}

	alloc := make(Allocation, 0, len(l.codes)+1)
	for _, code := range l.codes {
		price, err := l.market.Price(code, l.date)
		if err != nil {
			return nil, fmt.Errorf("portfolio: 估值失败: %w", err)
		}
		value := price * float64(l.holdings[code])
		alloc = append(alloc, Weight{Code: code, Weight: value / nav * 100})
	}
	alloc = append(alloc, Weight{Code: CashCode, Weight: l.cash / nav * 100})
	return alloc, nil
}

// WeightToValue 将百分比权重换算为当前净值下的目标市值。
func (l *Ledger) WeightToValue(weight float64) (float64, error) {
	if weight == 0 {
		return 0, ErrZeroWeight
	}
	nav, err := l.Valuation()
	if err != nil {
		return 0, err
	}
	return nav / 100 * weight, nil
}

// Order 按数量符号路由：正数买入，负数卖出，0 不下单。
func (l *Ledger) Order(code string, amount int64) error {
	switch {
	case amount > 0:
		return l.Buy(code, amount)
	case amount < 0:
		return l.Sell(code, -amount)
	default:
		return nil
	}
}

// Buy 以当日收盘价买入。现金不足时默认跳过并记录，严格模式下返回 ErrInsufficientCash。
func (l *Ledger) Buy(code string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	price, err := l.market.Price(code, l.date)
	if err != nil {
		return fmt.Errorf("portfolio: 买入 %s 取价失败: %w", code, err)
	}

	cashForAsset := price * float64(amount)
	commission := cashForAsset * l.opts.Fees.CommissionRate
	requiredCash := cashForAsset + commission

	order := Order{Date: l.date, Side: SideBuy, Code: code, Price: price, Amount: amount}
	// 现金恰好等于所需金额时允许成交：种子资金 1e10、价格 100 的单一资产
	// 全仓配置需买入整 1e8 股，严格大于判断会把这笔买单拒掉
	if l.cash < requiredCash {
		l.rejected = append(l.rejected, order)
		l.logger.Debug("现金不足，跳过买单",
			zap.String("code", code),
			zap.Int64("amount", amount),
			zap.Float64("required", requiredCash),
			zap.Float64("cash", l.cash),
		)
		if l.opts.StrictCash {
			return fmt.Errorf("%w: %s 需要 %v, 现金 %v", ErrInsufficientCash, code, requiredCash, l.cash)
		}
		return nil
	}

	l.cash -= requiredCash
	l.credit(code, amount)
	l.orders = append(l.orders, order)
	return nil
}

// Sell 以当日收盘价卖出，扣除佣金与税费后计入现金。
func (l *Ledger) Sell(code string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	if !l.opts.AllowShort && amount > l.holdings[code] {
		return fmt.Errorf("%w: %s 卖出 %d, 持有 %d", ErrOversell, code, amount, l.holdings[code])
	}
	price, err := l.market.Price(code, l.date)
	if err != nil {
		return fmt.Errorf("portfolio: 卖出 %s 取价失败: %w", code, err)
	}

	liquidatedCash := price * float64(amount)
	commission := liquidatedCash * l.opts.Fees.CommissionRate
	tax := liquidatedCash * l.opts.Fees.TaxRate

	l.credit(code, -amount)
	l.cash += liquidatedCash - commission - tax
	l.orders = append(l.orders, Order{Date: l.date, Side: SideSell, Code: code, Price: price, Amount: amount})
	return nil
}

func (l *Ledger) credit(code string, amount int64) {
	if _, ok := l.holdings[code]; !ok {
		l.codes = append(l.codes, code)
	}
	l.holdings[code] += amount
}

type pendingOrder struct {
	code   string
	amount int64
}

// ExecuteAllocation 将持仓调整到目标权重。
// 目标股数按净值向下取整，先执行全部卖单再执行买单；买单现金不足被跳过时不回滚，
// 偏差体现在 CurrentAllocation 中。
func (l *Ledger) ExecuteAllocation(target Allocation) error {
	if err := target.Validate(); err != nil {
		return err
	}

	var sells, buys []pendingOrder
	for _, w := range target {
		if w.Code == CashCode {
			continue
		}

		var targetShares int64
		if w.Weight != 0 {
			value, err := l.WeightToValue(w.Weight)
			if err != nil {
				return err
			}
			price, err := l.market.Price(w.Code, l.date)
			if err != nil {
				return fmt.Errorf("portfolio: %s 取价失败: %w", w.Code, err)
			}
			targetShares = int64(math.Floor(value / price))
		}

		delta := targetShares - l.holdings[w.Code]
		switch {
		case delta < 0:
			sells = append(sells, pendingOrder{code: w.Code, amount: delta})
		case delta > 0:
			buys = append(buys, pendingOrder{code: w.Code, amount: delta})
		}
	}

	for _, o := range sells {
		if err := l.Order(o.code, o.amount); err != nil {
			return err
		}
	}
	for _, o := range buys {
		if err := l.Order(o.code, o.amount); err != nil {
			return err
		}
	}
	return nil
}
