// Package market 提供按资产与日期查询收盘价及日收益率的价格源。
package market

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	talib "github.com/markcheno/go-talib"

	"portfolio-lab/internal/calendar"
)

var (
	// ErrUnknownCode 表示价格表中没有该资产。
	ErrUnknownCode = errors.New("market: unknown instrument code")
	// ErrMissingPrice 表示某资产在某交易日缺少价格。
	ErrMissingPrice = errors.New("market: missing price")
)

// Oracle 为回测使用的价格查询接口，查询必须确定且无副作用。
type Oracle interface {
	// Price 返回资产在指定交易日的收盘价。
	Price(code string, date time.Time) (float64, error)
	// Returns 返回 [start, end] 内每日百分比收益率，首个元素为 NaN（没有前一日）。
	Returns(code string, start, end time.Time) ([]float64, error)
}

// Close 为单个交易日的收盘价。
type Close struct {
	Date  time.Time
	Price float64
}

// Table 为按交易日历对齐的内存价格表，创建后只读，可被并发回测共享。
type Table struct {
	cal    *calendar.Calendar
	closes map[string][]float64
	codes  []string
}

var _ Oracle = (*Table)(nil)

// NewTable 创建价格表，每个资产的序列长度必须与日历一致且价格为正。
func NewTable(cal *calendar.Calendar, closes map[string][]float64) (*Table, error) {
	if cal == nil {
		return nil, errors.New("market: calendar 不能为空")
	}

	copied := make(map[string][]float64, len(closes))
	codes := make([]string, 0, len(closes))
	for code, series := range closes {
		if len(series) != cal.Len() {
			return nil, fmt.Errorf("market: %s 价格数量 %d 与交易日数量 %d 不一致", code, len(series), cal.Len())
		}
		for i, p := range series {
			if p <= 0 || math.IsNaN(p) || math.IsInf(p, 0) {
				d, _ := cal.At(i)
				return nil, fmt.Errorf("%w: %s @ %s (%v)", ErrMissingPrice, code, d.Format("2006-01-02"), p)
			}
		}
		copied[code] = append([]float64(nil), series...)
		codes = append(codes, code)
	}
	sort.Strings(codes)

	return &Table{cal: cal, closes: copied, codes: codes}, nil
}

// FromCloses 由各资产的 (日期, 价格) 列表构建价格表。
// 日历取所有资产日期的并集，任一资产缺少某日价格即返回 ErrMissingPrice。
func FromCloses(series map[string][]Close) (*Table, error) {
	if len(series) == 0 {
		return nil, errors.New("market: 没有任何价格数据")
	}

	byCode := make(map[string]map[time.Time]float64, len(series))
	seen := make(map[time.Time]struct{})
	for code, rows := range series {
		m := make(map[time.Time]float64, len(rows))
		for _, r := range rows {
			d := calendar.Day(r.Date)
			m[d] = r.Price
			seen[d] = struct{}{}
		}
		byCode[code] = m
	}

	dates := make([]time.Time, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	cal, err := calendar.New(dates)
	if err != nil {
		return nil, err
	}

	closes := make(map[string][]float64, len(byCode))
	for code, m := range byCode {
		out := make([]float64, cal.Len())
		for i := range out {
			d, _ := cal.At(i)
			p, ok := m[d]
			if !ok {
				return nil, fmt.Errorf("%w: %s @ %s", ErrMissingPrice, code, d.Format("2006-01-02"))
			}
			out[i] = p
		}
		closes[code] = out
	}

	return NewTable(cal, closes)
}

// Calendar 返回价格表对应的交易日历。
func (t *Table) Calendar() *calendar.Calendar {
	return t.cal
}

// Codes 返回按字典序排列的资产代码。
func (t *Table) Codes() []string {
	return append([]string(nil), t.codes...)
}

// Price 返回资产在指定交易日的收盘价。
func (t *Table) Price(code string, date time.Time) (float64, error) {
	series, ok := t.closes[code]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCode, code)
	}
	idx, err := t.cal.IndexOf(date)
	if err != nil {
		return 0, err
	}
	return series[idx], nil
}

// Returns 返回 [start, end] 内的日百分比收益率，首元素为 NaN。
func (t *Table) Returns(code string, start, end time.Time) ([]float64, error) {
	series, ok := t.closes[code]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCode, code)
	}
	from, err := t.cal.IndexOf(start)
	if err != nil {
		return nil, err
	}
	to, err := t.cal.IndexOf(end)
	if err != nil {
		return nil, err
	}
	if to < from {
		return nil, fmt.Errorf("market: 结束日早于开始日 (%s > %s)", start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	out := talib.Roc(series[from:to+1], 1)
	out[0] = math.NaN()
	return out, nil
}
