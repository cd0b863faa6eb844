// Package calendar 提供交易日历及再平衡日程。
package calendar

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrOutOfRange 表示按下标访问超出日历范围。
	ErrOutOfRange = errors.New("calendar: index out of range")
	// ErrUnknownDate 表示日期不是交易日。
	ErrUnknownDate = errors.New("calendar: date is not a trading day")
)

// Calendar 为有序、无重复的交易日序列，创建后只读，可被多个回测共享。
type Calendar struct {
	dates []time.Time
	index map[time.Time]int
}

// Day 将时间归一化为 UTC 零点，作为日历内部的键。
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// New 创建日历。输入会被归一化、排序，重复日期返回错误。
func New(dates []time.Time) (*Calendar, error) {
	if len(dates) == 0 {
		return nil, errors.New("calendar: 交易日列表为空")
	}

	normalized := make([]time.Time, len(dates))
	for i, d := range dates {
		normalized[i] = Day(d)
	}
	sort.Slice(normalized, func(i, j int) bool {
		return normalized[i].Before(normalized[j])
	})

	index := make(map[time.Time]int, len(normalized))
	for i, d := range normalized {
		if _, dup := index[d]; dup {
			return nil, fmt.Errorf("calendar: 重复的交易日 %s", d.Format("2006-01-02"))
		}
		index[d] = i
	}

	return &Calendar{dates: normalized, index: index}, nil
}

// Len 返回交易日数量。
func (c *Calendar) Len() int {
	return len(c.dates)
}

// IndexOf 返回日期在日历中的下标。
func (c *Calendar) IndexOf(date time.Time) (int, error) {
	idx, ok := c.index[Day(date)]
	if !ok {
		return -1, fmt.Errorf("%w: %s", ErrUnknownDate, date.Format("2006-01-02"))
	}
	return idx, nil
}

// Contains 判断日期是否为交易日。
func (c *Calendar) Contains(date time.Time) bool {
	_, ok := c.index[Day(date)]
	return ok
}

// At 返回下标对应的交易日。
func (c *Calendar) At(i int) (time.Time, error) {
	if i < 0 || i >= len(c.dates) {
		return time.Time{}, fmt.Errorf("%w: %d (len %d)", ErrOutOfRange, i, len(c.dates))
	}
	return c.dates[i], nil
}

// First 返回首个交易日。
func (c *Calendar) First() time.Time {
	return c.dates[0]
}

// Last 返回最后一个交易日。
func (c *Calendar) Last() time.Time {
	return c.dates[len(c.dates)-1]
}

// Range 返回 [start, end] 闭区间内的交易日，两端都必须是交易日。
func (c *Calendar) Range(start, end time.Time) ([]time.Time, error) {
	from, err := c.IndexOf(start)
	if err != nil {
		return nil, err
	}
	to, err := c.IndexOf(end)
	if err != nil {
		return nil, err
	}
	if to < from {
		return nil, fmt.Errorf("calendar: 结束日 %s 早于开始日 %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	out := make([]time.Time, to-from+1)
	copy(out, c.dates[from:to+1])
	return out, nil
}

// Dates 返回全部交易日的副本。
func (c *Calendar) Dates() []time.Time {
	out := make([]time.Time, len(c.dates))
	copy(out, c.dates)
	return out
}
