package calendar

import (
	"fmt"
	"strings"
	"time"
)

// Schedule 描述再平衡频率。
type Schedule string

const (
	ScheduleNone    Schedule = "none"
	ScheduleDaily   Schedule = "daily"
	ScheduleWeekly  Schedule = "weekly"
	ScheduleMonthly Schedule = "monthly"
)

// ParseSchedule 解析配置中的频率字符串，空串视为 none。
func ParseSchedule(s string) (Schedule, error) {
	switch Schedule(strings.ToLower(strings.TrimSpace(s))) {
	case "", ScheduleNone:
		return ScheduleNone, nil
	case ScheduleDaily:
		return ScheduleDaily, nil
	case ScheduleWeekly:
		return ScheduleWeekly, nil
	case ScheduleMonthly:
		return ScheduleMonthly, nil
	default:
		return "", fmt.Errorf("calendar: 不支持的再平衡频率 %q", s)
	}
}

// RebalanceDates 返回日历中符合频率的再平衡日。
// weekly 取每个 ISO 周的首个交易日，monthly 取每月首个交易日。
func (c *Calendar) RebalanceDates(s Schedule) []time.Time {
	switch s {
	case ScheduleDaily:
		return c.Dates()
	case ScheduleWeekly:
		return c.firstOf(func(t time.Time) int {
			y, w := t.ISOWeek()
			return y*100 + w
		})
	case ScheduleMonthly:
		return c.firstOf(func(t time.Time) int {
			return t.Year()*100 + int(t.Month())
		})
	default:
		return nil
	}
}

func (c *Calendar) firstOf(bucket func(time.Time) int) []time.Time {
	var out []time.Time
	last := -1
	for _, d := range c.dates {
		b := bucket(d)
		if b != last {
			out = append(out, d)
			last = b
		}
	}
	return out
}
