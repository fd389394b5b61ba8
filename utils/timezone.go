package utils

import (
	"time"
	_ "time/tzdata"
)

// DateLayout 交易日日期格式
const DateLayout = "2006-01-02"

var (
	// GlobalLocation 交易日历时区（日重置边界与交易日统计共用）
	GlobalLocation *time.Location

	// dayBoundary 交易日起点相对本地零点的偏移，与日重置时刻一致
	dayBoundary = 90 * time.Minute
)

func init() {
	SetLocation("Asia/Tehran")
}

// SetLocation 设置交易日历时区
func SetLocation(name string) error {
	loc, err := time.LoadLocation(name)
	if err != nil {
		// 德黑兰自 2022 年起不再实行夏令时，固定 UTC+3:30
		if name == "Asia/Tehran" || name == "UTC+3:30" {
			GlobalLocation = time.FixedZone("UTC+3:30", 3*60*60+30*60)
			return nil
		}
		if GlobalLocation == nil {
			GlobalLocation = time.UTC
		}
		return err
	}
	GlobalLocation = loc
	return nil
}

// ToConfiguredTimezone 将时间转换为交易日历时区
func ToConfiguredTimezone(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.In(GlobalLocation)
}

// NowUTC 获取当前UTC时间
func NowUTC() time.Time {
	return time.Now().UTC()
}

// SetDayBoundary 设置交易日起点（日重置时刻）
func SetDayBoundary(hour, minute int) {
	dayBoundary = time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute
}

// TradingDate 返回 t 所在的交易日（YYYY-MM-DD）
// 交易日从重置时刻开始，01:30 之前的时间属于前一交易日
func TradingDate(t time.Time) string {
	return t.In(GlobalLocation).Add(-dayBoundary).Format(DateLayout)
}

// ResetTime 返回 t 所在交易日的重置时刻
func ResetTime(t time.Time, hour, minute int) time.Time {
	local := t.In(GlobalLocation)
	return time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, GlobalLocation)
}

// InResetWindow 判断 t 是否处于 [重置时刻, 重置时刻+window] 区间内
func InResetWindow(t time.Time, hour, minute int, window time.Duration) bool {
	start := ResetTime(t, hour, minute)
	end := start.Add(window)
	return !t.Before(start) && !t.After(end)
}
