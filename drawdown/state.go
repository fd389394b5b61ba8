package drawdown

// MonitoringState 账户监控状态
type MonitoringState string

const (
	StateNormal MonitoringState = "normal"
	StateLive   MonitoringState = "live"
)

// 实时监控进入/退出阈值（使用率百分比），两者之间为滞回区间
const (
	EnterLiveUsagePercent = 97.0
	ExitLiveUsagePercent  = 90.0
)

// Violation 突破类型
type Violation string

const (
	ViolationNone  Violation = ""
	ViolationDaily Violation = "daily"
	ViolationMax   Violation = "max"
)

// CheckViolation 判断当前权益是否突破任一限额，日回撤优先
func (m Metrics) CheckViolation(equity float64) Violation {
	if DailyViolation(equity, m.DailyBreachEquity) {
		return ViolationDaily
	}
	if MaxViolation(equity, m.MaxBreachEquity) {
		return ViolationMax
	}
	return ViolationNone
}

// ShouldEnterLive 任一使用率达到 97% 进入实时监控
func ShouldEnterLive(dailyUsage, maxUsage float64) bool {
	return dailyUsage >= EnterLiveUsagePercent || maxUsage >= EnterLiveUsagePercent
}

// ShouldExitLive 两个使用率均低于 90% 才退出实时监控
func ShouldExitLive(dailyUsage, maxUsage float64) bool {
	return dailyUsage < ExitLiveUsagePercent && maxUsage < ExitLiveUsagePercent
}

// NextState 根据滞回规则计算下一个监控状态
func NextState(current MonitoringState, dailyUsage, maxUsage float64) MonitoringState {
	switch current {
	case StateLive:
		if ShouldExitLive(dailyUsage, maxUsage) {
			return StateNormal
		}
		return StateLive
	default:
		if ShouldEnterLive(dailyUsage, maxUsage) {
			return StateLive
		}
		return StateNormal
	}
}
