package drawdown

import "testing"

func TestHysteresis(t *testing.T) {
	state := StateNormal
	steps := []struct {
		usage float64
		want  MonitoringState
	}{
		{50, StateNormal},
		{96.9, StateNormal},
		{97, StateLive},
		{95, StateLive},
		{92, StateLive},
		{90, StateLive},
		{89.9, StateNormal},
		{93, StateNormal},
	}

	for _, s := range steps {
		state = NextState(state, s.usage, 0)
		if state != s.want {
			t.Errorf("日使用率 %.1f: 期望 %s, 得到 %s", s.usage, s.want, state)
		}
	}
}

func TestExitRequiresBothBelow(t *testing.T) {
	if ShouldExitLive(50, 91) {
		t.Error("总使用率 91% 时不应退出实时监控")
	}
	if !ShouldExitLive(89, 10) {
		t.Error("两个使用率均低于 90% 时应退出实时监控")
	}
	if !ShouldEnterLive(10, 97) {
		t.Error("总使用率 97% 时应进入实时监控")
	}
}

func TestDailyViolationTakesPrecedence(t *testing.T) {
	m := Metrics{DailyBreachEquity: 9500, MaxBreachEquity: 9600}
	if got := m.CheckViolation(9400); got != ViolationDaily {
		t.Errorf("同时突破时应返回日回撤, 得到 %q", got)
	}
	if got := m.CheckViolation(9550); got != ViolationMax {
		t.Errorf("仅突破总回撤, 得到 %q", got)
	}
}
