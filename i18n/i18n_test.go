package i18n

import "testing"

func TestFailureReasonTemplates(t *testing.T) {
	if err := Init("fa-IR"); err != nil {
		t.Fatalf("初始化失败: %v", err)
	}

	data := map[string]interface{}{"Date": "2025-06-02", "Time": "14:05:09"}

	fa := T("failure_reason_daily", data)
	want := "حد مجاز ضرر روزانه در تاریخ 2025-06-02 | ساعت 14:05:09 رد شد"
	if fa != want {
		t.Errorf("波斯语失败原因错误:\n期望 %s\n得到 %s", want, fa)
	}

	en := TWithLang("en-US", "failure_reason_max", data)
	if en != "Maximum loss limit breached on 2025-06-02 | at 14:05:09" {
		t.Errorf("英语失败原因错误: %s", en)
	}
}

func TestUnknownKeyReturnsKey(t *testing.T) {
	if err := Init(""); err != nil {
		t.Fatalf("初始化失败: %v", err)
	}
	if got := T("no_such_key"); got != "no_such_key" {
		t.Errorf("未知 key 应原样返回, 得到 %s", got)
	}
	if GetSystemLanguage() != "fa-IR" {
		t.Errorf("默认语言应为 fa-IR, 得到 %s", GetSystemLanguage())
	}
}
