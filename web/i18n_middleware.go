package web

import (
	"strings"

	"fundguard/i18n"

	"github.com/gin-gonic/gin"
)

// I18nMiddleware 解析请求的 Accept-Language 头并设置到上下文
func I18nMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		lang := c.Query("lang")
		if lang == "" {
			lang = parseAcceptLanguage(c.GetHeader("Accept-Language"))
		} else {
			lang = normalizeLanguage(lang)
		}

		c.Set("language", lang)
		c.Next()
	}
}

// parseAcceptLanguage 解析 Accept-Language 头
// 示例: "en-GB,en;q=0.9,fa;q=0.8" -> "en-US"
func parseAcceptLanguage(acceptLang string) string {
	if acceptLang == "" {
		return i18n.GetSystemLanguage()
	}

	first := strings.TrimSpace(strings.Split(acceptLang, ",")[0])
	if idx := strings.Index(first, ";"); idx != -1 {
		first = first[:idx]
	}
	return normalizeLanguage(strings.TrimSpace(first))
}

// normalizeLanguage 标准化语言代码
func normalizeLanguage(lang string) string {
	lang = strings.ToLower(lang)

	switch {
	case strings.HasPrefix(lang, "fa"), strings.HasPrefix(lang, "per"):
		return "fa-IR"
	case strings.HasPrefix(lang, "en"):
		return "en-US"
	default:
		return i18n.GetSystemLanguage()
	}
}

// GetLanguage 从上下文获取语言
func GetLanguage(c *gin.Context) string {
	if lang, exists := c.Get("language"); exists {
		if l, ok := lang.(string); ok {
			return l
		}
	}
	return i18n.GetSystemLanguage()
}

// T 翻译消息（从上下文获取语言）
func T(c *gin.Context, key string, data ...interface{}) string {
	return i18n.TWithLang(GetLanguage(c), key, data...)
}
