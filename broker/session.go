package broker

import "time"

// SessionValid 会话 ID 存在、未过期，且 revalidate 时间内验证过
func SessionValid(sessionID string, expiresAt, lastValidated *time.Time, now time.Time, revalidate time.Duration) bool {
	if sessionID == "" || expiresAt == nil || lastValidated == nil {
		return false
	}
	if !expiresAt.After(now) {
		return false
	}
	return !lastValidated.Before(now.Add(-revalidate))
}
