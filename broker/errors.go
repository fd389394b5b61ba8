package broker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrSessionExpired 会话过期或无效（401/403），需要重连而不是重试
	ErrSessionExpired = errors.New("券商会话已过期或无效")
	// ErrInvalidCredentials ConnectEx 拒绝了登录凭证
	ErrInvalidCredentials = errors.New("券商登录凭证无效或被拒绝")
	// ErrInvalidSession ConnectEx 返回的会话 ID 不是合法 UUID
	ErrInvalidSession = errors.New("券商返回的会话ID格式无效")
)

// APIError 券商网关返回的非 2xx 响应
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s 失败: HTTP %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// IsSessionExpired 401/403
func (e *APIError) IsSessionExpired() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Unwrap 让 errors.Is(err, ErrSessionExpired) 对 401/403 生效
func (e *APIError) Unwrap() error {
	if !e.IsSessionExpired() {
		return nil
	}
	if e.Endpoint == endpointConnect {
		return ErrInvalidCredentials
	}
	return ErrSessionExpired
}

// IsSessionExpired 判断错误是否需要重新建立会话
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

// IsRetryable 判断错误是否属于可重试的瞬时错误（超时、5xx、网络错误）
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrInvalidSession) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode == http.StatusRequestTimeout
	}
	return true
}
