package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fundguard/database"
	"fundguard/logger"

	"github.com/gin-gonic/gin"
)

const (
	defaultOrderLimit = 100
	maxOrderLimit     = 1000
)

type apiHandler struct {
	db database.Database
}

// healthz 健康检查
func (h *apiHandler) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// getAccount 账户详情
func (h *apiHandler) getAccount(c *gin.Context) {
	account, ok := h.loadAccount(c)
	if !ok {
		return
	}

	plan, err := h.db.GetPlan(c.Request.Context(), account.PlanID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account, "plan": plan})
}

// getAccountMetrics 最新指标快照
func (h *apiHandler) getAccountMetrics(c *gin.Context) {
	account, ok := h.loadAccount(c)
	if !ok {
		return
	}

	snapshot, err := h.db.GetLatestMetrics(c.Request.Context(), account.ID)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": T(c, "api_metrics_not_found")})
		return
	}
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": snapshot})
}

// getAccountOrders 订单列表
// 参数: limit, offset, from, to (RFC3339), type (逗号分隔), include_deposits
func (h *apiHandler) getAccountOrders(c *gin.Context) {
	account, ok := h.loadAccount(c)
	if !ok {
		return
	}

	filter := &database.OrderFilter{
		AccountID:       account.ID,
		Limit:           defaultOrderLimit,
		ExcludeDeposits: true,
	}
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 {
		filter.Limit = min(l, maxOrderLimit)
	}
	if o, err := strconv.Atoi(c.Query("offset")); err == nil && o >= 0 {
		filter.Offset = o
	}
	if include, err := strconv.ParseBool(c.DefaultQuery("include_deposits", "false")); err == nil {
		filter.ExcludeDeposits = !include
	}
	if types := c.Query("type"); types != "" {
		for _, t := range strings.Split(types, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.Types = append(filter.Types, t)
			}
		}
	}

	for param, dst := range map[string]**time.Time{"from": &filter.StartTime, "to": &filter.EndTime} {
		raw := c.Query(param)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": T(c, "api_invalid_time", map[string]interface{}{"Param": param})})
			return
		}
		t = t.UTC()
		*dst = &t
	}

	orders, err := h.db.ListOrders(c.Request.Context(), filter)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"count":  len(orders),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (h *apiHandler) loadAccount(c *gin.Context) (*database.Account, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": T(c, "api_invalid_account_id")})
		return nil, false
	}

	account, err := h.db.GetAccount(c.Request.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": T(c, "api_account_not_found")})
		return nil, false
	}
	if err != nil {
		h.internalError(c, err)
		return nil, false
	}
	return account, true
}

func (h *apiHandler) internalError(c *gin.Context, err error) {
	logger.Error("❌ API 请求失败 %s: %v", c.Request.URL.Path, err)
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": T(c, "api_internal_error")})
}
