package web

import (
	"net/http/pprof"

	"fundguard/database"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes 设置路由
func SetupRoutes(r *gin.Engine, db database.Database, enablePprof bool) {
	h := &apiHandler{db: db}

	r.GET("/healthz", h.healthz)

	// Prometheus metrics 端点（不需要认证，供 Prometheus 抓取）
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if enablePprof {
		pprofGroup := r.Group("/debug/pprof")
		{
			pprofGroup.GET("/", gin.WrapF(pprof.Index))
			pprofGroup.GET("/cmdline", gin.WrapF(pprof.Cmdline))
			pprofGroup.GET("/profile", gin.WrapF(pprof.Profile))
			pprofGroup.GET("/symbol", gin.WrapF(pprof.Symbol))
			pprofGroup.GET("/trace", gin.WrapF(pprof.Trace))
			pprofGroup.GET("/goroutine", gin.WrapH(pprof.Handler("goroutine")))
			pprofGroup.GET("/heap", gin.WrapH(pprof.Handler("heap")))
		}
	}

	// 只读 API
	api := r.Group("/api")
	{
		accounts := api.Group("/accounts/:id")
		{
			accounts.GET("", h.getAccount)
			accounts.GET("/metrics", h.getAccountMetrics)
			accounts.GET("/orders", h.getAccountOrders)
		}
	}
}
