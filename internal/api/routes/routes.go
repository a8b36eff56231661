package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coreledger/txcore/internal/api/handlers"
	"github.com/coreledger/txcore/internal/api/middleware"
)

// Register wires every HTTP route against deps.
func Register(router *gin.Engine, deps handlers.Dependencies) {
	router.Use(middleware.RequestLog())
	router.Use(middleware.Prometheus())

	router.POST("/accounts/:id/deposit", handlers.MakeDepositHandler(deps))
	router.POST("/accounts/:id/withdraw", handlers.MakeWithdrawHandler(deps))
	router.POST("/transfers", handlers.MakeTransferHandler(deps))
	router.POST("/transactions/:id/reverse", handlers.MakeReversalHandler(deps))

	router.GET("/transactions", handlers.MakeSearchHandler(deps))
	router.GET("/transactions/:id", handlers.MakeGetByIDHandler(deps))
	router.GET("/accounts/:id/transactions", handlers.MakeGetByAccountHandler(deps))
	router.GET("/callers/:caller/transactions", handlers.MakeGetByCallerHandler(deps))

	router.GET("/healthz", func(c *gin.Context) { c.Status(200) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
