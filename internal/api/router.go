package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/Easycoder-lin/CHU-sub000/internal/engine"
	"github.com/Easycoder-lin/CHU-sub000/internal/metrics"
	"github.com/Easycoder-lin/CHU-sub000/internal/middleware"
	"github.com/Easycoder-lin/CHU-sub000/internal/ws"
)

// Deps carries everything the routes need. Registry and Log are
// required; nil optional parts switch their feature off.
type Deps struct {
	Registry *engine.Registry
	Log      logrus.FieldLogger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	Auth        *middleware.AuthMiddleware
	SettlerKeys *middleware.APIKeyAuth
	RateLimiter *middleware.RateLimiter

	Hub       *ws.Hub
	Backends  map[string]Pinger
	Breakers  *middleware.CircuitBreakerManager
	Snapshots SnapshotLoader
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggingMiddleware(d.Log, d.Metrics))

	h := NewHandler(d.Registry, d.Log, d.Metrics)
	NewAdminHandler(d.Registry, d.Hub, d.Backends, d.Breakers, d.Snapshots).RegisterRoutes(r)

	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	if d.Auth != nil {
		api.Use(d.Auth.GinMiddleware())
	}
	if d.RateLimiter != nil {
		api.Use(d.RateLimiter.GinMiddleware())
	}
	{
		api.GET("/products", h.ListProducts)
		api.GET("/markets", h.ListMarkets)

		api.POST("/orders", h.PlaceOrder)
		api.GET("/wallets/:wallet/allocations", h.ListAllocations)

		product := api.Group("/products/:product")
		product.GET("/book", h.GetBook)
		product.GET("/orders", h.ListOrders)
		product.GET("/orders/:id", h.GetOrder)
		product.DELETE("/orders/:id", h.CancelOrder)
		product.GET("/trades", h.ListTrades)
	}

	// Settlement outcomes come from the escrow service, which holds an
	// API key rather than a wallet token.
	settle := r.Group("/api/products/:product/trades/:id")
	switch {
	case d.SettlerKeys != nil:
		settle.Use(d.SettlerKeys.RequireScope("settlement"))
	case d.Auth != nil:
		settle.Use(d.Auth.GinMiddleware())
	}
	settle.POST("/confirm", h.ConfirmSettlement)
	settle.POST("/fail", h.FailSettlement)

	if d.Hub != nil {
		wsHandler := ws.NewHandler(d.Hub)
		r.GET("/ws/:product", wsHandler.HandleUpgrade)
		r.GET("/admin/ws", wsHandler.HandleStats)
	}
}
