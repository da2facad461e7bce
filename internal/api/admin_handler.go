package api

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Easycoder-lin/CHU-sub000/internal/cache"
	"github.com/Easycoder-lin/CHU-sub000/internal/engine"
	"github.com/Easycoder-lin/CHU-sub000/internal/middleware"
	"github.com/Easycoder-lin/CHU-sub000/internal/models"
	"github.com/Easycoder-lin/CHU-sub000/internal/ws"
)

// Pinger is a backend that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SnapshotLoader reads the last market snapshot written to the cache.
type SnapshotLoader interface {
	LoadMarketSnapshot(ctx context.Context) (*cache.MarketSnapshot, error)
}

// AdminHandler exposes operational views. Every dependency except the
// registry is optional.
type AdminHandler struct {
	reg       *engine.Registry
	hub       *ws.Hub
	backends  map[string]Pinger
	breakers  *middleware.CircuitBreakerManager
	snapshots SnapshotLoader
	started   time.Time
}

func NewAdminHandler(reg *engine.Registry, hub *ws.Hub, backends map[string]Pinger, breakers *middleware.CircuitBreakerManager, snapshots SnapshotLoader) *AdminHandler {
	return &AdminHandler{
		reg:       reg,
		hub:       hub,
		backends:  backends,
		breakers:  breakers,
		snapshots: snapshots,
		started:   time.Now(),
	}
}

func (h *AdminHandler) RegisterRoutes(r *gin.Engine) {
	admin := r.Group("/admin")
	{
		admin.GET("/health", h.Health)
		admin.GET("/books", h.Books)
		admin.GET("/connections", h.Connections)
		admin.GET("/breakers", h.Breakers)
		admin.GET("/snapshot", h.Snapshot)
	}
}

type AdminHealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Services  map[string]string `json:"services"`
	System    SystemInfo        `json:"system"`
}

type SystemInfo struct {
	GoVersion  string  `json:"go_version"`
	GoRoutines int     `json:"goroutines"`
	MemoryMB   float64 `json:"memory_mb"`
}

// Health pings every configured backend. A failing backend degrades the
// service but never fails it: the engine keeps matching in memory.
func (h *AdminHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	services := map[string]string{"engine": "healthy"}
	status := "healthy"
	for name, p := range h.backends {
		if err := p.Ping(ctx); err != nil {
			services[name] = "unhealthy: " + err.Error()
			status = "degraded"
			continue
		}
		services[name] = "healthy"
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	c.JSON(http.StatusOK, AdminHealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Services:  services,
		System: SystemInfo{
			GoVersion:  runtime.Version(),
			GoRoutines: runtime.NumGoroutine(),
			MemoryMB:   float64(mem.Alloc) / 1024 / 1024,
		},
	})
}

type BookStats struct {
	Product    models.ProductID `json:"product"`
	LiveOrders int              `json:"live_orders"`
	BidLevels  int              `json:"bid_levels"`
	AskLevels  int              `json:"ask_levels"`
	BestBid    *models.Price    `json:"best_bid"`
	BestAsk    *models.Price    `json:"best_ask"`
	Spread     *models.Price    `json:"spread"`
	CanCross   bool             `json:"can_cross"`
	Trades     int              `json:"trades"`
}

// Books reports per-product book statistics.
func (h *AdminHandler) Books(c *gin.Context) {
	products := h.reg.Products()
	stats := make([]BookStats, 0, len(products))

	for _, p := range products {
		snap := h.reg.Snapshot(p.ID)
		summary := snap.Summary()
		live := 0
		for _, lvl := range snap.Bids {
			live += lvl.Orders
		}
		for _, lvl := range snap.Asks {
			live += lvl.Orders
		}

		stats = append(stats, BookStats{
			Product:    p.ID,
			LiveOrders: live,
			BidLevels:  len(snap.Bids),
			AskLevels:  len(snap.Asks),
			BestBid:    summary.BestBid,
			BestAsk:    summary.BestAsk,
			Spread:     summary.Spread,
			CanCross:   summary.CanCross,
			Trades:     len(h.reg.Trades(p.ID)),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"books":        stats,
		"active_books": h.reg.BookCount(),
	})
}

// Connections reports websocket clients per product.
func (h *AdminHandler) Connections(c *gin.Context) {
	if h.hub == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}

	perProduct := make(map[models.ProductID]int)
	for _, p := range h.hub.Products() {
		perProduct[p] = h.hub.ClientCount(p)
	}

	c.JSON(http.StatusOK, gin.H{
		"enabled":           true,
		"total_connections": h.hub.TotalClientCount(),
		"products":          perProduct,
	})
}

func (h *AdminHandler) Breakers(c *gin.Context) {
	if h.breakers == nil {
		c.JSON(http.StatusOK, gin.H{"breakers": []middleware.CircuitBreakerMetrics{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"breakers": h.breakers.Metrics()})
}

// Snapshot returns the last market snapshot persisted to Redis.
func (h *AdminHandler) Snapshot(c *gin.Context) {
	if h.snapshots == nil {
		AbortWithError(c, http.StatusNotFound, ErrCodeInvalidRequest, "snapshots are not enabled")
		return
	}

	snap, err := h.snapshots.LoadMarketSnapshot(c.Request.Context())
	if errors.Is(err, cache.ErrMiss) {
		AbortWithError(c, http.StatusNotFound, ErrCodeInvalidRequest, "no snapshot written yet")
		return
	}
	if err != nil {
		c.Error(err)
		AbortWithError(c, http.StatusServiceUnavailable, ErrCodeInternalError, "snapshot unavailable")
		return
	}
	c.JSON(http.StatusOK, snap)
}
