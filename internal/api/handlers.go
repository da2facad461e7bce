package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Easycoder-lin/CHU-sub000/internal/engine"
	"github.com/Easycoder-lin/CHU-sub000/internal/metrics"
	"github.com/Easycoder-lin/CHU-sub000/internal/middleware"
	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

// Handler serves the order, trade and market endpoints. It is a thin
// adapter: every decision is made by the registry.
type Handler struct {
	reg     *engine.Registry
	log     logrus.FieldLogger
	metrics *metrics.Metrics
}

func NewHandler(reg *engine.Registry, log logrus.FieldLogger, m *metrics.Metrics) *Handler {
	return &Handler{reg: reg, log: log, metrics: m}
}

type PlaceOrderRequest struct {
	Product     models.ProductID `json:"product"`
	Side        models.Side      `json:"side" binding:"required"`
	Price       models.Price     `json:"price"`
	Quantity    int64            `json:"quantity"`
	Actor       models.Role      `json:"actor"`
	Wallet      string           `json:"wallet"`
	ExternalRef string           `json:"external_ref"`
}

type PlaceOrderResponse struct {
	Order  models.Order   `json:"order"`
	Trades []models.Trade `json:"trades"`
}

// PlaceOrder handles POST /api/orders. With a token the actor and
// wallet come from its claims.
func (h *Handler) PlaceOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	if claims, ok := middleware.GetClaims(c); ok {
		if req.Actor != "" && req.Actor != claims.Role {
			AbortWithError(c, http.StatusForbidden, ErrCodeForbidden, "actor does not match token role")
			return
		}
		if req.Wallet != "" && claims.Wallet != "" && req.Wallet != claims.Wallet {
			AbortWithError(c, http.StatusForbidden, ErrCodeForbidden, "wallet does not match token wallet")
			return
		}
		req.Actor = claims.Role
		if claims.Wallet != "" {
			req.Wallet = claims.Wallet
		}
	}

	product := models.ProductID(upper(string(req.Product)))
	if product == "" {
		product = h.reg.DefaultProduct()
	}

	res, err := h.reg.PlaceOrder(engine.PlaceOrderInput{
		Product:     product,
		Side:        models.Side(upper(string(req.Side))),
		Price:       req.Price,
		Quantity:    req.Quantity,
		Actor:       models.Role(upper(string(req.Actor))),
		Wallet:      req.Wallet,
		ExternalRef: req.ExternalRef,
	})
	if err != nil {
		var validation *engine.ValidationError
		if h.metrics != nil && errors.As(err, &validation) {
			h.metrics.RecordOrderRejected(validation.Field)
		}
		respondEngineError(c, err)
		return
	}

	trades := res.Trades
	if trades == nil {
		trades = []models.Trade{}
	}
	c.JSON(http.StatusCreated, PlaceOrderResponse{Order: res.Order, Trades: trades})
}

func productParam(c *gin.Context) models.ProductID {
	return models.ProductID(upper(c.Param("product")))
}

// CancelOrder handles DELETE /api/products/:product/orders/:id.
func (h *Handler) CancelOrder(c *gin.Context) {
	product := productParam(c)
	orderID := c.Param("id")

	if claims, ok := middleware.GetClaims(c); ok && claims.Wallet != "" {
		existing, err := h.reg.Order(product, orderID)
		if err != nil {
			respondEngineError(c, err)
			return
		}
		if existing.Wallet != claims.Wallet {
			AbortWithError(c, http.StatusForbidden, ErrCodeForbidden, "order belongs to another wallet")
			return
		}
	}

	order, err := h.reg.CancelOrder(product, orderID)
	if err != nil {
		respondEngineError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// GetOrder handles GET /api/products/:product/orders/:id.
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.reg.Order(productParam(c), c.Param("id"))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// ListOrders handles GET /api/products/:product/orders?side=&status=.
func (h *Handler) ListOrders(c *gin.Context) {
	filter := engine.OrderFilter{
		Side:   models.Side(upper(c.Query("side"))),
		Status: models.Status(upper(c.Query("status"))),
	}
	if filter.Side != "" && !filter.Side.IsValid() {
		AbortWithError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "side must be BUY or SELL")
		return
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		AbortWithError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "status must be OPEN, PARTIAL, FILLED or CANCELLED")
		return
	}

	p := paginationFrom(c)
	orders := page(h.reg.Orders(productParam(c), filter), &p)
	c.JSON(http.StatusOK, gin.H{
		"orders":     orders,
		"pagination": p,
	})
}

// GetBook handles GET /api/products/:product/book.
func (h *Handler) GetBook(c *gin.Context) {
	c.JSON(http.StatusOK, h.reg.Snapshot(productParam(c)))
}

// ListTrades handles GET /api/products/:product/trades, newest first.
func (h *Handler) ListTrades(c *gin.Context) {
	p := paginationFrom(c)
	trades := page(h.reg.Trades(productParam(c)), &p)
	c.JSON(http.StatusOK, gin.H{
		"trades":     trades,
		"pagination": p,
	})
}

// ListAllocations handles GET /api/wallets/:wallet/allocations?product=.
func (h *Handler) ListAllocations(c *gin.Context) {
	wallet := c.Param("wallet")
	product := models.ProductID(upper(c.Query("product")))

	allocations := h.reg.AllocationsByWallet(wallet, product)
	if allocations == nil {
		allocations = []models.Allocation{}
	}
	c.JSON(http.StatusOK, gin.H{
		"wallet":      wallet,
		"allocations": allocations,
		"count":       len(allocations),
	})
}

// ListMarkets handles GET /api/markets.
func (h *Handler) ListMarkets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"markets": h.reg.MarketSummaries()})
}

// ListProducts handles GET /api/products.
func (h *Handler) ListProducts(c *gin.Context) {
	products := h.reg.Products()
	c.JSON(http.StatusOK, gin.H{
		"products": products,
		"default":  h.reg.DefaultProduct(),
		"count":    len(products),
	})
}

type ConfirmSettlementRequest struct {
	LockRef string `json:"lock_ref" binding:"required"`
}

type FailSettlementRequest struct {
	Reason string `json:"reason"`
}

// ConfirmSettlement handles POST /api/products/:product/trades/:id/confirm.
func (h *Handler) ConfirmSettlement(c *gin.Context) {
	var req ConfirmSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	trade, err := h.reg.ConfirmSettlement(productParam(c), c.Param("id"), req.LockRef)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, trade)
}

// FailSettlement handles POST /api/products/:product/trades/:id/fail and
// compensates both orders of the trade.
func (h *Handler) FailSettlement(c *gin.Context) {
	var req FailSettlementRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
			return
		}
	}

	trade, err := h.reg.FailSettlement(productParam(c), c.Param("id"))
	if err != nil {
		respondEngineError(c, err)
		return
	}

	h.log.WithFields(logrus.Fields{
		"trade":  trade.ID,
		"reason": req.Reason,
	}).Info("settlement failure reported over http")
	c.JSON(http.StatusOK, trade)
}
