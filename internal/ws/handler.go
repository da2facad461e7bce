package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// HandleUpgrade upgrades GET /ws/:product. Clients may follow more
// products by sending {"action":"subscribe","products":["NETFLIX-STANDARD-1Y"]}.
func (h *Handler) HandleUpgrade(c *gin.Context) {
	product := models.ProductID(c.Param("product"))
	if h.hub.source != nil && !h.hub.source.IsKnown(product) {
		c.JSON(http.StatusNotFound, gin.H{"code": "PRODUCT_NOT_FOUND", "error": "unknown product"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.hub.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := NewClient(h.hub, conn, product)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

// HandleStats reports connection counts, optionally for one product.
func (h *Handler) HandleStats(c *gin.Context) {
	if product := c.Query("product"); product != "" {
		c.JSON(http.StatusOK, gin.H{
			"product":     product,
			"connections": h.hub.ClientCount(models.ProductID(product)),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_connections":   h.hub.TotalClientCount(),
		"products":            h.hub.Products(),
		"total_subscriptions": h.hub.Subscriptions().ClientCount(),
	})
}
