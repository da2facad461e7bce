package ws

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Easycoder-lin/CHU-sub000/internal/engine"
	"github.com/Easycoder-lin/CHU-sub000/internal/metrics"
	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

// MarketSource is the read side of the engine the hub needs.
type MarketSource interface {
	IsKnown(product models.ProductID) bool
	Snapshot(product models.ProductID) engine.DepthSnapshot
	Trades(product models.ProductID) []models.Trade
}

type HubConfig struct {
	HeartbeatInterval time.Duration
	RecentTradesLimit int
}

func DefaultHubConfig() *HubConfig {
	return &HubConfig{
		HeartbeatInterval: 30 * time.Second,
		RecentTradesLimit: 50,
	}
}

// outbound is a message for every client following product, or for all
// clients when product is empty.
type outbound struct {
	product models.ProductID
	kind    EventType
	data    []byte
}

// Hub keeps the connected clients per product and fans engine events
// out to them. Register, unregister and broadcast are serialized
// through Run.
type Hub struct {
	clients map[models.ProductID]map[*Client]bool
	byID    map[string]*Client

	register   chan *Client
	unregister chan *Client
	broadcast  chan outbound

	subscriptions *SubscriptionManager
	source        MarketSource
	cfg           *HubConfig
	log           logrus.FieldLogger
	metrics       *metrics.Metrics

	sequence int64
	stop     chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex
}

func NewHub(cfg *HubConfig, source MarketSource, log logrus.FieldLogger, m *metrics.Metrics) *Hub {
	if cfg == nil {
		cfg = DefaultHubConfig()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}

	return &Hub{
		clients:       make(map[models.ProductID]map[*Client]bool),
		byID:          make(map[string]*Client),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		broadcast:     make(chan outbound, 256),
		subscriptions: NewSubscriptionManager(),
		source:        source,
		cfg:           cfg,
		log:           log,
		metrics:       m,
		stop:          make(chan struct{}),
	}
}

// Run is the hub's event loop. It returns after Stop.
func (h *Hub) Run() {
	heartbeat := time.NewTicker(h.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-h.stop:
			h.closeAll()
			h.log.Info("websocket hub stopped")
			return

		case <-heartbeat.C:
			h.deliver(outbound{kind: EventTypeHeartbeat, data: toJSON(NewHeartbeatEvent(h.nextSequence()))})

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.product] == nil {
				h.clients[client.product] = make(map[*Client]bool)
			}
			h.clients[client.product][client] = true
			h.byID[client.id] = client
			count := len(h.clients[client.product])
			h.mu.Unlock()

			if h.metrics != nil {
				h.metrics.WSConnections.Inc()
			}
			h.log.WithFields(logrus.Fields{
				"client":  client.id,
				"product": client.product,
				"clients": count,
			}).Debug("websocket client registered")

			h.sendSnapshot(client)

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// Stop closes every client and ends Run. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *Hub) remove(client *Client) {
	h.subscriptions.UnsubscribeAll(client.id)

	h.mu.Lock()
	clients, ok := h.clients[client.product]
	if !ok || !clients[client] {
		h.mu.Unlock()
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.clients, client.product)
	}
	delete(h.byID, client.id)
	close(client.send)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSConnections.Dec()
	}
	h.log.WithFields(logrus.Fields{"client": client.id, "product": client.product}).Debug("websocket client unregistered")
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for product, clients := range h.clients {
		for client := range clients {
			close(client.send)
			if h.metrics != nil {
				h.metrics.WSConnections.Dec()
			}
		}
		delete(h.clients, product)
	}
	h.byID = make(map[string]*Client)
}

func (h *Hub) nextSequence() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sequence++
	return h.sequence
}

// Sequence returns the last sequence number handed out.
func (h *Hub) Sequence() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sequence
}

// Snapshot builds the initial message for a product.
func (h *Hub) Snapshot(product models.ProductID) *SnapshotEvent {
	book := h.source.Snapshot(product)
	trades := h.source.Trades(product)
	if limit := h.cfg.RecentTradesLimit; limit > 0 && len(trades) > limit {
		trades = trades[:limit]
	}
	return NewSnapshotEvent(book, trades, h.Sequence())
}

func (h *Hub) sendSnapshot(client *Client) {
	if h.source == nil {
		return
	}
	h.sendTo(client, EventTypeSnapshot, toJSON(h.Snapshot(client.product)))
}

// recipients returns the clients following product: those connected on
// it plus those subscribed to it. Callers hold h.mu.
func (h *Hub) recipients(product models.ProductID) []*Client {
	out := make([]*Client, 0, len(h.clients[product]))
	seen := make(map[*Client]bool)
	for client := range h.clients[product] {
		out = append(out, client)
		seen[client] = true
	}
	for _, id := range h.subscriptions.SubscribedClients(product) {
		if client, ok := h.byID[id]; ok && !seen[client] {
			out = append(out, client)
			seen[client] = true
		}
	}
	return out
}

func (h *Hub) deliver(msg outbound) {
	if msg.data == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if msg.product == "" {
		for _, clients := range h.clients {
			for client := range clients {
				h.sendTo(client, msg.kind, msg.data)
			}
		}
		return
	}

	for _, client := range h.recipients(msg.product) {
		h.sendTo(client, msg.kind, msg.data)
	}
}

func (h *Hub) sendTo(client *Client, kind EventType, data []byte) {
	select {
	case client.send <- data:
		if h.metrics != nil {
			h.metrics.RecordWSSent(string(client.product), string(kind))
		}
	default:
		h.log.WithField("client", client.id).Warn("websocket send buffer full, dropping message")
	}
}

func (h *Hub) enqueue(msg outbound) {
	select {
	case h.broadcast <- msg:
	case <-h.stop:
	}
}

// OnExecution pushes a trade and the resulting depth.
func (h *Hub) OnExecution(e engine.Execution) {
	h.enqueue(outbound{product: e.Trade.Product, kind: EventTypeTrade, data: toJSON(NewTradeEvent(e.Trade))})
	h.publishDepth(e.Trade.Product)
}

// OnOrder pushes an order status change and the resulting depth.
func (h *Hub) OnOrder(o models.Order) {
	h.enqueue(outbound{product: o.Product, kind: EventTypeOrderUpdate, data: toJSON(NewOrderUpdateEvent(o))})
	h.publishDepth(o.Product)
}

// OnSettlement pushes a settlement outcome. A failed settlement revives
// liquidity, so depth follows.
func (h *Hub) OnSettlement(t models.Trade) {
	h.enqueue(outbound{product: t.Product, kind: EventTypeSettlement, data: toJSON(NewSettlementEvent(t))})
	if t.Settlement == models.SettlementFailed {
		h.publishDepth(t.Product)
	}
}

func (h *Hub) publishDepth(product models.ProductID) {
	if h.source == nil || !h.HasAudience(product) {
		return
	}
	book := h.source.Snapshot(product)
	h.enqueue(outbound{product: product, kind: EventTypeDepth, data: toJSON(NewDepthEvent(book, h.nextSequence()))})
}

func (h *Hub) sendError(clientID, code, message string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if client, ok := h.byID[clientID]; ok {
		h.sendTo(client, EventTypeError, toJSON(NewErrorEvent(code, message)))
	}
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.stop:
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stop:
	}
}

// HasAudience reports whether any client follows product.
func (h *Hub) HasAudience(product models.ProductID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[product]) > 0 || len(h.subscriptions.SubscribedClients(product)) > 0
}

func (h *Hub) ClientCount(product models.ProductID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[product])
}

func (h *Hub) TotalClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byID)
}

// Products lists the products with connected clients.
func (h *Hub) Products() []models.ProductID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]models.ProductID, 0, len(h.clients))
	for p := range h.clients {
		out = append(out, p)
	}
	return out
}

func (h *Hub) Subscriptions() *SubscriptionManager {
	return h.subscriptions
}
