package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Easycoder-lin/CHU-sub000/internal/models"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one websocket connection following a product.
type Client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	product models.ProductID

	send chan []byte
	done chan struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn, product models.ProductID) *Client {
	return &Client{
		id:      uuid.NewString(),
		hub:     hub,
		conn:    conn,
		product: product,
		send:    make(chan []byte, 256),
		done:    make(chan struct{}),
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Product() models.ProductID {
	return c.product
}

// ReadPump reads subscription requests until the connection drops.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
		close(c.done)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).WithField("client", c.id).Warn("websocket closed unexpectedly")
			}
			return
		}
		c.handleMessage(message)
	}
}

// WritePump writes queued messages, one frame per message, and pings
// the peer.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

func (c *Client) handleMessage(message []byte) {
	var msg SubscriptionMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.hub.sendError(c.id, "INVALID_MESSAGE", "message must be a JSON subscription request")
		return
	}

	var unknown []models.ProductID
	for _, p := range msg.Products {
		if c.hub.source != nil && !c.hub.source.IsKnown(p) {
			unknown = append(unknown, p)
		}
	}
	if len(unknown) > 0 {
		c.reply(NewSubscriptionAck(msg.Action, false, unknown, "unknown product"))
		return
	}

	subs := c.hub.Subscriptions()
	switch msg.Action {
	case "subscribe":
		for _, p := range msg.Products {
			subs.Subscribe(c.id, p)
		}
	case "unsubscribe":
		for _, p := range msg.Products {
			subs.Unsubscribe(c.id, p)
		}
	default:
		c.reply(NewSubscriptionAck(msg.Action, false, msg.Products, "action must be subscribe or unsubscribe"))
		return
	}
	c.reply(NewSubscriptionAck(msg.Action, true, msg.Products, ""))
}

func (c *Client) reply(v interface{}) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.byID[c.id]; ok {
		c.hub.sendTo(c, EventTypeSubscription, toJSON(v))
	}
}
