package network

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 512
	// Upper bound for one engine call, save included.
	actionTimeout = 5 * time.Second
)

// Action types accepted from the UI.
const (
	ActionClick    = "CLICK"
	ActionPurchase = "PURCHASE"
	ActionReset    = "RESET"
	ActionSync     = "SYNC"
)

const errRateLimited = "rate limited"

// PlayerAction represents an incoming command from the frontend.
type PlayerAction struct {
	Type      string `json:"type"`
	UpgradeID string `json:"upgrade_id,omitempty"` // PURCHASE only
}

// Client is one WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	// limiter is nil when the hub has no action rate.
	limiter *rate.Limiter
	// closed is set by the hub, under hub.mu, when send is closed.
	closed bool
}

// NewClient creates a new WebSocket client and returns it.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	c := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, hub.sendBuffer),
	}
	if hub.actionRate > 0 {
		c.limiter = rate.NewLimiter(hub.actionRate, hub.burst)
	}
	return c
}

// Register adds the client to the hub.
func (c *Client) Register() {
	select {
	case c.hub.register <- c:
	case <-c.hub.done:
		c.hub.mu.Lock()
		c.hub.reserved--
		c.closed = true
		close(c.send)
		c.hub.mu.Unlock()
	}
}

// ReadPump pumps messages from the websocket connection to the engine.
func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
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
				c.hub.logger.Warn("websocket read failed", "err", err)
				c.hub.metrics.RecordWSError()
			}
			break
		}
		c.hub.metrics.RecordWSMessage(true)

		if c.limiter != nil && !c.limiter.Allow() {
			c.sendMessage(Message{Type: MsgTypeError, Error: errRateLimited})
			continue
		}

		var action PlayerAction
		if err := json.Unmarshal(message, &action); err != nil {
			c.hub.logger.Warn("failed to parse player action", "err", err)
			c.sendMessage(Message{Type: MsgTypeError, Error: "malformed action"})
			continue
		}

		c.handlePlayerAction(action)
	}
}

func (c *Client) handlePlayerAction(action PlayerAction) {
	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	defer cancel()

	game := c.hub.game
	switch action.Type {
	case ActionClick:
		res := game.Click(ctx)
		c.sendMessage(Message{Type: MsgTypeResult, Action: action.Type, Result: res})
		if res.Accepted {
			c.hub.BroadcastState()
		}
	case ActionPurchase:
		res := game.Purchase(ctx, action.UpgradeID)
		msg := Message{Type: MsgTypeResult, Action: action.Type, Result: res}
		if res.Err != nil {
			msg.Error = res.Err.Error()
		}
		c.sendMessage(msg)
		if res.OK() {
			c.hub.BroadcastState()
		}
	case ActionReset:
		game.Reset(ctx)
		c.hub.BroadcastState()
	case ActionSync:
		v := game.View()
		c.sendMessage(Message{Type: MsgTypeState, State: &v})
	default:
		c.hub.logger.Warn("unknown player action", "type", action.Type)
		c.sendMessage(Message{Type: MsgTypeError, Action: action.Type, Error: "unknown action"})
	}
}

// sendMessage queues a frame for this client only.
func (c *Client) sendMessage(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.Error("failed to serialize message", "type", msg.Type, "err", err)
		return
	}

	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		c.hub.metrics.RecordWSError()
	}
}

// WritePump pumps messages from the hub to the websocket connection.
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
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.metrics.RecordWSError()
				return
			}
			c.hub.metrics.RecordWSMessage(false)
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
