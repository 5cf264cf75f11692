// Package network bridges the engine to a local UI over WebSocket and HTTP.
package network

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/mechafrog/ptm/server/internal/engine"
	"github.com/mechafrog/ptm/server/internal/events"
	"github.com/mechafrog/ptm/server/internal/platform/logger"
	"github.com/mechafrog/ptm/server/internal/platform/metrics"
)

// Game is the slice of the engine the bridge drives. *engine.Engine
// implements it.
type Game interface {
	Click(ctx context.Context) engine.ClickResult
	Purchase(ctx context.Context, upgradeID string) engine.PurchaseResult
	Reset(ctx context.Context)
	View() engine.View
	EventLog() *events.EventLog
}

// Message types pushed to clients.
const (
	MsgTypeState  = "state"
	MsgTypeEvent  = "event"
	MsgTypeResult = "result"
	MsgTypeError  = "error"
)

// Message is a single frame sent to the UI.
type Message struct {
	Type   string            `json:"type"`
	State  *engine.View      `json:"state,omitempty"`
	Event  *events.GameEvent `json:"event,omitempty"`
	Action string            `json:"action,omitempty"`
	Result interface{}       `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// HubOptions tunes buffers and limits. Zero values get defaults.
type HubOptions struct {
	BroadcastBuffer  int
	ClientSendBuffer int
	MaxClients       int // 0 means unlimited
	Logger           *logger.Logger
	Metrics          *metrics.Collector
	// ActionRate caps inbound frames per second per connection, with
	// ActionBurst allowed at once. 0 means unlimited.
	ActionRate  float64
	ActionBurst int
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	game       Game
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex
	sendBuffer int
	maxClients int
	// reserved counts upgrades admitted but not yet registered. Guarded by mu.
	reserved   int
	actionRate rate.Limit
	burst      int
	logger     *logger.Logger
	metrics    *metrics.Collector
	upgrader   websocket.Upgrader
}

// NewHub initializes a new WebSocket Hub.
func NewHub(game Game, opts HubOptions) *Hub {
	if opts.BroadcastBuffer <= 0 {
		opts.BroadcastBuffer = 256
	}
	if opts.ClientSendBuffer <= 0 {
		opts.ClientSendBuffer = 64
	}
	if opts.ActionRate > 0 && opts.ActionBurst <= 0 {
		opts.ActionBurst = int(opts.ActionRate) + 1
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Get()
	}
	return &Hub{
		game:       game,
		broadcast:  make(chan []byte, opts.BroadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		sendBuffer: opts.ClientSendBuffer,
		maxClients: opts.MaxClients,
		actionRate: rate.Limit(opts.ActionRate),
		burst:      opts.ActionBurst,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // the UI may be served from a dev server on another port
			},
		},
	}
}

// Run starts the Hub's main loop to handle client connections and broadcasts.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			h.logger.Info("websocket hub shutting down")
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.reserved--
			h.mu.Unlock()
			h.metrics.RecordWSConnection(1)
			h.logger.Info("websocket client connected", "clients", h.ClientCount())
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.logger.Info("websocket client disconnected")
			}
			h.mu.Unlock()
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// too slow to keep up; drop it
					h.drop(client)
					h.metrics.RecordWSError()
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes a client and closes its queue. Caller holds h.mu.
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	client.closed = true
	close(client.send)
	h.metrics.RecordWSConnection(-1)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast serializes msg and queues it for every client. It never blocks
// the caller; when the queue is full the frame is dropped.
func (h *Hub) Broadcast(msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to serialize message for broadcast", "type", msg.Type, "err", err)
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("broadcast queue full, frame dropped", "type", msg.Type)
		h.metrics.RecordWSError()
	}
}

// BroadcastState pushes the current view to every client.
func (h *Hub) BroadcastState() {
	v := h.game.View()
	h.Broadcast(Message{Type: MsgTypeState, State: &v})
}

// BroadcastEvent pushes one ledger event to every client.
func (h *Hub) BroadcastEvent(event events.GameEvent) {
	h.Broadcast(Message{Type: MsgTypeEvent, Event: &event})
}

// StartEventPoller tails the event log and pushes new events to the hub,
// followed by a state frame whenever anything changed. Passive income
// changes the state without an event, so a tick alone also triggers a
// state frame.
func (h *Hub) StartEventPoller(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	// Read before the goroutine starts so events recorded right after
	// this call are not skipped.
	eventLog := h.game.EventLog()
	lastSeq := eventLog.LastSeq()

	go func() {
		pollInterval := time.NewTicker(interval)
		defer pollInterval.Stop()

		var lastTick time.Time

		for {
			select {
			case <-ctx.Done():
				return
			case <-pollInterval.C:
				newEvents := eventLog.Since(lastSeq)
				for _, event := range newEvents {
					h.BroadcastEvent(event)
					lastSeq = event.Seq
				}

				v := h.game.View()
				if len(newEvents) > 0 || !v.LastTick.Equal(lastTick) {
					lastTick = v.LastTick
					h.Broadcast(Message{Type: MsgTypeState, State: &v})
				}
			}
		}
	}()
}

// reserve claims a client slot before the upgrade. It fails when
// connected plus pending clients already reach the cap.
func (h *Hub) reserve() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.maxClients > 0 && len(h.clients)+h.reserved >= h.maxClients {
		return false
	}
	h.reserved++
	return true
}

func (h *Hub) release() {
	h.mu.Lock()
	h.reserved--
	h.mu.Unlock()
}

// ServeWS upgrades the request and attaches a new client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.reserve() {
		http.Error(w, "too many clients", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.release()
		h.logger.Error("failed to upgrade websocket connection", "err", err)
		h.metrics.RecordWSError()
		return
	}

	client := NewClient(h, conn)
	client.Register()

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.WritePump()
	go client.ReadPump()

	client.sendMessage(Message{Type: MsgTypeState, State: ptr(h.game.View())})
}

func ptr[T any](v T) *T { return &v }
