package network

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mechafrog/ptm/server/internal/domain/catalog"
	"github.com/mechafrog/ptm/server/internal/domain/progress"
	"github.com/mechafrog/ptm/server/internal/economy"
	"github.com/mechafrog/ptm/server/internal/engine"
	"github.com/mechafrog/ptm/server/internal/infra/storage"
	"github.com/mechafrog/ptm/server/internal/platform/logger"
	"github.com/mechafrog/ptm/server/internal/platform/metrics"
)

func newGame(t *testing.T, currency float64) *engine.Engine {
	t.Helper()
	ctx := context.Background()
	cat := catalog.Default()
	slot := storage.NewSaveSlot(storage.NewMemoryKV(), cat, "", progress.Defaults{})

	if currency > 0 {
		st := slot.Fresh(time.Now().Truncate(time.Millisecond))
		st.Currency = currency
		require.NoError(t, slot.Save(ctx, st))
	}

	eng := engine.NewEngine(economy.New(cat, economy.Rules{}), slot, engine.Options{
		Logger:             logger.Discard(),
		Metrics:            metrics.NewCollector(),
		MaxClicksPerSecond: 100,
	})
	eng.Load(ctx)
	return eng
}

func newServer(t *testing.T, game *engine.Engine) (*httptest.Server, *Hub) {
	t.Helper()
	hub := NewHub(game, HubOptions{Logger: logger.Discard(), Metrics: metrics.NewCollector()})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	mux := http.NewServeMux()
	NewAPI(game, hub, logger.Discard()).RegisterRoutes(mux)
	NewHistoryHandler(game.EventLog(), nil, game.SlotKey(), logger.Discard()).RegisterRoutes(mux)
	mux.HandleFunc("/ws", hub.ServeWS)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, hub
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAPIState(t *testing.T) {
	srv, _ := newServer(t, newGame(t, 0))

	resp, err := http.Get(srv.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v engine.View
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	assert.Equal(t, "mf_ptm_v2", v.Slot)
	assert.Equal(t, 50.0, v.Hashrate)
	assert.Len(t, v.Upgrades, 5)
}

func TestAPIClick(t *testing.T) {
	game := newGame(t, 0)
	srv, _ := newServer(t, game)

	resp := postJSON(t, srv.URL+"/api/click", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res engine.ClickResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.True(t, res.Accepted)
	assert.Equal(t, 3.0, res.Amount)
	assert.Equal(t, int64(1), game.State().Stats.Clicks)
}

func TestAPIPurchase(t *testing.T) {
	game := newGame(t, 150)
	srv, _ := newServer(t, game)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"buys", `{"upgrade_id":"rig1"}`, http.StatusOK},
		{"cannot afford", `{"upgrade_id":"rig1"}`, http.StatusConflict},
		{"unknown", `{"upgrade_id":"warp"}`, http.StatusNotFound},
		{"missing id", `{}`, http.StatusBadRequest},
		{"bad body", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/api/purchase", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}

	assert.Equal(t, 1, game.State().Owned("rig1"))
}

func TestAPIReset(t *testing.T) {
	game := newGame(t, 999)
	srv, _ := newServer(t, game)

	resp := postJSON(t, srv.URL+"/api/reset", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0.0, game.State().Currency)
}

func TestAPIMethodNotAllowed(t *testing.T) {
	srv, _ := newServer(t, newGame(t, 0))

	resp, err := http.Get(srv.URL + "/api/click")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHistory(t *testing.T) {
	game := newGame(t, 150)
	srv, _ := newServer(t, game)
	ctx := context.Background()
	game.Click(ctx)
	game.Purchase(ctx, "rig1")
	game.Purchase(ctx, "rig1")

	resp, err := http.Get(srv.URL + "/api/history?type=PURCHASE")
	require.NoError(t, err)
	defer resp.Body.Close()

	var hr HistoryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hr))
	assert.Equal(t, "memory", hr.Source)
	require.Len(t, hr.Events, 1)
	assert.Equal(t, "Bought rig1.", hr.Events[0].Summary)

	resp2, err := http.Get(srv.URL + "/api/history?limit=x")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)

	resp3, err := http.Get(srv.URL + "/api/history?source=ledger")
	require.NoError(t, err)
	resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Type   string          `json:"type"`
	State  *engine.View    `json:"state"`
	Action string          `json:"action"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// readFrame returns the next frame of the wanted type, skipping others.
func readFrame(t *testing.T, conn *websocket.Conn, want string) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var f frame
		require.NoError(t, json.Unmarshal(data, &f))
		if f.Type == want {
			return f
		}
	}
}

func TestWebSocketSession(t *testing.T) {
	game := newGame(t, 0)
	srv, hub := newServer(t, game)
	conn := dial(t, srv)

	initial := readFrame(t, conn, MsgTypeState)
	require.NotNil(t, initial.State)
	assert.Equal(t, 0.0, initial.State.Currency)
	assert.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(PlayerAction{Type: ActionClick}))
	res := readFrame(t, conn, MsgTypeResult)
	assert.Equal(t, ActionClick, res.Action)
	var click engine.ClickResult
	require.NoError(t, json.Unmarshal(res.Result, &click))
	assert.True(t, click.Accepted)

	pushed := readFrame(t, conn, MsgTypeState)
	assert.Equal(t, 3.0, pushed.State.Currency)

	require.NoError(t, conn.WriteJSON(PlayerAction{Type: ActionPurchase, UpgradeID: "rig1"}))
	res = readFrame(t, conn, MsgTypeResult)
	assert.Equal(t, ActionPurchase, res.Action)
	assert.Equal(t, economy.ErrInsufficientFunds.Error(), res.Error)

	require.NoError(t, conn.WriteJSON(PlayerAction{Type: "DANCE"}))
	bad := readFrame(t, conn, MsgTypeError)
	assert.Equal(t, "unknown action", bad.Error)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	bad = readFrame(t, conn, MsgTypeError)
	assert.Equal(t, "malformed action", bad.Error)

	require.NoError(t, conn.WriteJSON(PlayerAction{Type: ActionSync}))
	synced := readFrame(t, conn, MsgTypeState)
	assert.Equal(t, int64(1), synced.State.Stats.Clicks)
}

func TestEventPollerPushesEvents(t *testing.T) {
	game := newGame(t, 0)
	srv, hub := newServer(t, game)
	conn := dial(t, srv)
	readFrame(t, conn, MsgTypeState)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.StartEventPoller(ctx, 10*time.Millisecond)

	game.Reset(context.Background())

	f := readFrame(t, conn, MsgTypeEvent)
	assert.Equal(t, MsgTypeEvent, f.Type)
}

func TestMaxClients(t *testing.T) {
	game := newGame(t, 0)
	hub := NewHub(game, HubOptions{MaxClients: 1, Logger: logger.Discard(), Metrics: metrics.NewCollector()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	first, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestActionRateLimit(t *testing.T) {
	game := newGame(t, 0)
	hub := NewHub(game, HubOptions{ActionRate: 1, ActionBurst: 1, Logger: logger.Discard(), Metrics: metrics.NewCollector()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	readFrame(t, conn, MsgTypeState)

	require.NoError(t, conn.WriteJSON(PlayerAction{Type: ActionClick}))
	require.NoError(t, conn.WriteJSON(PlayerAction{Type: ActionClick}))

	res := readFrame(t, conn, MsgTypeResult)
	assert.Equal(t, ActionClick, res.Action)
	limited := readFrame(t, conn, MsgTypeError)
	assert.Equal(t, errRateLimited, limited.Error)
	assert.Equal(t, int64(1), game.State().Stats.Clicks)
}

func TestMaxClientsUnderConcurrentUpgrades(t *testing.T) {
	game := newGame(t, 0)
	hub := NewHub(game, HubOptions{MaxClients: 2, Logger: logger.Discard(), Metrics: metrics.NewCollector()})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	var (
		wg       sync.WaitGroup
		admitted atomic.Int64
		mu       sync.Mutex
		conns    []*websocket.Conn
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err != nil {
				return
			}
			admitted.Add(1)
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}()
	}
	wg.Wait()
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	assert.Equal(t, int64(2), admitted.Load())
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)
}
