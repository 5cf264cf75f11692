package network

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/mechafrog/ptm/server/internal/economy"
	"github.com/mechafrog/ptm/server/internal/platform/logger"
)

// API is the REST face of the game for UIs that poll instead of holding a
// socket open. Every mutation is also pushed to WebSocket clients.
type API struct {
	game   Game
	hub    *Hub
	logger *logger.Logger
}

// NewAPI creates the REST handler set. hub may be nil.
func NewAPI(game Game, hub *Hub, log *logger.Logger) *API {
	return &API{game: game, hub: hub, logger: log}
}

// PurchaseRequest is the body of POST /api/purchase.
type PurchaseRequest struct {
	UpgradeID string `json:"upgrade_id"`
}

// HandleState returns the current view.
// GET /api/state
func (a *API) HandleState(w http.ResponseWriter, r *http.Request) {
	a.jsonSuccess(w, a.game.View())
}

// HandleClick applies one click.
// POST /api/click
func (a *API) HandleClick(w http.ResponseWriter, r *http.Request) {
	res := a.game.Click(r.Context())
	if res.Accepted {
		a.notify()
	}
	a.jsonSuccess(w, res)
}

// HandlePurchase buys one unit of an upgrade.
// POST /api/purchase
func (a *API) HandlePurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxMessageSize)).Decode(&req); err != nil {
		a.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UpgradeID == "" {
		a.jsonError(w, "missing upgrade_id", http.StatusBadRequest)
		return
	}

	res := a.game.Purchase(r.Context(), req.UpgradeID)
	switch {
	case errors.Is(res.Err, economy.ErrUnknownUpgrade):
		a.jsonError(w, res.Err.Error(), http.StatusNotFound)
	case errors.Is(res.Err, economy.ErrInsufficientFunds):
		a.jsonError(w, res.Err.Error(), http.StatusConflict)
	default:
		a.notify()
		a.jsonSuccess(w, res)
	}
}

// HandleReset wipes progress.
// POST /api/reset
func (a *API) HandleReset(w http.ResponseWriter, r *http.Request) {
	a.game.Reset(r.Context())
	a.logger.Info("progress reset over http", "remote", r.RemoteAddr)
	a.notify()
	a.jsonSuccess(w, a.game.View())
}

// RegisterRoutes sets up the game API routes.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/state", a.HandleState)
	mux.HandleFunc("POST /api/click", a.HandleClick)
	mux.HandleFunc("POST /api/purchase", a.HandlePurchase)
	mux.HandleFunc("POST /api/reset", a.HandleReset)
}

func (a *API) notify() {
	if a.hub != nil {
		a.hub.BroadcastState()
	}
}

// jsonError sends an error response.
func (a *API) jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// jsonSuccess sends a success response.
func (a *API) jsonSuccess(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, data)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
