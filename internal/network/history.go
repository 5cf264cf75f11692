package network

import (
	"net/http"
	"strconv"
	"time"

	"github.com/mechafrog/ptm/server/internal/events"
	"github.com/mechafrog/ptm/server/internal/infra/storage"
	"github.com/mechafrog/ptm/server/internal/platform/logger"
)

// HistoryHandler serves the event ledger: recent events from memory, or
// the full persisted history when a repository is attached.
type HistoryHandler struct {
	eventLog *events.EventLog
	ledger   storage.EventRepository
	slot     string
	logger   *logger.Logger
}

// NewHistoryHandler creates a history handler. ledger may be nil.
func NewHistoryHandler(el *events.EventLog, ledger storage.EventRepository, slot string, log *logger.Logger) *HistoryHandler {
	return &HistoryHandler{eventLog: el, ledger: ledger, slot: slot, logger: log}
}

// HistoryEvent is an event formatted for display.
type HistoryEvent struct {
	ID        string                 `json:"id"`
	Seq       int64                  `json:"seq"`
	Timestamp string                 `json:"timestamp"`
	Type      string                 `json:"type"`
	Summary   string                 `json:"summary"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// HistoryResponse is the API response for the history endpoint.
type HistoryResponse struct {
	Slot        string         `json:"slot"`
	Source      string         `json:"source"`
	TotalEvents int            `json:"total_events"`
	LastSeq     int64          `json:"last_seq"`
	GeneratedAt string         `json:"generated_at"`
	Events      []HistoryEvent `json:"events"`
}

// HandleHistory returns ledger events.
// GET /api/history?since=N&type=PURCHASE&limit=50&source=ledger
func (hh *HistoryHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	eventType := q.Get("type")

	limit, err := intParam(q.Get("limit"))
	if err != nil || limit < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		return
	}
	since, err := intParam(q.Get("since"))
	if err != nil || since < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid since"})
		return
	}

	resp := HistoryResponse{
		Slot:        hh.slot,
		Source:      "memory",
		LastSeq:     hh.eventLog.LastSeq(),
		GeneratedAt: time.Now().Format(time.RFC3339),
		Events:      []HistoryEvent{},
	}

	if q.Get("source") == "ledger" {
		if hh.ledger == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no persisted ledger"})
			return
		}
		stored, err := hh.loadLedger(r, eventType, int(limit))
		if err != nil {
			hh.logger.Error("failed to read event ledger", "err", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ledger unavailable"})
			return
		}
		resp.Source = "ledger"
		for _, e := range stored {
			if e.Seq > since {
				resp.Events = append(resp.Events, fromStored(e))
			}
		}
	} else {
		for _, e := range hh.eventLog.Since(since) {
			if eventType != "" && string(e.Type) != eventType {
				continue
			}
			resp.Events = append(resp.Events, fromEvent(e))
		}
		if limit > 0 && len(resp.Events) > int(limit) {
			resp.Events = resp.Events[len(resp.Events)-int(limit):]
		}
	}

	resp.TotalEvents = len(resp.Events)
	writeJSON(w, http.StatusOK, resp)
}

func (hh *HistoryHandler) loadLedger(r *http.Request, eventType string, limit int) ([]storage.StoredEvent, error) {
	if eventType != "" {
		stored, err := hh.ledger.ListByType(r.Context(), hh.slot, eventType)
		if err != nil {
			return nil, err
		}
		if limit > 0 && len(stored) > limit {
			stored = stored[len(stored)-limit:]
		}
		return stored, nil
	}
	return hh.ledger.ListBySlot(r.Context(), hh.slot, limit)
}

// HandleStats returns counts per event type for the retained events.
// GET /api/history/stats
func (hh *HistoryHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	counts := map[string]int{}
	recent := hh.eventLog.Recent(0)
	for _, e := range recent {
		counts[string(e.Type)]++
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"generated_at": time.Now().Format(time.RFC3339),
		"retained":     len(recent),
		"last_seq":     hh.eventLog.LastSeq(),
		"dropped":      hh.eventLog.Dropped(),
		"by_type":      counts,
	})
}

// RegisterRoutes sets up the history API routes.
func (hh *HistoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/history", hh.HandleHistory)
	mux.HandleFunc("GET /api/history/stats", hh.HandleStats)
}

func intParam(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func fromEvent(e events.GameEvent) HistoryEvent {
	return HistoryEvent{
		ID:        e.ID,
		Seq:       e.Seq,
		Timestamp: e.Timestamp.Format(time.RFC3339),
		Type:      string(e.Type),
		Summary:   summarize(string(e.Type), e.Payload),
		Details:   e.Payload,
	}
}

func fromStored(e storage.StoredEvent) HistoryEvent {
	return HistoryEvent{
		ID:        e.ID,
		Seq:       e.Seq,
		Timestamp: e.Timestamp.Format(time.RFC3339),
		Type:      e.EventType,
		Summary:   summarize(e.EventType, e.Payload),
		Details:   e.Payload,
	}
}

// summarize creates a human-readable summary.
func summarize(eventType string, payload map[string]interface{}) string {
	switch events.EventType(eventType) {
	case events.EventTypeLoaded:
		return "Progress loaded."
	case events.EventTypeTick:
		return "Passive income accrued."
	case events.EventTypeClick:
		return "Mined by hand."
	case events.EventTypeClickRejected:
		return "Click ignored, too fast."
	case events.EventTypePurchase:
		return "Bought " + str(payload["upgrade_id"]) + "."
	case events.EventTypePurchaseRejected:
		return "Could not buy " + str(payload["upgrade_id"]) + ": " + str(payload["reason"]) + "."
	case events.EventTypeAchievementUnlocked:
		return "Achievement unlocked: " + str(payload["name"]) + "."
	case events.EventTypeReset:
		return "Progress reset."
	case events.EventTypeSaveFailed:
		return "Save failed."
	default:
		return eventType
	}
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}
