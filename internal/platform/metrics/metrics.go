// Package metrics provides observability for the game server.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Collector gathers performance and gameplay metrics.
type Collector struct {
	// Tick metrics
	TickCount      int64
	TickLatencySum int64 // nanoseconds
	TickLatencyMax int64
	LastTickTime   time.Time

	// Economy metrics
	ClicksAccepted       int64
	ClicksRejected       int64
	PurchasesAccepted    int64
	PurchasesRejected    int64
	AchievementsUnlocked int64
	Resets               int64

	// Save metrics
	Saves       int64
	SaveLatSum  int64
	SaveLatMax  int64
	SaveErrors  int64
	LastSaveErr string

	// Event metrics
	EventsWritten    int64
	EventWriteErrors int64

	// WebSocket metrics
	WSConnectionsActive int64
	WSMessagesIn        int64
	WSMessagesOut       int64
	WSErrors            int64

	// System
	StartTime time.Time
	mu        sync.RWMutex
}

// Global collector instance
var collector = NewCollector()

// Get returns the global collector.
func Get() *Collector {
	return collector
}

// NewCollector creates an isolated collector. Tests use one per case.
func NewCollector() *Collector {
	return &Collector{StartTime: time.Now()}
}

func storeMax(addr *int64, v int64) {
	for {
		cur := atomic.LoadInt64(addr)
		if v <= cur || atomic.CompareAndSwapInt64(addr, cur, v) {
			return
		}
	}
}

// RecordTick records a tick cycle completion.
func (c *Collector) RecordTick(latency time.Duration) {
	atomic.AddInt64(&c.TickCount, 1)
	atomic.AddInt64(&c.TickLatencySum, int64(latency))
	storeMax(&c.TickLatencyMax, int64(latency))

	c.mu.Lock()
	c.LastTickTime = time.Now()
	c.mu.Unlock()
}

// RecordClick records a click attempt and whether the throttle let it through.
func (c *Collector) RecordClick(accepted bool) {
	if accepted {
		atomic.AddInt64(&c.ClicksAccepted, 1)
	} else {
		atomic.AddInt64(&c.ClicksRejected, 1)
	}
}

// RecordPurchase records a purchase attempt.
func (c *Collector) RecordPurchase(accepted bool) {
	if accepted {
		atomic.AddInt64(&c.PurchasesAccepted, 1)
	} else {
		atomic.AddInt64(&c.PurchasesRejected, 1)
	}
}

// RecordAchievements records newly unlocked achievements.
func (c *Collector) RecordAchievements(n int) {
	atomic.AddInt64(&c.AchievementsUnlocked, int64(n))
}

// RecordReset records a progress reset.
func (c *Collector) RecordReset() {
	atomic.AddInt64(&c.Resets, 1)
}

// RecordSave records a snapshot write.
func (c *Collector) RecordSave(latency time.Duration, err error) {
	atomic.AddInt64(&c.Saves, 1)
	atomic.AddInt64(&c.SaveLatSum, int64(latency))
	storeMax(&c.SaveLatMax, int64(latency))

	if err != nil {
		atomic.AddInt64(&c.SaveErrors, 1)
		c.mu.Lock()
		c.LastSaveErr = err.Error()
		c.mu.Unlock()
	}
}

// RecordEventWrite records an event written to the ledger.
func (c *Collector) RecordEventWrite(err error) {
	atomic.AddInt64(&c.EventsWritten, 1)
	if err != nil {
		atomic.AddInt64(&c.EventWriteErrors, 1)
	}
}

// RecordWSConnection records WebSocket connection changes.
func (c *Collector) RecordWSConnection(delta int64) {
	atomic.AddInt64(&c.WSConnectionsActive, delta)
}

// RecordWSMessage records WebSocket messages.
func (c *Collector) RecordWSMessage(incoming bool) {
	if incoming {
		atomic.AddInt64(&c.WSMessagesIn, 1)
	} else {
		atomic.AddInt64(&c.WSMessagesOut, 1)
	}
}

// RecordWSError records a WebSocket error.
func (c *Collector) RecordWSError() {
	atomic.AddInt64(&c.WSErrors, 1)
}

// Snapshot returns current metrics as a map.
func (c *Collector) Snapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tickCount := atomic.LoadInt64(&c.TickCount)
	saves := atomic.LoadInt64(&c.Saves)

	var tickAvg, saveAvg float64
	if tickCount > 0 {
		tickAvg = float64(atomic.LoadInt64(&c.TickLatencySum)) / float64(tickCount) / 1e6 // ms
	}
	if saves > 0 {
		saveAvg = float64(atomic.LoadInt64(&c.SaveLatSum)) / float64(saves) / 1e6
	}

	lastTick := ""
	if !c.LastTickTime.IsZero() {
		lastTick = c.LastTickTime.Format(time.RFC3339)
	}

	return map[string]interface{}{
		"uptime_seconds": time.Since(c.StartTime).Seconds(),

		"tick": map[string]interface{}{
			"count":          tickCount,
			"avg_latency_ms": tickAvg,
			"max_latency_ms": float64(atomic.LoadInt64(&c.TickLatencyMax)) / 1e6,
			"last_tick":      lastTick,
		},

		"economy": map[string]interface{}{
			"clicks_accepted":       atomic.LoadInt64(&c.ClicksAccepted),
			"clicks_rejected":       atomic.LoadInt64(&c.ClicksRejected),
			"purchases_accepted":    atomic.LoadInt64(&c.PurchasesAccepted),
			"purchases_rejected":    atomic.LoadInt64(&c.PurchasesRejected),
			"achievements_unlocked": atomic.LoadInt64(&c.AchievementsUnlocked),
			"resets":                atomic.LoadInt64(&c.Resets),
		},

		"saves": map[string]interface{}{
			"count":          saves,
			"avg_latency_ms": saveAvg,
			"max_latency_ms": float64(atomic.LoadInt64(&c.SaveLatMax)) / 1e6,
			"errors":         atomic.LoadInt64(&c.SaveErrors),
			"last_error":     c.LastSaveErr,
		},

		"events": map[string]interface{}{
			"written": atomic.LoadInt64(&c.EventsWritten),
			"errors":  atomic.LoadInt64(&c.EventWriteErrors),
		},

		"websocket": map[string]interface{}{
			"active_connections": atomic.LoadInt64(&c.WSConnectionsActive),
			"messages_in":        atomic.LoadInt64(&c.WSMessagesIn),
			"messages_out":       atomic.LoadInt64(&c.WSMessagesOut),
			"errors":             atomic.LoadInt64(&c.WSErrors),
		},
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler(c *Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")

		json.NewEncoder(w).Encode(c.Snapshot())
	}
}

// PrometheusHandler returns metrics in Prometheus text format.
func PrometheusHandler(c *Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		counter := func(name, help string, v int64) {
			fmt.Fprintf(w, "# HELP %s %s\n", name, help)
			fmt.Fprintf(w, "# TYPE %s counter\n", name)
			fmt.Fprintf(w, "%s %d\n\n", name, v)
		}

		counter("mecha_tick_count", "Total tick cycles", atomic.LoadInt64(&c.TickCount))

		fmt.Fprintf(w, "# HELP mecha_tick_latency_max_ms Maximum tick latency\n")
		fmt.Fprintf(w, "# TYPE mecha_tick_latency_max_ms gauge\n")
		fmt.Fprintf(w, "mecha_tick_latency_max_ms %.2f\n\n", float64(atomic.LoadInt64(&c.TickLatencyMax))/1e6)

		fmt.Fprintf(w, "# HELP mecha_clicks_total Click attempts by outcome\n")
		fmt.Fprintf(w, "# TYPE mecha_clicks_total counter\n")
		fmt.Fprintf(w, "mecha_clicks_total{outcome=\"accepted\"} %d\n", atomic.LoadInt64(&c.ClicksAccepted))
		fmt.Fprintf(w, "mecha_clicks_total{outcome=\"rejected\"} %d\n\n", atomic.LoadInt64(&c.ClicksRejected))

		fmt.Fprintf(w, "# HELP mecha_purchases_total Purchase attempts by outcome\n")
		fmt.Fprintf(w, "# TYPE mecha_purchases_total counter\n")
		fmt.Fprintf(w, "mecha_purchases_total{outcome=\"accepted\"} %d\n", atomic.LoadInt64(&c.PurchasesAccepted))
		fmt.Fprintf(w, "mecha_purchases_total{outcome=\"rejected\"} %d\n\n", atomic.LoadInt64(&c.PurchasesRejected))

		counter("mecha_achievements_unlocked", "Achievements unlocked", atomic.LoadInt64(&c.AchievementsUnlocked))
		counter("mecha_saves", "Snapshot writes", atomic.LoadInt64(&c.Saves))
		counter("mecha_save_errors", "Failed snapshot writes", atomic.LoadInt64(&c.SaveErrors))
		counter("mecha_events_written", "Events written to the ledger", atomic.LoadInt64(&c.EventsWritten))

		fmt.Fprintf(w, "# HELP mecha_ws_connections Active WebSocket connections\n")
		fmt.Fprintf(w, "# TYPE mecha_ws_connections gauge\n")
		fmt.Fprintf(w, "mecha_ws_connections %d\n\n", atomic.LoadInt64(&c.WSConnectionsActive))

		fmt.Fprintf(w, "# HELP mecha_ws_messages_total Total WebSocket messages\n")
		fmt.Fprintf(w, "# TYPE mecha_ws_messages_total counter\n")
		fmt.Fprintf(w, "mecha_ws_messages_total{direction=\"in\"} %d\n", atomic.LoadInt64(&c.WSMessagesIn))
		fmt.Fprintf(w, "mecha_ws_messages_total{direction=\"out\"} %d\n", atomic.LoadInt64(&c.WSMessagesOut))
	}
}
