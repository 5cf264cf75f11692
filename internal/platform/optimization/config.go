// Package optimization provides buffer profiles and load advice for the server.
package optimization

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
)

// Profile holds the channel and connection sizes the server runs with.
type Profile struct {
	Name string `json:"name"`

	// Channel buffer sizes
	EventBuffer      int `json:"event_buffer"`
	BroadcastBuffer  int `json:"broadcast_buffer"`
	ClientSendBuffer int `json:"client_send_buffer"`

	MaxClients int `json:"max_clients"`
}

// DefaultProfile returns the sizes for a single local player.
func DefaultProfile() Profile {
	return Profile{
		Name:             "default",
		EventBuffer:      1024,
		BroadcastBuffer:  256,
		ClientSendBuffer: 64,
		MaxClients:       8,
	}
}

// StressProfile returns aggressive settings for runs under the agitator.
func StressProfile() Profile {
	numCPU := runtime.NumCPU()

	return Profile{
		Name:             "stress",
		EventBuffer:      4096,
		BroadcastBuffer:  512 * numCPU,
		ClientSendBuffer: 128,
		MaxClients:       500,
	}
}

// LowResourceProfile returns minimal settings for development.
func LowResourceProfile() Profile {
	return Profile{
		Name:             "low",
		EventBuffer:      64,
		BroadcastBuffer:  16,
		ClientSendBuffer: 8,
		MaxClients:       2,
	}
}

// ProfileByName resolves a profile from config.
func ProfileByName(name string) (Profile, error) {
	switch name {
	case "", "default":
		return DefaultProfile(), nil
	case "stress":
		return StressProfile(), nil
	case "low":
		return LowResourceProfile(), nil
	}
	return Profile{}, fmt.Errorf("unknown profile %q", name)
}

// Recommendations provides suggestions based on observed metrics.
type Recommendations struct {
	IncreaseEventBuffer     bool     `json:"increase_event_buffer"`
	IncreaseBroadcastBuffer bool     `json:"increase_broadcast_buffer"`
	CheckStorage            bool     `json:"check_storage"`
	Notes                   []string `json:"notes"`
}

// Analyze examines a metrics snapshot and returns recommendations.
func Analyze(metrics map[string]interface{}) *Recommendations {
	rec := &Recommendations{
		Notes: make([]string, 0),
	}

	if tick, ok := metrics["tick"].(map[string]interface{}); ok {
		if maxLat, ok := tick["max_latency_ms"].(float64); ok && maxLat > 100 {
			rec.IncreaseEventBuffer = true
			rec.Notes = append(rec.Notes, "Tick latency exceeds 100ms - events are backing up behind the engine lock")
		}
	}

	if saves, ok := metrics["saves"].(map[string]interface{}); ok {
		if maxLat, ok := saves["max_latency_ms"].(float64); ok && maxLat > 50 {
			rec.CheckStorage = true
			rec.Notes = append(rec.Notes, "Save latency exceeds 50ms - check the database disk")
		}
		if errors, ok := saves["errors"].(int64); ok && errors > 0 {
			rec.CheckStorage = true
			rec.Notes = append(rec.Notes, "Save errors detected - progress may not survive a restart")
		}
	}

	if events, ok := metrics["events"].(map[string]interface{}); ok {
		if errors, ok := events["errors"].(int64); ok && errors > 0 {
			rec.CheckStorage = true
			rec.Notes = append(rec.Notes, "Event write errors detected - the ledger is incomplete")
		}
	}

	if ws, ok := metrics["websocket"].(map[string]interface{}); ok {
		if errors, ok := ws["errors"].(int64); ok && errors > 0 {
			rec.IncreaseBroadcastBuffer = true
			rec.Notes = append(rec.Notes, "WebSocket errors detected - increase client send buffer")
		}
	}

	return rec
}

// Apply returns p with the recommendations folded in.
func (p Profile) Apply(rec *Recommendations) Profile {
	if rec.IncreaseEventBuffer {
		p.EventBuffer *= 2
	}
	if rec.IncreaseBroadcastBuffer {
		p.BroadcastBuffer *= 2
		p.ClientSendBuffer *= 2
	}
	return p
}

// AdviceHandler serves the current recommendations and the profile they would produce.
func AdviceHandler(current Profile, snapshot func() map[string]interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := Analyze(snapshot())
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"current":         current,
			"recommendations": rec,
			"suggested":       current.Apply(rec),
		})
	}
}
