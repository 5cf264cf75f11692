package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mechafrog/ptm/server/internal/domain/catalog"
	"github.com/mechafrog/ptm/server/internal/domain/progress"
)

// Snapshot is the persisted JSON form of a progress.State.
type Snapshot struct {
	Revision             int              `json:"revision"`
	Currency             float64          `json:"currency"`
	BasePassiveRate      float64          `json:"basePassiveRate"`
	PerClickAmount       float64          `json:"perClickAmount"`
	OwnedUpgrades        map[string]int   `json:"ownedUpgrades"`
	LifetimeStats        SnapshotStats    `json:"lifetimeStats"`
	UnlockedAchievements map[string]int64 `json:"unlockedAchievements"` // ID -> unlock epoch ms
	LastTickTimestamp    int64            `json:"lastTickTimestamp"`    // epoch ms
}

// SnapshotStats is the persisted form of progress.Stats.
type SnapshotStats struct {
	Clicks    int64 `json:"clicks"`
	Purchases int64 `json:"purchases"`
}

// Diagnostic records one snapshot field that was ignored on load.
type Diagnostic struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (d Diagnostic) String() string {
	return d.Field + ": " + d.Reason
}

// Diagnostics is the list of fields ignored while decoding a snapshot.
type Diagnostics []Diagnostic

func (ds Diagnostics) String() string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = d.String()
	}
	return strings.Join(parts, "; ")
}

// EncodeSnapshot serializes a state. Times are stored as epoch milliseconds.
func EncodeSnapshot(st progress.State, revision int) ([]byte, error) {
	snap := Snapshot{
		Revision:             revision,
		Currency:             st.Currency,
		BasePassiveRate:      st.BasePassiveRate,
		PerClickAmount:       st.PerClickAmount,
		OwnedUpgrades:        make(map[string]int, len(st.OwnedUpgrades)),
		LifetimeStats:        SnapshotStats{Clicks: st.Stats.Clicks, Purchases: st.Stats.Purchases},
		UnlockedAchievements: make(map[string]int64, len(st.UnlockedAchievements)),
		LastTickTimestamp:    st.LastTick.UnixMilli(),
	}
	for id, q := range st.OwnedUpgrades {
		if q > 0 {
			snap.OwnedUpgrades[id] = q
		}
	}
	for id, at := range st.UnlockedAchievements {
		snap.UnlockedAchievements[id] = at.UnixMilli()
	}
	return json.Marshal(snap)
}

// Field names accepted on load, canonical first. The second names are the
// keys written by the original browser demo.
var (
	fieldCurrency     = []string{"currency", "mecha"}
	fieldPassive      = []string{"basePassiveRate", "passive"}
	fieldPerClick     = []string{"perClickAmount", "perClick"}
	fieldUpgrades     = []string{"ownedUpgrades", "upgrades"}
	fieldStats        = []string{"lifetimeStats"}
	fieldAchievements = []string{"unlockedAchievements"}
	fieldLastTick     = []string{"lastTickTimestamp", "lastTick"}
)

// DecodeSnapshot merges a persisted blob over base. Every field is checked
// on its own: a field that is missing keeps the base value, and a field
// that fails its type or range check keeps the base value and yields a
// Diagnostic. Upgrade and achievement ids unknown to the catalog are
// dropped. Unknown top-level fields are ignored.
func DecodeSnapshot(data []byte, cat *catalog.Catalog, base progress.State) (progress.State, Diagnostics) {
	st := base.Clone()
	var diags Diagnostics

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return st, Diagnostics{{Field: "$", Reason: "snapshot is not a JSON object"}}
	}

	reject := func(field, format string, args ...any) {
		diags = append(diags, Diagnostic{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if name, msg, ok := lookup(raw, fieldLastTick); ok {
		ms, err := decodeNumber(msg)
		switch {
		case err != nil:
			reject(name, "%v", err)
		case ms <= 0 || ms != math.Trunc(ms):
			reject(name, "want positive integer epoch milliseconds, got %v", ms)
		default:
			st.LastTick = time.UnixMilli(int64(ms))
		}
	}

	if name, msg, ok := lookup(raw, fieldCurrency); ok {
		v, err := decodeNumber(msg)
		switch {
		case err != nil:
			reject(name, "%v", err)
		case v < 0:
			reject(name, "negative balance %v", v)
		default:
			st.Currency = v
		}
	}

	for _, f := range []struct {
		names []string
		dst   *float64
	}{
		{fieldPassive, &st.BasePassiveRate},
		{fieldPerClick, &st.PerClickAmount},
	} {
		name, msg, ok := lookup(raw, f.names)
		if !ok {
			continue
		}
		v, err := decodeNumber(msg)
		switch {
		case err != nil:
			reject(name, "%v", err)
		case v <= 0:
			reject(name, "want positive rate, got %v", v)
		default:
			*f.dst = v
		}
	}

	if name, msg, ok := lookup(raw, fieldUpgrades); ok {
		var entries map[string]json.RawMessage
		if err := json.Unmarshal(msg, &entries); err != nil || entries == nil {
			reject(name, "want object of upgrade quantities")
		} else {
			owned := make(map[string]int, len(entries))
			for id, qmsg := range entries {
				q, err := decodeNumber(qmsg)
				switch {
				case err != nil:
					reject(name+"."+id, "%v", err)
				case q < 0 || q != math.Trunc(q) || q > math.MaxInt32:
					reject(name+"."+id, "want non-negative integer quantity, got %v", q)
				case !cat.HasUpgrade(id):
					reject(name+"."+id, "unknown upgrade")
				case q > 0:
					owned[id] = int(q)
				}
			}
			st.OwnedUpgrades = owned
		}
	}

	if name, msg, ok := lookup(raw, fieldStats); ok {
		var entries map[string]json.RawMessage
		if err := json.Unmarshal(msg, &entries); err != nil || entries == nil {
			reject(name, "want object with clicks and purchases")
		} else {
			for key, dst := range map[string]*int64{"clicks": &st.Stats.Clicks, "purchases": &st.Stats.Purchases} {
				cmsg, ok := entries[key]
				if !ok {
					continue
				}
				n, err := decodeNumber(cmsg)
				switch {
				case err != nil:
					reject(name+"."+key, "%v", err)
				case n < 0 || n != math.Trunc(n) || n > math.MaxInt64/2:
					reject(name+"."+key, "want non-negative integer, got %v", n)
				default:
					*dst = int64(n)
				}
			}
		}
	}

	if name, msg, ok := lookup(raw, fieldAchievements); ok {
		unlocked, ds := decodeAchievements(name, msg, cat, st.LastTick)
		diags = append(diags, ds...)
		if unlocked != nil {
			st.UnlockedAchievements = unlocked
		}
	}

	sort.SliceStable(diags, func(i, j int) bool { return diags[i].Field < diags[j].Field })
	return st, diags
}

// decodeAchievements accepts either an array of ids or an object mapping
// ids to an unlock time in epoch ms (or true, unlocked at fallback).
func decodeAchievements(name string, msg json.RawMessage, cat *catalog.Catalog, fallback time.Time) (map[string]time.Time, Diagnostics) {
	if isNull(msg) {
		return nil, Diagnostics{{Field: name, Reason: "want array of ids or object of unlock times"}}
	}

	var diags Diagnostics
	out := make(map[string]time.Time)

	var list []string
	if err := json.Unmarshal(msg, &list); err == nil {
		for _, id := range list {
			if !cat.HasAchievement(id) {
				diags = append(diags, Diagnostic{Field: name + "." + id, Reason: "unknown achievement"})
				continue
			}
			out[id] = fallback
		}
		return out, diags
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(msg, &entries); err != nil || entries == nil {
		return nil, Diagnostics{{Field: name, Reason: "want array of ids or object of unlock times"}}
	}
	for id, v := range entries {
		field := name + "." + id
		if !cat.HasAchievement(id) {
			diags = append(diags, Diagnostic{Field: field, Reason: "unknown achievement"})
			continue
		}
		var flag bool
		if err := json.Unmarshal(v, &flag); err == nil {
			if flag {
				out[id] = fallback
			}
			continue
		}
		ms, err := decodeNumber(v)
		if err != nil || ms <= 0 || ms != math.Trunc(ms) {
			diags = append(diags, Diagnostic{Field: field, Reason: "want unlock time in epoch ms or true"})
			continue
		}
		out[id] = time.UnixMilli(int64(ms))
	}
	return out, diags
}

func lookup(raw map[string]json.RawMessage, names []string) (string, json.RawMessage, bool) {
	for _, n := range names {
		if msg, ok := raw[n]; ok {
			return n, msg, true
		}
	}
	return "", nil, false
}

func isNull(msg json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(msg), []byte("null"))
}

func decodeNumber(msg json.RawMessage) (float64, error) {
	if isNull(msg) {
		return 0, fmt.Errorf("want number, got null")
	}
	var v float64
	if err := json.Unmarshal(msg, &v); err != nil {
		return 0, fmt.Errorf("want number, got %s", truncate(string(msg), 32))
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("want finite number")
	}
	return v, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
