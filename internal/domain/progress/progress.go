// Package progress defines the save-game record of a single player.
// This package is PURE and must NOT import any infrastructure packages.
package progress

import "time"

// Starting values for a fresh game.
const (
	DefaultBasePassiveRate = 50.0 // H/s before upgrades
	DefaultPerClickAmount  = 3.0  // MECHA per accepted click
)

// Stats are lifetime counters. They never decrease except on reset.
type Stats struct {
	Clicks    int64 `json:"clicks"`
	Purchases int64 `json:"purchases"`
}

// State is the single mutable aggregate of a game. It is owned by the
// engine; everything else reads copies.
type State struct {
	Currency        float64 `json:"currency"`
	BasePassiveRate float64 `json:"base_passive_rate"`
	PerClickAmount  float64 `json:"per_click_amount"`

	OwnedUpgrades        map[string]int       `json:"owned_upgrades"`        // Upgrade ID -> quantity
	UnlockedAchievements map[string]time.Time `json:"unlocked_achievements"` // Achievement ID -> unlock time

	Stats    Stats     `json:"stats"`
	LastTick time.Time `json:"last_tick"`
}

// Defaults are the starting rates applied to a fresh state.
type Defaults struct {
	BasePassiveRate float64
	PerClickAmount  float64
}

// New creates a fresh state anchored at now.
func New(d Defaults, now time.Time) State {
	if d.BasePassiveRate <= 0 {
		d.BasePassiveRate = DefaultBasePassiveRate
	}
	if d.PerClickAmount <= 0 {
		d.PerClickAmount = DefaultPerClickAmount
	}
	return State{
		BasePassiveRate:      d.BasePassiveRate,
		PerClickAmount:       d.PerClickAmount,
		OwnedUpgrades:        make(map[string]int),
		UnlockedAchievements: make(map[string]time.Time),
		LastTick:             now,
	}
}

// Owned returns the quantity of an upgrade; absence means zero.
func (s State) Owned(id string) int {
	return s.OwnedUpgrades[id]
}

// TotalOwned sums every owned upgrade unit.
func (s State) TotalOwned() int64 {
	var n int64
	for _, q := range s.OwnedUpgrades {
		n += int64(q)
	}
	return n
}

// IsUnlocked reports whether an achievement has been unlocked.
func (s State) IsUnlocked(id string) bool {
	_, ok := s.UnlockedAchievements[id]
	return ok
}

// Clone returns a deep copy safe to hand out of the engine lock.
func (s State) Clone() State {
	out := s
	out.OwnedUpgrades = make(map[string]int, len(s.OwnedUpgrades))
	for k, v := range s.OwnedUpgrades {
		out.OwnedUpgrades[k] = v
	}
	out.UnlockedAchievements = make(map[string]time.Time, len(s.UnlockedAchievements))
	for k, v := range s.UnlockedAchievements {
		out.UnlockedAchievements[k] = v
	}
	return out
}
