// Package economy holds the pure state transitions of the idle economy:
// rate derivation, passive ticks, clicks and purchases.
//
// Nothing here locks, logs or persists. The engine package owns the state
// and serializes calls.
package economy

import (
	"errors"
	"math"
	"time"

	"github.com/mechafrog/ptm/server/internal/domain/catalog"
	"github.com/mechafrog/ptm/server/internal/domain/progress"
)

// DefaultConversion translates one H/s into MECHA per second.
const DefaultConversion = 0.00018

var (
	ErrUnknownUpgrade    = errors.New("unknown upgrade")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// ClickFormula selects how much a single accepted click is worth.
type ClickFormula string

const (
	// ClickFlat pays PerClickAmount per click.
	ClickFlat ClickFormula = "flat"
	// ClickLog10 scales PerClickAmount by 1 + log10(max(10, hashrate))/2.
	ClickLog10 ClickFormula = "log10"
)

// Rules are the tunable constants of the economy.
type Rules struct {
	Conversion   float64
	ClickFormula ClickFormula
}

// Economy evaluates a catalog against progress states.
type Economy struct {
	cat   *catalog.Catalog
	rules Rules
}

// New binds rules to a catalog. Zero values fall back to defaults.
func New(cat *catalog.Catalog, rules Rules) *Economy {
	if rules.Conversion <= 0 {
		rules.Conversion = DefaultConversion
	}
	if rules.ClickFormula == "" {
		rules.ClickFormula = ClickFlat
	}
	return &Economy{cat: cat, rules: rules}
}

// Catalog returns the catalog the economy was built with.
func (e *Economy) Catalog() *catalog.Catalog { return e.cat }

// Rules returns the effective rules.
func (e *Economy) Rules() Rules { return e.rules }

// BaseRate is the passive rate plus every owned upgrade's boost.
func (e *Economy) BaseRate(st *progress.State) float64 {
	rate := st.BasePassiveRate
	for _, u := range e.cat.Upgrades() {
		rate += float64(st.Owned(u.ID)) * u.Boost
	}
	return rate
}

// BonusMultiplier is the product of (1 + bonus) over unlocked achievements.
func (e *Economy) BonusMultiplier(st *progress.State) float64 {
	mult := 1.0
	for _, a := range e.cat.Achievements() {
		if st.IsUnlocked(a.ID) {
			mult *= 1 + a.Bonus
		}
	}
	return mult
}

// EffectiveRate is the hashrate shown to the player.
func (e *Economy) EffectiveRate(st *progress.State) float64 {
	return e.BaseRate(st) * e.BonusMultiplier(st)
}

// EarnPerSecond is the passive MECHA income per second.
func (e *Economy) EarnPerSecond(st *progress.State) float64 {
	return e.EffectiveRate(st) * e.rules.Conversion
}

// ApplyTick credits passive income for the time elapsed since the last
// tick and returns the amount earned. A clock that went backwards earns
// nothing and leaves LastTick where it was, so LastTick never decreases.
// The cost is that income pauses until the clock passes LastTick again:
// a one-hour jump back freezes passive income for an hour.
func (e *Economy) ApplyTick(st *progress.State, now time.Time) float64 {
	dt := now.Sub(st.LastTick).Seconds()
	if dt <= 0 {
		return 0
	}
	earned := e.EarnPerSecond(st) * dt
	st.Currency += earned
	st.LastTick = now
	return earned
}

// ClickAmount is what one accepted click pays under the configured formula.
func (e *Economy) ClickAmount(st *progress.State) float64 {
	if e.rules.ClickFormula == ClickLog10 {
		h := math.Max(10, e.EffectiveRate(st))
		return st.PerClickAmount * (1 + math.Log10(h)/2)
	}
	return st.PerClickAmount
}

// ApplyClick pays for a click if the throttle lets it through. The bool
// reports acceptance; a rejected click leaves the state untouched.
func (e *Economy) ApplyClick(st *progress.State, th *Throttle, now time.Time) (float64, bool) {
	if th != nil && !th.Allow(now) {
		return 0, false
	}
	amount := e.ClickAmount(st)
	st.Currency += amount
	st.Stats.Clicks++
	return amount, true
}

// Affordable reports whether the upgrade exists and can be paid for now.
func (e *Economy) Affordable(st *progress.State, id string) bool {
	u, ok := e.cat.Upgrade(id)
	return ok && st.Currency >= u.Cost
}

// ApplyPurchase buys one unit of an upgrade at its fixed cost. On error the
// state is unchanged.
func (e *Economy) ApplyPurchase(st *progress.State, id string) (catalog.Upgrade, error) {
	u, ok := e.cat.Upgrade(id)
	if !ok {
		return catalog.Upgrade{}, ErrUnknownUpgrade
	}
	if st.Currency < u.Cost {
		return u, ErrInsufficientFunds
	}
	st.Currency -= u.Cost
	if st.OwnedUpgrades == nil {
		st.OwnedUpgrades = make(map[string]int)
	}
	st.OwnedUpgrades[id]++
	st.Stats.Purchases++
	return u, nil
}

// Metrics samples the quantities achievement conditions test.
func (e *Economy) Metrics(st *progress.State) catalog.Metrics {
	return catalog.Metrics{
		Clicks:    st.Stats.Clicks,
		Purchases: st.Stats.Purchases,
		Currency:  st.Currency,
		Hashrate:  e.EffectiveRate(st),
		Owned:     st.TotalOwned(),
	}
}
