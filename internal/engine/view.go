package engine

import (
	"math"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mechafrog/ptm/server/internal/domain/progress"
)

// UpgradeView is one shop row.
type UpgradeView struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Cost        float64 `json:"cost"`
	CostDisplay string  `json:"cost_display"`
	Boost       float64 `json:"boost"`
	Owned       int     `json:"owned"`
	Affordable  bool    `json:"affordable"`
}

// AchievementView is one achievement with its unlock state.
type AchievementView struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Bonus       float64    `json:"bonus"`
	Unlocked    bool       `json:"unlocked"`
	UnlockedAt  *time.Time `json:"unlocked_at,omitempty"`
}

// View is everything the presentation layer renders, computed under the
// engine lock so the numbers agree with each other.
type View struct {
	Slot            string  `json:"slot"`
	Currency        float64 `json:"currency"`
	BaseRate        float64 `json:"base_rate"`
	BonusMultiplier float64 `json:"bonus_multiplier"`
	Hashrate        float64 `json:"hashrate"`
	EarnPerSecond   float64 `json:"earn_per_second"`
	PassiveRate     float64 `json:"passive_rate"`
	ClickAmount     float64 `json:"click_amount"`

	CurrencyDisplay    string `json:"currency_display"`
	HashrateDisplay    string `json:"hashrate_display"`
	ClickAmountDisplay string `json:"click_amount_display"`

	Stats        progress.Stats    `json:"stats"`
	Upgrades     []UpgradeView     `json:"upgrades"`
	Achievements []AchievementView `json:"achievements"`
	LastTick     time.Time         `json:"last_tick"`
	SaveError    string            `json:"save_error,omitempty"`
}

// View returns a read-only projection of the current state.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := &e.state
	hashrate := e.econ.EffectiveRate(st)
	click := e.econ.ClickAmount(st)

	v := View{
		Slot:            e.slot.Key(),
		Currency:        st.Currency,
		BaseRate:        e.econ.BaseRate(st),
		BonusMultiplier: e.econ.BonusMultiplier(st),
		Hashrate:        hashrate,
		EarnPerSecond:   e.econ.EarnPerSecond(st),
		PassiveRate:     st.BasePassiveRate,
		ClickAmount:     click,

		CurrencyDisplay:    whole(st.Currency),
		HashrateDisplay:    humanize.SIWithDigits(hashrate, 2, "H/s"),
		ClickAmountDisplay: "+" + humanize.CommafWithDigits(click, 2),

		Stats:    st.Stats,
		LastTick: st.LastTick,
	}
	if e.lastSaveErr != nil {
		v.SaveError = e.lastSaveErr.Error()
	}

	for _, u := range e.econ.Catalog().Upgrades() {
		v.Upgrades = append(v.Upgrades, UpgradeView{
			ID:          u.ID,
			Name:        u.Name,
			Description: u.Description,
			Cost:        u.Cost,
			CostDisplay: whole(u.Cost),
			Boost:       u.Boost,
			Owned:       st.Owned(u.ID),
			Affordable:  e.econ.Affordable(st, u.ID),
		})
	}

	for _, s := range e.eval.Status(st) {
		av := AchievementView{
			ID:          s.Achievement.ID,
			Name:        s.Achievement.Name,
			Description: s.Achievement.Description,
			Bonus:       s.Achievement.Bonus,
			Unlocked:    s.Unlocked,
		}
		if s.Unlocked {
			at := s.UnlockedAt
			av.UnlockedAt = &at
		}
		v.Achievements = append(v.Achievements, av)
	}
	return v
}

// whole formats a balance the way the shop shows it: floored, with
// thousands separators.
func whole(v float64) string {
	return humanize.Comma(int64(math.Floor(v)))
}
