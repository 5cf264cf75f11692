// Package achievement unlocks catalog achievements whose conditions hold.
package achievement

import (
	"time"

	"github.com/mechafrog/ptm/server/internal/domain/catalog"
	"github.com/mechafrog/ptm/server/internal/domain/progress"
	"github.com/mechafrog/ptm/server/internal/economy"
)

// Evaluator checks the catalog's achievements against a progress state.
type Evaluator struct {
	econ *economy.Economy
}

// NewEvaluator creates an evaluator over the economy's catalog.
func NewEvaluator(econ *economy.Economy) *Evaluator {
	return &Evaluator{econ: econ}
}

// Evaluate unlocks every achievement that is not yet unlocked and whose
// condition holds, recording now as its unlock time. Newly unlocked
// achievements are returned in catalog order.
//
// Metrics are sampled once before the pass, so a bonus granted here does
// not feed hashrate conditions until the next call. Only
// UnlockedAchievements is modified.
func (e *Evaluator) Evaluate(st *progress.State, now time.Time) []catalog.Achievement {
	m := e.econ.Metrics(st)

	var unlocked []catalog.Achievement
	for _, a := range e.econ.Catalog().Achievements() {
		if st.IsUnlocked(a.ID) {
			continue
		}
		if !a.Met(m) {
			continue
		}
		if st.UnlockedAchievements == nil {
			st.UnlockedAchievements = make(map[string]time.Time)
		}
		st.UnlockedAchievements[a.ID] = now
		unlocked = append(unlocked, a)
	}
	return unlocked
}

// Status is an achievement paired with its unlock state.
type Status struct {
	Achievement catalog.Achievement
	Unlocked    bool
	UnlockedAt  time.Time
}

// Status lists every catalog achievement with its unlock state.
func (e *Evaluator) Status(st *progress.State) []Status {
	achs := e.econ.Catalog().Achievements()
	out := make([]Status, 0, len(achs))
	for _, a := range achs {
		at, ok := st.UnlockedAchievements[a.ID]
		out = append(out, Status{Achievement: a, Unlocked: ok, UnlockedAt: at})
	}
	return out
}
