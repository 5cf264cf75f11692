package storage

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Recap summarizes a slot's persisted ledger, e.g. what happened since the
// player last looked.
type Recap struct {
	Slot           string         `json:"slot"`
	Since          time.Time      `json:"since"`
	Events         int            `json:"events"`
	Clicks         int            `json:"clicks"`
	ClicksRejected int            `json:"clicks_rejected"`
	ClickIncome    float64        `json:"click_income"`
	Purchases      map[string]int `json:"purchases"` // upgrade id -> units
	Spent          float64        `json:"spent"`
	Achievements   []string       `json:"achievements"`
	Resets         int            `json:"resets"`
	SaveFailures   int            `json:"save_failures"`
}

// Reconstructor rebuilds summaries from the event ledger.
type Reconstructor struct {
	eventRepo EventRepository
}

// NewReconstructor creates a new recap builder.
func NewReconstructor(eventRepo EventRepository) *Reconstructor {
	return &Reconstructor{eventRepo: eventRepo}
}

// GenerateRecap folds every ledger event of slot at or after since.
// A reset clears the tallies gathered before it.
func (r *Reconstructor) GenerateRecap(ctx context.Context, slot string, since time.Time) (Recap, error) {
	events, err := r.eventRepo.ListBySlot(ctx, slot, 0)
	if err != nil {
		return Recap{}, fmt.Errorf("failed to get events for slot: %w", err)
	}

	recap := newRecap(slot, since)
	for _, e := range events {
		if e.Timestamp.Before(since) {
			continue
		}
		recap.Events++
		r.applyEvent(&recap, e)
	}
	sort.Strings(recap.Achievements)
	return recap, nil
}

func newRecap(slot string, since time.Time) Recap {
	return Recap{Slot: slot, Since: since, Purchases: map[string]int{}, Achievements: []string{}}
}

// applyEvent modifies the recap based on event type.
func (r *Reconstructor) applyEvent(recap *Recap, event StoredEvent) {
	switch event.EventType {
	case "CLICK":
		recap.Clicks++
		recap.ClickIncome += number(event.Payload["amount"])
	case "CLICK_REJECTED":
		recap.ClicksRejected++
	case "PURCHASE":
		if id, ok := event.Payload["upgrade_id"].(string); ok {
			recap.Purchases[id]++
		}
		recap.Spent += number(event.Payload["cost"])
	case "ACHIEVEMENT_UNLOCKED":
		if id, ok := event.Payload["achievement_id"].(string); ok {
			recap.Achievements = append(recap.Achievements, id)
		}
	case "SAVE_FAILED":
		recap.SaveFailures++
	case "RESET":
		events, resets := recap.Events, recap.Resets+1
		*recap = newRecap(recap.Slot, recap.Since)
		recap.Events, recap.Resets = events, resets
	}
}

func number(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}
