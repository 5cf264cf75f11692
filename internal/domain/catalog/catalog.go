// Package catalog defines the static game data: purchasable upgrades and
// unlockable achievements. A Catalog is built once at startup and never
// mutated afterwards.
package catalog

import (
	"errors"
	"fmt"
)

// DefaultRevision is the revision of the built-in catalog. It is part of
// the storage key, so any change to the upgrade or achievement set, or to
// the snapshot schema, must bump it.
const DefaultRevision = 2

// Upgrade is a purchasable item that permanently raises the base rate.
type Upgrade struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description" yaml:"description"`
	Cost        float64 `json:"cost" yaml:"cost"`
	Boost       float64 `json:"boost" yaml:"boost"` // rate units per unit owned
}

// Achievement is a one-time unlock granting a multiplicative rate bonus.
type Achievement struct {
	ID          string  `json:"id" yaml:"id"`
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description" yaml:"description"`
	Bonus       float64 `json:"bonus" yaml:"bonus"` // 0.05 means +5% effective rate
	Rule        Rule    `json:"rule" yaml:"when"`

	// Condition overrides Rule when set.
	Condition func(Metrics) bool `json:"-" yaml:"-"`
}

// Met reports whether the achievement condition holds for m.
func (a Achievement) Met(m Metrics) bool {
	if a.Condition != nil {
		return a.Condition(m)
	}
	return a.Rule.Holds(m)
}

// Catalog is the immutable set of upgrades and achievements in display order.
type Catalog struct {
	Revision     int
	upgrades     []Upgrade
	achievements []Achievement
	upgradeIdx   map[string]int
	achieveIdx   map[string]int
}

var (
	ErrDuplicateID  = errors.New("duplicate catalog id")
	ErrInvalidEntry = errors.New("invalid catalog entry")
)

// New builds a catalog and validates it.
func New(revision int, upgrades []Upgrade, achievements []Achievement) (*Catalog, error) {
	c := &Catalog{
		Revision:     revision,
		upgrades:     append([]Upgrade(nil), upgrades...),
		achievements: append([]Achievement(nil), achievements...),
		upgradeIdx:   make(map[string]int, len(upgrades)),
		achieveIdx:   make(map[string]int, len(achievements)),
	}
	if revision <= 0 {
		return nil, fmt.Errorf("%w: revision must be positive, got %d", ErrInvalidEntry, revision)
	}
	for i, u := range c.upgrades {
		if u.ID == "" {
			return nil, fmt.Errorf("%w: upgrade #%d has no id", ErrInvalidEntry, i)
		}
		if _, dup := c.upgradeIdx[u.ID]; dup {
			return nil, fmt.Errorf("%w: upgrade %q", ErrDuplicateID, u.ID)
		}
		if u.Cost <= 0 || u.Boost <= 0 {
			return nil, fmt.Errorf("%w: upgrade %q needs positive cost and boost", ErrInvalidEntry, u.ID)
		}
		c.upgradeIdx[u.ID] = i
	}
	for i, a := range c.achievements {
		if a.ID == "" {
			return nil, fmt.Errorf("%w: achievement #%d has no id", ErrInvalidEntry, i)
		}
		if _, dup := c.achieveIdx[a.ID]; dup {
			return nil, fmt.Errorf("%w: achievement %q", ErrDuplicateID, a.ID)
		}
		if a.Bonus < 0 {
			return nil, fmt.Errorf("%w: achievement %q has negative bonus", ErrInvalidEntry, a.ID)
		}
		if a.Condition == nil {
			if err := a.Rule.Validate(); err != nil {
				return nil, fmt.Errorf("achievement %q: %w", a.ID, err)
			}
		}
		c.achieveIdx[a.ID] = i
	}
	return c, nil
}

// MustNew is New for static catalogs known to be valid.
func MustNew(revision int, upgrades []Upgrade, achievements []Achievement) *Catalog {
	c, err := New(revision, upgrades, achievements)
	if err != nil {
		panic(err)
	}
	return c
}

// Upgrades returns the upgrades in catalog order.
func (c *Catalog) Upgrades() []Upgrade {
	out := make([]Upgrade, len(c.upgrades))
	copy(out, c.upgrades)
	return out
}

// Achievements returns the achievements in catalog order.
func (c *Catalog) Achievements() []Achievement {
	out := make([]Achievement, len(c.achievements))
	copy(out, c.achievements)
	return out
}

// Upgrade looks up an upgrade by id.
func (c *Catalog) Upgrade(id string) (Upgrade, bool) {
	i, ok := c.upgradeIdx[id]
	if !ok {
		return Upgrade{}, false
	}
	return c.upgrades[i], true
}

// Achievement looks up an achievement by id.
func (c *Catalog) Achievement(id string) (Achievement, bool) {
	i, ok := c.achieveIdx[id]
	if !ok {
		return Achievement{}, false
	}
	return c.achievements[i], true
}

// HasUpgrade reports whether id names an upgrade.
func (c *Catalog) HasUpgrade(id string) bool {
	_, ok := c.upgradeIdx[id]
	return ok
}

// HasAchievement reports whether id names an achievement.
func (c *Catalog) HasAchievement(id string) bool {
	_, ok := c.achieveIdx[id]
	return ok
}
