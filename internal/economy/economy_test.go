package economy

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mechafrog/ptm/server/internal/domain/catalog"
	"github.com/mechafrog/ptm/server/internal/domain/progress"
)

var start = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(1,
		[]catalog.Upgrade{
			{ID: "rig", Cost: 120, Boost: 40},
			{ID: "gpu", Cost: 1000, Boost: 500},
		},
		[]catalog.Achievement{
			{ID: "a10", Bonus: 0.10, Rule: catalog.Rule{Metric: catalog.MetricClicks, AtLeast: 1}},
			{ID: "a50", Bonus: 0.50, Rule: catalog.Rule{Metric: catalog.MetricClicks, AtLeast: 2}},
			{ID: "zero", Bonus: 0, Rule: catalog.Rule{Metric: catalog.MetricClicks, AtLeast: 3}},
		},
	)
	require.NoError(t, err)
	return c
}

func freshState() progress.State {
	return progress.New(progress.Defaults{BasePassiveRate: 50, PerClickAmount: 3}, start)
}

func TestBaseRateNeverBelowPassive(t *testing.T) {
	e := New(testCatalog(t), Rules{})
	st := freshState()
	assert.Equal(t, 50.0, e.BaseRate(&st))

	st.OwnedUpgrades["rig"] = 2
	st.OwnedUpgrades["gpu"] = 1
	assert.Equal(t, 50.0+80+500, e.BaseRate(&st))
	assert.GreaterOrEqual(t, e.BaseRate(&st), st.BasePassiveRate)
}

func TestBaseRateIgnoresUnknownUpgrades(t *testing.T) {
	e := New(testCatalog(t), Rules{})
	st := freshState()
	st.OwnedUpgrades["retired"] = 10
	assert.Equal(t, 50.0, e.BaseRate(&st))
}

func TestBonusMultiplier(t *testing.T) {
	e := New(testCatalog(t), Rules{})
	st := freshState()
	assert.Equal(t, 1.0, e.BonusMultiplier(&st))

	st.UnlockedAchievements["a10"] = start
	st.UnlockedAchievements["a50"] = start
	st.UnlockedAchievements["zero"] = start
	assert.InDelta(t, 1.1*1.5, e.BonusMultiplier(&st), 1e-12)
	assert.GreaterOrEqual(t, e.BonusMultiplier(&st), 1.0)

	assert.InDelta(t, 50*1.1*1.5, e.EffectiveRate(&st), 1e-9)
}

func TestEarnPerSecond(t *testing.T) {
	e := New(testCatalog(t), Rules{Conversion: 0.00018})
	st := freshState()
	assert.InDelta(t, 0.009, e.EarnPerSecond(&st), 1e-15)
}

// Fresh state, base 50, conversion 0.00018, 10s elapsed => 0.09.
func TestApplyTickTenSeconds(t *testing.T) {
	e := New(testCatalog(t), Rules{Conversion: 0.00018})
	st := freshState()

	earned := e.ApplyTick(&st, start.Add(10*time.Second))
	assert.InDelta(t, 0.09, earned, 1e-12)
	assert.InDelta(t, 0.09, st.Currency, 1e-12)
	assert.True(t, st.LastTick.Equal(start.Add(10*time.Second)))
}

func TestApplyTickZeroElapsed(t *testing.T) {
	e := New(testCatalog(t), Rules{})
	st := freshState()
	st.Currency = 5

	assert.Equal(t, 0.0, e.ApplyTick(&st, start))
	assert.Equal(t, 5.0, st.Currency)
}

func TestApplyTickSameTimestampTwice(t *testing.T) {
	e := New(testCatalog(t), Rules{})
	st := freshState()
	now := start.Add(3 * time.Second)

	e.ApplyTick(&st, now)
	after := st.Currency
	e.ApplyTick(&st, now)
	assert.Equal(t, after, st.Currency)
}

func TestApplyTickClockSkew(t *testing.T) {
	e := New(testCatalog(t), Rules{})
	st := freshState()
	st.Currency = 1

	earned := e.ApplyTick(&st, start.Add(-time.Hour))
	assert.Equal(t, 0.0, earned)
	assert.Equal(t, 1.0, st.Currency)
	assert.True(t, st.LastTick.Equal(start), "LastTick must not move backwards")
}

func TestApplyTickResumesAfterClockCatchesUp(t *testing.T) {
	e := New(testCatalog(t), Rules{Conversion: 1})
	st := freshState()

	assert.Zero(t, e.ApplyTick(&st, start.Add(-time.Hour)))
	assert.Zero(t, e.ApplyTick(&st, start.Add(-time.Minute)), "income pauses until the clock passes LastTick")

	assert.InDelta(t, 50.0, e.ApplyTick(&st, start.Add(time.Second)), 1e-9)
	assert.True(t, st.LastTick.Equal(start.Add(time.Second)))
}

func TestApplyTickSubSecond(t *testing.T) {
	e := New(testCatalog(t), Rules{Conversion: 1})
	st := freshState()

	e.ApplyTick(&st, start.Add(500*time.Millisecond))
	assert.InDelta(t, 25.0, st.Currency, 1e-9)
}

// currency=120, upgrade cost 120 boost 40 => success.
func TestApplyPurchaseExactFunds(t *testing.T) {
	e := New(testCatalog(t), Rules{})
	st := freshState()
	st.Currency = 120
	before := e.BaseRate(&st)

	u, err := e.ApplyPurchase(&st, "rig")
	require.NoError(t, err)
	assert.Equal(t, "rig", u.ID)
	assert.Equal(t, 0.0, st.Currency)
	assert.Equal(t, 1, st.Owned("rig"))
	assert.Equal(t, int64(1), st.Stats.Purchases)
	assert.Equal(t, before+40, e.BaseRate(&st))
}

// currency=50, upgrade cost 120 => rejected, unchanged.
func TestApplyPurchaseInsufficient(t *testing.T) {
	e := New(testCatalog(t), Rules{})
	st := freshState()
	st.Currency = 50
	before := st.Clone()

	_, err := e.ApplyPurchase(&st, "rig")
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, before, st)
}

func TestApplyPurchaseUnknown(t *testing.T) {
	e := New(testCatalog(t), Rules{})
	st := freshState()
	st.Currency = 1e9
	before := st.Clone()

	_, err := e.ApplyPurchase(&st, "warp-drive")
	require.ErrorIs(t, err, ErrUnknownUpgrade)
	assert.Equal(t, before, st)
}

func TestApplyPurchaseNeverNegative(t *testing.T) {
	e := New(testCatalog(t), Rules{})
	for _, funds := range []float64{0, 0.5, 119.999, 120, 121, 999.99, 1000, 5000} {
		st := freshState()
		st.Currency = funds
		for _, id := range []string{"rig", "gpu", "rig", "gpu"} {
			_, _ = e.ApplyPurchase(&st, id)
			assert.GreaterOrEqual(t, st.Currency, 0.0, "funds=%v", funds)
		}
	}
}

func TestAffordable(t *testing.T) {
	e := New(testCatalog(t), Rules{})
	st := freshState()
	st.Currency = 120
	assert.True(t, e.Affordable(&st, "rig"))
	assert.False(t, e.Affordable(&st, "gpu"))
	assert.False(t, e.Affordable(&st, "nope"))
}

func TestApplyClickFlat(t *testing.T) {
	e := New(testCatalog(t), Rules{})
	st := freshState()
	th := NewThrottle(DefaultMaxClicksPerSecond)

	amount, ok := e.ApplyClick(&st, th, start)
	require.True(t, ok)
	assert.Equal(t, 3.0, amount)
	assert.Equal(t, 3.0, st.Currency)
	assert.Equal(t, int64(1), st.Stats.Clicks)
}

func TestApplyClickLog10(t *testing.T) {
	e := New(testCatalog(t), Rules{ClickFormula: ClickLog10})
	st := freshState()

	// hashrate 50 => 3 * (1 + log10(50)/2)
	want := 3 * (1 + math.Log10(50)/2)
	assert.InDelta(t, want, e.ClickAmount(&st), 1e-12)

	st.BasePassiveRate = 1 // below the floor of 10
	assert.InDelta(t, 3*1.5, e.ClickAmount(&st), 1e-12)
}

func TestApplyClickThrottled(t *testing.T) {
	e := New(testCatalog(t), Rules{})
	st := freshState()
	th := NewThrottle(12)
	now := start.Add(200 * time.Millisecond)

	for i := 0; i < 12; i++ {
		_, ok := e.ApplyClick(&st, th, now)
		require.True(t, ok, "click %d", i+1)
	}
	currency, clicks := st.Currency, st.Stats.Clicks

	_, ok := e.ApplyClick(&st, th, now.Add(300*time.Millisecond))
	assert.False(t, ok, "13th click in the same second must be rejected")
	assert.Equal(t, currency, st.Currency)
	assert.Equal(t, clicks, st.Stats.Clicks)
}

func TestMetrics(t *testing.T) {
	e := New(testCatalog(t), Rules{})
	st := freshState()
	st.Currency = 7
	st.OwnedUpgrades["rig"] = 2
	st.Stats = progress.Stats{Clicks: 4, Purchases: 2}

	m := e.Metrics(&st)
	assert.Equal(t, int64(4), m.Clicks)
	assert.Equal(t, int64(2), m.Purchases)
	assert.Equal(t, 7.0, m.Currency)
	assert.Equal(t, int64(2), m.Owned)
	assert.Equal(t, 130.0, m.Hashrate)
}
