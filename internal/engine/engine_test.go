package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mechafrog/ptm/server/internal/domain/catalog"
	"github.com/mechafrog/ptm/server/internal/domain/progress"
	"github.com/mechafrog/ptm/server/internal/economy"
	"github.com/mechafrog/ptm/server/internal/events"
	"github.com/mechafrog/ptm/server/internal/infra/storage"
	"github.com/mechafrog/ptm/server/internal/platform/clock"
	"github.com/mechafrog/ptm/server/internal/platform/logger"
	"github.com/mechafrog/ptm/server/internal/platform/metrics"
)

// start carries sub-millisecond noise that the engine must drop.
var start = time.Unix(1735689600, 123456789)

type harness struct {
	kv      storage.KV
	slot    *storage.SaveSlot
	clk     *clock.Fake
	metrics *metrics.Collector
	engine  *Engine
}

func newHarness(t *testing.T, kv storage.KV, maxCPS int) *harness {
	t.Helper()
	cat := catalog.Default()
	h := &harness{
		kv:      kv,
		slot:    storage.NewSaveSlot(kv, cat, "", progress.Defaults{}),
		clk:     clock.NewFake(start),
		metrics: metrics.NewCollector(),
	}
	h.engine = NewEngine(economy.New(cat, economy.Rules{}), h.slot, Options{
		Clock:              h.clk,
		Logger:             logger.Discard(),
		Metrics:            h.metrics,
		MaxClicksPerSecond: maxCPS,
	})
	h.engine.Load(context.Background())
	return h
}

func seed(t *testing.T, kv storage.KV, st progress.State) {
	t.Helper()
	slot := storage.NewSaveSlot(kv, catalog.Default(), "", progress.Defaults{})
	require.NoError(t, slot.Save(context.Background(), st))
}

func seededState(currency float64) progress.State {
	st := progress.New(progress.Defaults{}, start.Truncate(time.Millisecond))
	st.Currency = currency
	return st
}

type failingKV struct {
	storage.KV
	err error
}

func (f failingKV) Put(context.Context, string, []byte) error { return f.err }

func TestLoadFreshState(t *testing.T) {
	h := newHarness(t, storage.NewMemoryKV(), 12)

	st := h.engine.State()
	assert.Equal(t, 0.0, st.Currency)
	assert.Equal(t, progress.DefaultBasePassiveRate, st.BasePassiveRate)
	assert.True(t, st.LastTick.Equal(start.Truncate(time.Millisecond)))
	assert.Len(t, h.engine.EventLog().GetByType(events.EventTypeLoaded), 1)
}

func TestTickAccruesPassiveIncome(t *testing.T) {
	h := newHarness(t, storage.NewMemoryKV(), 12)

	h.clk.Advance(10 * time.Second)
	res := h.engine.Tick(context.Background())

	assert.InDelta(t, 50*0.00018*10, res.Earned, 1e-12)
	assert.InDelta(t, 0.09, h.engine.State().Currency, 1e-12)
	assert.Equal(t, int64(1), h.metrics.TickCount)
}

func TestTickWithClockGoingBackwards(t *testing.T) {
	h := newHarness(t, storage.NewMemoryKV(), 12)
	before := h.engine.State().LastTick

	h.clk.Advance(-5 * time.Second)
	res := h.engine.Tick(context.Background())

	assert.Equal(t, 0.0, res.Earned)
	assert.True(t, h.engine.State().LastTick.Equal(before))
}

func TestClickThrottledAndAchievementOnNextTick(t *testing.T) {
	h := newHarness(t, storage.NewMemoryKV(), 12)
	ctx := context.Background()

	var accepted int
	for i := 0; i < 13; i++ {
		if h.engine.Click(ctx).Accepted {
			accepted++
		}
	}
	assert.Equal(t, 12, accepted)

	st := h.engine.State()
	assert.Equal(t, int64(12), st.Stats.Clicks)
	assert.InDelta(t, 36.0, st.Currency, 1e-9)
	assert.False(t, st.IsUnlocked("first_tap"))

	res := h.engine.Tick(ctx)
	require.NotEmpty(t, res.Unlocked)
	assert.Equal(t, "first_tap", res.Unlocked[0].ID)
	assert.True(t, h.engine.State().IsUnlocked("first_tap"))

	assert.Equal(t, int64(12), h.metrics.ClicksAccepted)
	assert.Equal(t, int64(1), h.metrics.ClicksRejected)
	assert.Len(t, h.engine.EventLog().GetByType(events.EventTypeClickRejected), 1)
	assert.NotEmpty(t, h.engine.EventLog().GetByType(events.EventTypeAchievementUnlocked))

	// next second, the cap is lifted again
	h.clk.Advance(time.Second)
	assert.True(t, h.engine.Click(ctx).Accepted)
}

func TestPurchase(t *testing.T) {
	kv := storage.NewMemoryKV()
	seed(t, kv, seededState(150))
	h := newHarness(t, kv, 12)
	ctx := context.Background()

	res := h.engine.Purchase(ctx, "rig1")
	require.True(t, res.OK())
	assert.Equal(t, 1, res.Owned)
	assert.InDelta(t, 50.0, res.Currency, 1e-9)

	res = h.engine.Purchase(ctx, "rig1")
	assert.ErrorIs(t, res.Err, economy.ErrInsufficientFunds)
	assert.True(t, IsPurchaseRejection(res.Err))

	res = h.engine.Purchase(ctx, "warp_drive")
	assert.ErrorIs(t, res.Err, economy.ErrUnknownUpgrade)

	st := h.engine.State()
	assert.Equal(t, 1, st.Owned("rig1"))
	assert.Equal(t, int64(1), st.Stats.Purchases)
	assert.InDelta(t, 50.0, st.Currency, 1e-9)
	assert.Equal(t, int64(1), h.metrics.PurchasesAccepted)
	assert.Equal(t, int64(2), h.metrics.PurchasesRejected)
}

func TestStateSurvivesRestart(t *testing.T) {
	kv := storage.NewMemoryKV()
	seed(t, kv, seededState(600))
	h := newHarness(t, kv, 12)
	ctx := context.Background()

	h.engine.Click(ctx)
	h.engine.Purchase(ctx, "core1")
	h.clk.Advance(1500 * time.Millisecond)
	h.engine.Tick(ctx)
	want := h.engine.State()

	restarted := newHarness(t, kv, 12)
	got := restarted.engine.State()

	assert.Equal(t, want.Currency, got.Currency)
	assert.Equal(t, want.OwnedUpgrades, got.OwnedUpgrades)
	assert.Equal(t, want.Stats, got.Stats)
	assert.True(t, want.LastTick.Equal(got.LastTick), "want %v got %v", want.LastTick, got.LastTick)
	require.Len(t, got.UnlockedAchievements, len(want.UnlockedAchievements))
	for id, at := range want.UnlockedAchievements {
		assert.True(t, at.Equal(got.UnlockedAchievements[id]), id)
	}
}

func TestSaveFailureKeepsMemoryState(t *testing.T) {
	kv := failingKV{KV: storage.NewMemoryKV(), err: errors.New("quota exceeded")}
	h := newHarness(t, kv, 12)
	ctx := context.Background()

	res := h.engine.Click(ctx)
	assert.True(t, res.Accepted)
	h.engine.Click(ctx)

	assert.InDelta(t, 6.0, h.engine.State().Currency, 1e-9)
	assert.Equal(t, "quota exceeded", h.engine.View().SaveError)
	assert.Equal(t, int64(2), h.metrics.SaveErrors)
	// repeated identical failures are reported once
	assert.Len(t, h.engine.EventLog().GetByType(events.EventTypeSaveFailed), 1)
}

func TestReset(t *testing.T) {
	kv := storage.NewMemoryKV()
	seed(t, kv, seededState(5000))
	h := newHarness(t, kv, 12)
	ctx := context.Background()

	h.engine.Purchase(ctx, "gpu1")
	h.clk.Advance(2 * time.Second)
	h.engine.Reset(ctx)

	st := h.engine.State()
	assert.Equal(t, 0.0, st.Currency)
	assert.Empty(t, st.OwnedUpgrades)
	assert.Empty(t, st.UnlockedAchievements)
	assert.Equal(t, progress.Stats{}, st.Stats)
	assert.True(t, st.LastTick.Equal(h.clk.Now().Truncate(time.Millisecond)))

	restarted := newHarness(t, kv, 12)
	assert.Equal(t, 0.0, restarted.engine.State().Currency)
	assert.Equal(t, int64(1), h.metrics.Resets)
}

func TestViewProjection(t *testing.T) {
	kv := storage.NewMemoryKV()
	seed(t, kv, seededState(1234.9))
	h := newHarness(t, kv, 12)

	v := h.engine.View()
	assert.Equal(t, "mf_ptm_v2", v.Slot)
	assert.Equal(t, "1,234", v.CurrencyDisplay)
	assert.Equal(t, 50.0, v.Hashrate)
	assert.Equal(t, "+3", v.ClickAmountDisplay)
	assert.Equal(t, 1.0, v.BonusMultiplier)
	require.Len(t, v.Upgrades, 5)

	byID := map[string]UpgradeView{}
	for _, u := range v.Upgrades {
		byID[u.ID] = u
	}
	assert.True(t, byID["rig1"].Affordable)
	assert.True(t, byID["core1"].Affordable)
	assert.False(t, byID["gpu1"].Affordable)
	assert.Equal(t, "20,000", byID["rx1"].CostDisplay)

	for _, a := range v.Achievements {
		assert.False(t, a.Unlocked)
		assert.Nil(t, a.UnlockedAt)
	}
}

func TestConcurrentCommandsAreSerialized(t *testing.T) {
	kv := storage.NewMemoryKV()
	seed(t, kv, seededState(1e6))
	h := newHarness(t, kv, 0)
	ctx := context.Background()

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				h.engine.Click(ctx)
				h.engine.Purchase(ctx, "rig1")
				h.engine.Tick(ctx)
				_ = h.engine.View()
			}
		}()
	}
	wg.Wait()

	st := h.engine.State()
	assert.Equal(t, int64(workers*perWorker), st.Stats.Clicks)
	assert.Equal(t, workers*perWorker, st.Owned("rig1"))
	want := 1e6 + float64(workers*perWorker)*(3-100)
	assert.InDelta(t, want, st.Currency, 1e-6)
}

func TestStartTicksImmediately(t *testing.T) {
	h := newHarness(t, storage.NewMemoryKV(), 12)
	h.engine.ticker = NewTicker(time.Hour, h.engine, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.engine.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return h.metrics.Snapshot()["tick"].(map[string]interface{})["count"].(int64) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, int64(2), h.metrics.TickCount, "a final tick runs on shutdown")
}

func TestStopEndsStart(t *testing.T) {
	h := newHarness(t, storage.NewMemoryKV(), 12)
	h.engine.ticker = NewTicker(time.Hour, h.engine, logger.Discard())

	done := make(chan struct{})
	go func() {
		_ = h.engine.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		return h.metrics.Snapshot()["tick"].(map[string]interface{})["count"].(int64) == 1
	}, time.Second, 5*time.Millisecond)
	h.engine.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}
