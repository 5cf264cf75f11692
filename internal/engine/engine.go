package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mechafrog/ptm/server/internal/achievement"
	"github.com/mechafrog/ptm/server/internal/domain/catalog"
	"github.com/mechafrog/ptm/server/internal/domain/progress"
	"github.com/mechafrog/ptm/server/internal/economy"
	"github.com/mechafrog/ptm/server/internal/events"
	"github.com/mechafrog/ptm/server/internal/infra/storage"
	"github.com/mechafrog/ptm/server/internal/platform/clock"
	"github.com/mechafrog/ptm/server/internal/platform/logger"
	"github.com/mechafrog/ptm/server/internal/platform/metrics"
)

// Slot is where the engine loads and saves its progress.
// storage.SaveSlot is the production implementation.
type Slot interface {
	Key() string
	Fresh(now time.Time) progress.State
	Load(ctx context.Context, now time.Time) (progress.State, storage.Diagnostics, bool)
	Save(ctx context.Context, st progress.State) error
	Clear(ctx context.Context) error
}

// Options wires the engine's collaborators. Nil collaborators get defaults.
type Options struct {
	Clock   clock.Clock
	Logger  *logger.Logger
	Metrics *metrics.Collector
	Events  *events.EventLog
	// MaxClicksPerSecond caps accepted clicks; <= 0 disables the cap.
	MaxClicksPerSecond int
	TickInterval       time.Duration
	// TickEvents records a TICK event per tick. Off by default, the ledger
	// would be mostly ticks otherwise.
	TickEvents bool
}

// Engine owns the single progress state and serializes every mutation.
type Engine struct {
	mu       sync.Mutex
	state    progress.State
	econ     *economy.Economy
	eval     *achievement.Evaluator
	throttle *economy.Throttle
	slot     Slot

	clock      clock.Clock
	logger     *logger.Logger
	metrics    *metrics.Collector
	eventLog   *events.EventLog
	ticker     *Ticker
	tickEvents bool

	lastSaveErr error
}

// TickResult reports one passive tick.
type TickResult struct {
	Earned   float64
	Unlocked []catalog.Achievement
}

// ClickResult reports one click. Rejected clicks change nothing.
type ClickResult struct {
	Accepted bool    `json:"accepted"`
	Amount   float64 `json:"amount"`
	Currency float64 `json:"currency"`
}

// PurchaseResult reports one purchase attempt. Err is economy.ErrUnknownUpgrade
// or economy.ErrInsufficientFunds when nothing was bought.
type PurchaseResult struct {
	Upgrade  catalog.Upgrade `json:"upgrade"`
	Owned    int             `json:"owned"`
	Currency float64         `json:"currency"`
	Err      error           `json:"-"`
}

// OK reports whether the purchase went through.
func (r PurchaseResult) OK() bool { return r.Err == nil }

// NewEngine creates an engine holding a fresh state. Call Load to restore
// the saved one.
func NewEngine(econ *economy.Economy, slot Slot, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Get()
	}
	if opts.Events == nil {
		opts.Events = events.NewEventLog(nil, events.Options{})
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}

	e := &Engine{
		econ:       econ,
		eval:       achievement.NewEvaluator(econ),
		throttle:   economy.NewThrottle(opts.MaxClicksPerSecond),
		slot:       slot,
		clock:      opts.Clock,
		logger:     opts.Logger.With("slot", slot.Key()),
		metrics:    opts.Metrics,
		eventLog:   opts.Events,
		tickEvents: opts.TickEvents,
	}
	e.state = slot.Fresh(e.now())
	e.ticker = NewTicker(opts.TickInterval, e, opts.Logger)
	return e
}

// now is the engine clock at millisecond precision, the precision of a snapshot.
func (e *Engine) now() time.Time {
	return e.clock.Now().Truncate(time.Millisecond)
}

// Load replaces the in-memory state with the saved one. A missing or
// unreadable save leaves a fresh state; problems come back as diagnostics.
func (e *Engine) Load(ctx context.Context) (storage.Diagnostics, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	st, diags, found := e.slot.Load(ctx, now)
	e.state = st

	for _, d := range diags {
		e.logger.Warn("save field ignored", "field", d.Field, "reason", d.Reason)
	}
	e.logger.Info("progress loaded", "found", found, "currency", st.Currency, "diagnostics", len(diags))
	e.eventLog.Record(events.EventTypeLoaded, e.slot.Key(), now, events.Payload{
		"found":       found,
		"currency":    st.Currency,
		"diagnostics": len(diags),
	})
	return diags, found
}

// Tick accrues passive income since the last tick, unlocks achievements
// and saves.
func (e *Engine) Tick(ctx context.Context) TickResult {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	earned := e.econ.ApplyTick(&e.state, now)
	unlocked := e.eval.Evaluate(&e.state, now)

	if e.tickEvents {
		e.eventLog.Record(events.EventTypeTick, e.slot.Key(), now, events.Payload{
			"earned":   earned,
			"currency": e.state.Currency,
		})
	}
	e.recordUnlocks(unlocked, now)
	e.save(ctx, now)

	e.metrics.RecordTick(time.Since(start))
	return TickResult{Earned: earned, Unlocked: unlocked}
}

func (e *Engine) recordUnlocks(unlocked []catalog.Achievement, now time.Time) {
	if len(unlocked) == 0 {
		return
	}
	e.metrics.RecordAchievements(len(unlocked))
	for _, a := range unlocked {
		e.logger.Event(string(events.EventTypeAchievementUnlocked), e.slot.Key(), "achievement", a.ID, "bonus", a.Bonus)
		e.eventLog.Record(events.EventTypeAchievementUnlocked, e.slot.Key(), now, events.Payload{
			"achievement_id": a.ID,
			"name":           a.Name,
			"bonus":          a.Bonus,
		})
	}
}

// Click applies one manual click, subject to the per-second cap.
func (e *Engine) Click(ctx context.Context) ClickResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	amount, ok := e.econ.ApplyClick(&e.state, e.throttle, now)
	e.metrics.RecordClick(ok)
	if !ok {
		e.logger.Debug("click throttled")
		e.eventLog.Record(events.EventTypeClickRejected, e.slot.Key(), now, nil)
		return ClickResult{Currency: e.state.Currency}
	}

	e.eventLog.Record(events.EventTypeClick, e.slot.Key(), now, events.Payload{
		"amount":   amount,
		"currency": e.state.Currency,
	})
	e.save(ctx, now)
	return ClickResult{Accepted: true, Amount: amount, Currency: e.state.Currency}
}

// Purchase buys one unit of an upgrade. Unknown ids and unaffordable
// upgrades are no-ops reported through PurchaseResult.Err.
func (e *Engine) Purchase(ctx context.Context, upgradeID string) PurchaseResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	u, err := e.econ.ApplyPurchase(&e.state, upgradeID)
	e.metrics.RecordPurchase(err == nil)
	if err != nil {
		e.logger.Debug("purchase rejected", "upgrade", upgradeID, "err", err)
		e.eventLog.Record(events.EventTypePurchaseRejected, e.slot.Key(), now, events.Payload{
			"upgrade_id": upgradeID,
			"reason":     err.Error(),
		})
		return PurchaseResult{
			Upgrade:  u,
			Owned:    e.state.Owned(upgradeID),
			Currency: e.state.Currency,
			Err:      err,
		}
	}

	owned := e.state.Owned(u.ID)
	e.logger.Event(string(events.EventTypePurchase), e.slot.Key(), "upgrade", u.ID, "owned", owned)
	e.eventLog.Record(events.EventTypePurchase, e.slot.Key(), now, events.Payload{
		"upgrade_id": u.ID,
		"cost":       u.Cost,
		"owned":      owned,
		"currency":   e.state.Currency,
	})
	e.save(ctx, now)
	return PurchaseResult{Upgrade: u, Owned: owned, Currency: e.state.Currency}
}

// Reset discards all progress: the stored snapshot is removed, then a
// fresh state is saved in its place.
func (e *Engine) Reset(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if err := e.slot.Clear(ctx); err != nil {
		e.logger.Warn("failed to clear save", "err", err)
	}
	e.state = e.slot.Fresh(now)
	e.throttle.Reset()

	e.metrics.RecordReset()
	e.logger.Event(string(events.EventTypeReset), e.slot.Key())
	e.eventLog.Record(events.EventTypeReset, e.slot.Key(), now, nil)
	e.save(ctx, now)
}

// save persists the state. Failures are logged and counted, never returned:
// the in-memory state stays authoritative.
func (e *Engine) save(ctx context.Context, now time.Time) {
	start := time.Now()
	err := e.slot.Save(ctx, e.state)
	e.metrics.RecordSave(time.Since(start), err)

	if err != nil {
		if e.lastSaveErr == nil || e.lastSaveErr.Error() != err.Error() {
			e.logger.Warn("save failed", "err", err)
			e.eventLog.Record(events.EventTypeSaveFailed, e.slot.Key(), now, events.Payload{"error": err.Error()})
		}
	} else if e.lastSaveErr != nil {
		e.logger.Info("save recovered")
	}
	e.lastSaveErr = err
}

// State returns a deep copy of the current progress.
func (e *Engine) State() progress.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Economy exposes the rules the engine runs on.
func (e *Engine) Economy() *economy.Economy {
	return e.econ
}

// EventLog exposes the ledger for the UI bridge.
func (e *Engine) EventLog() *events.EventLog {
	return e.eventLog
}

// SlotKey is the storage key of the save.
func (e *Engine) SlotKey() string {
	return e.slot.Key()
}

// Start runs one immediate tick, then ticks on the configured interval
// until ctx is done. A last tick on the way out saves the income accrued
// since the previous one. Blocks; call in a goroutine or an errgroup.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("starting engine", "interval", e.ticker.Interval())
	e.Tick(ctx)
	e.ticker.Start(ctx)
	e.Tick(context.WithoutCancel(ctx))
	return nil
}

// Stop halts a running ticker.
func (e *Engine) Stop() {
	e.ticker.Stop()
}

// IsPurchaseRejection reports whether err is one of the expected purchase
// refusals rather than an infrastructure failure.
func IsPurchaseRejection(err error) bool {
	return errors.Is(err, economy.ErrUnknownUpgrade) || errors.Is(err, economy.ErrInsufficientFunds)
}
