package engine

import (
	"context"
	"sync"
	"time"

	"github.com/mechafrog/ptm/server/internal/platform/logger"
)

// DefaultTickInterval is how often passive income accrues.
const DefaultTickInterval = time.Second

// Tickable is driven by a Ticker.
type Tickable interface {
	Tick(ctx context.Context) TickResult
}

// Ticker manages the game loop heartbeat.
// It knows nothing about currency, only when to call Tick.
type Ticker struct {
	interval time.Duration
	target   Tickable
	logger   *logger.Logger
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewTicker creates a new game ticker.
func NewTicker(interval time.Duration, target Tickable, log *logger.Logger) *Ticker {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Ticker{
		interval: interval,
		target:   target,
		logger:   log,
		stopChan: make(chan struct{}),
	}
}

// Interval returns the tick period.
func (t *Ticker) Interval() time.Duration {
	return t.interval
}

// Start begins the game loop. Blocks until ctx is done or Stop is called.
func (t *Ticker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("ticker stopped by context")
			return
		case <-t.stopChan:
			t.logger.Info("ticker stopped manually")
			return
		case <-ticker.C:
			t.target.Tick(ctx)
		}
	}
}

// Stop gracefully stops the ticker. Safe to call more than once.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() { close(t.stopChan) })
}
