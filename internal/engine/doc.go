// Package engine owns the live ProgressState of one save slot.
//
// All mutations (tick, click, purchase, reset) go through Engine under a
// single lock, are persisted through the Slot before the lock is released,
// and are recorded on the event log. The Ticker drives Tick on a fixed
// interval; the UI bridge reads View projections.
package engine
