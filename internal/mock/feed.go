// Package mock provides an in-memory PriceFeed for testing
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MarcusNeufeldt/fundingscope/internal/core"
	"github.com/MarcusNeufeldt/fundingscope/pkg/apperrors"
)

// Feed implements core.PriceFeed with canned data.
type Feed struct {
	mu          sync.RWMutex
	snapshots   map[string]core.MarketSnapshot
	instruments []core.Instrument

	// call counters for assertions
	priceCalls    int
	fundingCalls  int
	snapshotCalls int
}

// NewFeed creates an empty mock feed.
func NewFeed() *Feed {
	return &Feed{
		snapshots: make(map[string]core.MarketSnapshot),
	}
}

// SetSnapshot installs or replaces the canned data for a symbol.
func (f *Feed) SetSnapshot(snap core.MarketSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if snap.FetchedAt.IsZero() {
		snap.FetchedAt = time.Now()
	}
	f.snapshots[snap.Symbol] = snap
}

// SetInstruments installs the canned instrument list.
func (f *Feed) SetInstruments(instruments []core.Instrument) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.instruments = instruments
}

func (f *Feed) CurrentPrice(_ context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	f.priceCalls++
	snap, ok := f.snapshots[symbol]
	f.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", apperrors.ErrFeedUnavailable, symbol)
	}
	return snap.Price, nil
}

func (f *Feed) FundingRate(_ context.Context, symbol string) (float64, bool, error) {
	f.mu.Lock()
	f.fundingCalls++
	snap, ok := f.snapshots[symbol]
	f.mu.Unlock()
	if !ok {
		// Mirrors the production fallback policy.
		return 0.01, true, nil
	}
	return snap.FundingRate, snap.FundingDefaulted, nil
}

func (f *Feed) Instruments(context.Context) ([]core.Instrument, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.Instrument, len(f.instruments))
	copy(out, f.instruments)
	return out, nil
}

func (f *Feed) Snapshot(_ context.Context, symbol string) (core.MarketSnapshot, error) {
	f.mu.Lock()
	f.snapshotCalls++
	snap, ok := f.snapshots[symbol]
	f.mu.Unlock()
	if !ok {
		return core.MarketSnapshot{}, fmt.Errorf("%w: %s", apperrors.ErrFeedUnavailable, symbol)
	}
	return snap, nil
}

// SnapshotCalls reports how many Snapshot lookups were made.
func (f *Feed) SnapshotCalls() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.snapshotCalls
}
